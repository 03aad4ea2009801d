package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// self -- a -- b -- c, plus a direct self-c edge of higher cost, so the
// MST should prefer the chain for reaching c.
func buildChain(t *testing.T) *Topology {
	top := New("self")
	top.SetConnection("a", nil)
	top.AddEdge("a", "b", 1)
	top.AddEdge("b", "c", 1)
	top.AddEdge("self", "c", 5)
	return top
}

func TestNextHopPrefersCheaperPath(t *testing.T) {
	top := buildChain(t)

	hop, ok := top.NextHop("c")
	assert.True(t, ok)
	assert.Equal(t, "a", hop)
}

func TestNextHopUnreachable(t *testing.T) {
	top := New("self")
	top.SetConnection("a", nil)

	_, ok := top.NextHop("nowhere")
	assert.False(t, ok)
}

func TestNeighborsAreDirectOnly(t *testing.T) {
	top := buildChain(t)

	neighbors := top.Neighbors()
	assert.Len(t, neighbors, 1)
	assert.Equal(t, "a", neighbors[0].Name)
}

func TestLostOnSquit(t *testing.T) {
	top := buildChain(t)

	servers, edges := top.LostOnSquit("a")
	assert.ElementsMatch(t, []string{"a", "b", "c"}, servers)
	assert.NotEmpty(t, edges)
}

func TestLostOnSquitLeaf(t *testing.T) {
	top := buildChain(t)

	servers, _ := top.LostOnSquit("c")
	assert.ElementsMatch(t, []string{"c"}, servers)
}

func TestRemoveConnectionDropsEdge(t *testing.T) {
	top := buildChain(t)
	top.RemoveConnection("a")

	// Only the self-a edge is gone; a is still reachable the long way round.
	hop, ok := top.NextHop("a")
	assert.True(t, ok)
	assert.Equal(t, "c", hop)
	assert.Empty(t, top.Neighbors())
}

func TestAddEdgeKeepsLowerCost(t *testing.T) {
	top := New("self")
	top.AddEdge("x", "y", 5)
	top.AddEdge("x", "y", 2)
	top.AddEdge("x", "y", 9)

	found := false
	for _, e := range top.edges {
		if (e.A == "x" && e.B == "y") || (e.A == "y" && e.B == "x") {
			found = true
			assert.Equal(t, 2, e.Cost)
		}
	}
	assert.True(t, found)
}
