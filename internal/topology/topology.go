// Package topology models the server network as a weighted undirected graph
// rooted at this server, and answers "which neighbor is on the shortest path
// toward X" and "what gets cut if X's link drops" queries via a
// Kruskal's-algorithm minimum spanning tree.
//
// Edges are kept in a flat slice keyed by the pair of endpoint names rather
// than as a graph of node objects holding pointers to each other, so there
// is no cyclic ownership to reason about; server names are the only
// identity.
package topology

import (
	"sort"
)

// Edge is one link in the graph, cost in hops.
type Edge struct {
	A, B string
	Cost int
}

// Neighbor describes a directly connected server and the opaque handle
// (e.g. a *LocalServer) used to write to it.
type Neighbor struct {
	Name   string
	Handle interface{}
}

// Topology holds the root server's view of the network.
type Topology struct {
	root      string
	edges     []Edge
	neighbors map[string]interface{}
}

// New creates a Topology rooted at root.
func New(root string) *Topology {
	return &Topology{
		root:      root,
		neighbors: make(map[string]interface{}),
	}
}

func key(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// AddEdge adds an edge between src and dst. If an edge between the same
// pair already exists, it is replaced only if the new cost is lower.
func (t *Topology) AddEdge(src, dst string, cost int) {
	a, b := key(src, dst)
	for i := range t.edges {
		if ea, eb := key(t.edges[i].A, t.edges[i].B); ea == a && eb == b {
			if cost < t.edges[i].Cost {
				t.edges[i].Cost = cost
			}
			return
		}
	}
	t.edges = append(t.edges, Edge{A: a, B: b, Cost: cost})
}

// DeleteEdge removes the edge between src and dst, if present.
func (t *Topology) DeleteEdge(src, dst string) {
	a, b := key(src, dst)
	out := t.edges[:0]
	for _, e := range t.edges {
		ea, eb := key(e.A, e.B)
		if ea == a && eb == b {
			continue
		}
		out = append(out, e)
	}
	t.edges = out
}

// SetConnection marks name as a direct neighbor of root (an edge of cost 1),
// removing any older root->name edge first, and records the handle used to
// reach it.
func (t *Topology) SetConnection(name string, handle interface{}) {
	t.DeleteEdge(t.root, name)
	t.AddEdge(t.root, name, 1)
	t.neighbors[name] = handle
}

// RemoveConnection forgets that name is a direct neighbor.
func (t *Topology) RemoveConnection(name string) {
	delete(t.neighbors, name)
	t.DeleteEdge(t.root, name)
}

// Neighbors returns the direct-connection neighbors of root.
func (t *Topology) Neighbors() []Neighbor {
	out := make([]Neighbor, 0, len(t.neighbors))
	for name, h := range t.neighbors {
		out = append(out, Neighbor{Name: name, Handle: h})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// mst computes a minimum spanning forest of the current edge set using
// Kruskal's algorithm. Ties on equal weight are broken deterministically by
// sorting edges on (cost, A, B).
func (t *Topology) mst() []Edge {
	edges := make([]Edge, len(t.edges))
	copy(edges, t.edges)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Cost != edges[j].Cost {
			return edges[i].Cost < edges[j].Cost
		}
		if edges[i].A != edges[j].A {
			return edges[i].A < edges[j].A
		}
		return edges[i].B < edges[j].B
	})

	parent := map[string]string{}
	var find func(string) string
	find = func(n string) string {
		if p, ok := parent[n]; !ok || p == n {
			parent[n] = n
			return n
		}
		parent[n] = find(parent[n])
		return parent[n]
	}
	union := func(a, b string) bool {
		ra, rb := find(a), find(b)
		if ra == rb {
			return false
		}
		parent[ra] = rb
		return true
	}

	var tree []Edge
	for _, e := range edges {
		if union(e.A, e.B) {
			tree = append(tree, e)
		}
	}
	return tree
}

// adjacency builds a name -> neighbor-name list from a set of tree edges.
func adjacency(tree []Edge) map[string][]string {
	adj := map[string][]string{}
	for _, e := range tree {
		adj[e.A] = append(adj[e.A], e.B)
		adj[e.B] = append(adj[e.B], e.A)
	}
	for n := range adj {
		sort.Strings(adj[n])
	}
	return adj
}

// NextHop returns the root's adjacent node on the MST path from root to
// target, or ("", false) if target is unreachable.
func (t *Topology) NextHop(target string) (string, bool) {
	if target == t.root {
		return "", false
	}

	tree := t.mst()
	adj := adjacency(tree)

	// BFS from root, remembering the first hop taken out of root on each
	// discovered path.
	type item struct {
		node     string
		firstHop string
	}
	visited := map[string]bool{t.root: true}
	queue := []item{}
	for _, n := range adj[t.root] {
		queue = append(queue, item{node: n, firstHop: n})
		visited[n] = true
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.node == target {
			return cur.firstHop, true
		}
		for _, n := range adj[cur.node] {
			if visited[n] {
				continue
			}
			visited[n] = true
			queue = append(queue, item{node: n, firstHop: cur.firstHop})
		}
	}

	return "", false
}

// LostOnSquit computes the servers and edges that become unreachable from
// root when target's link is cut.
//
// minCost is the minimum cost among edges incident to target. Any edge with
// cost strictly greater than minCost, together with every edge incident to
// target itself, is considered lost. The union of their endpoints minus
// nodes still connected to root (via the remaining edges) is the lost-server
// set.
func (t *Topology) LostOnSquit(target string) (servers []string, edges []Edge) {
	minCost := -1
	for _, e := range t.edges {
		if e.A != target && e.B != target {
			continue
		}
		if minCost == -1 || e.Cost < minCost {
			minCost = e.Cost
		}
	}
	if minCost == -1 {
		return nil, nil
	}

	var lost []Edge
	var remaining []Edge
	for _, e := range t.edges {
		incident := e.A == target || e.B == target
		if incident || e.Cost > minCost {
			lost = append(lost, e)
			continue
		}
		remaining = append(remaining, e)
	}

	stillConnected := map[string]bool{t.root: true}
	changed := true
	for changed {
		changed = false
		for _, e := range remaining {
			if stillConnected[e.A] && !stillConnected[e.B] {
				stillConnected[e.B] = true
				changed = true
			}
			if stillConnected[e.B] && !stillConnected[e.A] {
				stillConnected[e.A] = true
				changed = true
			}
		}
	}

	endpoints := map[string]bool{}
	for _, e := range lost {
		if e.A != t.root {
			endpoints[e.A] = true
		}
		if e.B != t.root {
			endpoints[e.B] = true
		}
	}

	for n := range endpoints {
		if !stillConnected[n] {
			servers = append(servers, n)
		}
	}
	sort.Strings(servers)

	return servers, lost
}
