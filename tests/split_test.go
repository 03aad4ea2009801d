package tests

import (
	"regexp"
	"testing"
	"time"

	"github.com/horgh/irc"
	"github.com/stretchr/testify/require"
)

// Test that linking two servers that each independently registered the same
// nick resolves the collision by killing the newer registration, leaving
// exactly one survivor network-wide.
func TestNickCollisionOnLink(t *testing.T) {
	catbox1, err := harnessCatbox("irc1.example.org", "003")
	require.NoError(t, err, "harness catbox")
	defer catbox1.stop()

	catbox2, err := harnessCatbox("irc2.example.org", "004")
	require.NoError(t, err, "harness catbox")
	defer catbox2.stop()

	client1 := NewClient("collide", "127.0.0.1", catbox1.Port)
	recvChan1, sendChan1, _, err := client1.Start()
	require.NoError(t, err, "start client 1")
	defer client1.Stop()
	require.NotNil(
		t,
		waitForMessage(t, recvChan1, irc.Message{Command: irc.ReplyWelcome},
			"welcome from %s", client1.GetNick()),
		"client1 gets welcome",
	)

	// NickTS has one-second granularity. Space the two registrations out so
	// collision resolution has a deterministic winner instead of landing on
	// the both-killed tie case.
	time.Sleep(1100 * time.Millisecond)

	client2 := NewClient("collide", "127.0.0.1", catbox2.Port)
	recvChan2, _, _, err := client2.Start()
	require.NoError(t, err, "start client 2")
	defer client2.Stop()
	require.NotNil(
		t,
		waitForMessage(t, recvChan2, irc.Message{Command: irc.ReplyWelcome},
			"welcome from %s", client2.GetNick()),
		"client2 gets welcome",
	)

	err = catbox1.linkServer(catbox2)
	require.NoError(t, err, "link catbox1 to catbox2")
	err = catbox2.linkServer(catbox1)
	require.NoError(t, err, "link catbox2 to catbox1")

	linkRE := regexp.MustCompile(`Established link to irc2\.`)
	var attempts int
	for {
		if waitForLog(catbox1.LogChan, linkRE) {
			break
		}
		attempts++
		if attempts >= 5 {
			require.Fail(t, "failed to link")
		}
		require.NoError(t, catbox1.rehash(), "rehash catbox1")
		require.NoError(t, catbox2.rehash(), "rehash catbox2")
	}

	// client2's registration is newer, so the burst's UID collision check
	// kills it. client1 survives untouched.
	require.NotNil(
		t,
		waitForMessage(t, recvChan2, irc.Message{Command: "QUIT"},
			"%s killed for nick collision", client2.GetNick()),
		"client2 receives QUIT/KILL notice",
	)

	sendChan1 <- irc.Message{
		Command: "PING",
		Params:  []string{"irc1.example.org"},
	}
	require.NotNil(
		t,
		waitForMessage(t, recvChan1, irc.Message{Command: "PONG"},
			"%s still responsive after collision", client1.GetNick()),
		"surviving client still answers PING",
	)
}
