package main

import (
	"fmt"
	"path"
	"strings"

	"github.com/horgh/irc"
)

// User holds information about a user. It may be remote or local.
type User struct {
	DisplayNick string
	HopCount    int
	NickTS      int64
	Modes       map[byte]struct{}
	Username    string
	Hostname    string
	IP          string
	UID         TS6UID
	RealName    string

	// Password is whatever the client sent with PASS before NICK/USER, if
	// anything. It is not checked against any credential store here; it
	// exists so a services-style component could authenticate against it
	// later.
	Password string

	// AwayMsg is set by AWAY and cleared by AWAY with no argument. PRIVMSG to
	// this user replies RPL_AWAY to the sender when non-empty; it does not
	// stop delivery.
	AwayMsg string

	// Channel name (canonicalized) to Channel.
	Channels map[string]*Channel

	// LocalUser set if this is a local user.
	LocalUser *LocalUser

	// This is the server we heard about the user from. It is not necessarily the
	// server they are on. It could be on a server linked to the one we are
	// linked to.
	ClosestServer *LocalServer

	// This is the server the user is connected to.
	Server *Server
}

func (u *User) String() string {
	return fmt.Sprintf("%s: %s", u.UID, u.nickUhost())
}

func (u *User) nickUhost() string {
	return fmt.Sprintf("%s!~%s@%s", u.DisplayNick, u.Username, u.Hostname)
}

func (u *User) isOperator() bool {
	_, exists := u.Modes['o']
	return exists
}

func (u *User) onChannel(channel *Channel) bool {
	_, exists := u.Channels[channel.Name]
	return exists
}

func (u *User) modesString() string {
	s := "+"
	for m := range u.Modes {
		s += string(m)
	}
	return s
}

func (u *User) isLocal() bool {
	return u.LocalUser != nil
}

func (u *User) isRemote() bool {
	return !u.isLocal()
}

func (u *User) isAway() bool {
	return len(u.AwayMsg) > 0
}

// matchesMask reports whether the user's username/hostname match the given
// glob masks (KLINE-style, * and ? wildcards as in path.Match).
func (u *User) matchesMask(userMask, hostMask string) bool {
	username := strings.TrimPrefix(u.Username, "~")
	userOK, err := path.Match(userMask, username)
	if err != nil || !userOK {
		return false
	}
	hostOK, err := path.Match(hostMask, u.Hostname)
	if err != nil {
		return false
	}
	return hostOK
}

// messageUser delivers a message from u to target, as though target saw it
// come from u directly (PRIVMSG, PART, QUIT, NICK, JOIN, MODE, TOPIC...). If
// target is remote, this is a no-op: remote users hear about the event from
// their own server, via the separate server-to-server propagation each
// command handler performs alongside this local delivery.
func (u *User) messageUser(target *User, command string, params []string) {
	if !target.isLocal() {
		return
	}
	target.LocalUser.maybeQueueMessage(irc.Message{
		Prefix:  u.nickUhost(),
		Command: command,
		Params:  params,
	})
}

