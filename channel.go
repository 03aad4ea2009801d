package main

import "path"

// ChannelFlag is a single-letter channel mode flag, per the MODE command.
type ChannelFlag byte

// Channel flags.
const (
	ChanFlagPrivate     ChannelFlag = 'p'
	ChanFlagSecret      ChannelFlag = 's'
	ChanFlagInviteOnly  ChannelFlag = 'i'
	ChanFlagTopicOpOnly ChannelFlag = 't'
	ChanFlagNoOutside   ChannelFlag = 'n'
	ChanFlagModerated   ChannelFlag = 'm'
	ChanFlagUserLimit   ChannelFlag = 'l'
	ChanFlagBanList     ChannelFlag = 'b'
	ChanFlagKeyed       ChannelFlag = 'k'
	ChanFlagOperator    ChannelFlag = 'o'
	ChanFlagVoice       ChannelFlag = 'v'
)

// channelModeLetters lists the flags toggled with a bare +/- (no argument,
// not per-user), used to build the current-modes string for MODE queries and
// for SJOIN/CHANNEL-INIT synthesis.
var channelModeLetters = []ChannelFlag{
	ChanFlagPrivate, ChanFlagSecret, ChanFlagInviteOnly, ChanFlagTopicOpOnly,
	ChanFlagNoOutside, ChanFlagModerated,
}

// Channel holds everything to do with a channel.
//
// Invariants (enforced by the handlers in local_user.go/local_server.go, not
// by this type itself): operators is a subset of members; operators is
// non-empty while the channel exists; if ChanFlagUserLimit is set,
// len(members) <= UserLimit; the channel is destroyed the instant members
// becomes empty.
type Channel struct {
	// Canonicalized name. Begins with # (network-wide) or & (server-local).
	Name string

	// Members in the channel, keyed by UID. If we have zero members, we
	// should not exist.
	Members map[TS6UID]struct{}

	// Operators currently in the channel (subset of Members).
	Operators map[TS6UID]struct{}

	// Voiced members (subset of Members) -- may speak in a +m channel.
	Voiced map[TS6UID]struct{}

	// Nicknames invited to an invite-only channel. Cleared on -i.
	Invited map[string]struct{}

	// Ban masks in nick!user@host glob form.
	Banned map[string]struct{}

	// Current topic. May be blank.
	Topic string

	// Channel key, required to JOIN when ChanFlagKeyed is set.
	Key string

	// Maximum member count, enforced when ChanFlagUserLimit is set.
	UserLimit int

	// Set of active bare (non-per-user) flags.
	Flags map[ChannelFlag]struct{}

	// Channel TS. Changes on channel creation (or if another server tells us
	// a different TS, in which case we keep the oldest).
	TS int64
}

// NewChannel creates an empty channel with the given canonical name and TS.
func NewChannel(name string, ts int64) *Channel {
	return &Channel{
		Name:      name,
		Members:   make(map[TS6UID]struct{}),
		Operators: make(map[TS6UID]struct{}),
		Voiced:    make(map[TS6UID]struct{}),
		Invited:   make(map[string]struct{}),
		Banned:    make(map[string]struct{}),
		Flags:     make(map[ChannelFlag]struct{}),
		TS:        ts,
	}
}

// HasFlag reports whether f is currently set.
func (c *Channel) HasFlag(f ChannelFlag) bool {
	_, ok := c.Flags[f]
	return ok
}

// IsOperator reports whether uid is a channel operator.
func (c *Channel) IsOperator(uid TS6UID) bool {
	_, ok := c.Operators[uid]
	return ok
}

// IsVoiced reports whether uid holds voice.
func (c *Channel) IsVoiced(uid TS6UID) bool {
	_, ok := c.Voiced[uid]
	return ok
}

// IsMember reports whether uid is a member.
func (c *Channel) IsMember(uid TS6UID) bool {
	_, ok := c.Members[uid]
	return ok
}

// IsBanned reports whether the full nick!user@host mask matches any of the
// channel's ban masks.
func (c *Channel) IsBanned(fullMask string) bool {
	for mask := range c.Banned {
		if ok, err := path.Match(mask, fullMask); err == nil && ok {
			return true
		}
	}
	return false
}

// IsFull reports whether the channel is at its user limit.
func (c *Channel) IsFull() bool {
	return c.HasFlag(ChanFlagUserLimit) && len(c.Members) >= c.UserLimit
}

// ModesString builds the current bare-flag mode string, e.g. "+ntl", with
// arguments for l/k appended the way RFC 2812 MODE replies do.
func (c *Channel) ModesString() (string, []string) {
	letters := "+"
	var args []string
	for _, f := range channelModeLetters {
		if c.HasFlag(f) {
			letters += string(f)
		}
	}
	if c.HasFlag(ChanFlagUserLimit) {
		letters += "l"
	}
	if c.HasFlag(ChanFlagKeyed) {
		letters += "k"
		args = append(args, c.Key)
	}
	return letters, args
}

