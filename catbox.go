package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/horgh/irc"
	"github.com/pkg/errors"

	"github.com/catbox/ircd/internal/dcc"
	"github.com/catbox/ircd/internal/topology"
)

// EventType distinguishes the events the dispatcher goroutine receives on
// its single channel: every socket's reader goroutine and every timer feeds
// events into the same queue so that all repository/topology/channel
// mutation happens from one logical place, keeping ordering simple to
// reason about.
type EventType int

// Event types.
const (
	NewClientEvent EventType = iota
	DeadClientEvent
	MessageFromClientEvent
	WakeupEvent
	DieEvent
)

// Event is one unit of work for the dispatcher.
type Event struct {
	Type EventType

	// Client is set for NewClientEvent/DeadClientEvent/MessageFromClientEvent.
	// It is a *LocalClient, *LocalUser, or *LocalServer depending on the
	// connection's registration stage.
	Client interface{}

	Message irc.Message

	Conn net.Conn
}

// KLine is a network ban by user@host glob mask.
type KLine struct {
	UserMask string
	HostMask string
	Reason   string
}

// operConfig holds one configured operator's credentials.
type operConfig struct {
	Password string
}

// Catbox is the per-process server state: the nickname/channel/server
// repositories, the spanning-tree topology, and every live connection,
// whichever stage of registration it is at. It is constructed once at
// startup and torn down on shutdown; it is the only process-wide mutable
// state, touched solely from the dispatcher goroutine in run().
type Catbox struct {
	Config *Config

	// EventChan is the single channel every reader goroutine and timer feeds.
	// Only the goroutine running Catbox.run ever reads from it, and only that
	// goroutine mutates the maps/repositories below. This is what makes the
	// "operations observe a single total order" guarantee trivial: there is
	// one order, the order events arrive on this channel.
	EventChan chan Event

	ShutdownChan chan struct{}
	WG           *sync.WaitGroup

	shuttingDown bool

	// Sequential, process-lifetime-unique connection identifiers.
	nextClientID uint64

	// Sockets not yet registered as either a user or a server.
	LocalClients map[uint64]*LocalClient

	// Registered local connections.
	LocalUsers   map[uint64]*LocalUser
	LocalServers map[uint64]*LocalServer

	// Nickname/user/channel/server repositories (component B). These are
	// plain maps, mutated directly by the single dispatcher goroutine (see
	// run/handleEvent below) and read by following a pointer straight out of
	// the map -- see DESIGN.md for why a clone-on-read repository type was
	// tried here and rejected.
	Nicks    map[string]TS6UID   // canonical nick -> UID
	Users    map[TS6UID]*User    // UID -> user
	Channels map[string]*Channel // canonical channel name -> channel
	Servers  map[TS6SID]*Server  // SID -> server

	// Opers is the live set of users currently carrying the operator flag,
	// for fast iteration when notifying operators. Config.Opers, by
	// contrast, is the configured name -> password credential list OPER
	// authenticates against.
	Opers map[TS6UID]*User

	// Topology (component C): the spanning tree of linked servers, rooted at
	// this server.
	Topology *topology.Topology

	// Configured operator name -> credentials.
	OperCreds map[string]operConfig

	KLines []KLine

	DCCCipher   *dcc.Cipher
	DCCSessions *dcc.Table
}

// NewCatbox builds a Catbox from a parsed Config.
func NewCatbox(config *Config) (*Catbox, error) {
	operCreds := map[string]operConfig{}
	for name, pass := range config.Opers {
		operCreds[name] = operConfig{Password: pass}
	}

	var cipher *dcc.Cipher
	if config.DCCKey != ([32]byte{}) {
		c, err := dcc.NewCipher(config.DCCKey)
		if err != nil {
			return nil, errors.Wrap(err, "building DCC cipher")
		}
		cipher = c
	}

	cb := &Catbox{
		Config:       config,
		EventChan:    make(chan Event, 4096),
		ShutdownChan: make(chan struct{}),
		WG:           &sync.WaitGroup{},

		LocalClients: make(map[uint64]*LocalClient),
		LocalUsers:   make(map[uint64]*LocalUser),
		LocalServers: make(map[uint64]*LocalServer),

		Nicks:    make(map[string]TS6UID),
		Users:    make(map[TS6UID]*User),
		Channels: make(map[string]*Channel),
		Servers:  make(map[TS6SID]*Server),
		Opers:    make(map[TS6UID]*User),

		Topology: topology.New(config.ServerName),

		OperCreds:   operCreds,
		DCCCipher:   cipher,
		DCCSessions: dcc.NewTable(),
	}

	return cb, nil
}

func (cb *Catbox) isShuttingDown() bool {
	return cb.shuttingDown
}

// newEvent enqueues ev for the dispatcher. Safe to call from any goroutine.
func (cb *Catbox) newEvent(ev Event) {
	select {
	case cb.EventChan <- ev:
	case <-cb.ShutdownChan:
	}
}

func (cb *Catbox) getClientID() uint64 {
	cb.nextClientID++
	return cb.nextClientID
}

// acceptLoop accepts connections on ln (already bound, possibly handed to
// us via -listen-fd) until shutdown.
func (cb *Catbox) acceptLoop(ln net.Listener) {
	defer cb.WG.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if cb.isShuttingDown() {
				return
			}
			log.Printf("Error accepting connection: %s", err)
			continue
		}

		id := cb.getClientID()
		lc := NewLocalClient(cb, id, conn)

		cb.WG.Add(1)
		go lc.readLoop()
		cb.WG.Add(1)
		go lc.writeLoop()

		cb.newEvent(Event{Type: NewClientEvent, Client: lc})
	}
}

// run is the dispatcher: the only goroutine that ever mutates repositories,
// topology, or the Local* maps.
func (cb *Catbox) run() {
	log.Printf("catbox started")

	ticker := time.NewTicker(cb.Config.WakeupTime)
	defer ticker.Stop()

	for {
		select {
		case ev := <-cb.EventChan:
			cb.handleEvent(ev)
			if ev.Type == DieEvent {
				return
			}
		case <-ticker.C:
			cb.checkIdleConnections()
		}
	}
}

func (cb *Catbox) handleEvent(ev Event) {
	switch ev.Type {
	case NewClientEvent:
		lc := ev.Client.(*LocalClient)
		cb.LocalClients[lc.ID] = lc

	case DeadClientEvent:
		cb.handleDeadClient(ev.Client)

	case MessageFromClientEvent:
		cb.handleMessageFromClient(ev.Client, ev.Message)

	case DieEvent:
		cb.shutdown()
	}
}

func (cb *Catbox) handleDeadClient(client interface{}) {
	switch c := client.(type) {
	case *LocalClient:
		if _, exists := cb.LocalClients[c.ID]; exists {
			c.quit("I/O error")
		}
	case *LocalUser:
		c.quit(cb.errorToQuitMessage(nil))
	case *LocalServer:
		c.quit("I/O error")
	}
}

func (cb *Catbox) handleMessageFromClient(client interface{}, m irc.Message) {
	switch c := client.(type) {
	case *LocalClient:
		c.handleMessage(m)
	case *LocalUser:
		c.handleMessage(m)
	case *LocalServer:
		c.handleMessage(m)
	}
}

// checkIdleConnections pings or drops connections that have been quiet too
// long. This is the implementation's read-idle timeout, permitted but not
// mandated by the concurrency model (section 5): it behaves identically to
// a socket close once DeadTime elapses.
func (cb *Catbox) checkIdleConnections() {
	now := time.Now()

	for _, lc := range cb.LocalClients {
		if now.Sub(lc.ConnectionStartTime) > cb.Config.DeadTime {
			cb.newEvent(Event{Type: DeadClientEvent, Client: lc})
		}
	}

	for _, lu := range cb.LocalUsers {
		if now.Sub(lu.getLastActivityTime()) > cb.Config.DeadTime {
			cb.newEvent(Event{Type: DeadClientEvent, Client: lu})
			continue
		}
		if now.Sub(lu.getLastActivityTime()) > cb.Config.PingTime {
			lu.maybeQueueMessage(irc.Message{Command: "PING", Params: []string{cb.Config.ServerName}})
		}
	}

	for _, ls := range cb.LocalServers {
		if now.Sub(ls.LastActivityTime) > cb.Config.DeadTime {
			cb.newEvent(Event{Type: DeadClientEvent, Client: ls})
			continue
		}
		if now.Sub(ls.LastPingTime) > cb.Config.PingTime {
			ls.maybeQueueMessage(irc.Message{Command: "PING", Params: []string{string(cb.Config.TS6SID)}})
		}
	}
}

// shutdown closes every local connection and stops accepting new ones.
func (cb *Catbox) shutdown() {
	cb.shuttingDown = true
	close(cb.ShutdownChan)

	for _, lc := range cb.LocalClients {
		lc.quit("Server shutting down")
	}
	for _, lu := range cb.LocalUsers {
		lu.quit("Server shutting down")
	}
	for _, ls := range cb.LocalServers {
		ls.quit("Server shutting down")
	}
}

// isLinkedToServer reports whether we already have a link (direct or
// otherwise) to a server with this name.
func (cb *Catbox) isLinkedToServer(name string) bool {
	for _, s := range cb.Servers {
		if s.Name == name {
			return true
		}
	}
	return name == cb.Config.ServerName
}

// localServerByName finds the direct neighbor whose Server.Name matches, if
// any -- used to turn a Topology next-hop name into a socket to write to.
func (cb *Catbox) localServerByName(name string) (*LocalServer, bool) {
	for _, ls := range cb.LocalServers {
		if ls.Server != nil && ls.Server.Name == name {
			return ls, true
		}
	}
	return nil, false
}

// forwardToServers sends m toward every server name in targets, routing each
// through the topology's next hop and skipping excludeName (the link the
// message arrived on, if any). Of the command handlers, only
// LocalUser.squitCommand routes through it; the others relay with
// broadcastToAllServers, LocalUser.propagate or a user's ClosestServer,
// none of which computes an "interested servers" set.
func (cb *Catbox) forwardToServers(targets []string, excludeName string, m irc.Message) {
	sentVia := map[string]struct{}{}

	for _, target := range targets {
		if target == cb.Config.ServerName {
			continue
		}
		hop, ok := cb.Topology.NextHop(target)
		if !ok {
			continue
		}
		if hop == excludeName {
			continue
		}
		if _, done := sentVia[hop]; done {
			continue
		}
		ls, ok := cb.localServerByName(hop)
		if !ok {
			continue
		}
		sentVia[hop] = struct{}{}
		ls.maybeQueueMessage(m)
	}
}

// broadcastToAllServers sends m to every directly linked server except
// excludeName.
func (cb *Catbox) broadcastToAllServers(excludeName string, m irc.Message) {
	for _, ls := range cb.LocalServers {
		if ls.Server == nil {
			continue
		}
		if ls.Server.Name == excludeName {
			continue
		}
		ls.maybeQueueMessage(m)
	}
}

// noticeOpers sends a server notice to every local operator (regardless of
// which snotice class they've asked for -- used for link state changes).
func (cb *Catbox) noticeOpers(msg string) {
	for _, u := range cb.Opers {
		if !u.isLocal() {
			continue
		}
		u.LocalUser.serverNotice(msg)
	}
}

// noticeLocalOpers notifies local operators only; behavior is identical to
// noticeOpers since opers are always tracked locally once they've oper'd up.
func (cb *Catbox) noticeLocalOpers(msg string) {
	cb.noticeOpers(msg)
}

// collisionKillReason formats a nick-collision kill reason the way killCommand
// on the receiving end parses it off the wire: "<source> (<comment>)".
func (cb *Catbox) collisionKillReason(comment string) string {
	return fmt.Sprintf("%s (%s)", cb.Config.ServerName, comment)
}

// issueKill forcibly disconnects the user identified by uid. This internal
// path (used for NICK/UID collision resolution) is never gated by the
// operator flag; killCommand, the user-invoked path, is the one that checks
// isOperator() before calling this.
func (cb *Catbox) issueKill(uid TS6UID, reason string) {
	u, exists := cb.Users[uid]
	if !exists {
		return
	}

	if u.isLocal() {
		u.LocalUser.quit(fmt.Sprintf("Killed: %s", reason))
		return
	}

	// Remote: forget them locally and propagate the KILL.
	cb.removeUserEverywhere(u)
	cb.broadcastToAllServers("", irc.Message{
		Prefix:  string(cb.Config.TS6SID),
		Command: "KILL",
		Params:  []string{string(u.UID), reason},
	})
}

// createWHOISResponse builds the numeric reply sequence for a WHOIS of
// target as seen by source, addressed to source's nick. includeIdle controls
// whether RPL_WHOISIDLE is included -- it only makes sense when target is
// local to this server, which is why local_server.go passes true only after
// confirming that.
func (cb *Catbox) createWHOISResponse(target, source *User, includeIdle bool) []irc.Message {
	var msgs []irc.Message

	msgs = append(msgs, irc.Message{
		Prefix:  cb.Config.ServerName,
		Command: "311",
		Params: []string{source.DisplayNick, target.DisplayNick, target.Username,
			target.Hostname, "*", target.RealName},
	})

	msgs = append(msgs, irc.Message{
		Prefix:  cb.Config.ServerName,
		Command: "312",
		Params: []string{source.DisplayNick, target.DisplayNick, cb.Config.ServerName,
			cb.Config.ServerInfo},
	})

	if target.isAway() {
		msgs = append(msgs, irc.Message{
			Prefix:  cb.Config.ServerName,
			Command: "301",
			Params:  []string{source.DisplayNick, target.DisplayNick, target.AwayMsg},
		})
	}

	if target.isOperator() {
		msgs = append(msgs, irc.Message{
			Prefix:  cb.Config.ServerName,
			Command: "313",
			Params:  []string{source.DisplayNick, target.DisplayNick, "is an IRC operator"},
		})
	}

	if includeIdle && target.LocalUser != nil {
		idleSeconds := int(time.Now().Sub(target.LocalUser.LastMessageTime).Seconds())
		msgs = append(msgs, irc.Message{
			Prefix:  cb.Config.ServerName,
			Command: "317",
			Params: []string{source.DisplayNick, target.DisplayNick,
				fmt.Sprintf("%d", idleSeconds), "seconds idle"},
		})
	}

	msgs = append(msgs, irc.Message{
		Prefix:  cb.Config.ServerName,
		Command: "318",
		Params:  []string{source.DisplayNick, target.DisplayNick, "End of WHOIS list"},
	})

	return msgs
}

// removeUserEverywhere deletes u from the nickname/user repositories and
// from every channel it was in, destroying any channel that empties as a
// result. Used for KILL, QUIT, and netsplit cleanup.
func (cb *Catbox) removeUserEverywhere(u *User) {
	delete(cb.Nicks, canonicalizeNick(u.DisplayNick))
	delete(cb.Users, u.UID)
	delete(cb.Opers, u.UID)

	for chanName, c := range u.Channels {
		delete(c.Members, u.UID)
		delete(c.Operators, u.UID)
		delete(c.Voiced, u.UID)
		if len(c.Members) == 0 {
			delete(cb.Channels, chanName)
		}
	}
}

// addAndApplyKLine records a new KLine and disconnects any currently
// connected local user it matches.
func (cb *Catbox) addAndApplyKLine(userMask, hostMask, reason string) {
	cb.KLines = append(cb.KLines, KLine{UserMask: userMask, HostMask: hostMask, Reason: reason})

	for _, u := range cb.Users {
		if !u.isLocal() {
			continue
		}
		if !u.matchesMask(userMask, hostMask) {
			continue
		}
		u.LocalUser.quit(fmt.Sprintf("K-Lined: %s", reason))
	}
}

// removeKLine removes a KLine matching the given masks exactly.
func (cb *Catbox) removeKLine(userMask, hostMask string) bool {
	for i, k := range cb.KLines {
		if k.UserMask == userMask && k.HostMask == hostMask {
			cb.KLines = append(cb.KLines[:i], cb.KLines[i+1:]...)
			return true
		}
	}
	return false
}

// errorToQuitMessage turns a connection error into a user-facing quit
// reason, recognizing a couple of common net package error strings so the
// disconnect reason is informative instead of a raw Go error.
func (cb *Catbox) errorToQuitMessage(err error) string {
	if err == nil {
		return "I/O error"
	}

	msg := err.Error()
	if msg == "" {
		return "I/O error"
	}

	if strings.Contains(msg, "i/o timeout") {
		return fmt.Sprintf("Ping timeout: %d seconds", int(cb.Config.DeadTime.Seconds()))
	}
	if strings.Contains(msg, "connection reset by peer") {
		return "Connection reset by peer"
	}

	return msg
}

// dccDownloadsDir returns the directory DCC SEND writes completed transfers
// into: the config override if one is set, else $HOME/dcc_downloads, or
// dcc_downloads relative to the current directory if HOME is unset.
func (cb *Catbox) dccDownloadsDir() string {
	if cb.Config.DCCDownloadsDirOverride != "" {
		return cb.Config.DCCDownloadsDirOverride
	}
	home := os.Getenv("HOME")
	if home == "" {
		return "dcc_downloads"
	}
	return home + string(os.PathSeparator) + "dcc_downloads"
}

// connectToServer dials out to start a TS6 link, per the CLI's stdin-driven
// CONNECT surface (section 6): "<host:port> SERVER <target-name> <hopcount>
// :<comment>".
func (cb *Catbox) connectToServer(hostPort, targetName string) error {
	if cb.isLinkedToServer(targetName) {
		return errors.Errorf("already linked to %s", targetName)
	}

	linkInfo, exists := cb.Config.Servers[targetName]
	if !exists {
		return errors.Errorf("no configured link information for %s", targetName)
	}

	conn, err := net.DialTimeout("tcp", hostPort, 10*time.Second)
	if err != nil {
		return errors.Wrap(err, "dialing server")
	}

	id := cb.getClientID()
	lc := NewLocalClient(cb, id, conn)

	cb.WG.Add(1)
	go lc.readLoop()
	cb.WG.Add(1)
	go lc.writeLoop()

	cb.newEvent(Event{Type: NewClientEvent, Client: lc})

	lc.sendServerIntro(linkInfo.Pass)

	return nil
}

// readStdinCommands implements the CLI surface in section 6: reading
// "<host:port> SERVER <target-name> <hopcount> :<comment>" from stdin
// initiates an outbound link; anything else is logged and ignored.
func (cb *Catbox) readStdinCommands(lines <-chan string) {
	for line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 3 || strings.ToUpper(fields[1]) != "SERVER" {
			log.Printf("Ignoring unrecognized stdin input: %s", line)
			continue
		}

		hostPort := fields[0]
		targetName := fields[2]

		if err := cb.connectToServer(hostPort, targetName); err != nil {
			log.Printf("Error connecting to %s (%s): %s", targetName, hostPort, err)
		}
	}
}
