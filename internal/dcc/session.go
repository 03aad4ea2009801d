// Package dcc implements the peer-to-peer DCC subsystem: chat sessions and
// resumable, chunk-encrypted file transfers carried over a second socket
// opened directly between two clients, outside of any server.
package dcc

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// sessionState is the lifecycle state of one DCC session.
type sessionState int

const (
	stateConnecting sessionState = iota
	stateOpen
	statePaused
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	case statePaused:
		return "paused"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Kind distinguishes a chat session from a file transfer.
type Kind int

// Session kinds.
const (
	KindChat Kind = iota
	KindSend
)

// Session is the bookkeeping record for one active DCC connection, keyed by
// its "ip:port" address. ID additionally tags each session with a unique
// value; Table lookups (SetPaused and the rest) go by address only.
type Session struct {
	ID       uuid.UUID
	Addr     string
	Kind     Kind
	State    sessionState
	Filename string
	Offset   int64
	Size     int64

	// Cancel, if non-nil, signals the running session goroutine to stop.
	Cancel func()
}

// Table is the mutex-protected set of active DCC sessions for one client,
// looked up by "ip:port".
type Table struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*Session)}
}

// Open registers a new session for addr, replacing any existing entry for
// the same address.
func (t *Table) Open(addr string, kind Kind, filename string, size int64) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &Session{
		ID:       uuid.New(),
		Addr:     addr,
		Kind:     kind,
		State:    stateConnecting,
		Filename: filename,
		Size:     size,
	}
	t.sessions[addr] = s
	return s
}

// Get returns the session registered for addr, if any.
func (t *Table) Get(addr string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[addr]
	return s, ok
}

// Close removes and cancels the session for addr, if one exists.
func (t *Table) Close(addr string) {
	t.mu.Lock()
	s, ok := t.sessions[addr]
	delete(t.sessions, addr)
	t.mu.Unlock()

	if ok {
		s.State = stateClosed
		if s.Cancel != nil {
			s.Cancel()
		}
	}
}

// SetPaused marks the session for addr as paused, returning false if no
// session is registered there.
func (t *Table) SetPaused(addr string, paused bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[addr]
	if !ok {
		return false
	}
	if paused {
		s.State = statePaused
	} else {
		s.State = stateOpen
	}
	return true
}

// Len returns the number of active sessions, for diagnostics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Key builds the "ip:port" table key used throughout the DCC subsystem.
func Key(ip string, port int) string {
	return fmt.Sprintf("%s:%d", ip, port)
}
