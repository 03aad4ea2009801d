package dcc

import (
	"bufio"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// EndSentinel terminates one free-form CHAT message, sent in-band.
const EndSentinel = "//END"

// DirectMessage is one decoded line of CHAT traffic, handed to whichever
// component is driving the session (the client's event loop).
type DirectMessage struct {
	Addr string
	From string
	Text string
}

// ChatSession drives one DCC CHAT connection: read lines terminated by
// EndSentinel and hand each off via the Messages callback, write lines with
// WriteLine.
type ChatSession struct {
	conn net.Conn
	addr string
	from string

	Messages func(DirectMessage)
}

// ListenChat opens a listener for an initiating CHAT session. The caller is
// responsible for closing the returned listener once a peer has connected
// (or on timeout).
func ListenChat(bindAddr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, errors.Wrap(err, "opening DCC CHAT listener")
	}
	return ln, nil
}

// DialChat connects to an initiator's CHAT listener, as the responder does
// on receiving a DCC CHAT control message.
func DialChat(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrap(err, "dialing DCC CHAT peer")
	}
	return conn, nil
}

// NewChatSession wraps an already-connected socket.
func NewChatSession(conn net.Conn, addr, from string) *ChatSession {
	return &ChatSession{conn: conn, addr: addr, from: from}
}

// WriteLine sends one free-form chat line, followed by the end sentinel.
func (s *ChatSession) WriteLine(text string) error {
	_, err := s.conn.Write([]byte(text + " " + EndSentinel + "\n"))
	if err != nil {
		return errors.Wrap(err, "writing DCC CHAT line")
	}
	return nil
}

// Close tears down the underlying socket. It does not invoke Messages.
func (s *ChatSession) Close() error {
	return s.conn.Close()
}

// ReadLoop reads from the peer line by line until EOF or error. Each line
// that contains EndSentinel is delivered to Messages with the first
// sentinel removed and surrounding whitespace trimmed; lines without the
// sentinel are dropped. It returns when the connection closes.
func (s *ChatSession) ReadLoop() error {
	scanner := bufio.NewScanner(s.conn)
	scanner.Split(bufio.ScanLines)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, EndSentinel) {
			continue
		}
		text := strings.TrimSpace(strings.Replace(line, EndSentinel, "", 1))
		if s.Messages != nil {
			s.Messages(DirectMessage{Addr: s.addr, From: s.from, Text: text})
		}
	}

	return scanner.Err()
}
