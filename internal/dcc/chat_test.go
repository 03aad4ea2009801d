package dcc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatSessionRoundTrip(t *testing.T) {
	ln, err := ListenChat("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptDone := make(chan *ChatSession, 1)
	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			acceptDone <- nil
			return
		}
		acceptDone <- NewChatSession(conn, conn.RemoteAddr().String(), "initiator")
	}()

	clientConn, err := DialChat(ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer clientConn.Close()

	var serverSession *ChatSession
	select {
	case serverSession = <-acceptDone:
	case <-time.After(time.Second):
		t.Fatal("listener never accepted")
	}
	require.NotNil(t, serverSession)
	defer serverSession.Close()

	clientSession := NewChatSession(clientConn, clientConn.RemoteAddr().String(), "responder")

	received := make(chan DirectMessage, 4)
	clientSession.Messages = func(dm DirectMessage) { received <- dm }

	readDone := make(chan error, 1)
	go func() { readDone <- clientSession.ReadLoop() }()

	require.NoError(t, serverSession.WriteLine("hey there"))
	require.NoError(t, serverSession.WriteLine("second line"))

	for i, want := range []string{"hey there", "second line"} {
		select {
		case dm := <-received:
			assert.Equal(t, want, dm.Text, "message %d text", i)
			assert.Equal(t, "responder", dm.From)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}

	require.NoError(t, serverSession.Close())

	select {
	case err := <-readDone:
		assert.NoError(t, err, "ReadLoop should end cleanly on peer close")
	case <-time.After(time.Second):
		t.Fatal("ReadLoop did not return after peer closed")
	}
}

func TestChatSessionSplitsOnEndSentinel(t *testing.T) {
	ln, err := ListenChat("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptDone := make(chan *ChatSession, 1)
	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			acceptDone <- nil
			return
		}
		acceptDone <- NewChatSession(conn, conn.RemoteAddr().String(), "initiator")
	}()

	clientConn, err := DialChat(ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer clientConn.Close()

	var serverSession *ChatSession
	select {
	case serverSession = <-acceptDone:
	case <-time.After(time.Second):
		t.Fatal("listener never accepted")
	}
	require.NotNil(t, serverSession)
	defer serverSession.Close()

	clientSession := NewChatSession(clientConn, clientConn.RemoteAddr().String(), "responder")
	received := make(chan DirectMessage, 1)
	clientSession.Messages = func(dm DirectMessage) { received <- dm }

	go func() { _ = clientSession.ReadLoop() }()

	// A raw write of text followed by the sentinel and a newline should be
	// delivered as one message with the sentinel stripped.
	_, err = serverSession.conn.Write([]byte("partial text " + EndSentinel + "\n"))
	require.NoError(t, err)

	select {
	case dm := <-received:
		assert.Equal(t, "partial text", dm.Text)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sentinel-delimited message")
	}
}
