package dcc

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFile struct {
	buf []byte
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	return n, nil
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	need := int(off) + len(p)
	if need > len(m.buf) {
		grown := make([]byte, need)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:], p)
	return len(p), nil
}

func TestSendReceiveRoundTrip(t *testing.T) {
	key, err := RandomKey()
	require.NoError(t, err)

	senderCipher, err := NewCipher(key)
	require.NoError(t, err)
	receiverCipher, err := NewCipher(key)
	require.NoError(t, err)

	source := bytes.Repeat([]byte("x"), ChunkSize*2+17)
	src := &memFile{buf: source}
	dst := &memFile{}

	sender := NewSender(senderCipher, src, int64(len(source)))
	receiver := NewReceiver(receiverCipher, dst, int64(len(source)), "")

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan int64, 1)
	go func() {
		off, _ := sender.Send(serverConn, 0)
		done <- off
	}()

	off, err := receiver.Receive(clientConn, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len(source)), off)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sender did not finish")
	}

	assert.True(t, bytes.Equal(source, dst.buf))
}

// pauseAfterChunk wraps a net.Conn and calls sender.Pause() the moment the
// Nth chunk body (anything bigger than the 4-byte length header) has been
// written and consumed by the peer, so the pause lands mid-transfer the way
// a real PAUSE would, rather than before Send ever starts.
type pauseAfterChunk struct {
	net.Conn
	sender      *Sender
	afterChunks int
	seen        int
}

func (p *pauseAfterChunk) Write(b []byte) (int, error) {
	n, err := p.Conn.Write(b)
	if len(b) > 4 {
		p.seen++
		if p.seen >= p.afterChunks {
			p.sender.Pause()
		}
	}
	return n, err
}

func TestPauseResume(t *testing.T) {
	key, err := RandomKey()
	require.NoError(t, err)
	cipher, err := NewCipher(key)
	require.NoError(t, err)

	source := bytes.Repeat([]byte("y"), ChunkSize*2+100)
	src := &memFile{buf: source}
	dst := &memFile{}

	sender := NewSender(cipher, src, int64(len(source)))

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()
	wrapped := &pauseAfterChunk{Conn: serverConn, sender: sender, afterChunks: 1}

	sendDone := make(chan int64, 1)
	go func() {
		off, _ := sender.Send(wrapped, 0)
		sendDone <- off
	}()

	// Drain exactly the one chunk the sender will manage to write before
	// Pause takes effect: a 4-byte length header, then the chunk itself.
	var header [4]byte
	_, err = io.ReadFull(clientConn, header[:])
	require.NoError(t, err, "reading first chunk header")
	chunkLen := binary.BigEndian.Uint32(header[:])
	chunk := make([]byte, chunkLen)
	_, err = io.ReadFull(clientConn, chunk)
	require.NoError(t, err, "reading first chunk body")

	var pauseOffset int64
	select {
	case pauseOffset = <-sendDone:
	case <-time.After(time.Second):
		t.Fatal("sender did not pause")
	}
	assert.Equal(t, int64(ChunkSize), pauseOffset, "paused after exactly one chunk")

	plaintext, err := cipher.DecryptChunk(0, chunk)
	require.NoError(t, err)
	_, err = dst.WriteAt(plaintext, 0)
	require.NoError(t, err)

	// Resume: a fresh connection pair, Send/Receive pick up from pauseOffset.
	clientConn2, serverConn2 := net.Pipe()
	defer clientConn2.Close()
	defer serverConn2.Close()

	receiver := NewReceiver(cipher, dst, int64(len(source)), "")
	done := make(chan struct{})
	go func() {
		off, sendErr := sender.Send(serverConn2, pauseOffset)
		assert.NoError(t, sendErr)
		assert.Equal(t, int64(len(source)), off)
		close(done)
	}()

	off, err := receiver.Receive(clientConn2, pauseOffset)
	require.NoError(t, err)
	assert.Equal(t, int64(len(source)), off)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sender did not finish after resume")
	}

	assert.True(t, bytes.Equal(source, dst.buf), "resumed transfer reassembles the original file")
}

func TestVerifyHash(t *testing.T) {
	source := bytes.Repeat([]byte("z"), ChunkSize+37)

	f, err := os.CreateTemp(t.TempDir(), "dcc-verify-*")
	require.NoError(t, err)
	_, err = f.Write(source)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	h := sha256.Sum256(source)
	digest := hex.EncodeToString(h[:])

	ok, err := VerifyHash(f.Name(), digest)
	require.NoError(t, err)
	assert.True(t, ok, "hash of the exact bytes written should verify")

	ok, err = VerifyHash(f.Name(), "0000000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.False(t, ok, "mismatched digest should not verify")
}
