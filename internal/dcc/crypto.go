package dcc

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// ChunkSize is the plaintext size of one SEND chunk before encryption,
// fixed-size rather than one chunk per file.
const ChunkSize = 4096

// Cipher encrypts/decrypts DCC file chunks with a pre-shared key. Key
// distribution is out of scope here (a fuller system would derive a
// per-session key via Diffie-Hellman carried in SEND/ACCEPT); this uses a
// single key loaded from configuration instead.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 32-byte key.
func NewCipher(key [32]byte) (*Cipher, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "building AEAD cipher")
	}
	return &Cipher{aead: aead}, nil
}

// EncryptChunk encrypts one chunk. seq is the chunk's sequence number within
// the transfer and is folded into the nonce so that no two chunks in a
// session reuse a nonce, including after a PAUSE/RESUME that restarts
// sending partway through the file.
func (c *Cipher) EncryptChunk(seq uint64, plaintext []byte) []byte {
	nonce := make([]byte, c.aead.NonceSize())
	binary.BigEndian.PutUint64(nonce[c.aead.NonceSize()-8:], seq)
	return c.aead.Seal(nil, nonce, plaintext, nil)
}

// DecryptChunk reverses EncryptChunk.
func (c *Cipher) DecryptChunk(seq uint64, ciphertext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	binary.BigEndian.PutUint64(nonce[c.aead.NonceSize()-8:], seq)
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decrypting chunk")
	}
	return plaintext, nil
}

// RandomKey generates a fresh 32-byte key, for operators who want to rotate
// the configured pre-shared key.
func RandomKey() ([32]byte, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, errors.Wrap(err, "reading random bytes")
	}
	return key, nil
}
