// Package frame seals and opens the encrypted frames exchanged once a pairing
// session key exists.
//
// A frame is a 4-byte big-endian length followed by AES-128-GCM ciphertext.
// Nonces are per-direction counters, so every frame can be opened exactly
// once and only in order.
package frame

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the AES-128 key size derived from the session key.
	KeySize = 16

	// NonceSize is the GCM nonce size.
	NonceSize = 12

	// HeaderSize is the size of the length prefix.
	HeaderSize = 4

	// MaxPlaintext bounds a single frame's plaintext.
	MaxPlaintext = 16 * 1024
)

// keyInfo is the HKDF info string for the frame key.
var keyInfo = []byte("adb pairing_auth aes-128-gcm key")

// Codec errors.
var (
	// ErrDecode is returned for frames whose length header is inconsistent.
	ErrDecode = errors.New("frame decode failed")

	// ErrAuthFailed is returned when a frame does not authenticate, including
	// replays and reordered frames.
	ErrAuthFailed = errors.New("frame authentication failed")

	// ErrFailed is returned by every call after a failure.
	ErrFailed = errors.New("frame codec has failed")

	// ErrDestroyed is returned after Destroy.
	ErrDestroyed = errors.New("frame codec destroyed")

	// ErrInvalidKey is returned by New for an empty session key.
	ErrInvalidKey = errors.New("invalid session key")
)

// Codec encrypts outbound and decrypts inbound frames for one session.
// Seal and Open may be called from different goroutines.
type Codec struct {
	mu        sync.Mutex
	key       []byte
	aead      cipher.AEAD
	sendSeq   uint64
	recvSeq   uint64
	failed    bool
	destroyed bool
}

// New derives the frame key from sessionKey and returns a codec with both
// counters at zero.
func New(sessionKey []byte) (*Codec, error) {
	if len(sessionKey) == 0 {
		return nil, ErrInvalidKey
	}

	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, sessionKey, nil, keyInfo)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive frame key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Codec{key: key, aead: aead}, nil
}

// Seal encrypts plaintext with the next send nonce and returns the framed
// ciphertext.
func (c *Codec) Seal(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usable(); err != nil {
		return nil, err
	}
	if len(plaintext) > MaxPlaintext {
		return nil, fmt.Errorf("plaintext of %d bytes exceeds %d", len(plaintext), MaxPlaintext)
	}

	nonce := counterNonce(c.sendSeq)
	c.sendSeq++

	out := make([]byte, HeaderSize, HeaderSize+len(plaintext)+c.aead.Overhead())
	out = c.aead.Seal(out, nonce[:], plaintext, nil)
	binary.BigEndian.PutUint32(out[:HeaderSize], uint32(len(out)-HeaderSize))
	return out, nil
}

// Open authenticates and decrypts one frame with the next receive nonce.
// Any failure is fatal: the codec rejects all later calls.
func (c *Codec) Open(frame []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usable(); err != nil {
		return nil, err
	}
	if len(frame) < HeaderSize {
		c.failed = true
		return nil, fmt.Errorf("%w: frame of %d bytes has no header", ErrDecode, len(frame))
	}
	n := binary.BigEndian.Uint32(frame[:HeaderSize])
	body := frame[HeaderSize:]
	if int(n) != len(body) || len(body) < c.aead.Overhead() {
		c.failed = true
		return nil, fmt.Errorf("%w: header says %d bytes, frame carries %d", ErrDecode, n, len(body))
	}

	nonce := counterNonce(c.recvSeq)
	plaintext, err := c.aead.Open(nil, nonce[:], body, nil)
	if err != nil {
		c.failed = true
		return nil, ErrAuthFailed
	}
	c.recvSeq++
	return plaintext, nil
}

// Failed reports whether a previous Open failed.
func (c *Codec) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// Destroy zeroes the frame key. The codec cannot be used afterwards.
func (c *Codec) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.key {
		c.key[i] = 0
	}
	c.aead = nil
	c.destroyed = true
}

func (c *Codec) usable() error {
	switch {
	case c.destroyed:
		return ErrDestroyed
	case c.failed:
		return ErrFailed
	}
	return nil
}

// counterNonce places seq little-endian in the first 8 nonce bytes.
func counterNonce(seq uint64) [NonceSize]byte {
	var nonce [NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[:8], seq)
	return nonce
}
