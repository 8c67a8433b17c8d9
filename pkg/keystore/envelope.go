package keystore

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Sealed key envelope parameters.
const (
	envelopeVersion = 1
	envelopePrefix  = "ADBPAIR-SEALED-KEY1\n"
	envelopeKDF     = "argon2id"
	saltSize        = 16

	kdfTime     = 2
	kdfMemoryKB = 64 * 1024
	kdfThreads  = 1
)

var errInvalidEnvelope = errors.New("invalid sealed key envelope")

// envelope is the on-disk form of a passphrase-sealed private key.
type envelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// isSealed reports whether data holds a sealed envelope.
func isSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(envelopePrefix))
}

// seal encrypts plaintext under a key derived from passphrase.
func seal(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemoryKB, kdfThreads, chacha20poly1305.KeySize)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(&envelope{
		Version:     envelopeVersion,
		KDF:         envelopeKDF,
		KDFTime:     kdfTime,
		KDFMemoryKB: kdfMemoryKB,
		KDFThreads:  kdfThreads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, plaintext, []byte(envelopePrefix)),
	})
	if err != nil {
		return nil, err
	}
	return append([]byte(envelopePrefix), raw...), nil
}

// unseal reverses seal. The KDF parameters stored in the envelope are used so
// envelopes written with older parameters stay readable.
func unseal(passphrase string, data []byte) ([]byte, error) {
	if !isSealed(data) {
		return nil, errInvalidEnvelope
	}
	var env envelope
	if err := json.Unmarshal(data[len(envelopePrefix):], &env); err != nil {
		return nil, errInvalidEnvelope
	}
	if env.Version != envelopeVersion || env.KDF != envelopeKDF || env.KDFThreads == 0 {
		return nil, errInvalidEnvelope
	}

	key := argon2.IDKey([]byte(passphrase), env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads, chacha20poly1305.KeySize)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, errInvalidEnvelope
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, []byte(envelopePrefix))
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plaintext, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
