package storage

import (
	"errors"
	"strings"
)

// Storage errors.
var (
	// ErrNotFound is returned by Get when no value exists for the key.
	ErrNotFound = errors.New("key not found")

	// ErrInvalidKey is returned for empty keys or keys escaping the namespace.
	ErrInvalidKey = errors.New("invalid storage key")
)

// Storage is a durable key-value store.
// Implementations must be safe for concurrent access and must make Put
// atomic: a reader observes either the previous value or the new one.
type Storage interface {
	// Get returns the value stored under key.
	// Returns ErrNotFound if the key does not exist.
	Get(key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// List returns all keys with the given prefix in lexical order.
	List(prefix string) ([]string, error)
}

// ValidateKey checks that key is a clean relative slash path.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}
