package pake

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// CodeLength is the number of digits in a pairing code.
const CodeLength = 6

// ErrInvalidCode is returned for codes that are not exactly six decimal digits.
var ErrInvalidCode = errors.New("invalid pairing code")

// Code is a six-digit pairing code as shown on the host's pairing dialog.
// Leading zeros are significant.
type Code string

// ParseCode validates s and returns it as a Code.
func ParseCode(s string) (Code, error) {
	s = strings.TrimSpace(s)
	if len(s) != CodeLength {
		return "", fmt.Errorf("%w: must be %d digits", ErrInvalidCode, CodeLength)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: non-digit %q", ErrInvalidCode, r)
		}
	}
	return Code(s), nil
}

// GenerateCode returns a random pairing code.
func GenerateCode() (Code, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate pairing code: %w", err)
	}
	return Code(fmt.Sprintf("%06d", n.Int64())), nil
}

// String returns the code digits.
func (c Code) String() string {
	return string(c)
}

// Password returns the PAKE password for this code bound to a TLS channel:
// the code digits followed by the exported keying material.
func (c Code) Password(ekm []byte) []byte {
	pw := make([]byte, 0, len(c)+len(ekm))
	pw = append(pw, c...)
	return append(pw, ekm...)
}
