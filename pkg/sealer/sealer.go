// Package sealer encrypts short secrets (passwords, tokens) for storage
// with NaCl secretbox. Sealed values are prefixed so that plaintext rows
// written before a key was configured still read back.
package sealer

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// Prefix marks a sealed value.
const Prefix = "sb1:"

const (
	keySize   = 32
	nonceSize = 24
)

var (
	// ErrInvalidKey is returned for keys that do not decode to 32 bytes.
	ErrInvalidKey = errors.New("sealer: key must be 32 bytes (hex or base64)")

	// ErrOpen is returned when a sealed value fails authentication.
	ErrOpen = errors.New("sealer: cannot open sealed value")
)

// Sealer seals and opens strings. A nil *Sealer passes values through.
type Sealer struct {
	key [keySize]byte
}

// New parses a 32-byte key given as hex (64 chars) or standard base64.
func New(encoded string) (*Sealer, error) {
	encoded = strings.TrimSpace(encoded)

	var raw []byte
	if b, err := hex.DecodeString(encoded); err == nil && len(b) == keySize {
		raw = b
	} else if b, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(b) == keySize {
		raw = b
	} else {
		return nil, ErrInvalidKey
	}

	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// Seal encrypts plaintext. Empty strings stay empty.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil || plaintext == "" {
		return plaintext, nil
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("sealer: read nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return Prefix + base64.RawStdEncoding.EncodeToString(box), nil
}

// Open decrypts a sealed value. Values without the prefix are returned as is.
func (s *Sealer) Open(value string) (string, error) {
	if !strings.HasPrefix(value, Prefix) {
		return value, nil
	}
	if s == nil {
		return "", fmt.Errorf("%w: no key configured", ErrOpen)
	}

	box, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil || len(box) < nonceSize+secretbox.Overhead {
		return "", ErrOpen
	}

	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	out, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrOpen
	}
	return string(out), nil
}
