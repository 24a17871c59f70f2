// Package idgen provides pluggable ID generation.
//
// Constructors that mint identifiers (export sessions, the audit log, the
// HTTP request middleware) accept a Generator, so the strategy is chosen at
// startup.
package idgen

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator of base-36 IDs of the given length. Short and
// URL-safe; used for request IDs.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings (time-sortable).
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends a fixed prefix to every ID ("exp_", "evt_", "req_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// Operation mints export operation IDs. They also namespace the page-side
// element registry, so they must be unique per page.
var Operation Generator = Prefixed("exp_", Default)

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Parse validates a UUID string, optionally prefixed, and returns it.
func Parse(s string) (string, error) {
	raw := s
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		raw = s[i+1:]
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", fmt.Errorf("idgen: invalid id %q: %w", s, err)
	}
	return s, nil
}
