package idgen

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/google/uuid"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generator produces the random identifiers used across the emulator. The
// source is injectable so tests can substitute a deterministic reader.
type Generator struct {
	source io.Reader
}

// New returns a Generator reading from source. A nil source falls back to
// crypto/rand.
func New(source io.Reader) *Generator {
	if source == nil {
		source = rand.Reader
	}
	return &Generator{source: source}
}

func (g *Generator) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(g.source, buf); err != nil {
		return nil, fmt.Errorf("idgen: read random source: %w", err)
	}
	return buf, nil
}

// AlphanumericID returns an id of length n drawn from [A-Za-z0-9], the same
// character set production uses for local ids and MFA enrollment ids.
func (g *Generator) AlphanumericID(n int) (string, error) {
	raw, err := g.read(n)
	if err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range raw {
		out[i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return string(out), nil
}

// Base64URLString returns a random base64url string of length n.
func (g *Generator) Base64URLString(n int) (string, error) {
	raw, err := g.read((n*3+3)/4 + 1)
	if err != nil {
		return "", err
	}
	s := base64.RawURLEncoding.EncodeToString(raw)
	return s[:n], nil
}

// Digits returns a string of n decimal digits, used for SMS-style codes.
func (g *Generator) Digits(n int) (string, error) {
	raw, err := g.read(n)
	if err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range raw {
		out[i] = '0' + b%10
	}
	return string(out), nil
}

// EventID returns a uuid string for trigger and blocking-function events.
// Event ids are not part of any uniqueness contract, so the uuid package's
// own randomness is fine here.
func (g *Generator) EventID() string {
	return uuid.NewString()
}
