// Package codes keeps the ephemeral single-use records of the emulator in
// redis: out-of-band action codes, phone verification sessions, temporary
// proofs and refresh tokens. Records never expire on their own; stale ones
// surface as invalid when consumed.
package codes

import "errors"

var (
	// ErrNotFound is returned when a code or token does not exist.
	ErrNotFound = errors.New("code record not found")
	// ErrCodeMismatch is returned when a verification code does not match
	// its session.
	ErrCodeMismatch = errors.New("verification code mismatch")
	// ErrUnavailable wraps redis transport failures.
	ErrUnavailable = errors.New("code store unavailable")
)

// Scope addresses the isolation domain of a record.
type Scope struct {
	ProjectID string
	TenantID  string
}

func scopeKey(prefix, kind string, scope Scope) string {
	return prefix + ":" + kind + ":" + scope.ProjectID + ":" + scope.TenantID
}
