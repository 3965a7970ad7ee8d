// Package validity decides whether a cached feed may be served without
// re-running its search, using a content fingerprint and a sliding TTL.
package validity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"time"

	"github.com/jonesrussell/north-cloud/discovery/internal/domain"
)

// DefaultTTLHours is used when no positive TTL is configured.
const DefaultTTLHours = 24

// TTLFromHours converts configured hours into a TTL.
func TTLFromHours(hours int) time.Duration {
	if hours <= 0 {
		hours = DefaultTTLHours
	}
	return time.Duration(hours) * time.Hour
}

// State is the lifecycle position of a Token.
type State int

const (
	StateUninitialized State = iota
	StatePending
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	default:
		return "uninitialized"
	}
}

// Result is the answer of a validity query.
type Result int

const (
	Invalid Result = iota
	Unknown
	Valid
)

func (r Result) String() string {
	switch r {
	case Valid:
		return "VALID"
	case Unknown:
		return "UNKNOWN"
	default:
		return "INVALID"
	}
}

// Token fingerprints the content a cached artifact was built from.
// It is not safe for concurrent use; Store serializes access per key.
type Token struct {
	state       State
	ttl         time.Duration
	digest      hash.Hash
	fingerprint string
	expiresAt   time.Time
}

// NewToken creates an uninitialized token.
func NewToken(ttl time.Duration) *Token {
	return &Token{ttl: ttl}
}

// RestoreToken rebuilds a completed token from persisted fields.
func RestoreToken(fingerprint string, expiresAt time.Time, ttl time.Duration) *Token {
	return &Token{
		state:       StateCompleted,
		ttl:         ttl,
		fingerprint: fingerprint,
		expiresAt:   expiresAt,
	}
}

// Begin starts collecting identities.
func (t *Token) Begin() error {
	if t.state != StateUninitialized {
		return fmt.Errorf("%w: begin from %s", domain.ErrInvalidTokenState, t.state)
	}
	t.state = StatePending
	t.digest = sha256.New()
	return nil
}

// Add folds one content identity and its version into the fingerprint.
func (t *Token) Add(identity, version string) error {
	if t.state != StatePending {
		return fmt.Errorf("%w: add to %s token", domain.ErrInvalidTokenState, t.state)
	}
	// Length prefixes keep ("ab","c") distinct from ("a","bc").
	fmt.Fprintf(t.digest, "%d:%s%d:%s", len(identity), identity, len(version), version)
	return nil
}

// Complete fixes the fingerprint and opens the trust window.
func (t *Token) Complete(now time.Time) error {
	if t.state != StatePending {
		return fmt.Errorf("%w: complete from %s", domain.ErrInvalidTokenState, t.state)
	}
	t.fingerprint = hex.EncodeToString(t.digest.Sum(nil))
	t.digest = nil
	t.expiresAt = now.Add(t.ttl)
	t.state = StateCompleted
	return nil
}

// IsValid is VALID inside the trust window and UNKNOWN after it, meaning the
// caller should rebuild and Compare. An incomplete token is INVALID.
func (t *Token) IsValid(now time.Time) Result {
	if t.state != StateCompleted {
		return Invalid
	}
	if now.Before(t.expiresAt) {
		return Valid
	}
	return Unknown
}

// Compare reports whether both tokens describe the same content. On a match
// both trust windows slide to now+TTL; otherwise neither token changes.
func (t *Token) Compare(other *Token, now time.Time) Result {
	if other == nil || t.state != StateCompleted || other.state != StateCompleted {
		return Invalid
	}
	if t.fingerprint != other.fingerprint {
		return Invalid
	}
	t.expiresAt = now.Add(t.ttl)
	other.expiresAt = now.Add(other.ttl)
	return Valid
}

// State returns the lifecycle state.
func (t *Token) State() State { return t.state }

// Fingerprint is empty until the token completes.
func (t *Token) Fingerprint() string { return t.fingerprint }

// ExpiresAt is zero until the token completes.
func (t *Token) ExpiresAt() time.Time { return t.expiresAt }
