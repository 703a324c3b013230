package integration

import (
	"context"
	"strings"
	"time"
)

// SessionKind identifies one of the two authenticated Sapo sessions
type SessionKind string

const (
	SessionCore        SessionKind = "core"
	SessionMarketplace SessionKind = "marketplace"
)

// AllSessionKinds returns both session kinds in a stable order
func AllSessionKinds() []SessionKind {
	return []SessionKind{SessionCore, SessionMarketplace}
}

// IsValid checks if the session kind is known
func (k SessionKind) IsValid() bool {
	return k == SessionCore || k == SessionMarketplace
}

// String returns the string representation
func (k SessionKind) String() string {
	return string(k)
}

// SessionState is the lifecycle state of one session
type SessionState string

const (
	SessionStateInit    SessionState = "INIT"
	SessionStateValid   SessionState = "VALID"
	SessionStateInvalid SessionState = "INVALID"
)

// Credentials is the header set captured for one session.
// Header names are stored lower-cased.
type Credentials struct {
	Headers    map[string]string `json:"headers"`
	CapturedAt time.Time         `json:"captured_at"`
}

// NewCredentials normalizes captured headers into Credentials.
// Pseudo headers and hop-by-hop headers are dropped.
func NewCredentials(raw map[string]string, capturedAt time.Time) Credentials {
	headers := make(map[string]string, len(raw))
	for k, v := range raw {
		name := strings.ToLower(strings.TrimSpace(k))
		if name == "" || strings.HasPrefix(name, ":") {
			continue
		}
		switch name {
		case "host", "content-length", "connection", "accept-encoding":
			continue
		}
		headers[name] = v
	}
	return Credentials{Headers: headers, CapturedAt: capturedAt}
}

// IsEmpty reports whether no headers were captured
func (c Credentials) IsEmpty() bool {
	return len(c.Headers) == 0
}

// Get returns a header value by case-insensitive name
func (c Credentials) Get(name string) string {
	return c.Headers[strings.ToLower(name)]
}

// Clone returns a deep copy so callers can mutate headers outside the session lock
func (c Credentials) Clone() Credentials {
	headers := make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		headers[k] = v
	}
	return Credentials{Headers: headers, CapturedAt: c.CapturedAt}
}

// ExpiredAt reports whether the credentials are older than ttl at now.
// A zero ttl never expires.
func (c Credentials) ExpiredAt(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || c.CapturedAt.IsZero() {
		return false
	}
	return now.Sub(c.CapturedAt) > ttl
}

// CredentialSet holds the result of one browser login: one entry per session kind.
type CredentialSet map[SessionKind]Credentials

// CredentialProvider obtains fresh credentials out-of-band, typically by driving
// a browser through the Sapo login form. A single login yields both sessions.
type CredentialProvider interface {
	Obtain(ctx context.Context) (CredentialSet, error)
}

// EnsureStatus is the variant tag of EnsureResult
type EnsureStatus string

const (
	EnsureReady      EnsureStatus = "READY"
	EnsureInProgress EnsureStatus = "IN_PROGRESS"
	EnsureFailed     EnsureStatus = "FAILED"
)

// EnsureResult reports whether a session is usable without forcing callers to
// inspect errors. Err is set only for EnsureFailed.
type EnsureResult struct {
	Kind   SessionKind
	Status EnsureStatus
	Err    error
}

// Ready reports whether the session can be used right away
func (r EnsureResult) Ready() bool {
	return r.Status == EnsureReady
}
