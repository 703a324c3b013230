package sapo

import (
	"sync"
	"time"

	"github.com/giadungplus/opscore/internal/domain/integration"
)

// session holds one authenticated header set and its login state.
// All fields are guarded by mu.
type session struct {
	kind integration.SessionKind

	mu      sync.Mutex
	creds   integration.Credentials
	state   integration.SessionState
	gen     uint64        // bumped every time new credentials are adopted
	loading bool          // a login is in flight
	done    chan struct{} // closed when the in-flight login finishes
	lastErr error         // outcome of the last finished login
}

func newSession(kind integration.SessionKind) *session {
	return &session{kind: kind, state: integration.SessionStateInit}
}

func (s *session) usableLocked(now time.Time, ttl time.Duration) bool {
	return s.state == integration.SessionStateValid &&
		!s.creds.IsEmpty() &&
		!s.creds.ExpiredAt(now, ttl)
}

func (s *session) beginLoginLocked() {
	s.loading = true
	s.done = make(chan struct{})
}

func (s *session) adoptLocked(creds integration.Credentials) {
	s.creds = creds
	s.state = integration.SessionStateValid
	s.gen++
	s.lastErr = nil
}

func (s *session) finishLoginLocked(creds integration.Credentials, err error) {
	if err == nil {
		s.adoptLocked(creds)
	} else {
		s.state = integration.SessionStateInvalid
		s.lastErr = err
	}
	s.loading = false
	close(s.done)
	s.done = nil
}

// SessionStatus is a point-in-time view of one session for operators
type SessionStatus struct {
	Kind       integration.SessionKind  `json:"kind"`
	State      integration.SessionState `json:"state"`
	Loading    bool                     `json:"loading"`
	CapturedAt *time.Time               `json:"captured_at,omitempty"`
	LastError  string                   `json:"last_error,omitempty"`
}

func (s *session) statusLocked() SessionStatus {
	st := SessionStatus{Kind: s.kind, State: s.state, Loading: s.loading}
	if !s.creds.CapturedAt.IsZero() {
		at := s.creds.CapturedAt
		st.CapturedAt = &at
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
