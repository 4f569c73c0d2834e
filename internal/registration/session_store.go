package registration

import (
	"sync"
	"time"
)

const (
	sessionTTL           = 30 * time.Minute
	sessionSweepInterval = 10 * time.Minute
)

// Step is the registration progress marker. A session only ever moves forward
// through the transition table in Service.
type Step int

const (
	// StepAwaitingOTP: code sent, waiting for verification.
	StepAwaitingOTP Step = 1
	// StepAwaitingPassword: email verified, waiting for a password.
	StepAwaitingPassword Step = 2
	// StepAwaitingPhone: password stored, waiting for a phone number.
	StepAwaitingPhone Step = 3
	// StepReadyToComplete: everything collected, ready for the final commit.
	StepReadyToComplete Step = 4
)

// Session tracks a prospective user through the registration steps. The
// password is held as plaintext only until completion, where the durable user
// store hashes it; it must never appear in any inspection response.
type Session struct {
	Email         string
	Step          Step
	EmailVerified bool
	Password      string
	Phone         string
	CreatedAt     time.Time
	VerifiedAt    *time.Time
	PasswordSetAt *time.Time
	PhoneSetAt    *time.Time
}

// SessionStore holds registration sessions keyed by normalized email. Sessions
// are provisional and disposable; the durable account record lives elsewhere.
type SessionStore interface {
	Get(email string) (*Session, bool)
	Put(sess *Session)
	Delete(email string)
	// Sweep deletes every session older than the abandonment TTL, regardless of
	// its current step, and returns how many were removed.
	Sweep() int
}

// MemorySessionStore is the process-local SessionStore with an injectable clock.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewMemorySessionStore creates an empty in-memory session store. A nil now
// defaults to time.Now.
func NewMemorySessionStore(now func() time.Time) *MemorySessionStore {
	if now == nil {
		now = time.Now
	}
	return &MemorySessionStore{
		sessions: make(map[string]*Session),
		now:      now,
	}
}

// Get returns a copy of the session so callers cannot mutate the stored record
// without going through Put.
func (s *MemorySessionStore) Get(email string) (*Session, bool) {
	email = NormalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[email]
	if !ok {
		return nil, false
	}
	cp := *sess
	return &cp, true
}

func (s *MemorySessionStore) Put(sess *Session) {
	email := NormalizeEmail(sess.Email)
	cp := *sess
	cp.Email = email

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[email] = &cp
}

func (s *MemorySessionStore) Delete(email string) {
	email = NormalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, email)
}

func (s *MemorySessionStore) Sweep() int {
	cutoff := s.now().Add(-sessionTTL)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for email, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			delete(s.sessions, email)
			removed++
		}
	}
	return removed
}
