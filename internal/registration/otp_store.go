package registration

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	otpExpiry         = 5 * time.Minute
	otpMaxAttempts    = 5
	otpResendCooldown = 60 * time.Second
	otpSweepInterval  = 5 * time.Minute
)

// ResendStatus is the outcome of a resend-cooldown check.
type ResendStatus struct {
	CanResend        bool
	RemainingSeconds int
	Message          string
}

// VerifyResult is the outcome of an OTP verification attempt. Exactly one of the
// failure errors (ErrNotFoundOrExpired, ErrAttemptsExceeded) or a plain mismatch
// is reported; on mismatch AttemptsLeft tells the caller how many tries remain.
type VerifyResult struct {
	OK           bool
	Message      string
	AttemptsLeft int
	Err          error
}

// OTPInfo is a read-only diagnostic view of a stored code. It never carries the
// code itself.
type OTPInfo struct {
	ExpiresAt    time.Time `json:"expires_at"`
	AttemptsLeft int       `json:"attempts_left"`
	Expired      bool      `json:"expired"`
}

// OTPStore manages one-time passcodes keyed by normalized email: creation,
// verification with attempt limiting, resend cooldown, and expiry.
type OTPStore interface {
	// Create generates a fresh 6-digit code, overwriting any prior record and
	// resetting its attempt count. A non-nil error means the code was not
	// stored and must not be sent.
	Create(email string) (code string, expiresAt time.Time, err error)
	// CanResend reports whether a new code may be sent for the email.
	CanResend(email string) ResendStatus
	// Verify checks the candidate code. The record is deleted on success, on
	// expiry, and on exceeding the attempt cap; a plain mismatch keeps it.
	Verify(email, candidate string) VerifyResult
	// Delete removes the record unconditionally (cleanup after a delivery
	// failure or explicit cancellation).
	Delete(email string)
	// Info returns the diagnostic view, or false if no record exists.
	Info(email string) (*OTPInfo, bool)
	// Sweep removes every expired record and returns how many were removed.
	Sweep() int
}

type otpRecord struct {
	code       string
	expiresAt  time.Time
	attempts   int
	lastSentAt time.Time
}

// MemoryOTPStore is the process-local OTPStore. The clock is injectable so tests
// can advance virtual time instead of sleeping.
type MemoryOTPStore struct {
	mu      sync.Mutex
	records map[string]*otpRecord
	now     func() time.Time
}

// NewMemoryOTPStore creates an empty in-memory OTP store. A nil now defaults to
// time.Now.
func NewMemoryOTPStore(now func() time.Time) *MemoryOTPStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryOTPStore{
		records: make(map[string]*otpRecord),
		now:     now,
	}
}

// NormalizeEmail lowercases and trims an email so all stores key consistently.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MaskEmail hides most of the local part for logging (e.g. al***@x.com).
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "***"
	}
	if at <= 2 {
		return "***" + email[at:]
	}
	return email[:2] + "***" + email[at:]
}

// generateOTPCode returns a uniformly distributed 6-digit code (100000-999999).
// crypto/rand with rejection sampling avoids modulo bias.
func generateOTPCode() string {
	const span = 900000
	for {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			panic(fmt.Sprintf("otp: crypto/rand unavailable: %v", err))
		}
		n := binary.BigEndian.Uint32(buf[:])
		// Reject the tail that would wrap unevenly.
		if n >= (1<<32/span)*span {
			continue
		}
		return fmt.Sprintf("%06d", int(n%span)+100000)
	}
}

func (s *MemoryOTPStore) Create(email string) (string, time.Time, error) {
	email = NormalizeEmail(email)
	now := s.now()
	code := generateOTPCode()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[email] = &otpRecord{
		code:       code,
		expiresAt:  now.Add(otpExpiry),
		attempts:   0,
		lastSentAt: now,
	}
	return code, now.Add(otpExpiry), nil
}

func (s *MemoryOTPStore) CanResend(email string) ResendStatus {
	email = NormalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[email]
	if !ok {
		return ResendStatus{CanResend: true}
	}

	elapsed := s.now().Sub(rec.lastSentAt)
	if elapsed < otpResendCooldown {
		remaining := int((otpResendCooldown - elapsed).Round(time.Second).Seconds())
		return ResendStatus{
			CanResend:        false,
			RemainingSeconds: remaining,
			Message:          fmt.Sprintf("please wait %d seconds before requesting a new code", remaining),
		}
	}
	return ResendStatus{CanResend: true}
}

func (s *MemoryOTPStore) Verify(email, candidate string) VerifyResult {
	email = NormalizeEmail(email)
	candidate = strings.TrimSpace(candidate)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[email]
	if !ok {
		return VerifyResult{
			Message: "verification code does not exist or has expired",
			Err:     ErrNotFoundOrExpired,
		}
	}

	now := s.now()
	if now.After(rec.expiresAt) {
		delete(s.records, email)
		return VerifyResult{
			Message: "verification code has expired, request a new one",
			Err:     ErrNotFoundOrExpired,
		}
	}

	if rec.attempts >= otpMaxAttempts {
		delete(s.records, email)
		return VerifyResult{
			Message: "too many failed attempts, request a new code",
			Err:     ErrAttemptsExceeded,
		}
	}

	if rec.code != candidate {
		rec.attempts++
		left := otpMaxAttempts - rec.attempts
		return VerifyResult{
			Message:      fmt.Sprintf("incorrect code, %d attempts left", left),
			AttemptsLeft: left,
			Err:          ErrValidation,
		}
	}

	// Consumed codes are deleted so they cannot be replayed.
	delete(s.records, email)
	return VerifyResult{OK: true, Message: "email verified"}
}

func (s *MemoryOTPStore) Delete(email string) {
	email = NormalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, email)
}

func (s *MemoryOTPStore) Info(email string) (*OTPInfo, bool) {
	email = NormalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[email]
	if !ok {
		return nil, false
	}
	left := otpMaxAttempts - rec.attempts
	if left < 0 {
		left = 0
	}
	return &OTPInfo{
		ExpiresAt:    rec.expiresAt,
		AttemptsLeft: left,
		Expired:      s.now().After(rec.expiresAt),
	}, true
}

func (s *MemoryOTPStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for email, rec := range s.records {
		if now.After(rec.expiresAt) {
			delete(s.records, email)
			removed++
		}
	}
	return removed
}
