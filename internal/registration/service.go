package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/YouAreMyHome/CheckInn-sub000/internal/mail"
	"github.com/YouAreMyHome/CheckInn-sub000/internal/model"
	"github.com/YouAreMyHome/CheckInn-sub000/internal/repo"
)

// TokenIssuer signs an access token for a freshly created user. Satisfied by
// auth.JWTService.
type TokenIssuer interface {
	SignAccessToken(userID uuid.UUID, email string) (string, error)
}

// Service orchestrates the five registration steps over the OTP and session
// stores, delegating to the durable user store, mailer, and token issuer only
// where the flow requires them.
type Service struct {
	otps      OTPStore
	sessions  SessionStore
	users     repo.UserRepo
	mailer    mail.Mailer
	tokens    TokenIssuer
	publicURL string
}

// NewService creates a registration service.
func NewService(
	otps OTPStore,
	sessions SessionStore,
	users repo.UserRepo,
	mailer mail.Mailer,
	tokens TokenIssuer,
	publicURL string,
) *Service {
	return &Service{
		otps:      otps,
		sessions:  sessions,
		users:     users,
		mailer:    mailer,
		tokens:    tokens,
		publicURL: publicURL,
	}
}

// SendOTPResult is returned to the client after a code was delivered.
type SendOTPResult struct {
	Email         string    `json:"email"`
	ExpiresAt     time.Time `json:"expires_at"`
	ExpiryMinutes int       `json:"expiry_minutes"`
}

// StepResult reports the step the client should perform next.
type StepResult struct {
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	NextStep Step   `json:"next_step"`
}

// CompleteResult is the terminal success payload.
type CompleteResult struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// SessionSnapshot is the sanitized debug view of a session. The password is
// always masked.
type SessionSnapshot struct {
	Email         string     `json:"email"`
	Step          Step       `json:"step"`
	EmailVerified bool       `json:"email_verified"`
	Password      string     `json:"password"`
	Phone         string     `json:"phone,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	PasswordSetAt *time.Time `json:"password_set_at,omitempty"`
	PhoneSetAt    *time.Time `json:"phone_set_at,omitempty"`
	OTP           *OTPInfo   `json:"otp,omitempty"`
}

// SendOTP is step one: reject already-registered emails, honor the resend
// cooldown, deliver a fresh code, and open (or reopen) the session.
func (s *Service) SendOTP(ctx context.Context, email string) (*SendOTPResult, error) {
	email = NormalizeEmail(email)

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%w: email is already in use", ErrConflict)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("check email: %w", err)
	}

	if st := s.otps.CanResend(email); !st.CanResend {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, st.Message)
	}

	code, expiresAt, err := s.otps.Create(email)
	if err != nil {
		log.Error().Err(err).Str("email", MaskEmail(email)).Msg("otp store failed")
		return nil, fmt.Errorf("%w: could not issue verification code", ErrDelivery)
	}
	if err := s.mailer.SendOTP(ctx, email, code, otpExpiry); err != nil {
		// The code was never delivered; remove it so the client can retry from
		// a clean state instead of guessing at a phantom code.
		s.otps.Delete(email)
		log.Error().Err(err).Str("email", MaskEmail(email)).Msg("otp delivery failed")
		return nil, fmt.Errorf("%w: could not send verification email", ErrDelivery)
	}

	now := time.Now()
	if sess, ok := s.sessions.Get(email); ok {
		now = sess.CreatedAt // keep the original abandonment deadline
	}
	s.sessions.Put(&Session{
		Email:     email,
		Step:      StepAwaitingOTP,
		CreatedAt: now,
	})

	log.Info().Str("email", MaskEmail(email)).Msg("otp sent")
	return &SendOTPResult{
		Email:         email,
		ExpiresAt:     expiresAt,
		ExpiryMinutes: int(otpExpiry.Minutes()),
	}, nil
}

// VerifyOTP is step two: delegate to the OTP store and, on success, mark the
// session verified. On failure the session is left unchanged.
func (s *Service) VerifyOTP(ctx context.Context, email, code string) (*StepResult, error) {
	email = NormalizeEmail(email)

	sess, ok := s.sessions.Get(email)
	if !ok {
		return nil, fmt.Errorf("%w: no registration in progress, request a code first", ErrPrecondition)
	}

	res := s.otps.Verify(email, code)
	if !res.OK {
		return nil, fmt.Errorf("%w: %s", res.Err, res.Message)
	}

	now := time.Now()
	sess.EmailVerified = true
	sess.Step = StepAwaitingPassword
	sess.VerifiedAt = &now
	s.sessions.Put(sess)

	return &StepResult{Email: email, NextStep: StepAwaitingPassword}, nil
}

// SetPassword is step three: validate and hold the password until completion.
func (s *Service) SetPassword(ctx context.Context, email, password, confirm string) (*StepResult, error) {
	email = NormalizeEmail(email)

	sess, ok := s.sessions.Get(email)
	if !ok || !sess.EmailVerified {
		return nil, fmt.Errorf("%w: email must be verified first", ErrPrecondition)
	}

	if password != confirm {
		return nil, fmt.Errorf("%w: passwords do not match", ErrValidation)
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	now := time.Now()
	sess.Password = password
	sess.Step = StepAwaitingPhone
	sess.PasswordSetAt = &now
	s.sessions.Put(sess)

	return &StepResult{Email: email, NextStep: StepAwaitingPhone}, nil
}

// SetPhone is step four: validate the phone format and reject numbers already
// attached to an account.
func (s *Service) SetPhone(ctx context.Context, email, phone string) (*StepResult, error) {
	email = NormalizeEmail(email)
	phone = strings.TrimSpace(phone)

	sess, ok := s.sessions.Get(email)
	if !ok || sess.Password == "" {
		return nil, fmt.Errorf("%w: password must be set first", ErrPrecondition)
	}

	if err := ValidatePhone(phone); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByPhone(ctx, phone); err == nil {
		return nil, fmt.Errorf("%w: phone number is already in use", ErrConflict)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("check phone: %w", err)
	}

	now := time.Now()
	sess.Phone = phone
	sess.Step = StepReadyToComplete
	sess.PhoneSetAt = &now
	s.sessions.Put(sess)

	return &StepResult{Email: email, Phone: phone, NextStep: StepReadyToComplete}, nil
}

// Complete is the terminal step: re-check the email (race guard), create the
// durable user, drop the session, issue a token, and fire the welcome mail.
// The unique index in the user store is the last word on duplicates; a
// conflicting concurrent completion loses there, not at the pre-check.
func (s *Service) Complete(ctx context.Context, email, name string) (*CompleteResult, error) {
	email = NormalizeEmail(email)

	sess, ok := s.sessions.Get(email)
	if !ok || !sess.EmailVerified || sess.Password == "" || sess.Phone == "" {
		return nil, fmt.Errorf("%w: registration steps incomplete", ErrPrecondition)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		// Registered behind our back; the session is stale PII, drop it.
		s.sessions.Delete(email)
		return nil, fmt.Errorf("%w: email was registered concurrently", ErrConflict)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("recheck email: %w", err)
	}

	user, err := s.users.Create(ctx, repo.NewUser{
		Email:    email,
		Name:     strings.TrimSpace(name),
		Phone:    sess.Phone,
		Password: sess.Password,
	})
	if err != nil {
		if errors.Is(err, repo.ErrEmailTaken) || errors.Is(err, repo.ErrPhoneTaken) {
			s.sessions.Delete(email)
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.sessions.Delete(email)

	token, err := s.tokens.SignAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	// Non-blocking; a lost welcome mail is a log line, not a failed signup.
	go func() {
		if err := s.mailer.SendWelcome(context.Background(), user.Email, user.Name, s.publicURL); err != nil {
			log.Warn().Err(err).Str("email", MaskEmail(user.Email)).Msg("welcome mail failed")
		}
	}()

	log.Info().Str("email", MaskEmail(user.Email)).Msg("registration completed")
	return &CompleteResult{Token: token, User: user}, nil
}

// InspectSession returns the sanitized debug snapshot. It never mutates either
// store and never exposes the held password or the OTP code.
func (s *Service) InspectSession(ctx context.Context, email string) (*SessionSnapshot, error) {
	email = NormalizeEmail(email)

	sess, ok := s.sessions.Get(email)
	if !ok {
		return nil, fmt.Errorf("%w: no session for this email", ErrPrecondition)
	}

	snap := &SessionSnapshot{
		Email:         sess.Email,
		Step:          sess.Step,
		EmailVerified: sess.EmailVerified,
		Phone:         sess.Phone,
		CreatedAt:     sess.CreatedAt,
		VerifiedAt:    sess.VerifiedAt,
		PasswordSetAt: sess.PasswordSetAt,
		PhoneSetAt:    sess.PhoneSetAt,
	}
	if sess.Password != "" {
		snap.Password = "********"
	}
	if info, ok := s.otps.Info(email); ok {
		snap.OTP = info
	}
	return snap, nil
}

// StartSweepers runs the periodic expiry sweeps for both stores until ctx is
// cancelled.
func (s *Service) StartSweepers(ctx context.Context) {
	go sweepLoop(ctx, otpSweepInterval, "otp", s.otps.Sweep)
	go sweepLoop(ctx, sessionSweepInterval, "session", s.sessions.Sweep)
}

func sweepLoop(ctx context.Context, interval time.Duration, name string, sweep func() int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sweep(); n > 0 {
				log.Info().Int("removed", n).Msgf("%s sweep", name)
			}
		}
	}
}
