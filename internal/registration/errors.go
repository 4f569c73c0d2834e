package registration

import "errors"

// Sentinel errors for the registration flow. Handlers map these to HTTP status
// codes with errors.Is; everything else is treated as an internal error.
var (
	// ErrValidation covers malformed input (weak password, bad phone format,
	// password/confirmation mismatch).
	ErrValidation = errors.New("validation failed")

	// ErrPrecondition is returned when a step is invoked out of order or the
	// session is missing (never created, expired, or already completed).
	ErrPrecondition = errors.New("registration step precondition not met")

	// ErrConflict means the email or phone is already taken, including the
	// completion-time race where the email was registered between steps.
	ErrConflict = errors.New("already registered")

	// ErrRateLimited is returned while the OTP resend cooldown is active.
	ErrRateLimited = errors.New("resend cooldown active")

	// ErrNotFoundOrExpired means no OTP exists for the email (never requested,
	// consumed, or expired).
	ErrNotFoundOrExpired = errors.New("otp not found or expired")

	// ErrAttemptsExceeded means the OTP attempt cap was hit and the code is gone.
	ErrAttemptsExceeded = errors.New("otp attempts exceeded")

	// ErrDelivery means the OTP e-mail could not be sent. The code is deleted so
	// the client can retry from a clean state.
	ErrDelivery = errors.New("otp delivery failed")
)
