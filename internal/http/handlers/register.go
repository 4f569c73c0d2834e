package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/YouAreMyHome/CheckInn-sub000/internal/middleware"
	"github.com/YouAreMyHome/CheckInn-sub000/internal/registration"
)

// RegisterHandler handles the multi-step registration endpoints.
type RegisterHandler struct {
	service   *registration.Service
	validate  *validator.Validate
	ipLimiter *middleware.RateLimiter
}

// NewRegisterHandler creates a registration handler. The IP limiter caps
// send-otp calls per source address; the per-email resend cooldown lives in the
// OTP store itself.
func NewRegisterHandler(service *registration.Service) *RegisterHandler {
	v := validator.New()
	registration.RegisterValidations(v)
	return &RegisterHandler{
		service:   service,
		validate:  v,
		ipLimiter: middleware.NewRateLimiter(10*time.Minute, 10, nil),
	}
}

// sendOTPRequest is the request body for POST /register/send-otp.
type sendOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// verifyOTPRequest is the request body for POST /register/verify-otp.
type verifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,len=6,numeric"`
}

// setPasswordRequest is the request body for POST /register/set-password.
// Composition rules are checked in the service so the failure lands in the
// session-unchanged path with a precise message.
type setPasswordRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

// setPhoneRequest is the request body for POST /register/set-phone.
type setPhoneRequest struct {
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"required"`
}

// completeRequest is the request body for POST /register/complete.
type completeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"required,max=100"`
}

func (h *RegisterHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage flattens a validator error into one client-facing line.
func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return "invalid request"
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "email":
			msgs = append(msgs, "invalid email format")
		case "len":
			msgs = append(msgs, field+" must be "+fe.Param()+" characters")
		case "numeric":
			msgs = append(msgs, field+" must contain only digits")
		case "max":
			msgs = append(msgs, field+" must be at most "+fe.Param()+" characters")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, ", ")
}

// HandleSendOTP handles POST /register/send-otp.
func (h *RegisterHandler) HandleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if !h.ipLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	result, err := h.service.SendOTP(r.Context(), req.Email)
	if err != nil {
		respondRegistrationError(w, req.Email, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// HandleVerifyOTP handles POST /register/verify-otp.
func (h *RegisterHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.service.VerifyOTP(r.Context(), req.Email, req.OTP)
	if err != nil {
		respondRegistrationError(w, req.Email, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// HandleSetPassword handles POST /register/set-password.
func (h *RegisterHandler) HandleSetPassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.service.SetPassword(r.Context(), req.Email, req.Password, req.ConfirmPassword)
	if err != nil {
		respondRegistrationError(w, req.Email, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// HandleSetPhone handles POST /register/set-phone.
func (h *RegisterHandler) HandleSetPhone(w http.ResponseWriter, r *http.Request) {
	var req setPhoneRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.service.SetPhone(r.Context(), req.Email, req.Phone)
	if err != nil {
		respondRegistrationError(w, req.Email, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// completeResponse is the JSON body for a finished registration.
type completeResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

// userResponse is the user object in API responses.
type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// HandleComplete handles POST /register/complete.
func (h *RegisterHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.service.Complete(r.Context(), req.Email, req.Name)
	if err != nil {
		respondRegistrationError(w, req.Email, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, completeResponse{
		Token: result.Token,
		User: userResponse{
			ID:    result.User.ID.String(),
			Email: result.User.Email,
			Name:  result.User.Name,
			Phone: result.User.Phone,
		},
	})
}

// HandleInspectSession handles GET /register/session/{email}. Debug surface;
// the router mounts it only in dev mode.
func (h *RegisterHandler) HandleInspectSession(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if strings.TrimSpace(email) == "" {
		respondWithError(w, http.StatusBadRequest, "email is required")
		return
	}

	snap, err := h.service.InspectSession(r.Context(), email)
	if err != nil {
		if errors.Is(err, registration.ErrPrecondition) {
			respondWithError(w, http.StatusNotFound, "no session for this email")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to inspect session")
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}

// HandleMe handles GET /me (protected). Returns the authenticated user.
func (h *RegisterHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondWithJSON(w, http.StatusOK, userResponse{
		ID:    user.ID.String(),
		Email: user.Email,
		Name:  user.Name,
		Phone: user.Phone,
	})
}

// respondRegistrationError maps the registration error taxonomy onto HTTP
// status codes. Unknown errors are logged and hidden behind a 500.
func respondRegistrationError(w http.ResponseWriter, email string, err error) {
	switch {
	case errors.Is(err, registration.ErrRateLimited):
		respondWithError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, registration.ErrDelivery):
		respondWithError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, registration.ErrValidation),
		errors.Is(err, registration.ErrPrecondition),
		errors.Is(err, registration.ErrConflict),
		errors.Is(err, registration.ErrNotFoundOrExpired),
		errors.Is(err, registration.ErrAttemptsExceeded):
		respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Str("email", registration.MaskEmail(email)).Msg("registration step failed")
		respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}

// respondWithJSON writes a JSON response with the given status.
func respondWithJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// respondWithError sends a JSON error response.
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
