package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/YouAreMyHome/CheckInn-sub000/internal/auth"
	"github.com/YouAreMyHome/CheckInn-sub000/internal/http/handlers"
	"github.com/YouAreMyHome/CheckInn-sub000/internal/middleware"
	"github.com/YouAreMyHome/CheckInn-sub000/internal/repo"
)

// NewRouter creates a new HTTP router with all routes configured. The session
// inspection route is a debug surface and is mounted only when devMode is set.
func NewRouter(registerHandler *handlers.RegisterHandler, jwtService *auth.JWTService, userRepo repo.UserRepo, devMode bool) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/register", func(r chi.Router) {
		r.Post("/send-otp", registerHandler.HandleSendOTP)
		r.Post("/verify-otp", registerHandler.HandleVerifyOTP)
		r.Post("/set-password", registerHandler.HandleSetPassword)
		r.Post("/set-phone", registerHandler.HandleSetPhone)
		r.Post("/complete", registerHandler.HandleComplete)
		if devMode {
			r.Get("/session/{email}", registerHandler.HandleInspectSession)
		}
	})

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService, userRepo))
		r.Get("/me", registerHandler.HandleMe)
	})

	return r
}
