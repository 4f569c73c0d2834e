package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"

	"github.com/YouAreMyHome/CheckInn-sub000/internal/auth"
	"github.com/YouAreMyHome/CheckInn-sub000/internal/config"
	"github.com/YouAreMyHome/CheckInn-sub000/internal/db"
	httphandler "github.com/YouAreMyHome/CheckInn-sub000/internal/http"
	"github.com/YouAreMyHome/CheckInn-sub000/internal/http/handlers"
	"github.com/YouAreMyHome/CheckInn-sub000/internal/mail"
	"github.com/YouAreMyHome/CheckInn-sub000/internal/registration"
	"github.com/YouAreMyHome/CheckInn-sub000/internal/repo"
)

func main() {
	// Load .env from CWD (env vars override)
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer database.Close()

	if err := runMigrations(database); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	userRepo := repo.NewUserRepo(database)
	mailer := mail.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom)
	jwtService := auth.NewJWTService(cfg.JWTSecret)

	// REDIS_ADDR switches the OTP store to Redis; the session store stays
	// process-local because it holds a transient plaintext password.
	var otpStore registration.OTPStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		otpStore = registration.NewRedisOTPStore(client, nil)
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis OTP store")
	} else {
		otpStore = registration.NewMemoryOTPStore(nil)
	}
	sessionStore := registration.NewMemorySessionStore(nil)

	service := registration.NewService(otpStore, sessionStore, userRepo, mailer, jwtService, cfg.PublicURL)
	service.StartSweepers(ctx)

	registerHandler := handlers.NewRegisterHandler(service)
	router := httphandler.NewRouter(registerHandler, jwtService, userRepo, cfg.DevMode)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	cancel() // stops the store sweepers

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
}

// runMigrations runs database migrations using goose.
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the module root)")
	}

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
