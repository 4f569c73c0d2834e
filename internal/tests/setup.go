package tests

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/YouAreMyHome/CheckInn-sub000/internal/auth"
	httphandler "github.com/YouAreMyHome/CheckInn-sub000/internal/http"
	"github.com/YouAreMyHome/CheckInn-sub000/internal/http/handlers"
	"github.com/YouAreMyHome/CheckInn-sub000/internal/model"
	"github.com/YouAreMyHome/CheckInn-sub000/internal/registration"
	"github.com/YouAreMyHome/CheckInn-sub000/internal/repo"
)

const testJWTSecret = "test-jwt-secret-at-least-32-characters-long"

// memoryUserRepo is the durable-user collaborator for server tests, enforcing
// the same uniqueness rules as the users table.
type memoryUserRepo struct {
	mu    sync.Mutex
	users map[string]model.User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[string]model.User)}
}

func (r *memoryUserRepo) GetByID(_ context.Context, id string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID.String() == id {
			return u, nil
		}
	}
	return model.User{}, repo.ErrNotFound
}

func (r *memoryUserRepo) GetByEmail(_ context.Context, email string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[email]; ok {
		return u, nil
	}
	return model.User{}, repo.ErrNotFound
}

func (r *memoryUserRepo) GetByPhone(_ context.Context, phone string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Phone == phone {
			return u, nil
		}
	}
	return model.User{}, repo.ErrNotFound
}

func (r *memoryUserRepo) Create(_ context.Context, nu repo.NewUser) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[nu.Email]; ok {
		return model.User{}, repo.ErrEmailTaken
	}
	for _, u := range r.users {
		if u.Phone == nu.Phone {
			return model.User{}, repo.ErrPhoneTaken
		}
	}
	user := model.User{
		ID:        uuid.New(),
		Email:     nu.Email,
		Name:      nu.Name,
		Phone:     nu.Phone,
		CreatedAt: time.Now(),
	}
	r.users[nu.Email] = user
	return user, nil
}

// captureMailer records the last OTP code so tests can complete the flow.
type captureMailer struct {
	mu       sync.Mutex
	lastCode string
	failOTP  bool
}

func (m *captureMailer) SendOTP(_ context.Context, _ string, code string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOTP {
		return errors.New("smtp unavailable")
	}
	m.lastCode = code
	return nil
}

func (m *captureMailer) SendWelcome(_ context.Context, _, _, _ string) error {
	return nil
}

func (m *captureMailer) Code() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCode
}

// clock is a manually advanced store clock.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testServer wires the full router over in-memory collaborators. The stores
// are exposed so tests can drive sweeps directly instead of waiting on tickers.
type testServer struct {
	Server   *httptest.Server
	Users    *memoryUserRepo
	Mailer   *captureMailer
	Clock    *clock
	OTPs     *registration.MemoryOTPStore
	Sessions *registration.MemorySessionStore
}

func newTestServer(t *testing.T, devMode bool) *testServer {
	t.Helper()

	c := &clock{t: time.Now()}
	users := newMemoryUserRepo()
	mailer := &captureMailer{}

	otps := registration.NewMemoryOTPStore(c.Now)
	sessions := registration.NewMemorySessionStore(c.Now)
	jwtService := auth.NewJWTService(testJWTSecret)
	service := registration.NewService(otps, sessions, users, mailer, jwtService, "http://localhost:8080")

	registerHandler := handlers.NewRegisterHandler(service)
	router := httphandler.NewRouter(registerHandler, jwtService, users, devMode)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{
		Server:   server,
		Users:    users,
		Mailer:   mailer,
		Clock:    c,
		OTPs:     otps,
		Sessions: sessions,
	}
}

func (s *testServer) BaseURL() string { return s.Server.URL }

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}
