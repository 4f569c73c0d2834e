package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEmail = "a@x.com"

func postJSON(t *testing.T, client *http.Client, url string, body map[string]string) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := client.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

// TestRegisterE2E walks the whole flow over HTTP: health, the five steps, the
// issued token on /me, and the post-completion state.
func TestRegisterE2E(t *testing.T) {
	ts := newTestServer(t, true)
	baseURL := ts.BaseURL()
	client := ts.Server.Client()

	t.Run("A_Health", func(t *testing.T) {
		resp, err := client.Get(baseURL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]bool
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body["ok"])
	})

	var token string

	t.Run("B_FullFlow", func(t *testing.T) {
		// send-otp
		resp := postJSON(t, client, baseURL+"/register/send-otp", map[string]string{"email": testEmail})
		defer resp.Body.Close()
		body := readBody(resp)
		require.Equal(t, http.StatusOK, resp.StatusCode, "send-otp must return 200; body: %s", body)
		var sent struct {
			Email         string `json:"email"`
			ExpiryMinutes int    `json:"expiry_minutes"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &sent))
		assert.Equal(t, testEmail, sent.Email)
		assert.Equal(t, 5, sent.ExpiryMinutes)
		require.NotEmpty(t, ts.Mailer.Code(), "an OTP must have been mailed")

		// verify-otp
		resp = postJSON(t, client, baseURL+"/register/verify-otp", map[string]string{
			"email": testEmail, "otp": ts.Mailer.Code(),
		})
		defer resp.Body.Close()
		body = readBody(resp)
		require.Equal(t, http.StatusOK, resp.StatusCode, "verify-otp must return 200; body: %s", body)
		var step struct {
			NextStep int `json:"next_step"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &step))
		assert.Equal(t, 2, step.NextStep)

		// set-password
		resp = postJSON(t, client, baseURL+"/register/set-password", map[string]string{
			"email": testEmail, "password": "Abcd1234", "confirm_password": "Abcd1234",
		})
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "set-password; body: %s", readBody(resp))

		// set-phone
		resp = postJSON(t, client, baseURL+"/register/set-phone", map[string]string{
			"email": testEmail, "phone": "0912345678",
		})
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "set-phone; body: %s", readBody(resp))

		// complete
		resp = postJSON(t, client, baseURL+"/register/complete", map[string]string{
			"email": testEmail, "name": "Alice",
		})
		defer resp.Body.Close()
		body = readBody(resp)
		require.Equal(t, http.StatusCreated, resp.StatusCode, "complete must return 201; body: %s", body)
		var done struct {
			Token string `json:"token"`
			User  struct {
				ID    string `json:"id"`
				Email string `json:"email"`
				Phone string `json:"phone"`
			} `json:"user"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &done))
		require.NotEmpty(t, done.Token)
		assert.Equal(t, testEmail, done.User.Email)
		assert.Equal(t, "0912345678", done.User.Phone)
		token = done.Token
	})

	t.Run("C_Me", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, baseURL+"/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		body := readBody(resp)
		require.Equal(t, http.StatusOK, resp.StatusCode, "GET /me; body: %s", body)
		var me struct {
			Email string `json:"email"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &me))
		assert.Equal(t, testEmail, me.Email)
	})

	t.Run("D_SessionGoneAfterCompletion", func(t *testing.T) {
		resp, err := client.Get(baseURL + "/register/session/" + testEmail)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("E_EmailNowTaken", func(t *testing.T) {
		resp := postJSON(t, client, baseURL+"/register/send-otp", map[string]string{"email": testEmail})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "registered email must be rejected")
	})
}

func TestRegisterErrorMapping(t *testing.T) {
	ts := newTestServer(t, true)
	baseURL := ts.BaseURL()
	client := ts.Server.Client()

	t.Run("InvalidEmail", func(t *testing.T) {
		resp := postJSON(t, client, baseURL+"/register/send-otp", map[string]string{"email": "not-an-email"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("ResendCooldown429", func(t *testing.T) {
		resp := postJSON(t, client, baseURL+"/register/send-otp", map[string]string{"email": "b@x.com"})
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = postJSON(t, client, baseURL+"/register/send-otp", map[string]string{"email": "b@x.com"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, "resend inside the cooldown must map to 429")
	})

	t.Run("StepOutOfOrder400", func(t *testing.T) {
		resp := postJSON(t, client, baseURL+"/register/set-password", map[string]string{
			"email": "c@x.com", "password": "Abcd1234", "confirm_password": "Abcd1234",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("WrongOTP400WithAttempts", func(t *testing.T) {
		resp := postJSON(t, client, baseURL+"/register/send-otp", map[string]string{"email": "d@x.com"})
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = postJSON(t, client, baseURL+"/register/verify-otp", map[string]string{
			"email": "d@x.com", "otp": "000000",
		})
		defer resp.Body.Close()
		body := readBody(resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, body, "attempts left")
	})

	t.Run("WeakPassword400", func(t *testing.T) {
		resp := postJSON(t, client, baseURL+"/register/send-otp", map[string]string{"email": "e@x.com"})
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp = postJSON(t, client, baseURL+"/register/verify-otp", map[string]string{
			"email": "e@x.com", "otp": ts.Mailer.Code(),
		})
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = postJSON(t, client, baseURL+"/register/set-password", map[string]string{
			"email": "e@x.com", "password": "short", "confirm_password": "short",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("DeliveryFailure500", func(t *testing.T) {
		ts.Mailer.failOTP = true
		defer func() { ts.Mailer.failOTP = false }()

		resp := postJSON(t, client, baseURL+"/register/send-otp", map[string]string{"email": "f@x.com"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode,
			"a delivery failure must be distinguishable from validation errors")
	})
}

func TestSessionInspection(t *testing.T) {
	ts := newTestServer(t, true)
	baseURL := ts.BaseURL()
	client := ts.Server.Client()

	resp := postJSON(t, client, baseURL+"/register/send-otp", map[string]string{"email": testEmail})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = postJSON(t, client, baseURL+"/register/verify-otp", map[string]string{
		"email": testEmail, "otp": ts.Mailer.Code(),
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = postJSON(t, client, baseURL+"/register/set-password", map[string]string{
		"email": testEmail, "password": "Abcd1234", "confirm_password": "Abcd1234",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := client.Get(baseURL + "/register/session/" + testEmail)
	require.NoError(t, err)
	defer resp.Body.Close()
	body := readBody(resp)
	require.Equal(t, http.StatusOK, resp.StatusCode, "session inspection; body: %s", body)

	var snap struct {
		Step          int    `json:"step"`
		EmailVerified bool   `json:"email_verified"`
		Password      string `json:"password"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &snap))
	assert.Equal(t, 3, snap.Step)
	assert.True(t, snap.EmailVerified)
	assert.Equal(t, "********", snap.Password, "inspection must mask the password")
	assert.NotContains(t, body, "Abcd1234")
}

func TestSessionInspectionDisabledOutsideDevMode(t *testing.T) {
	ts := newTestServer(t, false)
	resp, err := ts.Server.Client().Get(ts.BaseURL() + "/register/session/" + testEmail)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "debug route must not be mounted in production")
}

func TestAbandonedSessionSweptOverHTTP(t *testing.T) {
	ts := newTestServer(t, true)
	baseURL := ts.BaseURL()
	client := ts.Server.Client()

	resp := postJSON(t, client, baseURL+"/register/send-otp", map[string]string{"email": testEmail})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	code := ts.Mailer.Code()

	ts.Clock.Advance(31 * time.Minute)
	// The sweeps normally run on tickers; drive one pass directly.
	require.Equal(t, 1, ts.Sessions.Sweep())
	ts.OTPs.Sweep()

	resp = postJSON(t, client, baseURL+"/register/verify-otp", map[string]string{
		"email": testEmail, "otp": code,
	})
	defer resp.Body.Close()
	body := readBody(resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "no registration in progress")
}
