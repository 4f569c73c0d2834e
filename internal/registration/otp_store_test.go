package registration

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for store tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestGenerateOTPCode_range(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code := generateOTPCode()
		require.Len(t, code, 6)
		var n int
		_, err := fmt.Sscanf(code, "%d", &n)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
	}
}

func TestMemoryOTPStore_verifyConsumesCode(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryOTPStore(clock.Now)

	code, expiresAt, err := store.Create("A@X.com ")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(otpExpiry), expiresAt)

	res := store.Verify("a@x.com", code)
	require.True(t, res.OK, "first verify with the issued code must succeed")

	// The code is consumed; replay must fail.
	res = store.Verify("a@x.com", code)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrNotFoundOrExpired)
}

func TestMemoryOTPStore_unknownEmail(t *testing.T) {
	store := NewMemoryOTPStore(nil)
	res := store.Verify("nobody@x.com", "123456")
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrNotFoundOrExpired)
}

func TestMemoryOTPStore_expiredCodeDeleted(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryOTPStore(clock.Now)

	code, _, _ := store.Create("a@x.com")
	clock.Advance(otpExpiry + time.Second)

	res := store.Verify("a@x.com", code)
	assert.ErrorIs(t, res.Err, ErrNotFoundOrExpired)

	_, ok := store.Info("a@x.com")
	assert.False(t, ok, "expired record must be deleted on verify")
}

func TestMemoryOTPStore_attemptCap(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryOTPStore(clock.Now)

	code, _, _ := store.Create("a@x.com")

	for i := 1; i <= otpMaxAttempts; i++ {
		res := store.Verify("a@x.com", "000000")
		require.False(t, res.OK)
		assert.ErrorIs(t, res.Err, ErrValidation)
		assert.Equal(t, otpMaxAttempts-i, res.AttemptsLeft)
	}

	// Cap reached: even the correct code is rejected and the record removed.
	res := store.Verify("a@x.com", code)
	assert.ErrorIs(t, res.Err, ErrAttemptsExceeded)

	res = store.Verify("a@x.com", code)
	assert.ErrorIs(t, res.Err, ErrNotFoundOrExpired)
}

func TestMemoryOTPStore_resendCooldown(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryOTPStore(clock.Now)

	st := store.CanResend("a@x.com")
	assert.True(t, st.CanResend, "no record means resend is allowed")

	store.Create("a@x.com")

	st = store.CanResend("a@x.com")
	require.False(t, st.CanResend)
	assert.InDelta(t, 60, st.RemainingSeconds, 1)
	assert.NotEmpty(t, st.Message)

	clock.Advance(otpResendCooldown + time.Second)
	st = store.CanResend("a@x.com")
	assert.True(t, st.CanResend)
}

func TestMemoryOTPStore_createResetsAttempts(t *testing.T) {
	store := NewMemoryOTPStore(nil)

	store.Create("a@x.com")
	store.Verify("a@x.com", "000000")
	store.Verify("a@x.com", "000000")

	code, _, _ := store.Create("a@x.com")
	info, ok := store.Info("a@x.com")
	require.True(t, ok)
	assert.Equal(t, otpMaxAttempts, info.AttemptsLeft, "recreate must reset attempts")

	res := store.Verify("a@x.com", code)
	assert.True(t, res.OK)
}

func TestMemoryOTPStore_infoNeverExposesCode(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryOTPStore(clock.Now)

	_, expiresAt, _ := store.Create("a@x.com")
	info, ok := store.Info("a@x.com")
	require.True(t, ok)
	assert.Equal(t, expiresAt, info.ExpiresAt)
	assert.Equal(t, otpMaxAttempts, info.AttemptsLeft)
	assert.False(t, info.Expired)

	clock.Advance(otpExpiry + time.Minute)
	info, ok = store.Info("a@x.com")
	require.True(t, ok, "Info is diagnostic and does not delete")
	assert.True(t, info.Expired)
}

func TestMemoryOTPStore_sweep(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryOTPStore(clock.Now)

	store.Create("old@x.com")
	clock.Advance(otpExpiry + time.Second)
	store.Create("fresh@x.com")

	removed := store.Sweep()
	assert.Equal(t, 1, removed)

	_, ok := store.Info("old@x.com")
	assert.False(t, ok)
	_, ok = store.Info("fresh@x.com")
	assert.True(t, ok)
}

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"alice@x.com":  "al***@x.com",
		"al@x.com":     "***@x.com",
		"a@x.com":      "***@x.com",
		"not-an-email": "***",
		"":             "***",
	}
	for in, want := range cases {
		assert.Equal(t, want, MaskEmail(in), "MaskEmail(%q)", in)
	}
}

func TestMemoryOTPStore_deleteIsUnconditional(t *testing.T) {
	store := NewMemoryOTPStore(nil)
	code, _, _ := store.Create("a@x.com")

	store.Delete("a@x.com")
	store.Delete("a@x.com") // idempotent

	res := store.Verify("a@x.com", code)
	assert.ErrorIs(t, res.Err, ErrNotFoundOrExpired)
}
