package registration

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const otpKeyPrefix = "otp:"

// RedisOTPStore implements OTPStore on a Redis hash per email, for deployments
// where registration must survive a restart or span instances. Key TTL mirrors
// the record expiry, so Sweep is a no-op here; Redis evicts on its own.
type RedisOTPStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisOTPStore creates a Redis-backed OTP store. A nil now defaults to
// time.Now.
func NewRedisOTPStore(client *redis.Client, now func() time.Time) *RedisOTPStore {
	if now == nil {
		now = time.Now
	}
	return &RedisOTPStore{client: client, now: now}
}

func otpKey(email string) string {
	return otpKeyPrefix + NormalizeEmail(email)
}

func (s *RedisOTPStore) Create(email string) (string, time.Time, error) {
	now := s.now()
	code := generateOTPCode()
	expiresAt := now.Add(otpExpiry)

	ctx := context.Background()
	key := otpKey(email)
	data := map[string]any{
		"code":         code,
		"expires_at":   expiresAt.Unix(),
		"attempts":     0,
		"last_sent_at": now.Unix(),
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, data)
	pipe.Expire(ctx, key, otpExpiry)
	if _, err := pipe.Exec(ctx); err != nil {
		// Drop any half-written record so a retry starts clean; the caller
		// must not mail a code that was never stored.
		s.client.Del(ctx, key)
		log.Error().Err(err).Msg("redis otp create failed")
		return "", time.Time{}, fmt.Errorf("store otp: %w", err)
	}
	return code, expiresAt, nil
}

func (s *RedisOTPStore) CanResend(email string) ResendStatus {
	ctx := context.Background()
	lastSent, err := s.client.HGet(ctx, otpKey(email), "last_sent_at").Int64()
	if err != nil {
		// Missing record (redis.Nil) or unreachable Redis both permit a resend;
		// the worst case is an extra mail.
		return ResendStatus{CanResend: true}
	}

	elapsed := s.now().Sub(time.Unix(lastSent, 0))
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

func (s *RedisOTPStore) Verify(email, candidate string) VerifyResult {
	ctx := context.Background()
	key := otpKey(email)

	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil || len(vals) == 0 {
		return VerifyResult{
			Message: "verification code does not exist or has expired",
			Err:     ErrNotFoundOrExpired,
		}
	}

	expiresAt, _ := strconv.ParseInt(vals["expires_at"], 10, 64)
	if s.now().After(time.Unix(expiresAt, 0)) {
		s.client.Del(ctx, key)
		return VerifyResult{
			Message: "verification code has expired, request a new one",
			Err:     ErrNotFoundOrExpired,
		}
	}

	attempts, _ := strconv.Atoi(vals["attempts"])
	if attempts >= otpMaxAttempts {
		s.client.Del(ctx, key)
		return VerifyResult{
			Message: "too many failed attempts, request a new code",
			Err:     ErrAttemptsExceeded,
		}
	}

	if vals["code"] != strings.TrimSpace(candidate) {
		newCount, err := s.client.HIncrBy(ctx, key, "attempts", 1).Result()
		if err != nil {
			newCount = int64(attempts) + 1
		}
		left := otpMaxAttempts - int(newCount)
		if left < 0 {
			left = 0
		}
		return VerifyResult{
			Message:      fmt.Sprintf("incorrect code, %d attempts left", left),
			AttemptsLeft: left,
			Err:          ErrValidation,
		}
	}

	s.client.Del(ctx, key)
	return VerifyResult{OK: true, Message: "email verified"}
}

func (s *RedisOTPStore) Delete(email string) {
	s.client.Del(context.Background(), otpKey(email))
}

func (s *RedisOTPStore) Info(email string) (*OTPInfo, bool) {
	ctx := context.Background()
	vals, err := s.client.HGetAll(ctx, otpKey(email)).Result()
	if err != nil || len(vals) == 0 {
		return nil, false
	}

	expiresAt, _ := strconv.ParseInt(vals["expires_at"], 10, 64)
	attempts, _ := strconv.Atoi(vals["attempts"])
	left := otpMaxAttempts - attempts
	if left < 0 {
		left = 0
	}
	return &OTPInfo{
		ExpiresAt:    time.Unix(expiresAt, 0),
		AttemptsLeft: left,
		Expired:      s.now().After(time.Unix(expiresAt, 0)),
	}, true
}

// Sweep is satisfied by key TTLs; there is nothing to walk.
func (s *RedisOTPStore) Sweep() int {
	return 0
}
