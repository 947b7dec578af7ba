package auth

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces the cooldown windows and attempt caps of the auth
// flows. All counters live in Redis and are advanced with INCR / SET NX so
// concurrent requests from the same session cannot double-issue a code or
// under-count attempts.
type RateLimiter struct {
	Redis *redis.Client

	MaxLoginAttempts int
	LoginAttemptTTL  time.Duration
	AccountLockTTL   time.Duration

	MaxCodeAttempts int
	CodeAttemptTTL  time.Duration

	IPMaxAttempts int
	IPAttemptTTL  time.Duration
	IPBanTTL      time.Duration
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{
		Redis:            redisClient,
		MaxLoginAttempts: 5,
		LoginAttemptTTL:  10 * time.Minute,
		AccountLockTTL:   15 * time.Minute,
		MaxCodeAttempts:  3,
		CodeAttemptTTL:   15 * time.Minute,
		IPMaxAttempts:    20,
		IPAttemptTTL:     10 * time.Minute,
		IPBanTTL:         time.Hour,
	}
}

func (r *RateLimiter) loginAttemptKey(account string) string {
	return "login_attempts:" + strings.ToLower(account)
}

func (r *RateLimiter) accountLockKey(account string) string {
	return "account_lock:" + strings.ToLower(account)
}

func (r *RateLimiter) codeAttemptKey(scope string) string {
	return "code_attempts:" + scope
}

func (r *RateLimiter) ipAttemptKey(ip string) string {
	return "login_attempts_ip:" + ip
}

func (r *RateLimiter) ipBanKey(ip string) string {
	return "login_ban:" + ip
}

// BeginCooldown atomically starts a cooldown window. It returns false when
// the window is already active, so two concurrent resend requests cannot
// both pass the check.
func (r *RateLimiter) BeginCooldown(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.Redis.SetNX(ctx, key, "1", ttl).Result()
}

// ClearCooldown releases a cooldown early, e.g. when the email the window
// guards failed to send.
func (r *RateLimiter) ClearCooldown(ctx context.Context, key string) {
	r.Redis.Del(ctx, key)
}

// CooldownTTL reports the remaining wait; zero means the action is allowed.
func (r *RateLimiter) CooldownTTL(ctx context.Context, key string) time.Duration {
	ttl, err := r.Redis.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}

// RegisterCodeAttempt counts one verification attempt against the issued
// code identified by scope. locked reports that the cap is reached and the
// current code must be invalidated.
func (r *RateLimiter) RegisterCodeAttempt(ctx context.Context, scope string) (attempts int64, locked bool, err error) {
	key := r.codeAttemptKey(scope)
	attempts, err = r.Redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, false, err
	}
	if attempts == 1 {
		r.Redis.Expire(ctx, key, r.CodeAttemptTTL)
	}
	return attempts, attempts > int64(r.MaxCodeAttempts), nil
}

// ResetCodeAttempts clears the attempt counter, called whenever a fresh
// code is issued or one verifies successfully.
func (r *RateLimiter) ResetCodeAttempts(ctx context.Context, scope string) {
	r.Redis.Del(ctx, r.codeAttemptKey(scope))
}

// RegisterLoginFailure counts a failed credential submission for the
// account and locks it once MaxLoginAttempts is reached. While locked,
// logins fail regardless of credential correctness.
func (r *RateLimiter) RegisterLoginFailure(ctx context.Context, account string) (locked bool, err error) {
	key := r.loginAttemptKey(account)
	attempts, err := r.Redis.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if attempts == 1 {
		r.Redis.Expire(ctx, key, r.LoginAttemptTTL)
	}
	if attempts >= int64(r.MaxLoginAttempts) {
		r.Redis.Set(ctx, r.accountLockKey(account), "1", r.AccountLockTTL)
		r.Redis.Expire(ctx, key, r.AccountLockTTL)
		return true, nil
	}
	return false, nil
}

func (r *RateLimiter) IsAccountLocked(ctx context.Context, account string) (bool, time.Duration) {
	ttl, err := r.Redis.TTL(ctx, r.accountLockKey(account)).Result()
	if err != nil || ttl <= 0 {
		return false, 0
	}
	return true, ttl
}

func (r *RateLimiter) ResetLogin(ctx context.Context, account string) {
	r.Redis.Del(ctx, r.loginAttemptKey(account))
}

// RegisterIPFailure is an outer guard against credential stuffing across
// many accounts from one address.
func (r *RateLimiter) RegisterIPFailure(ctx context.Context, ip string) error {
	if ip == "" {
		return nil
	}
	key := r.ipAttemptKey(ip)
	attempts, err := r.Redis.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if attempts == 1 {
		r.Redis.Expire(ctx, key, r.IPAttemptTTL)
	}
	if attempts >= int64(r.IPMaxAttempts) {
		r.Redis.Set(ctx, r.ipBanKey(ip), "1", r.IPBanTTL)
		r.Redis.Expire(ctx, key, r.IPBanTTL)
	}
	return nil
}

func (r *RateLimiter) IsIPBanned(ctx context.Context, ip string) bool {
	exists, _ := r.Redis.Exists(ctx, r.ipBanKey(ip)).Result()
	return exists == 1
}

func (r *RateLimiter) ResetIP(ctx context.Context, ip string) {
	if ip == "" {
		return
	}
	r.Redis.Del(ctx, r.ipAttemptKey(ip))
}
