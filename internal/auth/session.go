package auth

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Session is an authenticated browser session, created only after a login
// flow (or registration auto-login) completes.
type Session struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	Role              string     `json:"role"`
	IP                string     `json:"ip"`
	UserAgent         string     `json:"userAgent"`
	Location          string     `json:"location,omitempty"`
	DeviceFamily      string     `json:"deviceFamily,omitempty"`
	BrowserFamily     string     `json:"browserFamily,omitempty"`
	OSFamily          string     `json:"osFamily,omitempty"`
	LoginTime         time.Time  `json:"loginTime"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	TwoFactorVerified bool       `json:"twoFactorVerified"`
	TwoFactorAt       *time.Time `json:"twoFactorAt,omitempty"`
	TrustedDevice     bool       `json:"trustedDevice"`
	TTLSeconds        int64      `json:"ttlSeconds"`
}

type SessionStore struct {
	Redis *redis.Client
}

func (s *SessionStore) Create(ctx context.Context, sess Session) error {
	key := "session:" + sess.ID

	data := map[string]interface{}{
		"userId":            sess.UserID,
		"role":              sess.Role,
		"ipAddress":         sess.IP,
		"userAgent":         sess.UserAgent,
		"location":          sess.Location,
		"deviceFamily":      sess.DeviceFamily,
		"browserFamily":     sess.BrowserFamily,
		"osFamily":          sess.OSFamily,
		"loginTime":         sess.LoginTime.Unix(),
		"expires":           sess.ExpiresAt.Unix(),
		"twoFactorVerified": sess.TwoFactorVerified,
		"trustedDevice":     sess.TrustedDevice,
	}
	if sess.TwoFactorAt != nil {
		data["twoFactorAt"] = sess.TwoFactorAt.Unix()
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}

	pipe := s.Redis.TxPipeline()
	pipe.HSet(ctx, key, data)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	key := "session:" + id
	vals, err := s.Redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}

	expUnix, _ := strconv.ParseInt(vals["expires"], 10, 64)
	loginUnix, _ := strconv.ParseInt(vals["loginTime"], 10, 64)
	twoFactorAtUnix, _ := strconv.ParseInt(vals["twoFactorAt"], 10, 64)
	ttl, _ := s.Redis.TTL(ctx, key).Result()

	sess := &Session{
		ID:                id,
		UserID:            vals["userId"],
		Role:              vals["role"],
		IP:                vals["ipAddress"],
		UserAgent:         vals["userAgent"],
		Location:          vals["location"],
		DeviceFamily:      vals["deviceFamily"],
		BrowserFamily:     vals["browserFamily"],
		OSFamily:          vals["osFamily"],
		LoginTime:         time.Unix(loginUnix, 0),
		ExpiresAt:         time.Unix(expUnix, 0),
		TwoFactorVerified: parseRedisBool(vals["twoFactorVerified"]),
		TrustedDevice:     parseRedisBool(vals["trustedDevice"]),
		TTLSeconds:        int64(ttl.Seconds()),
	}
	if twoFactorAtUnix > 0 {
		t := time.Unix(twoFactorAtUnix, 0)
		sess.TwoFactorAt = &t
	}

	if sess.ExpiresAt.Before(time.Now()) {
		_ = s.Delete(ctx, id)
		return nil, nil
	}

	return sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.Redis.Del(ctx, "session:"+id).Err()
}

func (s *SessionStore) DeleteByUser(ctx context.Context, userID string) error {
	sessions, err := s.ListForUser(ctx, userID)
	if err != nil {
		return err
	}
	pipe := s.Redis.TxPipeline()
	for _, sess := range sessions {
		pipe.Del(ctx, "session:"+sess.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *SessionStore) ListForUser(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	iter := s.Redis.Scan(ctx, 0, "session:*", 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), "session:")
		sess, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess != nil && sess.UserID == userID {
			sessions = append(sessions, *sess)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func NewSessionID() string {
	return uuid.NewString()
}

func parseRedisBool(val string) bool {
	return val == "1" || strings.EqualFold(val, "true")
}
