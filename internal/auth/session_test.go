package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &SessionStore{Redis: client}, mr
}

func testSession(userID string) Session {
	now := time.Now().Truncate(time.Second)
	return Session{
		ID:                NewSessionID(),
		UserID:            userID,
		Role:              "USER",
		IP:                "203.0.113.7",
		UserAgent:         "test-agent",
		DeviceFamily:      "desktop",
		BrowserFamily:     "Firefox",
		OSFamily:          "Linux",
		LoginTime:         now,
		ExpiresAt:         now.Add(time.Hour),
		TwoFactorVerified: true,
		TrustedDevice:     true,
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store, _ := newTestSessionStore(t)
	ctx := context.Background()

	sess := testSession("user-1")
	require.NoError(t, store.Create(ctx, sess))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, sess.UserID, got.UserID)
	assert.Equal(t, sess.Role, got.Role)
	assert.Equal(t, sess.IP, got.IP)
	assert.Equal(t, "desktop", got.DeviceFamily)
	assert.True(t, got.TwoFactorVerified)
	assert.True(t, got.TrustedDevice)
	assert.Equal(t, sess.ExpiresAt.Unix(), got.ExpiresAt.Unix())
}

func TestSessionStoreGetUnknown(t *testing.T) {
	store, _ := newTestSessionStore(t)

	got, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionStoreExpiry(t *testing.T) {
	store, mr := newTestSessionStore(t)
	ctx := context.Background()

	sess := testSession("user-2")
	require.NoError(t, store.Create(ctx, sess))

	mr.FastForward(2 * time.Hour)

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "expired session reads as absent")
}

func TestSessionStoreListAndDeleteByUser(t *testing.T) {
	store, _ := newTestSessionStore(t)
	ctx := context.Background()

	a1 := testSession("alice")
	a2 := testSession("alice")
	b1 := testSession("bob")
	require.NoError(t, store.Create(ctx, a1))
	require.NoError(t, store.Create(ctx, a2))
	require.NoError(t, store.Create(ctx, b1))

	aliceSessions, err := store.ListForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, aliceSessions, 2)

	require.NoError(t, store.DeleteByUser(ctx, "alice"))

	aliceSessions, err = store.ListForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, aliceSessions)

	bobSession, err := store.Get(ctx, b1.ID)
	require.NoError(t, err)
	assert.NotNil(t, bobSession, "other users' sessions survive")
}
