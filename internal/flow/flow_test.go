package flow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"photoshare/internal/auth"
)

// fakeClock is the single time source for a fixture; tests move it forward
// and mirror the jump into miniredis so TTLs stay in step.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
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

type memUsers struct {
	mu    sync.Mutex
	seq   int
	users map[string]*auth.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[string]*auth.User{}}
}

func (m *memUsers) add(u *auth.User) *auth.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		m.seq++
		u.ID = fmt.Sprintf("user-%d", m.seq)
	}
	if u.Role == "" {
		u.Role = "USER"
	}
	m.users[u.ID] = u
	return u
}

func (m *memUsers) FindByID(_ context.Context, id string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memUsers) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memUsers) Create(_ context.Context, nu auth.NewUser) (*auth.User, error) {
	verified := nu.VerifiedAt
	hash := nu.PasswordHash
	u := &auth.User{
		Username:      nu.Username,
		Email:         nu.Email,
		EmailVerified: &verified,
		PasswordHash:  &hash,
		FirstName:     nu.FirstName,
		LastName:      nu.LastName,
		BirthDate:     nu.BirthDate,
	}
	return m.add(u), nil
}

func (m *memUsers) RecordLogin(_ context.Context, userID string, at time.Time, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.LastLoginAt = &at
		u.LastLoginIP = &ip
	}
	return nil
}

type sentMail struct {
	To      string
	Subject string
	Text    string
}

type memMailer struct {
	mu       sync.Mutex
	sent     []sentMail
	failNext bool
}

func (m *memMailer) Send(_ context.Context, to, subject, text, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errors.New("smtp unavailable")
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Text: text})
	return nil
}

func (m *memMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var codeRe = regexp.MustCompile(`\d{6}`)

// lastCode pulls the most recently mailed 6-digit code.
func (m *memMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail was sent")
	code := codeRe.FindString(m.sent[len(m.sent)-1].Text)
	require.NotEmpty(t, code, "mail carries no code")
	return code
}

type memDevices struct {
	mu      sync.Mutex
	byHash  map[string]*auth.TrustedDevice
	clockFn func() time.Time
}

func newMemDevices(clockFn func() time.Time) *memDevices {
	return &memDevices{byHash: map[string]*auth.TrustedDevice{}, clockFn: clockFn}
}

func (m *memDevices) FindByTokenHash(_ context.Context, tokenHash string) (*auth.TrustedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byHash[tokenHash]
	if !ok {
		return nil, nil
	}
	if d.Expired(m.clockFn()) {
		delete(m.byHash, tokenHash)
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *memDevices) Create(_ context.Context, d auth.TrustedDevice) (*auth.TrustedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = fmt.Sprintf("device-%d", len(m.byHash)+1)
	}
	m.byHash[d.TokenHash] = &d
	return &d, nil
}

// fixture wires a complete flow stack over miniredis and fakes.
type fixture struct {
	clock   *fakeClock
	mr      *miniredis.Miniredis
	users   *memUsers
	mailer  *memMailer
	devices *memDevices
	limiter *auth.RateLimiter
	codes   *auth.CodeGenerator
	store   *Store
	engine  *TwoFactorEngine

	reg   *Registration
	login *Login
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{t: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	users := newMemUsers()
	mailer := &memMailer{}
	devices := newMemDevices(clock.Now)
	limiter := auth.NewRateLimiter(client)
	codes := auth.NewCodeGenerator("Photoshare")
	codes.Now = clock.Now
	store := NewStore(client, time.Hour)

	engine := &TwoFactorEngine{
		Codes:          codes,
		Limiter:        limiter,
		Devices:        devices,
		Mailer:         mailer,
		Flows:          store,
		CodeTTL:        15 * time.Minute,
		ResendCooldown: 60 * time.Second,
		DeviceTTL:      30 * 24 * time.Hour,
		Now:            clock.Now,
	}

	hasher := auth.NewBcryptHasher()

	return &fixture{
		clock:   clock,
		mr:      mr,
		users:   users,
		mailer:  mailer,
		devices: devices,
		limiter: limiter,
		codes:   codes,
		store:   store,
		engine:  engine,
		reg: &Registration{
			Users:     users,
			TwoFactor: engine,
			Hasher:    hasher,
			Flows:     store,
			MinAge:    16,
			Password: PasswordPolicy{
				MinLength:     8,
				RequireUpper:  true,
				RequireLower:  true,
				RequireDigit:  true,
				RequireSymbol: true,
			},
			Now: clock.Now,
		},
		login: &Login{
			Users:              users,
			TwoFactor:          engine,
			Limiter:            limiter,
			Hasher:             hasher,
			Flows:              store,
			AdminUsernameLogin: true,
			Now:                clock.Now,
		},
	}
}

// advance moves the fixture clock and miniredis TTLs together.
func (f *fixture) advance(d time.Duration) {
	f.clock.Advance(d)
	f.mr.FastForward(d)
}

// seedUser registers a committed, verified account directly.
func (f *fixture) seedUser(t *testing.T, email, username, password string) *auth.User {
	t.Helper()
	hash, err := auth.NewBcryptHasher().Hash(password)
	require.NoError(t, err)
	verified := f.clock.Now()
	return f.users.add(&auth.User{
		Username:      username,
		Email:         email,
		EmailVerified: &verified,
		PasswordHash:  &hash,
		FirstName:     "Test",
		LastName:      "User",
		BirthDate:     time.Date(1995, 6, 1, 0, 0, 0, 0, time.UTC),
	})
}

func requireFlowError(t *testing.T, err error, kind ErrorKind) *Error {
	t.Helper()
	require.Error(t, err)
	var fe *Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, kind, fe.Kind, "unexpected flow error: %v", err)
	return fe
}
