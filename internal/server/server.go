package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"photoshare/internal/auth"
	"photoshare/internal/config"
	"photoshare/internal/email"
	"photoshare/internal/flow"
)

type Server struct {
	Users    *auth.UserRepository
	Sessions *auth.SessionStore
	Devices  *auth.TrustedDeviceStore
	Limiter  *auth.RateLimiter
	Mailer   *email.Sender
	Codes    *auth.CodeGenerator
	Audit    *auth.AuditLogger
	Redis    *redis.Client
	Config   config.Config
	Hasher   auth.PasswordHasher

	Flows        *flow.Store
	Registration *flow.Registration
	Login        *flow.Login
	TwoFactor    *flow.TwoFactorEngine

	trustedProxies []net.IPNet
}

func NewServer(
	cfg config.Config,
	users *auth.UserRepository,
	sessions *auth.SessionStore,
	devices *auth.TrustedDeviceStore,
	limiter *auth.RateLimiter,
	redisClient *redis.Client,
	mailer *email.Sender,
	codes *auth.CodeGenerator,
	hasher auth.PasswordHasher,
) *Server {
	flows := flow.NewStore(redisClient, cfg.FlowTTL)

	engine := &flow.TwoFactorEngine{
		Codes:          codes,
		Limiter:        limiter,
		Devices:        devices,
		Mailer:         mailer,
		Flows:          flows,
		CodeTTL:        cfg.EmailCodeTTL,
		ResendCooldown: cfg.EmailCodeResendDelay,
		DeviceTTL:      cfg.TrustedDeviceTTL,
	}

	return &Server{
		Users:    users,
		Sessions: sessions,
		Devices:  devices,
		Limiter:  limiter,
		Mailer:   mailer,
		Codes:    codes,
		Audit:    &auth.AuditLogger{Redis: redisClient, MaxLen: 1000},
		Redis:    redisClient,
		Config:   cfg,
		Hasher:   hasher,

		Flows:     flows,
		TwoFactor: engine,
		Registration: &flow.Registration{
			Users:     users,
			TwoFactor: engine,
			Hasher:    hasher,
			Flows:     flows,
			MinAge:    cfg.MinRegistrationAge,
			Password: flow.PasswordPolicy{
				MinLength:     cfg.Password.MinLength,
				RequireUpper:  cfg.Password.RequireUpper,
				RequireLower:  cfg.Password.RequireLower,
				RequireDigit:  cfg.Password.RequireDigit,
				RequireSymbol: cfg.Password.RequireSymbol,
			},
		},
		Login: &flow.Login{
			Users:              users,
			TwoFactor:          engine,
			Limiter:            limiter,
			Hasher:             hasher,
			Flows:              flows,
			AdminUsernameLogin: cfg.AdminUsernameLogin,
		},

		trustedProxies: parseProxyCIDRs(cfg.TrustedProxies),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	formatter := &middleware.DefaultLogFormatter{
		Logger:  log.New(log.Writer(), "", log.Flags()),
		NoColor: true,
	}
	r.Use(middleware.RequestLogger(formatter))
	r.Use(middleware.Recoverer)
	r.Use(secureHeaders)

	r.With(s.requireRoles(accessRoles(http.MethodPost, "/api/register"))).Post("/api/register", s.handleRegisterBegin)
	r.With(s.requireRoles(accessRoles(http.MethodGet, "/api/register"))).Get("/api/register", s.handleRegisterState)
	r.With(s.requireRoles(accessRoles(http.MethodPost, "/api/register/email"))).Post("/api/register/email", s.handleRegisterEmail)
	r.With(s.requireRoles(accessRoles(http.MethodPost, "/api/register/verify-email"))).Post("/api/register/verify-email", s.handleRegisterVerifyEmail)
	r.With(s.requireRoles(accessRoles(http.MethodPost, "/api/register/resend-code"))).Post("/api/register/resend-code", s.handleRegisterResendCode)
	r.With(s.requireRoles(accessRoles(http.MethodPost, "/api/register/profile"))).Post("/api/register/profile", s.handleRegisterProfile)
	r.With(s.requireRoles(accessRoles(http.MethodPost, "/api/register/username"))).Post("/api/register/username", s.handleRegisterUsername)
	r.With(s.requireRoles(accessRoles(http.MethodGet, "/api/register/username-available"))).Get("/api/register/username-available", s.handleUsernameAvailable)
	r.With(s.requireRoles(accessRoles(http.MethodPost, "/api/register/password"))).Post("/api/register/password", s.handleRegisterPassword)
	r.With(s.requireRoles(accessRoles(http.MethodPost, "/api/register/complete"))).Post("/api/register/complete", s.handleRegisterComplete)
	r.With(s.requireRoles(accessRoles(http.MethodPost, "/api/register/back"))).Post("/api/register/back", s.handleRegisterBack)
	r.With(s.requireRoles(accessRoles(http.MethodPost, "/api/register/cancel"))).Post("/api/register/cancel", s.handleRegisterCancel)

	r.With(s.requireRoles(accessRoles(http.MethodPost, "/api/auth/login"))).Post("/api/auth/login", s.handleLogin)
	r.With(s.requireRoles(accessRoles(http.MethodPost, "/api/auth/login/method"))).Post("/api/auth/login/method", s.handleLoginMethod)
	r.With(s.requireRoles(accessRoles(http.MethodPost, "/api/auth/login/verify"))).Post("/api/auth/login/verify", s.handleLoginVerify)
	r.With(s.requireRoles(accessRoles(http.MethodPost, "/api/auth/login/resend-code"))).Post("/api/auth/login/resend-code", s.handleLoginResendCode)
	r.With(s.requireRoles(accessRoles(http.MethodPost, "/api/auth/logout"))).Post("/api/auth/logout", s.handleLogout)

	r.With(s.requireRoles(accessRoles(http.MethodPost, "/api/forgot-password"))).Post("/api/forgot-password", s.handleForgotPassword)
	r.With(s.requireRoles(accessRoles(http.MethodPost, "/api/reset-password"))).Post("/api/reset-password", s.handleResetPassword)

	r.Group(func(pr chi.Router) {
		pr.Use(s.requireSession())

		pr.With(s.requireRoles(accessRoles(http.MethodGet, "/api/auth/me"))).Get("/api/auth/me", s.handleMe)
		pr.With(s.requireRoles(accessRoles(http.MethodGet, "/api/sessions"))).Get("/api/sessions", s.handleListSessions)
		pr.With(s.requireRoles(accessRoles(http.MethodDelete, "/api/sessions"))).Delete("/api/sessions", s.handleDeleteSession)
		pr.With(s.requireRoles(accessRoles(http.MethodGet, "/api/sessions/current"))).Get("/api/sessions/current", s.handleCurrentSession)

		pr.With(s.requireRoles(accessRoles(http.MethodGet, "/api/trusted-devices"))).Get("/api/trusted-devices", s.handleListTrustedDevices)
		pr.With(s.requireRoles(accessRoles(http.MethodDelete, "/api/trusted-devices/{id}"))).Delete("/api/trusted-devices/{id}", s.handleDeleteTrustedDevice)

		pr.With(s.requireRoles(accessRoles(http.MethodPost, "/api/two-factor/setup-start"))).Post("/api/two-factor/setup-start", s.handleTwoFactorSetupStart)
		pr.With(s.requireRoles(accessRoles(http.MethodPost, "/api/two-factor/setup-finalize"))).Post("/api/two-factor/setup-finalize", s.handleTwoFactorSetupFinalize)
		pr.With(s.requireRoles(accessRoles(http.MethodPost, "/api/two-factor/disable"))).Post("/api/two-factor/disable", s.handleTwoFactorDisable)
		pr.With(s.requireRoles(accessRoles(http.MethodPost, "/api/two-factor/send-email-code"))).Post("/api/two-factor/send-email-code", s.handleTwoFactorSendEmailCode)
		pr.With(s.requireRoles(accessRoles(http.MethodPost, "/api/two-factor/step-up"))).Post("/api/two-factor/step-up", s.handleTwoFactorStepUp)

		pr.With(s.requireRoles(accessRoles(http.MethodPost, "/api/profile/change-password"))).Post("/api/profile/change-password", s.handleChangePassword)
		pr.With(s.requireRoles(accessRoles(http.MethodDelete, "/api/profile/delete-account"))).Delete("/api/profile/delete-account", s.handleDeleteAccount)
	})

	return r
}

// createSession turns a fully authenticated user into a browser session
// and sets the cookie. twoFactorDone reports that the login answered (or
// legitimately skipped) its second factor.
func (s *Server) createSession(ctx context.Context, w http.ResponseWriter, user *auth.User, meta auth.ClientMeta, trusted bool) (*auth.Session, error) {
	now := time.Now()
	ttl := s.Config.SessionTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	info := auth.ParseUserAgent(meta.UserAgent)
	sess := auth.Session{
		ID:                auth.NewSessionID(),
		UserID:            user.ID,
		Role:              user.Role,
		IP:                meta.IP,
		UserAgent:         meta.UserAgent,
		Location:          meta.Location,
		DeviceFamily:      info.DeviceFamily,
		BrowserFamily:     info.BrowserFamily,
		OSFamily:          info.OSFamily,
		LoginTime:         now,
		ExpiresAt:         now.Add(ttl),
		TwoFactorVerified: true,
		TrustedDevice:     trusted,
		TwoFactorAt:       &now,
	}

	if err := s.Sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	auth.SetSessionCookie(w, sess.ID, sess.ExpiresAt)
	return &sess, nil
}

// loadFlow resolves the flow cookie to live state of the expected kind.
// Missing or expired state reads as nil; the caller decides whether that
// is an error or the cue to start fresh.
func (s *Server) loadFlow(r *http.Request, kind flow.Kind) (*flow.State, error) {
	id := auth.FlowIDFromRequest(r)
	if id == "" {
		return nil, nil
	}
	st, err := s.Flows.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if st == nil || st.Kind != kind {
		return nil, nil
	}
	return st, nil
}

func (s *Server) audit(ctx context.Context, eventType, userID string, meta auth.ClientMeta, extra map[string]interface{}) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.Log(ctx, auth.AuditEvent{
		EventType: eventType,
		UserID:    userID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Meta:      extra,
	}); err != nil {
		log.Printf("audit: %s: %v", eventType, err)
	}
}
