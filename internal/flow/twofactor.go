package flow

import (
	"context"
	"crypto/subtle"
	"time"

	"photoshare/internal/auth"
	"photoshare/internal/i18n"
)

const (
	MethodEmail = "email"
	MethodTOTP  = "totp"
)

// TwoFactorEngine runs the second factor of a login: method selection,
// code dispatch and verification, and trusted-device bypass. Codes are
// stored hashed in the flow state and are single-use; attempt counters are
// atomic Redis increments scoped to the flow.
type TwoFactorEngine struct {
	Codes   *auth.CodeGenerator
	Limiter *auth.RateLimiter
	Devices DeviceStore
	Mailer  MailSender
	Flows   *Store

	CodeTTL        time.Duration // email code validity, default 15m
	ResendCooldown time.Duration // default 60s
	DeviceTTL      time.Duration // trusted-device lifetime, default 30d

	Now func() time.Time
}

func (e *TwoFactorEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *TwoFactorEngine) codeTTL() time.Duration {
	if e.CodeTTL > 0 {
		return e.CodeTTL
	}
	return 15 * time.Minute
}

func (e *TwoFactorEngine) resendCooldown() time.Duration {
	if e.ResendCooldown > 0 {
		return e.ResendCooldown
	}
	return 60 * time.Second
}

func (e *TwoFactorEngine) deviceTTL() time.Duration {
	if e.DeviceTTL > 0 {
		return e.DeviceTTL
	}
	return 30 * 24 * time.Hour
}

// MethodsEnabled reports which second factors the user can answer with.
// Empty means 2FA is skipped; two entries mean the user must choose.
func (e *TwoFactorEngine) MethodsEnabled(u *auth.User) []string {
	var methods []string
	if u.EmailTwoFactor {
		methods = append(methods, MethodEmail)
	}
	if u.TOTPEnabled && u.TOTPSecret != nil {
		methods = append(methods, MethodTOTP)
	}
	return methods
}

func cooldownKey(flowID string) string {
	return "email_code_cooldown:" + flowID
}

func attemptScope(flowID string) string {
	return "flow:" + flowID
}

// IssueEmailCode generates, stores and mails a fresh 6-digit code for the
// flow, subject to the resend cooldown. The cooldown is claimed atomically
// before the send and released again if delivery fails, so a failed send
// never costs the user the wait.
func (e *TwoFactorEngine) IssueEmailCode(ctx context.Context, st *State, email, locale string) error {
	key := cooldownKey(st.ID)
	ok, err := e.Limiter.BeginCooldown(ctx, key, e.resendCooldown())
	if err != nil {
		return err
	}
	if !ok {
		return rateLimited(e.Limiter.CooldownTTL(ctx, key))
	}

	code, err := e.Codes.EmailCode()
	if err != nil {
		e.Limiter.ClearCooldown(ctx, key)
		return err
	}

	st.PendingCode = auth.HashString(code)
	st.CodeIssuedAt = e.now().UTC()
	st.ResendCount++
	e.Limiter.ResetCodeAttempts(ctx, attemptScope(st.ID))

	if err := e.Flows.Save(ctx, st); err != nil {
		e.Limiter.ClearCooldown(ctx, key)
		return err
	}

	minutes := int(e.codeTTL().Minutes())
	content := i18n.TwoFactorEmail(locale, code, minutes)
	if st.Kind == KindRegistration {
		content = i18n.VerificationEmail(locale, code, minutes)
	}
	if err := e.Mailer.Send(ctx, email, content.Subject, content.Text, content.HTML); err != nil {
		e.Limiter.ClearCooldown(ctx, key)
		return &Error{Kind: KindEmailDeliveryFailed, Message: "failed to send code, use resend to retry"}
	}
	return nil
}

// ResendWait reports how long until another code may be issued.
func (e *TwoFactorEngine) ResendWait(ctx context.Context, st *State) time.Duration {
	return e.Limiter.CooldownTTL(ctx, cooldownKey(st.ID))
}

// VerifyEmailCode checks a submitted code against the flow's pending one.
// A verified code is consumed immediately; a third wrong submission
// invalidates the code so even the correct value fails until a reissue.
func (e *TwoFactorEngine) VerifyEmailCode(ctx context.Context, st *State, submitted string) error {
	if st.PendingCode == "" {
		return &Error{Kind: KindInvalidCode, Message: "no code pending, request a new one"}
	}

	_, capped, err := e.Limiter.RegisterCodeAttempt(ctx, attemptScope(st.ID))
	if err != nil {
		return err
	}
	if capped {
		st.PendingCode = ""
		_ = e.Flows.Save(ctx, st)
		return &Error{Kind: KindAttemptsExceeded, Message: "too many attempts, request a new code"}
	}

	if e.now().Sub(st.CodeIssuedAt) > e.codeTTL() {
		return &Error{Kind: KindCodeExpired, Message: "the code expired, request a new one"}
	}

	if subtle.ConstantTimeCompare([]byte(auth.HashString(submitted)), []byte(st.PendingCode)) != 1 {
		return &Error{Kind: KindInvalidCode, Message: "the code is incorrect"}
	}

	st.PendingCode = ""
	st.CodeIssuedAt = time.Time{}
	if err := e.Flows.Save(ctx, st); err != nil {
		return err
	}
	e.Limiter.ResetCodeAttempts(ctx, attemptScope(st.ID))
	return nil
}

// VerifyTOTP checks an authenticator code. TOTP codes are time-windowed and
// need no server-side invalidation, but submissions count against the same
// per-flow attempt cap as email codes to bound brute force.
func (e *TwoFactorEngine) VerifyTOTP(ctx context.Context, st *State, u *auth.User, submitted string) error {
	if u.TOTPSecret == nil || !u.TOTPEnabled {
		return &Error{Kind: KindInvalidCode, Message: "authenticator is not enabled"}
	}

	_, capped, err := e.Limiter.RegisterCodeAttempt(ctx, attemptScope(st.ID))
	if err != nil {
		return err
	}
	if capped {
		return &Error{Kind: KindAttemptsExceeded, Message: "too many attempts"}
	}

	if !e.Codes.VerifyTOTP(*u.TOTPSecret, submitted) {
		return &Error{Kind: KindInvalidCode, Message: "the code is incorrect"}
	}

	e.Limiter.ResetCodeAttempts(ctx, attemptScope(st.ID))
	return nil
}

// IsTrusted reports whether the presented device token belongs to a
// non-expired trusted device of this user. A match bypasses 2FA entirely.
func (e *TwoFactorEngine) IsTrusted(ctx context.Context, u *auth.User, rawToken string) bool {
	if rawToken == "" {
		return false
	}
	device, err := e.Devices.FindByTokenHash(ctx, auth.HashString(rawToken))
	if err != nil || device == nil {
		return false
	}
	return device.UserID == u.ID
}

// TrustDevice remembers the client so future logins skip 2FA until expiry.
// The raw token is returned for the cookie; only its hash is stored.
func (e *TwoFactorEngine) TrustDevice(ctx context.Context, u *auth.User, meta auth.ClientMeta) (string, time.Time, error) {
	raw, hash, err := e.Codes.DeviceToken()
	if err != nil {
		return "", time.Time{}, err
	}

	info := auth.ParseUserAgent(meta.UserAgent)
	expires := e.now().Add(e.deviceTTL())

	_, err = e.Devices.Create(ctx, auth.TrustedDevice{
		UserID:        u.ID,
		TokenHash:     hash,
		UserAgent:     meta.UserAgent,
		IPAddress:     meta.IP,
		DeviceFamily:  info.DeviceFamily,
		BrowserFamily: info.BrowserFamily,
		OSFamily:      info.OSFamily,
		ExpiresAt:     expires,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return raw, expires, nil
}
