package flow

import (
	"context"
	"strings"
	"time"

	"photoshare/internal/auth"
)

// Login drives credential verification, the 2FA sub-flow and final
// authentication. Session creation itself stays with the HTTP layer; the
// flow hands back the verified user.
type Login struct {
	Users     UserDirectory
	TwoFactor *TwoFactorEngine
	Limiter   *auth.RateLimiter
	Hasher    auth.PasswordHasher
	Flows     *Store

	// AdminUsernameLogin permits username identifiers for admin accounts.
	AdminUsernameLogin bool

	Now func() time.Time
}

func (f *Login) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// CredentialResult reports where the flow went after a credential check:
// straight to authenticated (no 2FA or trusted device), to verification
// (single method), or to method choice (both enabled).
type CredentialResult struct {
	User    *auth.User
	Next    Step
	Methods []string
	Trusted bool
}

// Begin opens a fresh login flow at the credentials step.
func (f *Login) Begin(ctx context.Context) (*State, error) {
	return f.Flows.Begin(ctx, KindLogin, StepCredentials)
}

func (f *Login) lookup(ctx context.Context, identifier string) (*auth.User, error) {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return f.Users.FindByEmail(ctx, identifier)
	}
	if !f.AdminUsernameLogin {
		return nil, nil
	}
	user, err := f.Users.FindByUsername(ctx, identifier)
	if err != nil || user == nil {
		return nil, err
	}
	// Username login is an admin-only affordance.
	if user.Role != "ADMIN" {
		return nil, nil
	}
	return user, nil
}

// SubmitCredentials runs step one. The account lock is checked before the
// password so a locked account rejects even correct credentials. A valid
// trusted-device token skips 2FA entirely.
func (f *Login) SubmitCredentials(ctx context.Context, st *State, identifier, password, deviceToken string, locale string) (*CredentialResult, error) {
	if st.Kind != KindLogin || st.Step != StepCredentials {
		return nil, stepOrderErr(st.Step, StepCredentials)
	}
	if identifier == "" || password == "" {
		return nil, validationErr("credentials", "identifier and password are required")
	}

	if locked, ttl := f.Limiter.IsAccountLocked(ctx, identifier); locked {
		return nil, &Error{Kind: KindAccountLocked, Message: "account temporarily locked", RetryAfter: ttl}
	}

	user, err := f.lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if user == nil || user.PasswordHash == nil || !f.Hasher.Compare(*user.PasswordHash, password) {
		locked, err := f.Limiter.RegisterLoginFailure(ctx, identifier)
		if err != nil {
			return nil, err
		}
		if locked {
			return nil, &Error{Kind: KindAccountLocked, Message: "account temporarily locked"}
		}
		return nil, &Error{Kind: KindInvalidCredentials, Message: "invalid credentials"}
	}

	if user.EmailVerified == nil {
		return nil, validationErr("email", "email address is not verified")
	}

	st.UserID = user.ID

	methods := f.TwoFactor.MethodsEnabled(user)
	st.Methods = methods

	if len(methods) == 0 || f.TwoFactor.IsTrusted(ctx, user, deviceToken) {
		st.Step = StepAuthenticated
		if err := f.Flows.Save(ctx, st); err != nil {
			return nil, err
		}
		return &CredentialResult{User: user, Next: StepAuthenticated, Trusted: len(methods) > 0}, nil
	}

	if len(methods) == 1 {
		st.Method = methods[0]
		st.Step = StepVerify
		if err := f.Flows.Save(ctx, st); err != nil {
			return nil, err
		}
		if st.Method == MethodEmail {
			if err := f.TwoFactor.IssueEmailCode(ctx, st, user.Email, locale); err != nil {
				return nil, err
			}
		}
		return &CredentialResult{User: user, Next: StepVerify, Methods: methods}, nil
	}

	st.Step = StepMethodChoice
	if err := f.Flows.Save(ctx, st); err != nil {
		return nil, err
	}
	return &CredentialResult{User: user, Next: StepMethodChoice, Methods: methods}, nil
}

// ChooseMethod picks the second factor when both are enabled. The choice
// lives only in this flow; it is not remembered across sessions.
func (f *Login) ChooseMethod(ctx context.Context, st *State, method, locale string) error {
	if st.Kind != KindLogin || st.Step != StepMethodChoice {
		return stepOrderErr(st.Step, StepMethodChoice)
	}

	var allowed bool
	for _, m := range st.Methods {
		if m == method {
			allowed = true
			break
		}
	}
	if !allowed {
		return validationErr("method", "method not available for this account")
	}

	st.Method = method
	st.Step = StepVerify
	if err := f.Flows.Save(ctx, st); err != nil {
		return err
	}

	if method == MethodEmail {
		user, err := f.user(ctx, st)
		if err != nil {
			return err
		}
		return f.TwoFactor.IssueEmailCode(ctx, st, user.Email, locale)
	}
	return nil
}

// Verify runs the chosen second factor and, on success, moves the flow to
// authenticated and clears the failed-login counter.
func (f *Login) Verify(ctx context.Context, st *State, code string) (*auth.User, error) {
	if st.Kind != KindLogin || st.Step != StepVerify {
		return nil, stepOrderErr(st.Step, StepVerify)
	}

	user, err := f.user(ctx, st)
	if err != nil {
		return nil, err
	}

	switch st.Method {
	case MethodEmail:
		if err := f.TwoFactor.VerifyEmailCode(ctx, st, code); err != nil {
			return nil, err
		}
	case MethodTOTP:
		if err := f.TwoFactor.VerifyTOTP(ctx, st, user, code); err != nil {
			return nil, err
		}
	default:
		return nil, stepOrderErr(st.Step, StepMethodChoice)
	}

	st.Step = StepAuthenticated
	if err := f.Flows.Save(ctx, st); err != nil {
		return nil, err
	}
	return user, nil
}

// ResendCode reissues the email code during verification.
func (f *Login) ResendCode(ctx context.Context, st *State, locale string) error {
	if st.Kind != KindLogin || st.Step != StepVerify || st.Method != MethodEmail {
		return stepOrderErr(st.Step, StepVerify)
	}
	user, err := f.user(ctx, st)
	if err != nil {
		return err
	}
	return f.TwoFactor.IssueEmailCode(ctx, st, user.Email, locale)
}

// Finalize records the login on the user row, resets the failure counter
// and destroys the flow state. Callers create the session afterwards.
func (f *Login) Finalize(ctx context.Context, st *State, user *auth.User, meta auth.ClientMeta) error {
	if st.Kind != KindLogin || st.Step != StepAuthenticated {
		return stepOrderErr(st.Step, StepAuthenticated)
	}

	f.Limiter.ResetLogin(ctx, user.Email)
	f.Limiter.ResetLogin(ctx, user.Username)
	_ = f.Users.RecordLogin(ctx, user.ID, f.now().UTC(), meta.IP)
	return f.Flows.Delete(ctx, st.ID)
}

func (f *Login) user(ctx context.Context, st *State) (*auth.User, error) {
	if st.UserID == "" {
		return nil, stepOrderErr(st.Step, StepCredentials)
	}
	user, err := f.Users.FindByID(ctx, st.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, stepOrderErr(st.Step, StepCredentials)
	}
	return user, nil
}
