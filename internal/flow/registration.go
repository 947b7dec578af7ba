package flow

import (
	"context"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"photoshare/internal/auth"
)

// Field names under which validated registration input accumulates in the
// flow state until commit.
const (
	fieldEmail        = "email"
	fieldFirstName    = "firstName"
	fieldLastName     = "lastName"
	fieldBirthDate    = "birthDate"
	fieldUsername     = "username"
	fieldPasswordHash = "passwordHash"
)

const birthDateLayout = "2006-01-02"

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]{3,30}$`)

// registrationOrder is the transition table: each step advances to the
// next and no step may be skipped. Backward navigation is allowed, but
// editing the email after verification resets the verified flag.
var registrationOrder = []Step{
	StepEmail,
	StepEmailCode,
	StepPersonalInfo,
	StepUsername,
	StepPassword,
	StepSummary,
}

func registrationStepIndex(step Step) int {
	for i, s := range registrationOrder {
		if s == step {
			return i
		}
	}
	return -1
}

// Registration drives a new account through the six ordered steps and
// commits the durable user only at the end.
type Registration struct {
	Users     UserDirectory
	TwoFactor *TwoFactorEngine
	Hasher    auth.PasswordHasher
	Flows     *Store

	MinAge   int
	Password PasswordPolicy

	Now func() time.Time
}

// PasswordPolicy mirrors the configurable strength requirements.
type PasswordPolicy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

func (f *Registration) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *Registration) minAge() int {
	if f.MinAge > 0 {
		return f.MinAge
	}
	return 16
}

// require checks that the flow has reached exactly the given step. Inputs
// for steps the flow has not reached are rejected; earlier steps go
// through Back first.
func (f *Registration) require(st *State, step Step) error {
	if st.Kind != KindRegistration {
		return stepOrderErr(st.Step, step)
	}
	if st.Step != step {
		return stepOrderErr(st.Step, step)
	}
	return nil
}

func (f *Registration) advance(st *State) {
	idx := registrationStepIndex(st.Step)
	if idx >= 0 && idx < len(registrationOrder)-1 {
		st.Step = registrationOrder[idx+1]
	}
}

// Begin opens a fresh registration flow at the email step.
func (f *Registration) Begin(ctx context.Context) (*State, error) {
	return f.Flows.Begin(ctx, KindRegistration, StepEmail)
}

// SubmitEmail validates format and uniqueness among committed users, then
// issues the verification code and advances to code entry.
func (f *Registration) SubmitEmail(ctx context.Context, st *State, email, locale string) error {
	if err := f.require(st, StepEmail); err != nil {
		return err
	}

	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return validationErr(fieldEmail, "invalid email format")
	}

	existing, err := f.Users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return &Error{Kind: KindDuplicateEmail, Field: fieldEmail, Message: "an account with this email already exists"}
	}

	st.SetField(fieldEmail, email)
	st.EmailVerified = false
	f.advance(st)
	if err := f.Flows.Save(ctx, st); err != nil {
		return err
	}

	return f.TwoFactor.IssueEmailCode(ctx, st, email, locale)
}

// VerifyEmailCode consumes the pending code and advances to personal info.
func (f *Registration) VerifyEmailCode(ctx context.Context, st *State, code string) error {
	if err := f.require(st, StepEmailCode); err != nil {
		return err
	}

	if err := f.TwoFactor.VerifyEmailCode(ctx, st, code); err != nil {
		return err
	}

	st.EmailVerified = true
	f.advance(st)
	return f.Flows.Save(ctx, st)
}

// ResendCode reissues the verification code, subject to the 60s cooldown.
func (f *Registration) ResendCode(ctx context.Context, st *State, locale string) error {
	if err := f.require(st, StepEmailCode); err != nil {
		return err
	}
	return f.TwoFactor.IssueEmailCode(ctx, st, st.Field(fieldEmail), locale)
}

// SubmitPersonalInfo validates names and the minimum age as of today.
func (f *Registration) SubmitPersonalInfo(ctx context.Context, st *State, firstName, lastName, birthDate string) error {
	if err := f.require(st, StepPersonalInfo); err != nil {
		return err
	}

	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName == "" {
		return validationErr(fieldFirstName, "first name is required")
	}
	if lastName == "" {
		return validationErr(fieldLastName, "last name is required")
	}

	born, err := time.Parse(birthDateLayout, birthDate)
	if err != nil {
		return validationErr(fieldBirthDate, "birth date must be YYYY-MM-DD")
	}
	if ageOn(born, f.now()) < f.minAge() {
		return &Error{Kind: KindUnderage, Field: fieldBirthDate, Message: "you do not meet the minimum age requirement"}
	}

	st.SetField(fieldFirstName, firstName)
	st.SetField(fieldLastName, lastName)
	st.SetField(fieldBirthDate, born.Format(birthDateLayout))
	f.advance(st)
	return f.Flows.Save(ctx, st)
}

// SubmitUsername validates format and live uniqueness.
func (f *Registration) SubmitUsername(ctx context.Context, st *State, username string) error {
	if err := f.require(st, StepUsername); err != nil {
		return err
	}

	username = strings.TrimSpace(username)
	if !usernameRe.MatchString(username) {
		return validationErr(fieldUsername, "username must be 3-30 characters: letters, digits, underscore")
	}

	taken, err := f.UsernameTaken(ctx, username)
	if err != nil {
		return err
	}
	if taken {
		return &Error{Kind: KindDuplicateUsername, Field: fieldUsername, Message: "this username is taken"}
	}

	st.SetField(fieldUsername, username)
	f.advance(st)
	return f.Flows.Save(ctx, st)
}

// UsernameTaken backs the standalone availability check; it never touches
// flow state.
func (f *Registration) UsernameTaken(ctx context.Context, username string) (bool, error) {
	existing, err := f.Users.FindByUsername(ctx, username)
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

// SubmitPassword enforces the strength policy and stores only the hash.
// The plaintext never outlives this call.
func (f *Registration) SubmitPassword(ctx context.Context, st *State, password, confirm string) error {
	if err := f.require(st, StepPassword); err != nil {
		return err
	}

	if err := CheckPassword(f.Password, password); err != nil {
		return err
	}
	if password != confirm {
		return validationErr("passwordConfirm", "passwords do not match")
	}

	hash, err := f.Hasher.Hash(password)
	if err != nil {
		return err
	}

	st.SetField(fieldPasswordHash, hash)
	f.advance(st)
	return f.Flows.Save(ctx, st)
}

// Commit atomically creates the durable user from the collected fields,
// destroys the flow state and hands the new user back for auto-login.
func (f *Registration) Commit(ctx context.Context, st *State) (*auth.User, error) {
	if err := f.require(st, StepSummary); err != nil {
		return nil, err
	}
	if !st.EmailVerified {
		return nil, stepOrderErr(st.Step, StepEmailCode)
	}

	born, err := time.Parse(birthDateLayout, st.Field(fieldBirthDate))
	if err != nil {
		return nil, stepOrderErr(st.Step, StepPersonalInfo)
	}

	user, err := f.Users.Create(ctx, auth.NewUser{
		Username:     st.Field(fieldUsername),
		Email:        st.Field(fieldEmail),
		PasswordHash: st.Field(fieldPasswordHash),
		FirstName:    st.Field(fieldFirstName),
		LastName:     st.Field(fieldLastName),
		BirthDate:    born,
		VerifiedAt:   f.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	_ = f.Flows.Delete(ctx, st.ID)
	return user, nil
}

// Back returns the flow to an earlier step without re-verifying the steps
// in between. Returning to the email step invalidates the verified state:
// the address may change, so the code must be sent and checked again.
func (f *Registration) Back(ctx context.Context, st *State, to Step) error {
	if st.Kind != KindRegistration {
		return stepOrderErr(st.Step, to)
	}
	target := registrationStepIndex(to)
	current := registrationStepIndex(st.Step)
	if target < 0 || current < 0 || target >= current {
		return stepOrderErr(st.Step, to)
	}
	if to == StepEmail || to == StepEmailCode {
		st.EmailVerified = false
		st.PendingCode = ""
		st.CodeIssuedAt = time.Time{}
		// Force the email step: a bare code-entry step has no code to check.
		to = StepEmail
	}
	st.Step = to
	return f.Flows.Save(ctx, st)
}

// CheckPassword enforces the configured strength policy.
func CheckPassword(policy PasswordPolicy, password string) error {
	minLen := policy.MinLength
	if minLen <= 0 {
		minLen = 8
	}
	if len(password) < minLen {
		return validationErr("password", "password is too short")
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	if policy.RequireUpper && !hasUpper {
		return validationErr("password", "password needs an uppercase letter")
	}
	if policy.RequireLower && !hasLower {
		return validationErr("password", "password needs a lowercase letter")
	}
	if policy.RequireDigit && !hasDigit {
		return validationErr("password", "password needs a digit")
	}
	if policy.RequireSymbol && !hasSymbol {
		return validationErr("password", "password needs a symbol")
	}
	return nil
}

// ageOn computes full years between born and now, calendar-accurate so an
// exact 16th birthday passes a 16-year minimum.
func ageOn(born, now time.Time) int {
	years := now.Year() - born.Year()
	anniversary := born.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	return years
}
