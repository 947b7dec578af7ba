package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photoshare/internal/auth"
)

const (
	goodPassword = "Sunl1t-Meadow!"
	testLocale   = "en"
)

// runToEmailCode begins a registration and submits a fresh email.
func runToEmailCode(t *testing.T, f *fixture, email string) *State {
	t.Helper()
	ctx := context.Background()

	st, err := f.reg.Begin(ctx)
	require.NoError(t, err)
	require.Equal(t, StepEmail, st.Step)

	require.NoError(t, f.reg.SubmitEmail(ctx, st, email, testLocale))
	require.Equal(t, StepEmailCode, st.Step)
	return st
}

// runToSummary drives a flow through every step up to (not including) commit.
func runToSummary(t *testing.T, f *fixture, email, username string) *State {
	t.Helper()
	ctx := context.Background()

	st := runToEmailCode(t, f, email)
	require.NoError(t, f.reg.VerifyEmailCode(ctx, st, f.mailer.lastCode(t)))
	require.NoError(t, f.reg.SubmitPersonalInfo(ctx, st, "Ada", "Lovelace", "1990-12-10"))
	require.NoError(t, f.reg.SubmitUsername(ctx, st, username))
	require.NoError(t, f.reg.SubmitPassword(ctx, st, goodPassword, goodPassword))
	require.Equal(t, StepSummary, st.Step)
	return st
}

func TestRegistrationHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st := runToSummary(t, f, "ada@example.com", "ada_l")

	user, err := f.reg.Commit(ctx, st)
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, "ada_l", user.Username)
	assert.Equal(t, "Ada", user.FirstName)
	require.NotNil(t, user.EmailVerified)
	require.NotNil(t, user.PasswordHash)
	assert.True(t, auth.NewBcryptHasher().Compare(*user.PasswordHash, goodPassword),
		"stored hash must verify the original password")

	gone, err := f.store.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Nil(t, gone, "flow state is destroyed on commit")
}

func TestRegistrationNoUserBeforeCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	runToSummary(t, f, "pending@example.com", "pending_user")

	user, err := f.users.FindByEmail(ctx, "pending@example.com")
	require.NoError(t, err)
	assert.Nil(t, user, "nothing durable exists until commit")
}

func TestRegistrationDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedUser(t, "taken@example.com", "taken_user", goodPassword)

	st, err := f.reg.Begin(ctx)
	require.NoError(t, err)

	err = f.reg.SubmitEmail(ctx, st, "Taken@Example.com", testLocale)
	requireFlowError(t, err, KindDuplicateEmail)
	assert.Equal(t, StepEmail, st.Step, "a rejected email does not advance the flow")
}

func TestRegistrationInvalidEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.reg.Begin(ctx)
	require.NoError(t, err)

	for _, bad := range []string{"", "not-an-email", "missing@domain@twice"} {
		err := f.reg.SubmitEmail(ctx, st, bad, testLocale)
		fe := requireFlowError(t, err, KindValidation)
		assert.Equal(t, "email", fe.Field)
	}
}

func TestRegistrationCodeSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st := runToEmailCode(t, f, "single@example.com")
	code := f.mailer.lastCode(t)

	require.NoError(t, f.engine.VerifyEmailCode(ctx, st, code))

	err := f.engine.VerifyEmailCode(ctx, st, code)
	requireFlowError(t, err, KindInvalidCode)
}

func TestRegistrationCodeExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st := runToEmailCode(t, f, "expiry@example.com")
	code := f.mailer.lastCode(t)

	f.advance(16 * time.Minute)

	err := f.reg.VerifyEmailCode(ctx, st, code)
	requireFlowError(t, err, KindCodeExpired)

	// A reissued code works; the cooldown has long passed.
	require.NoError(t, f.reg.ResendCode(ctx, st, testLocale))
	require.NoError(t, f.reg.VerifyEmailCode(ctx, st, f.mailer.lastCode(t)))
	assert.Equal(t, StepPersonalInfo, st.Step)
}

func TestRegistrationAttemptCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st := runToEmailCode(t, f, "attempts@example.com")
	code := f.mailer.lastCode(t)

	for i := 0; i < 3; i++ {
		err := f.reg.VerifyEmailCode(ctx, st, "000001")
		requireFlowError(t, err, KindInvalidCode)
	}

	// The cap invalidates the code: even the correct value is rejected now.
	err := f.reg.VerifyEmailCode(ctx, st, code)
	requireFlowError(t, err, KindAttemptsExceeded)

	err = f.reg.VerifyEmailCode(ctx, st, code)
	requireFlowError(t, err, KindInvalidCode)

	// Recovery path: a fresh code resets the counter.
	f.advance(61 * time.Second)
	require.NoError(t, f.reg.ResendCode(ctx, st, testLocale))
	require.NoError(t, f.reg.VerifyEmailCode(ctx, st, f.mailer.lastCode(t)))
}

func TestRegistrationResendCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st := runToEmailCode(t, f, "cooldown@example.com")
	require.Equal(t, 1, f.mailer.count())

	err := f.reg.ResendCode(ctx, st, testLocale)
	fe := requireFlowError(t, err, KindRateLimited)
	assert.Greater(t, fe.RetryAfter, time.Duration(0))
	assert.Equal(t, 1, f.mailer.count(), "no second mail inside the cooldown")

	f.advance(61 * time.Second)

	require.NoError(t, f.reg.ResendCode(ctx, st, testLocale))
	assert.Equal(t, 2, f.mailer.count())
}

func TestRegistrationEmailDeliveryFailureReleasesCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.reg.Begin(ctx)
	require.NoError(t, err)

	f.mailer.failNext = true
	err = f.reg.SubmitEmail(ctx, st, "flaky@example.com", testLocale)
	requireFlowError(t, err, KindEmailDeliveryFailed)

	// An immediate retry must not be blocked by the failed send.
	require.NoError(t, f.reg.ResendCode(ctx, st, testLocale))
	require.NoError(t, f.reg.VerifyEmailCode(ctx, st, f.mailer.lastCode(t)))
}

func TestRegistrationUnderage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st := runToEmailCode(t, f, "young@example.com")
	require.NoError(t, f.reg.VerifyEmailCode(ctx, st, f.mailer.lastCode(t)))

	// Clock is 2026-05-10; born 2012-01-01 makes the user 14.
	err := f.reg.SubmitPersonalInfo(ctx, st, "Kid", "Tester", "2012-01-01")
	requireFlowError(t, err, KindUnderage)

	// An exact 16th birthday passes.
	require.NoError(t, f.reg.SubmitPersonalInfo(ctx, st, "Kid", "Tester", "2010-05-10"))
	assert.Equal(t, StepUsername, st.Step)
}

func TestRegistrationUsernameRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedUser(t, "other@example.com", "existing_name", goodPassword)

	st := runToEmailCode(t, f, "names@example.com")
	require.NoError(t, f.reg.VerifyEmailCode(ctx, st, f.mailer.lastCode(t)))
	require.NoError(t, f.reg.SubmitPersonalInfo(ctx, st, "Una", "Names", "1990-01-01"))

	for _, bad := range []string{"ab", "has space", "emoji✨", "way_too_long_username_over_thirty_chars"} {
		err := f.reg.SubmitUsername(ctx, st, bad)
		requireFlowError(t, err, KindValidation)
	}

	err := f.reg.SubmitUsername(ctx, st, "EXISTING_NAME")
	requireFlowError(t, err, KindDuplicateUsername)

	require.NoError(t, f.reg.SubmitUsername(ctx, st, "una_names"))
	assert.Equal(t, StepPassword, st.Step)
}

func TestUsernameTakenProbe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedUser(t, "probe@example.com", "probed", goodPassword)

	taken, err := f.reg.UsernameTaken(ctx, "probed")
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = f.reg.UsernameTaken(ctx, "free_name")
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestRegistrationPasswordPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st := runToEmailCode(t, f, "pw@example.com")
	require.NoError(t, f.reg.VerifyEmailCode(ctx, st, f.mailer.lastCode(t)))
	require.NoError(t, f.reg.SubmitPersonalInfo(ctx, st, "Pass", "Word", "1990-01-01"))
	require.NoError(t, f.reg.SubmitUsername(ctx, st, "pw_user"))

	weak := []string{
		"Sh0rt!",         // too short
		"lowercase1!aa",  // no upper
		"UPPERCASE1!AA",  // no lower
		"NoDigitsHere!",  // no digit
		"NoSymbolsHere1", // no symbol
	}
	for _, pw := range weak {
		err := f.reg.SubmitPassword(ctx, st, pw, pw)
		requireFlowError(t, err, KindValidation)
	}

	err := f.reg.SubmitPassword(ctx, st, goodPassword, goodPassword+"x")
	fe := requireFlowError(t, err, KindValidation)
	assert.Equal(t, "passwordConfirm", fe.Field)

	require.NoError(t, f.reg.SubmitPassword(ctx, st, goodPassword, goodPassword))
	assert.NotEqual(t, goodPassword, st.Field("passwordHash"), "plaintext never enters the state")
}

func TestRegistrationStepOrderEnforced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.reg.Begin(ctx)
	require.NoError(t, err)

	err = f.reg.SubmitUsername(ctx, st, "early_bird")
	requireFlowError(t, err, KindStepOrder)

	err = f.reg.SubmitPassword(ctx, st, goodPassword, goodPassword)
	requireFlowError(t, err, KindStepOrder)

	_, err = f.reg.Commit(ctx, st)
	requireFlowError(t, err, KindStepOrder)
}

func TestRegistrationBackResetsVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st := runToEmailCode(t, f, "goback@example.com")
	require.NoError(t, f.reg.VerifyEmailCode(ctx, st, f.mailer.lastCode(t)))
	require.NoError(t, f.reg.SubmitPersonalInfo(ctx, st, "Go", "Back", "1990-01-01"))

	require.NoError(t, f.reg.Back(ctx, st, StepEmail))
	assert.Equal(t, StepEmail, st.Step)
	assert.False(t, st.EmailVerified, "editing the email demands re-verification")
	assert.Empty(t, st.PendingCode)

	// Re-submitting a different address goes through the code step again.
	f.advance(61 * time.Second)
	require.NoError(t, f.reg.SubmitEmail(ctx, st, "new-address@example.com", testLocale))
	require.Equal(t, StepEmailCode, st.Step)
	require.NoError(t, f.reg.VerifyEmailCode(ctx, st, f.mailer.lastCode(t)))
	assert.True(t, st.EmailVerified)
	// Earlier collected fields survive the detour.
	assert.Equal(t, "Go", st.Field("firstName"))
}

func TestRegistrationBackForwardRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st := runToEmailCode(t, f, "noskip@example.com")

	err := f.reg.Back(ctx, st, StepPassword)
	requireFlowError(t, err, KindStepOrder)
}

func TestRegistrationCommitRequiresVerifiedEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st := runToSummary(t, f, "sneaky@example.com", "sneaky_user")
	st.EmailVerified = false
	require.NoError(t, f.store.Save(ctx, st))

	_, err := f.reg.Commit(ctx, st)
	requireFlowError(t, err, KindStepOrder)
}

func TestRegistrationFlowExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st := runToEmailCode(t, f, "ttl@example.com")

	f.advance(61 * time.Minute)

	gone, err := f.store.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Nil(t, gone, "abandoned flow state expires with its TTL")
}
