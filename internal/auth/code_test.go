package auth

import (
	"regexp"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailCodeFormat(t *testing.T) {
	g := NewCodeGenerator("Photoshare")

	pattern := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 50; i++ {
		code, err := g.EmailCode()
		require.NoError(t, err)
		assert.Regexp(t, pattern, code)
	}
}

func TestGenerateTOTP(t *testing.T) {
	g := NewCodeGenerator("Photoshare")

	setup, err := g.GenerateTOTP("user@example.com")
	require.NoError(t, err)

	assert.NotEmpty(t, setup.Secret)
	assert.Contains(t, setup.OtpauthURL, "otpauth://totp/")
	assert.Contains(t, setup.OtpauthURL, "Photoshare")
	assert.Contains(t, setup.QRDataURL, "data:image/png;base64,")
}

func totpCodeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestVerifyTOTPDriftWindow(t *testing.T) {
	base := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	g := NewCodeGenerator("Photoshare")
	g.Now = func() time.Time { return base }

	setup, err := g.GenerateTOTP("user@example.com")
	require.NoError(t, err)
	secret := setup.Secret

	assert.True(t, g.VerifyTOTP(secret, totpCodeAt(t, secret, base)), "current step")
	assert.True(t, g.VerifyTOTP(secret, totpCodeAt(t, secret, base.Add(-30*time.Second))), "one step behind")
	assert.True(t, g.VerifyTOTP(secret, totpCodeAt(t, secret, base.Add(30*time.Second))), "one step ahead")
	assert.False(t, g.VerifyTOTP(secret, totpCodeAt(t, secret, base.Add(-60*time.Second))), "two steps behind")
	assert.False(t, g.VerifyTOTP(secret, totpCodeAt(t, secret, base.Add(60*time.Second))), "two steps ahead")
}

func TestVerifyTOTPFailsClosed(t *testing.T) {
	g := NewCodeGenerator("Photoshare")

	setup, err := g.GenerateTOTP("user@example.com")
	require.NoError(t, err)

	assert.False(t, g.VerifyTOTP(setup.Secret, ""))
	assert.False(t, g.VerifyTOTP(setup.Secret, "12345"))
	assert.False(t, g.VerifyTOTP(setup.Secret, "1234567"))
	assert.False(t, g.VerifyTOTP("", "123456"))
}

func TestDeviceToken(t *testing.T) {
	g := NewCodeGenerator("Photoshare")

	raw, hash, err := g.DeviceToken()
	require.NoError(t, err)

	assert.Len(t, raw, deviceTokenBytes*2, "hex-encoded token")
	assert.Equal(t, HashString(raw), hash)
	assert.NotEqual(t, raw, hash)

	raw2, _, err := g.DeviceToken()
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2)
}
