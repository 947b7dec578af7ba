package auth

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod     = 30
	totpSecretSize = 20 // 160 bits, RFC 6238 recommended minimum
	totpSkew       = 1  // +-1 step of clock drift

	deviceTokenBytes = 32
)

// CodeGenerator produces the short-lived secrets the auth flows hand out:
// 6-digit email codes, TOTP enrolment material and trusted-device tokens.
type CodeGenerator struct {
	Issuer string

	// Now is injectable for drift-window tests; nil means time.Now.
	Now func() time.Time
}

func NewCodeGenerator(issuer string) *CodeGenerator {
	return &CodeGenerator{Issuer: issuer}
}

func (g *CodeGenerator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// EmailCode returns a zero-padded 6-digit code from crypto/rand.
func (g *CodeGenerator) EmailCode() (string, error) {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	n := int(b[0])<<16 | int(b[1])<<8 | int(b[2])
	return fmt.Sprintf("%06d", n%1000000), nil
}

// TOTPSetup is everything a client needs to enrol an authenticator app.
type TOTPSetup struct {
	Secret     string
	OtpauthURL string
	QRDataURL  string
}

func (g *CodeGenerator) GenerateTOTP(accountLabel string) (*TOTPSetup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      g.Issuer,
		AccountName: accountLabel,
		SecretSize:  totpSecretSize,
	})
	if err != nil {
		return nil, err
	}

	setup := &TOTPSetup{
		Secret:     key.Secret(),
		OtpauthURL: key.URL(),
	}

	img, err := key.Image(200, 200)
	if err != nil {
		return setup, nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return setup, nil
	}
	setup.QRDataURL = "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	return setup, nil
}

// VerifyTOTP checks a submitted code against the secret within a +-1 step
// window. Malformed input fails closed.
func (g *CodeGenerator) VerifyTOTP(secret, code string) bool {
	if len(code) != 6 || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, g.now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// DeviceToken returns a fresh trusted-device token and the hash to store.
// The raw value goes into a client cookie and is never persisted.
func (g *CodeGenerator) DeviceToken() (raw string, hash string, err error) {
	buf := make([]byte, deviceTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(buf)
	return raw, HashString(raw), nil
}
