package auth

import "time"

type User struct {
	ID                   string
	Username             string
	Email                string
	EmailVerified        *time.Time
	PasswordHash         *string
	FirstName            string
	LastName             string
	BirthDate            time.Time
	Image                *string
	Role                 string
	TOTPSecret           *string
	TOTPEnabled          bool
	EmailTwoFactor       bool
	TwoFactorEmailCode   *string
	TwoFactorCodeExpires *time.Time
	PasswordResetToken   *string
	PasswordResetExpires *time.Time
	LastLoginAt          *time.Time
	LastLoginIP          *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewUser carries the validated fields a completed registration commits.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	BirthDate    time.Time
	VerifiedAt   time.Time
}

// TrustedDevice is a client that completed 2FA and was remembered.
// Expired devices are treated as absent on lookup.
type TrustedDevice struct {
	ID            string
	UserID        string
	TokenHash     string
	UserAgent     string
	IPAddress     string
	DeviceFamily  string
	BrowserFamily string
	OSFamily      string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

func (d *TrustedDevice) Expired(now time.Time) bool {
	return !d.ExpiresAt.After(now)
}
