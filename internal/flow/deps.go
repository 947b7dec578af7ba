package flow

import (
	"context"
	"time"

	"photoshare/internal/auth"
)

// UserDirectory is the slice of durable user storage the flows consume.
// *auth.UserRepository satisfies it; tests use an in-memory fake.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*auth.User, error)
	FindByEmail(ctx context.Context, email string) (*auth.User, error)
	FindByUsername(ctx context.Context, username string) (*auth.User, error)
	Create(ctx context.Context, nu auth.NewUser) (*auth.User, error)
	RecordLogin(ctx context.Context, userID string, at time.Time, ip string) error
}

// MailSender dispatches verification and 2FA codes. Failure surfaces as
// EmailDeliveryFailed, never as silent success.
type MailSender interface {
	Send(ctx context.Context, to, subject, text, html string) error
}

// DeviceStore is the trusted-device slice the 2FA engine consumes.
type DeviceStore interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (*auth.TrustedDevice, error)
	Create(ctx context.Context, d auth.TrustedDevice) (*auth.TrustedDevice, error)
}
