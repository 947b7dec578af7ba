package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TrustedDeviceStore persists the devices that may skip 2FA. Expiry is
// checked lazily on lookup; expired rows are purged opportunistically
// rather than eagerly.
type TrustedDeviceStore struct {
	DB *pgxpool.Pool
}

func NewTrustedDeviceStore(db *pgxpool.Pool) *TrustedDeviceStore {
	return &TrustedDeviceStore{DB: db}
}

const trustedDeviceColumns = `"id","userId","tokenHash","userAgent","ipAddress","deviceFamily","browserFamily","osFamily","createdAt","expiresAt"`

func (s *TrustedDeviceStore) Create(ctx context.Context, d TrustedDevice) (*TrustedDevice, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO "TrustedDevice"
		("id","userId","tokenHash","userAgent","ipAddress","deviceFamily","browserFamily","osFamily","expiresAt")
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, d.ID, d.UserID, d.TokenHash, d.UserAgent, d.IPAddress, d.DeviceFamily, d.BrowserFamily, d.OSFamily, d.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// FindByTokenHash returns the device for a presented token, or nil when
// unknown or expired. An expired row is deleted on the way out.
func (s *TrustedDeviceStore) FindByTokenHash(ctx context.Context, tokenHash string) (*TrustedDevice, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+trustedDeviceColumns+`
		FROM "TrustedDevice"
		WHERE "tokenHash"=$1
	`, tokenHash)

	device, err := scanTrustedDevice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if device.Expired(time.Now()) {
		_, _ = s.DB.Exec(ctx, `DELETE FROM "TrustedDevice" WHERE "id"=$1`, device.ID)
		return nil, nil
	}
	return device, nil
}

func (s *TrustedDeviceStore) ListForUser(ctx context.Context, userID string) ([]TrustedDevice, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+trustedDeviceColumns+`
		FROM "TrustedDevice"
		WHERE "userId"=$1 AND "expiresAt" > NOW()
		ORDER BY "createdAt" DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []TrustedDevice
	for rows.Next() {
		device, err := scanTrustedDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *device)
	}
	return devices, rows.Err()
}

func (s *TrustedDeviceStore) Delete(ctx context.Context, userID, deviceID string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM "TrustedDevice" WHERE "id"=$1 AND "userId"=$2`, deviceID, userID)
	return err
}

func (s *TrustedDeviceStore) DeleteForUser(ctx context.Context, userID string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM "TrustedDevice" WHERE "userId"=$1`, userID)
	return err
}

// PurgeExpired removes stale rows; callers run it opportunistically.
func (s *TrustedDeviceStore) PurgeExpired(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM "TrustedDevice" WHERE "expiresAt" <= NOW()`)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrustedDevice(row rowScanner) (*TrustedDevice, error) {
	var d TrustedDevice
	err := row.Scan(
		&d.ID, &d.UserID, &d.TokenHash, &d.UserAgent, &d.IPAddress,
		&d.DeviceFamily, &d.BrowserFamily, &d.OSFamily, &d.CreatedAt, &d.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
