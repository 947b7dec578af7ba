package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	DB *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{DB: db}
}

const userColumns = `"id","username","email","emailVerified","password","firstName","lastName","birthDate","image","role","totpSecret","totpEnabled","emailTwoFactor","twoFactorEmailCode","twoFactorCodeExpires","passwordResetToken","passwordResetExpires","lastLoginAt","lastLoginIp","createdAt","updatedAt"`

// Create commits a completed registration as a durable user row. The email
// arrives already verified; registration cannot reach commit otherwise.
func (r *UserRepository) Create(ctx context.Context, nu NewUser) (*User, error) {
	id := uuid.NewString()

	row := r.DB.QueryRow(ctx, `
		INSERT INTO "User"
		("id","username","email","emailVerified","password","firstName","lastName","birthDate","role")
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING `+userColumns+`
	`, id, nu.Username, nu.Email, nu.VerifiedAt, nu.PasswordHash, nu.FirstName, nu.LastName, nu.BirthDate, "USER")

	return scanUser(row)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT `+userColumns+` FROM "User" WHERE LOWER("email")=LOWER($1)
	`, email)
	return nilOnNoRows(scanUser(row))
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT `+userColumns+` FROM "User" WHERE LOWER("username")=LOWER($1)
	`, username)
	return nilOnNoRows(scanUser(row))
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*User, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT `+userColumns+` FROM "User" WHERE "id"=$1
	`, id)
	return nilOnNoRows(scanUser(row))
}

// SaveEmailCode stores a hashed 2FA email code with its expiry on the user
// row. Used by the authenticated 2FA setup surface; in-flow login codes
// live in the flow state instead.
func (r *UserRepository) SaveEmailCode(ctx context.Context, userID, code string, expires time.Time) error {
	var hashed, expiry interface{}
	if code != "" {
		hashed = HashString(code)
		expiry = expires
	}
	_, err := r.DB.Exec(ctx, `
		UPDATE "User"
		SET "twoFactorEmailCode"=$1, "twoFactorCodeExpires"=$2
		WHERE "id"=$3
	`, hashed, expiry, userID)
	return err
}

func (r *UserRepository) ClearEmailCode(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "User"
		SET "twoFactorEmailCode"=NULL, "twoFactorCodeExpires"=NULL
		WHERE "id"=$1
	`, userID)
	return err
}

func (r *UserRepository) SetTOTPSecret(ctx context.Context, userID string, secret *string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "User" SET "totpSecret"=$1, "totpEnabled"=FALSE WHERE "id"=$2
	`, secret, userID)
	return err
}

func (r *UserRepository) EnableTOTP(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "User" SET "totpEnabled"=TRUE WHERE "id"=$1 AND "totpSecret" IS NOT NULL
	`, userID)
	return err
}

func (r *UserRepository) EnableEmailTwoFactor(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "User"
		SET "emailTwoFactor"=TRUE, "twoFactorEmailCode"=NULL, "twoFactorCodeExpires"=NULL
		WHERE "id"=$1
	`, userID)
	return err
}

// DisableTwoFactor turns off both second factors and forgets the secret.
func (r *UserRepository) DisableTwoFactor(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "User"
		SET "totpEnabled"=FALSE,
		    "totpSecret"=NULL,
		    "emailTwoFactor"=FALSE,
		    "twoFactorEmailCode"=NULL,
		    "twoFactorCodeExpires"=NULL
		WHERE "id"=$1
	`, userID)
	return err
}

func (r *UserRepository) SavePasswordReset(ctx context.Context, userID, token string, expires time.Time) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "User"
		SET "passwordResetToken"=$1, "passwordResetExpires"=$2
		WHERE "id"=$3
	`, HashString(token), expires, userID)
	return err
}

func (r *UserRepository) FindByResetToken(ctx context.Context, token string) (*User, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT `+userColumns+` FROM "User" WHERE "passwordResetToken"=$1
	`, HashString(token))
	return nilOnNoRows(scanUser(row))
}

func (r *UserRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "User"
		SET "password"=$1, "passwordResetToken"=NULL, "passwordResetExpires"=NULL
		WHERE "id"=$2
	`, passwordHash, userID)
	return err
}

// RecordLogin stamps the last successful login onto the user row.
func (r *UserRepository) RecordLogin(ctx context.Context, userID string, at time.Time, ip string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "User" SET "lastLoginAt"=$1, "lastLoginIp"=$2 WHERE "id"=$3
	`, at, ip, userID)
	return err
}

func (r *UserRepository) DeleteUser(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM "User" WHERE "id"=$1`, userID)
	return err
}

func nilOnNoRows(user *User, err error) (*User, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.EmailVerified, &u.PasswordHash,
		&u.FirstName, &u.LastName, &u.BirthDate, &u.Image, &u.Role,
		&u.TOTPSecret, &u.TOTPEnabled, &u.EmailTwoFactor,
		&u.TwoFactorEmailCode, &u.TwoFactorCodeExpires,
		&u.PasswordResetToken, &u.PasswordResetExpires,
		&u.LastLoginAt, &u.LastLoginIP,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
