// Package users holds the credential store: the Repository contract and its
// PostgreSQL, SQLite and in-memory implementations.
package users

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophauth/internal/server/models"
)

// Repository persists user records keyed by normalised email.
//
// ConsumeOTP is the only way an OTP leaves the store: it succeeds when the
// stored code equals otp and now is before the stored expiry, and clears both
// fields in the same step. On any mismatch it returns common.ErrorNotFound and
// leaves the record unchanged.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	SetOTP(ctx context.Context, email, otp string, expiresAt int64) error
	ConsumeOTP(ctx context.Context, email, otp string, now int64) (*models.User, error)
	ClearOTP(ctx context.Context, email string) error
}

const userColumns = `id, email, password_hash, role, otp, otp_expiry, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u      models.User
		otp    sql.NullString
		expiry sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &otp, &expiry, &u.CreatedAt); err != nil {
		return nil, err
	}
	if otp.Valid {
		u.OTP = &otp.String
	}
	if expiry.Valid {
		u.OTPExpiry = &expiry.Int64
	}
	return &u, nil
}
