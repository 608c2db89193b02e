package repository

import (
	"database/sql"

	"phonereset/internal/interfaces"
)

// SQLBackend serves the whole password reset flow from one Postgres
// database.
type SQLBackend struct {
	UserRepository
	OTPRepository
	*BcryptCredentialUpdater
}

var _ interfaces.ResetBackend = (*SQLBackend)(nil)

func NewSQLBackend(db *sql.DB, bcryptCost int) *SQLBackend {
	users := NewUserRepository(db)
	return &SQLBackend{
		UserRepository:          users,
		OTPRepository:           NewOTPRepository(db),
		BcryptCredentialUpdater: NewBcryptCredentialUpdater(users, bcryptCost),
	}
}
