package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"phonereset/internal/interfaces"
	"phonereset/internal/models"
)

type UserRepository interface {
	FindByPhone(ctx context.Context, normalizedPhone string) (*models.User, error)
	UpdatePasswordHash(ctx context.Context, userID string, passwordHash string) error
}

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// FindByPhone matches users whose stored phone, with formatting removed,
// contains normalizedPhone. Two rows are fetched so an ambiguous match can be
// rejected instead of picking one at random.
func (r *userRepository) FindByPhone(ctx context.Context, normalizedPhone string) (*models.User, error) {
	query := `
		SELECT id, email, name, phone_number, password_hash, created_at
		FROM users
		WHERE regexp_replace(phone_number, '[\s()+-]', '', 'g') ILIKE '%' || $1 || '%'
		ORDER BY created_at
		LIMIT 2
	`

	rows, err := r.db.QueryContext(ctx, query, likeEscaper.Replace(normalizedPhone))
	if err != nil {
		return nil, storeError("users.find_by_phone", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var name sql.NullString
		if err := rows.Scan(&u.ID, &u.Email, &name, &u.PhoneNumber, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, storeError("users.find_by_phone", err)
		}
		u.Name = name.String
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("users.find_by_phone", err)
	}

	if len(users) != 1 {
		return nil, interfaces.ErrUserNotFound
	}
	return &users[0], nil
}

func (r *userRepository) UpdatePasswordHash(ctx context.Context, userID string, passwordHash string) error {
	query := `UPDATE users SET password_hash = $1 WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, passwordHash, userID)
	if err != nil {
		return storeError("users.update_password_hash", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeError("users.update_password_hash", err)
	}
	if n == 0 {
		return interfaces.ErrUserNotFound
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
