package repository

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCredentialUpdater hashes the new password and stores it on the user.
type BcryptCredentialUpdater struct {
	users UserRepository
	cost  int
}

func NewBcryptCredentialUpdater(users UserRepository, cost int) *BcryptCredentialUpdater {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptCredentialUpdater{users: users, cost: cost}
}

func (u *BcryptCredentialUpdater) UpdatePassword(ctx context.Context, userID string, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), u.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return u.users.UpdatePasswordHash(ctx, userID, string(hash))
}
