package repository

import (
	"context"

	"vpn-subscription-store/internal/domain/model"
)

type UserRepository interface {
	// EnsureExists inserts the user when missing; existing rows are left
	// untouched.
	EnsureExists(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	CountUsers(ctx context.Context, tx Tx) (int, error)
}
