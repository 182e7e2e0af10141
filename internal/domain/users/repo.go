package users

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinic/referrals/internal/platform/auth"
)

type Repository interface {
	// Create returns a field error on "email" when the address is taken.
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role auth.Role) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*User, error)
}
