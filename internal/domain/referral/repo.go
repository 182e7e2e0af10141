package referral

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Referral) error
	GetByID(ctx context.Context, id uuid.UUID) (*Referral, error)
	Update(ctx context.Context, r *Referral) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	UpdateNotes(ctx context.Context, id uuid.UUID, notes *string) error
	Delete(ctx context.Context, id uuid.UUID) error
	// Search returns one page ordered by referral date, newest first, and
	// the total matching the same filter.
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Referral, int, error)
	ListAll(ctx context.Context, f Filter) ([]*Referral, error)
	ListRecent(ctx context.Context, n int) ([]*Referral, error)

	CountByPractice(ctx context.Context, practiceID uuid.UUID) (int, error)
	CountByLocation(ctx context.Context, locationID uuid.UUID) (int, error)
	CountByDoctor(ctx context.Context, doctorID uuid.UUID) (int, error)
}

type DocumentRepository interface {
	Create(ctx context.Context, d *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*Document, error)
}
