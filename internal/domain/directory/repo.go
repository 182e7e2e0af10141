package directory

import (
	"context"

	"github.com/google/uuid"
)

// Delete methods return apperr.ErrNotFound when the row does not exist and an
// *apperr.ReferencedEntityError when referrals still point at it.

type PracticeRepository interface {
	Create(ctx context.Context, p *Practice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Practice, error)
	Update(ctx context.Context, p *Practice) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*Practice, error)
}

type LocationRepository interface {
	Create(ctx context.Context, l *Location) error
	GetByID(ctx context.Context, id uuid.UUID) (*Location, error)
	Update(ctx context.Context, l *Location) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*Location, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*Location, error)
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f DoctorFilter) ([]*Doctor, error)
	// ReplaceLocations deletes every affiliation of the doctor and inserts
	// locationIDs. Callers run it inside a transaction.
	ReplaceLocations(ctx context.Context, doctorID uuid.UUID, locationIDs []uuid.UUID) error
}

type NoteRepository interface {
	Create(ctx context.Context, n *ProviderNote) error
	GetByID(ctx context.Context, id uuid.UUID) (*ProviderNote, error)
	Update(ctx context.Context, n *ProviderNote) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*ProviderNote, error)
}

// ReferralCounter counts referrals pointing at a directory entity. The
// referral repository implements it.
type ReferralCounter interface {
	CountByPractice(ctx context.Context, practiceID uuid.UUID) (int, error)
	CountByLocation(ctx context.Context, locationID uuid.UUID) (int, error)
	CountByDoctor(ctx context.Context, doctorID uuid.UUID) (int, error)
}
