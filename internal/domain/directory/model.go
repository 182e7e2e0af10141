package directory

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Practice maps to the practices table.
type Practice struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Fax       *string   `db:"fax" json:"fax,omitempty"`
	Address   *string   `db:"address" json:"address,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Locations []*Location `json:"locations,omitempty"`
	Doctors   []*Doctor   `json:"doctors,omitempty"`
}

// Location maps to the practice_locations table.
type Location struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PracticeID uuid.UUID `db:"practice_id" json:"practice_id"`
	Name       string    `db:"name" json:"name"`
	Phone      *string   `db:"phone" json:"phone,omitempty"`
	Fax        *string   `db:"fax" json:"fax,omitempty"`
	Address    *string   `db:"address" json:"address,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Doctor maps to the referring_doctors table. LocationIDs is loaded from
// doctor_locations.
type Doctor struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PracticeID uuid.UUID `db:"practice_id" json:"practice_id"`
	Name       string    `db:"name" json:"name"`
	Title      *string   `db:"title" json:"title,omitempty"`
	NPI        *string   `db:"npi" json:"npi,omitempty"`
	Specialty  *string   `db:"specialty" json:"specialty,omitempty"`
	Phone      *string   `db:"phone" json:"phone,omitempty"`
	Email      *string   `db:"email" json:"email,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`

	LocationIDs   []uuid.UUID `json:"location_ids"`
	ReferralCount int         `json:"referral_count"`
}

// DisplayName joins the optional title and the name, e.g. "Dr. Jane Smith".
func (d *Doctor) DisplayName() string {
	if d.Title == nil || strings.TrimSpace(*d.Title) == "" {
		return d.Name
	}
	return strings.TrimSpace(*d.Title) + " " + d.Name
}

// AffiliatedWith reports whether the doctor practices at locationID.
func (d *Doctor) AffiliatedWith(locationID uuid.UUID) bool {
	for _, id := range d.LocationIDs {
		if id == locationID {
			return true
		}
	}
	return false
}

// ProviderNote maps to the provider_notes table.
type ProviderNote struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	DoctorID      uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	Content       string     `db:"content" json:"content"`
	CreatedBy     *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	CreatedByName *string    `json:"created_by_name,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// DoctorDetail is the doctor page: the doctor with its practice, affiliated
// locations, notes and referral count.
type DoctorDetail struct {
	Doctor        *Doctor         `json:"doctor"`
	Practice      *Practice       `json:"practice"`
	Locations     []*Location     `json:"locations"`
	Notes         []*ProviderNote `json:"notes"`
	ReferralCount int             `json:"referral_count"`
}

// DoctorFilter narrows a doctor listing. A nil field is not applied.
type DoctorFilter struct {
	PracticeID *uuid.UUID
	LocationID *uuid.UUID
}

// Matches reports whether d passes the filter.
func (f DoctorFilter) Matches(d *Doctor) bool {
	if f.PracticeID != nil && d.PracticeID != *f.PracticeID {
		return false
	}
	if f.LocationID != nil && !d.AffiliatedWith(*f.LocationID) {
		return false
	}
	return true
}

// PracticeInput is the create/update payload for a practice.
type PracticeInput struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Fax     string `json:"fax"`
	Address string `json:"address"`
}

// LocationInput is the create/update payload for a location.
type LocationInput struct {
	PracticeID uuid.UUID `json:"practice_id"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Fax        string    `json:"fax"`
	Address    string    `json:"address"`
}

// DoctorInput is the create/update payload for a doctor. On update the
// location set replaces the existing affiliations.
type DoctorInput struct {
	PracticeID  uuid.UUID   `json:"practice_id"`
	Name        string      `json:"name"`
	Title       string      `json:"title"`
	NPI         string      `json:"npi"`
	Specialty   string      `json:"specialty"`
	Phone       string      `json:"phone"`
	Email       string      `json:"email"`
	LocationIDs []uuid.UUID `json:"location_ids"`
}

// NoteInput is the create/update payload for a provider note.
type NoteInput struct {
	Content string `json:"content"`
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
