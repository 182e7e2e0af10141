package referral

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Referral maps to the referrals table. The practice, location, doctor and
// creator fields after UpdatedAt are joined on read.
type Referral struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	PatientFirstName    string     `db:"patient_first_name" json:"patient_first_name"`
	PatientLastName     string     `db:"patient_last_name" json:"patient_last_name"`
	PatientMRN          *string    `db:"patient_mrn" json:"patient_mrn,omitempty"`
	PatientPhone        *string    `db:"patient_phone" json:"patient_phone,omitempty"`
	PatientEmail        *string    `db:"patient_email" json:"patient_email,omitempty"`
	PatientDOB          *time.Time `db:"patient_dob" json:"patient_dob,omitempty"`
	PracticeID          *uuid.UUID `db:"practice_id" json:"practice_id,omitempty"`
	LocationID          *uuid.UUID `db:"location_id" json:"location_id,omitempty"`
	DoctorID            *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	ReferringDoctorName *string    `db:"referring_doctor_name" json:"referring_doctor_name,omitempty"`
	Status              Status     `db:"status" json:"status"`
	ReferralDate        time.Time  `db:"referral_date" json:"referral_date"`
	AppointmentDate     *time.Time `db:"appointment_date" json:"appointment_date,omitempty"`
	InsuranceProvider   *string    `db:"insurance_provider" json:"insurance_provider,omitempty"`
	InsuranceMemberID   *string    `db:"insurance_member_id" json:"insurance_member_id,omitempty"`
	InsuranceGroup      *string    `db:"insurance_group" json:"insurance_group,omitempty"`
	AuthStatus          *string    `db:"auth_status" json:"auth_status,omitempty"`
	Notes               *string    `db:"notes" json:"notes,omitempty"`
	CreatedBy           *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`

	PracticeName   *string `json:"practice_name,omitempty"`
	LocationName   *string `json:"location_name,omitempty"`
	DoctorName     *string `json:"doctor_name,omitempty"`
	DoctorTitle    *string `json:"doctor_title,omitempty"`
	CreatedByName  *string `json:"created_by_name,omitempty"`
	CreatedByEmail *string `json:"-"`

	Documents []*Document `json:"documents,omitempty"`
}

// ReferringDoctorDisplay names the referring doctor. A linked doctor wins
// over the free-text name; with neither the result is empty.
func (r *Referral) ReferringDoctorDisplay() string {
	if r.DoctorID != nil && r.DoctorName != nil && *r.DoctorName != "" {
		if r.DoctorTitle != nil && strings.TrimSpace(*r.DoctorTitle) != "" {
			return strings.TrimSpace(*r.DoctorTitle) + " " + *r.DoctorName
		}
		return *r.DoctorName
	}
	if r.ReferringDoctorName != nil {
		return *r.ReferringDoctorName
	}
	return ""
}

// CreatorDisplay is the creator's name, falling back to their email.
func (r *Referral) CreatorDisplay() string {
	if r.CreatedByName != nil && *r.CreatedByName != "" {
		return *r.CreatedByName
	}
	if r.CreatedByEmail != nil {
		return *r.CreatedByEmail
	}
	return ""
}

// PatientName is "First Last".
func (r *Referral) PatientName() string {
	return strings.TrimSpace(r.PatientFirstName + " " + r.PatientLastName)
}

// Document maps to the referral_documents table.
type Document struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	ReferralID  uuid.UUID  `db:"referral_id" json:"referral_id"`
	FileName    string     `db:"file_name" json:"file_name"`
	Locator     string     `db:"locator" json:"-"`
	FileSize    int64      `db:"file_size" json:"file_size"`
	ContentType string     `db:"content_type" json:"content_type"`
	UploadedBy  *uuid.UUID `db:"uploaded_by" json:"uploaded_by,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Input is the create/update payload. Dates are strings so that unparseable
// values can be coerced rather than rejected.
type Input struct {
	PatientFirstName    string `json:"patient_first_name"`
	PatientLastName     string `json:"patient_last_name"`
	PatientMRN          string `json:"patient_mrn"`
	PatientPhone        string `json:"patient_phone"`
	PatientEmail        string `json:"patient_email"`
	PatientDOB          string `json:"patient_dob"`
	PracticeID          string `json:"practice_id"`
	LocationID          string `json:"location_id"`
	DoctorID            string `json:"doctor_id"`
	ReferringDoctorName string `json:"referring_doctor_name"`
	Status              string `json:"status"`
	ReferralDate        string `json:"referral_date"`
	AppointmentDate     string `json:"appointment_date"`
	InsuranceProvider   string `json:"insurance_provider"`
	InsuranceMemberID   string `json:"insurance_member_id"`
	InsuranceGroup      string `json:"insurance_group"`
	AuthStatus          string `json:"auth_status"`
	Notes               string `json:"notes"`
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"01/02/2006",
}

// Calendar keeps t's wall clock but moves it to UTC. Referral, birth and
// appointment dates are stored this way so the calendar day is the same on
// every server regardless of its time zone.
func Calendar(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// parseDate returns nil for empty or unparseable input.
func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			c := Calendar(t)
			return &c
		}
	}
	return nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
