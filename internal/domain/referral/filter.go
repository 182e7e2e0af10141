package referral

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Filter selects referrals for listing and export. Unset criteria match
// everything; set criteria are ANDed.
type Filter struct {
	Status     *Status
	PracticeID *uuid.UUID
	// From and To are calendar days. Both bounds are inclusive, so To
	// covers the whole day.
	From   *time.Time
	To     *time.Time
	Search string
}

// FilterParams carries the raw listing query parameters.
type FilterParams struct {
	Status   string
	Practice string
	From     string
	To       string
	Search   string
}

// NewFilter builds a Filter from query parameters. Unrecognised statuses
// (including "all"), malformed ids and malformed dates are ignored.
func NewFilter(p FilterParams) Filter {
	var f Filter
	if s, ok := ParseStatus(p.Status); ok {
		f.Status = &s
	}
	if id, err := uuid.Parse(strings.TrimSpace(p.Practice)); err == nil {
		f.PracticeID = &id
	}
	f.From = parseDay(p.From)
	f.To = parseDay(p.To)
	f.Search = strings.TrimSpace(p.Search)
	return f
}

func parseDay(raw string) *time.Time {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &t
}

// ExportOnly drops the criteria the CSV export does not honour.
func (f Filter) ExportOnly() Filter {
	return Filter{Status: f.Status, From: f.From, To: f.To}
}

func (f Filter) toExclusive() time.Time {
	return f.To.AddDate(0, 0, 1)
}

// Matches is the in-memory form of the predicate rendered by SQL.
func (f Filter) Matches(r *Referral) bool {
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.PracticeID != nil && (r.PracticeID == nil || *r.PracticeID != *f.PracticeID) {
		return false
	}
	if f.From != nil && r.ReferralDate.Before(*f.From) {
		return false
	}
	if f.To != nil && !r.ReferralDate.Before(f.toExclusive()) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		doctor := ""
		if r.ReferringDoctorName != nil {
			doctor = *r.ReferringDoctorName
		}
		if !strings.Contains(strings.ToLower(r.PatientFirstName), q) &&
			!strings.Contains(strings.ToLower(r.PatientLastName), q) &&
			!strings.Contains(strings.ToLower(doctor), q) {
			return false
		}
	}
	return true
}

// SQL renders the filter as a WHERE clause over the referrals table aliased
// "r". Placeholders are numbered from argStart. An empty filter yields "".
func (f Filter) SQL(argStart int) (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", argStart+len(args)-1)
	}

	if f.Status != nil {
		conds = append(conds, "r.status = "+next(string(*f.Status)))
	}
	if f.PracticeID != nil {
		conds = append(conds, "r.practice_id = "+next(*f.PracticeID))
	}
	if f.From != nil {
		conds = append(conds, "r.referral_date >= "+next(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "r.referral_date < "+next(f.toExclusive()))
	}
	if f.Search != "" {
		p := next("%" + escapeLike(f.Search) + "%")
		conds = append(conds, "(r.patient_first_name ILIKE "+p+
			" OR r.patient_last_name ILIKE "+p+
			" OR r.referring_doctor_name ILIKE "+p+")")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
