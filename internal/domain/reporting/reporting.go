// Package reporting reduces referral collections into dashboard and report
// figures. The aggregation functions are pure: they depend only on their
// arguments, including the caller's notion of now.
package reporting

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/referrals/internal/domain/referral"
)

const (
	// Months is the length of the trailing window on the reports view.
	Months = 6
	// TopCount is how many practices and providers the rankings keep.
	TopCount = 5
	// RecentCount is how many referrals the dashboard lists.
	RecentCount = 10
)

// StatusCount is one row of a status distribution.
type StatusCount struct {
	Status  referral.Status `json:"status"`
	Label   string          `json:"label"`
	Count   int             `json:"count"`
	Percent int             `json:"percent"`
}

// MonthBucket counts referrals dated within [Start, next month's start).
type MonthBucket struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// Ranked is a directory entity with its referral count.
type Ranked struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Count int       `json:"count"`
}

// round matches the half-up rounding the UI has always shown.
func round(x float64) int {
	return int(math.Floor(x + 0.5))
}

// Percent is count/total as a whole percentage, 0 when total is 0.
func Percent(count, total int) int {
	if total <= 0 {
		return 0
	}
	return round(float64(count) / float64(total) * 100)
}

// StatusDistribution counts refs per status. Every status appears, in
// pipeline order, even with a zero count.
func StatusDistribution(refs []*referral.Referral) []StatusCount {
	counts := make(map[referral.Status]int, len(referral.Statuses))
	for _, r := range refs {
		counts[r.Status]++
	}
	out := make([]StatusCount, 0, len(referral.Statuses))
	for _, s := range referral.Statuses {
		out = append(out, StatusCount{
			Status:  s,
			Label:   s.Label(),
			Count:   counts[s],
			Percent: Percent(counts[s], len(refs)),
		})
	}
	return out
}

// MonthStart is midnight on the first of t's month, in t's location.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// MonthLabel renders a month as "Jan 06".
func MonthLabel(t time.Time) string {
	return t.Format("Jan 06")
}

// MonthlySeries buckets refs by referral date into the n calendar months
// ending with now's month, oldest first. Months are taken from now's wall
// clock; referral dates are UTC calendar dates.
func MonthlySeries(refs []*referral.Referral, now time.Time, n int) []MonthBucket {
	if n <= 0 {
		return []MonthBucket{}
	}
	current := MonthStart(referral.Calendar(now))
	out := make([]MonthBucket, n)
	for i := range out {
		start := current.AddDate(0, i-n+1, 0)
		out[i] = MonthBucket{Label: MonthLabel(start), Start: start}
	}
	windowStart := out[0].Start
	windowEnd := current.AddDate(0, 1, 0)

	for _, r := range refs {
		d := r.ReferralDate
		if d.Before(windowStart) || !d.Before(windowEnd) {
			continue
		}
		for i := n - 1; i >= 0; i-- {
			if !d.Before(out[i].Start) {
				out[i].Count++
				break
			}
		}
	}
	return out
}

// CountBetween counts refs whose referral date is in [from, to).
func CountBetween(refs []*referral.Referral, from, to time.Time) int {
	n := 0
	for _, r := range refs {
		if !r.ReferralDate.Before(from) && r.ReferralDate.Before(to) {
			n++
		}
	}
	return n
}

// InWindow returns the refs dated within [from, to).
func InWindow(refs []*referral.Referral, from, to time.Time) []*referral.Referral {
	out := make([]*referral.Referral, 0, len(refs))
	for _, r := range refs {
		if !r.ReferralDate.Before(from) && r.ReferralDate.Before(to) {
			out = append(out, r)
		}
	}
	return out
}

// MonthOverMonth is the percentage change from last to this. It is nil when
// last is 0.
func MonthOverMonth(this, last int) *int {
	if last == 0 {
		return nil
	}
	change := round(float64(this-last) / float64(last) * 100)
	return &change
}

// PendingCount counts referrals still awaiting follow-up.
func PendingCount(refs []*referral.Referral) int {
	n := 0
	for _, r := range refs {
		if r.Status.Pending() {
			n++
		}
	}
	return n
}

// CountBy tallies refs by the id key returns. Referrals without an id are
// skipped.
func CountBy(refs []*referral.Referral, key func(*referral.Referral) *uuid.UUID) map[uuid.UUID]int {
	counts := make(map[uuid.UUID]int)
	for _, r := range refs {
		if id := key(r); id != nil {
			counts[*id]++
		}
	}
	return counts
}

// TopN orders items by count descending, then id ascending, and keeps the
// first n. The input is not modified.
func TopN(items []Ranked, n int) []Ranked {
	out := make([]Ranked, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Dashboard is the landing page summary.
type Dashboard struct {
	Total    int                  `json:"total"`
	ByStatus []StatusCount        `json:"by_status"`
	Recent   []*referral.Referral `json:"recent"`
}

// BuildDashboard summarises all referrals. recent must already be the most
// recently created referrals, newest first.
func BuildDashboard(all, recent []*referral.Referral) *Dashboard {
	if recent == nil {
		recent = []*referral.Referral{}
	}
	if len(recent) > RecentCount {
		recent = recent[:RecentCount]
	}
	return &Dashboard{
		Total:    len(all),
		ByStatus: StatusDistribution(all),
		Recent:   recent,
	}
}

// Report is the reports page.
type Report struct {
	GeneratedAt     time.Time     `json:"generated_at"`
	Total           int           `json:"total"`
	ThisMonth       int           `json:"this_month"`
	LastMonth       int           `json:"last_month"`
	MonthOverMonth  *int          `json:"month_over_month"`
	Pending         int           `json:"pending"`
	Monthly         []MonthBucket `json:"monthly"`
	StatusBreakdown []StatusCount `json:"status_breakdown"`
	TopPractices    []Ranked      `json:"top_practices"`
	TopProviders    []Ranked      `json:"top_providers"`
}

// BuildReport computes the reports page from every referral. practices and
// providers carry names and ids; their counts are filled in from all.
func BuildReport(all []*referral.Referral, practices, providers []Ranked, now time.Time) *Report {
	thisMonth := MonthStart(referral.Calendar(now))
	lastMonth := thisMonth.AddDate(0, -1, 0)
	nextMonth := thisMonth.AddDate(0, 1, 0)
	windowStart := thisMonth.AddDate(0, -(Months - 1), 0)

	this := CountBetween(all, thisMonth, nextMonth)
	last := CountBetween(all, lastMonth, thisMonth)

	return &Report{
		GeneratedAt:     now,
		Total:           len(all),
		ThisMonth:       this,
		LastMonth:       last,
		MonthOverMonth:  MonthOverMonth(this, last),
		Pending:         PendingCount(all),
		Monthly:         MonthlySeries(all, now, Months),
		StatusBreakdown: StatusDistribution(InWindow(all, windowStart, nextMonth)),
		TopPractices:    TopN(withCounts(practices, CountBy(all, practiceOf)), TopCount),
		TopProviders:    TopN(withCounts(providers, CountBy(all, doctorOf)), TopCount),
	}
}

func practiceOf(r *referral.Referral) *uuid.UUID { return r.PracticeID }
func doctorOf(r *referral.Referral) *uuid.UUID   { return r.DoctorID }

func withCounts(items []Ranked, counts map[uuid.UUID]int) []Ranked {
	out := make([]Ranked, len(items))
	for i, it := range items {
		it.Count = counts[it.ID]
		out[i] = it
	}
	return out
}
