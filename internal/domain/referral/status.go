package referral

import "strings"

// Status is the referral lifecycle stage. Any status may follow any other.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusContacted Status = "CONTACTED"
	StatusScheduled Status = "SCHEDULED"
	StatusCompleted Status = "COMPLETED"
	StatusNoShow    Status = "NO_SHOW"
)

// Statuses lists every status in pipeline order.
var Statuses = []Status{StatusNew, StatusContacted, StatusScheduled, StatusCompleted, StatusNoShow}

var statusLabels = map[Status]string{
	StatusNew:       "New",
	StatusContacted: "Contacted",
	StatusScheduled: "Scheduled",
	StatusCompleted: "Completed",
	StatusNoShow:    "No Show",
}

func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Label is the human readable name used in exports and reports.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Pending reports whether the referral still needs outreach.
func (s Status) Pending() bool {
	return s == StatusNew || s == StatusContacted
}

// ParseStatus accepts a status value in any case. "all", empty and unknown
// values report false.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}
