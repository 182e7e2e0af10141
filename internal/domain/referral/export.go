package referral

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

// ExportHeaders are the CSV columns, in order.
var ExportHeaders = []string{
	"Patient First Name",
	"Patient Last Name",
	"Patient Phone",
	"Patient Email",
	"Date of Birth",
	"Referring Practice",
	"Referring Doctor",
	"Status",
	"Referral Date",
	"Appointment Date",
	"Insurance Provider",
	"Insurance Member ID",
	"Insurance Group",
	"Auth Status",
	"Notes",
	"Created By",
	"Created At",
}

const exportDateLayout = "01/02/2006"

// ExportFilename is the attachment name for an export taken at now.
func ExportFilename(now time.Time) string {
	return fmt.Sprintf("referrals-%s.csv", now.Format("2006-01-02"))
}

// WriteCSV writes the header row and one row per referral.
func WriteCSV(w io.Writer, referrals []*Referral) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeaders); err != nil {
		return err
	}
	for _, r := range referrals {
		if err := cw.Write(exportRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func exportRow(r *Referral) []string {
	return []string{
		r.PatientFirstName,
		r.PatientLastName,
		str(r.PatientPhone),
		str(r.PatientEmail),
		date(r.PatientDOB),
		str(r.PracticeName),
		r.ReferringDoctorDisplay(),
		r.Status.Label(),
		r.ReferralDate.UTC().Format(exportDateLayout),
		date(r.AppointmentDate),
		str(r.InsuranceProvider),
		str(r.InsuranceMemberID),
		str(r.InsuranceGroup),
		str(r.AuthStatus),
		str(r.Notes),
		r.CreatorDisplay(),
		r.CreatedAt.Format(exportDateLayout),
	}
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func date(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(exportDateLayout)
}
