package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/referrals/internal/platform/apperr"
	"github.com/clinic/referrals/internal/platform/db"
)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrNotFound
	}
	return err
}

// referenceError turns a foreign key failure on write into a field error.
func referenceError(err error) error {
	if db.IsForeignKeyViolation(err) {
		return apperr.Invalid("referring_source", "Referring practice, location or doctor not found")
	}
	return err
}

// =========== Referral Repository ===========

type referralRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &referralRepoPG{pool: pool} }

func (r *referralRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const referralCols = `r.id, r.patient_first_name, r.patient_last_name, r.patient_mrn, r.patient_phone,
	r.patient_email, r.patient_dob, r.practice_id, r.location_id, r.doctor_id, r.referring_doctor_name,
	r.status, r.referral_date, r.appointment_date, r.insurance_provider, r.insurance_member_id,
	r.insurance_group, r.auth_status, r.notes, r.created_by, r.created_at, r.updated_at,
	p.name, l.name, d.name, d.title, u.name, u.email`

const referralFrom = ` FROM referrals r
	LEFT JOIN practices p ON p.id = r.practice_id
	LEFT JOIN practice_locations l ON l.id = r.location_id
	LEFT JOIN referring_doctors d ON d.id = r.doctor_id
	LEFT JOIN users u ON u.id = r.created_by`

func (r *referralRepoPG) scanReferral(row pgx.Row) (*Referral, error) {
	var ref Referral
	err := row.Scan(&ref.ID, &ref.PatientFirstName, &ref.PatientLastName, &ref.PatientMRN, &ref.PatientPhone,
		&ref.PatientEmail, &ref.PatientDOB, &ref.PracticeID, &ref.LocationID, &ref.DoctorID, &ref.ReferringDoctorName,
		&ref.Status, &ref.ReferralDate, &ref.AppointmentDate, &ref.InsuranceProvider, &ref.InsuranceMemberID,
		&ref.InsuranceGroup, &ref.AuthStatus, &ref.Notes, &ref.CreatedBy, &ref.CreatedAt, &ref.UpdatedAt,
		&ref.PracticeName, &ref.LocationName, &ref.DoctorName, &ref.DoctorTitle, &ref.CreatedByName, &ref.CreatedByEmail)
	if err != nil {
		return nil, notFound(err)
	}
	ref.ReferralDate = ref.ReferralDate.UTC()
	ref.PatientDOB = utcPtr(ref.PatientDOB)
	ref.AppointmentDate = utcPtr(ref.AppointmentDate)
	return &ref, nil
}

func (r *referralRepoPG) Create(ctx context.Context, ref *Referral) error {
	ref.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO referrals (id, patient_first_name, patient_last_name, patient_mrn, patient_phone,
			patient_email, patient_dob, practice_id, location_id, doctor_id, referring_doctor_name,
			status, referral_date, appointment_date, insurance_provider, insurance_member_id,
			insurance_group, auth_status, notes, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING created_at, updated_at`,
		ref.ID, ref.PatientFirstName, ref.PatientLastName, ref.PatientMRN, ref.PatientPhone,
		ref.PatientEmail, ref.PatientDOB, ref.PracticeID, ref.LocationID, ref.DoctorID, ref.ReferringDoctorName,
		string(ref.Status), ref.ReferralDate, ref.AppointmentDate, ref.InsuranceProvider, ref.InsuranceMemberID,
		ref.InsuranceGroup, ref.AuthStatus, ref.Notes, ref.CreatedBy).Scan(&ref.CreatedAt, &ref.UpdatedAt)
	return referenceError(err)
}

func (r *referralRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return r.scanReferral(r.conn(ctx).QueryRow(ctx, `SELECT `+referralCols+referralFrom+` WHERE r.id = $1`, id))
}

func (r *referralRepoPG) Update(ctx context.Context, ref *Referral) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE referrals SET patient_first_name=$2, patient_last_name=$3, patient_mrn=$4, patient_phone=$5,
			patient_email=$6, patient_dob=$7, practice_id=$8, location_id=$9, doctor_id=$10,
			referring_doctor_name=$11, status=$12, referral_date=$13, appointment_date=$14,
			insurance_provider=$15, insurance_member_id=$16, insurance_group=$17, auth_status=$18,
			notes=$19, updated_at=NOW()
		WHERE id = $1
		RETURNING created_by, created_at, updated_at`,
		ref.ID, ref.PatientFirstName, ref.PatientLastName, ref.PatientMRN, ref.PatientPhone,
		ref.PatientEmail, ref.PatientDOB, ref.PracticeID, ref.LocationID, ref.DoctorID,
		ref.ReferringDoctorName, string(ref.Status), ref.ReferralDate, ref.AppointmentDate,
		ref.InsuranceProvider, ref.InsuranceMemberID, ref.InsuranceGroup, ref.AuthStatus,
		ref.Notes).Scan(&ref.CreatedBy, &ref.CreatedAt, &ref.UpdatedAt)
	return referenceError(notFound(err))
}

func (r *referralRepoPG) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *referralRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	return r.exec(ctx, `UPDATE referrals SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
}

func (r *referralRepoPG) UpdateNotes(ctx context.Context, id uuid.UUID, notes *string) error {
	return r.exec(ctx, `UPDATE referrals SET notes = $2, updated_at = NOW() WHERE id = $1`, id, notes)
}

func (r *referralRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `DELETE FROM referrals WHERE id = $1`, id)
}

func (r *referralRepoPG) list(ctx context.Context, sql string, args ...any) ([]*Referral, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Referral
	for rows.Next() {
		ref, err := r.scanReferral(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, ref)
	}
	return items, rows.Err()
}

func (r *referralRepoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Referral, int, error) {
	where, args := f.SQL(1)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM referrals r`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	sql := `SELECT ` + referralCols + referralFrom + where +
		fmt.Sprintf(` ORDER BY r.referral_date DESC, r.id LIMIT $%d OFFSET $%d`, n+1, n+2)
	items, err := r.list(ctx, sql, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *referralRepoPG) ListAll(ctx context.Context, f Filter) ([]*Referral, error) {
	where, args := f.SQL(1)
	return r.list(ctx, `SELECT `+referralCols+referralFrom+where+` ORDER BY r.referral_date DESC, r.id`, args...)
}

func (r *referralRepoPG) ListRecent(ctx context.Context, n int) ([]*Referral, error) {
	return r.list(ctx, `SELECT `+referralCols+referralFrom+` ORDER BY r.created_at DESC, r.id LIMIT $1`, n)
}

func (r *referralRepoPG) count(ctx context.Context, column string, id uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM referrals WHERE `+column+` = $1`, id).Scan(&n)
	return n, err
}

func (r *referralRepoPG) CountByPractice(ctx context.Context, practiceID uuid.UUID) (int, error) {
	return r.count(ctx, "practice_id", practiceID)
}

func (r *referralRepoPG) CountByLocation(ctx context.Context, locationID uuid.UUID) (int, error) {
	return r.count(ctx, "location_id", locationID)
}

func (r *referralRepoPG) CountByDoctor(ctx context.Context, doctorID uuid.UUID) (int, error) {
	return r.count(ctx, "doctor_id", doctorID)
}

// =========== Document Repository ===========

type documentRepoPG struct{ pool *pgxpool.Pool }

func NewDocumentRepoPG(pool *pgxpool.Pool) DocumentRepository { return &documentRepoPG{pool: pool} }

func (r *documentRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const documentCols = `id, referral_id, file_name, locator, file_size, content_type, uploaded_by, created_at`

func (r *documentRepoPG) scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.ReferralID, &d.FileName, &d.Locator, &d.FileSize, &d.ContentType, &d.UploadedBy, &d.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *documentRepoPG) Create(ctx context.Context, d *Document) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO referral_documents (id, referral_id, file_name, locator, file_size, content_type, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		d.ID, d.ReferralID, d.FileName, d.Locator, d.FileSize, d.ContentType, d.UploadedBy).Scan(&d.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperr.NotFound("Referral not found")
	}
	return err
}

func (r *documentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	return r.scanDocument(r.conn(ctx).QueryRow(ctx, `SELECT `+documentCols+` FROM referral_documents WHERE id = $1`, id))
}

func (r *documentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM referral_documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *documentRepoPG) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*Document, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+documentCols+` FROM referral_documents WHERE referral_id = $1 ORDER BY created_at DESC, id`, referralID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Document
	for rows.Next() {
		d, err := r.scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}
