package directory

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

// deleteUnreferenced removes one row from table unless a referral points at
// it through fk. The NOT EXISTS guard and the RESTRICT foreign keys close the
// window between counting and deleting.
func deleteUnreferenced(ctx context.Context, q db.Querier, entity, table, fk, linkedSQL string, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1
		AND NOT EXISTS (SELECT 1 FROM referrals WHERE `+fk+` = $1)`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			var n int
			if cerr := q.QueryRow(ctx, linkedSQL, id).Scan(&n); cerr != nil {
				return fmt.Errorf("count referrals linked to %s: %w", entity, cerr)
			}
			return &apperr.ReferencedEntityError{Entity: entity, Count: n}
		}
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var (
		exists bool
		n      int
	)
	err = q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1),
		(SELECT COUNT(*) FROM referrals WHERE `+fk+` = $1)`, id).Scan(&exists, &n)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.ErrNotFound
	}
	return &apperr.ReferencedEntityError{Entity: entity, Count: n}
}

// =========== Practice Repository ===========

type practiceRepoPG struct{ pool *pgxpool.Pool }

func NewPracticeRepoPG(pool *pgxpool.Pool) PracticeRepository { return &practiceRepoPG{pool: pool} }

func (r *practiceRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const practiceCols = `id, name, phone, fax, address, created_at, updated_at`

func (r *practiceRepoPG) scanPractice(row pgx.Row) (*Practice, error) {
	var p Practice
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.Fax, &p.Address, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *practiceRepoPG) Create(ctx context.Context, p *Practice) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO practices (id, name, phone, fax, address)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Phone, p.Fax, p.Address).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *practiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Practice, error) {
	return r.scanPractice(r.conn(ctx).QueryRow(ctx, `SELECT `+practiceCols+` FROM practices WHERE id = $1`, id))
}

func (r *practiceRepoPG) Update(ctx context.Context, p *Practice) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE practices SET name = $2, phone = $3, fax = $4, address = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Phone, p.Fax, p.Address).Scan(&p.CreatedAt, &p.UpdatedAt)
	return notFound(err)
}

const practiceLinkedSQL = `SELECT COUNT(*) FROM referrals r
	WHERE r.practice_id = $1
	   OR r.location_id IN (SELECT id FROM practice_locations WHERE practice_id = $1)
	   OR r.doctor_id IN (SELECT id FROM referring_doctors WHERE practice_id = $1)`

func (r *practiceRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return deleteUnreferenced(ctx, r.conn(ctx), "practice", "practices", "practice_id", practiceLinkedSQL, id)
}

func (r *practiceRepoPG) List(ctx context.Context) ([]*Practice, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+practiceCols+` FROM practices ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Practice
	for rows.Next() {
		p, err := r.scanPractice(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// =========== Location Repository ===========

type locationRepoPG struct{ pool *pgxpool.Pool }

func NewLocationRepoPG(pool *pgxpool.Pool) LocationRepository { return &locationRepoPG{pool: pool} }

func (r *locationRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const locationCols = `id, practice_id, name, phone, fax, address, created_at, updated_at`

func (r *locationRepoPG) scanLocation(row pgx.Row) (*Location, error) {
	var l Location
	err := row.Scan(&l.ID, &l.PracticeID, &l.Name, &l.Phone, &l.Fax, &l.Address, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (r *locationRepoPG) Create(ctx context.Context, l *Location) error {
	l.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO practice_locations (id, practice_id, name, phone, fax, address)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		l.ID, l.PracticeID, l.Name, l.Phone, l.Fax, l.Address).Scan(&l.CreatedAt, &l.UpdatedAt)
}

func (r *locationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Location, error) {
	return r.scanLocation(r.conn(ctx).QueryRow(ctx, `SELECT `+locationCols+` FROM practice_locations WHERE id = $1`, id))
}

func (r *locationRepoPG) Update(ctx context.Context, l *Location) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE practice_locations SET practice_id = $2, name = $3, phone = $4, fax = $5, address = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		l.ID, l.PracticeID, l.Name, l.Phone, l.Fax, l.Address).Scan(&l.CreatedAt, &l.UpdatedAt)
	return notFound(err)
}

func (r *locationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return deleteUnreferenced(ctx, r.conn(ctx), "location", "practice_locations", "location_id",
		`SELECT COUNT(*) FROM referrals WHERE location_id = $1`, id)
}

func (r *locationRepoPG) List(ctx context.Context) ([]*Location, error) {
	return r.query(ctx, `SELECT `+locationCols+` FROM practice_locations ORDER BY name, id`)
}

func (r *locationRepoPG) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*Location, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.query(ctx, `SELECT `+locationCols+` FROM practice_locations WHERE id = ANY($1) ORDER BY name, id`, ids)
}

func (r *locationRepoPG) query(ctx context.Context, sql string, args ...any) ([]*Location, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Location
	for rows.Next() {
		l, err := r.scanLocation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const doctorCols = `d.id, d.practice_id, d.name, d.title, d.npi, d.specialty, d.phone, d.email,
	d.created_at, d.updated_at,
	COALESCE((SELECT array_agg(dl.location_id ORDER BY dl.location_id)
		FROM doctor_locations dl WHERE dl.doctor_id = d.id), '{}'::uuid[]),
	(SELECT COUNT(*) FROM referrals rf WHERE rf.doctor_id = d.id)`

func (r *doctorRepoPG) scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.PracticeID, &d.Name, &d.Title, &d.NPI, &d.Specialty, &d.Phone, &d.Email,
		&d.CreatedAt, &d.UpdatedAt, &d.LocationIDs, &d.ReferralCount)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO referring_doctors (id, practice_id, name, title, npi, specialty, phone, email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		d.ID, d.PracticeID, d.Name, d.Title, d.NPI, d.Specialty, d.Phone, d.Email).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return r.scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM referring_doctors d WHERE d.id = $1`, id))
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE referring_doctors SET practice_id = $2, name = $3, title = $4, npi = $5,
			specialty = $6, phone = $7, email = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		d.ID, d.PracticeID, d.Name, d.Title, d.NPI, d.Specialty, d.Phone, d.Email).Scan(&d.CreatedAt, &d.UpdatedAt)
	return notFound(err)
}

func (r *doctorRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return deleteUnreferenced(ctx, r.conn(ctx), "doctor", "referring_doctors", "doctor_id",
		`SELECT COUNT(*) FROM referrals WHERE doctor_id = $1`, id)
}

func (r *doctorRepoPG) List(ctx context.Context, f DoctorFilter) ([]*Doctor, error) {
	sql := `SELECT ` + doctorCols + ` FROM referring_doctors d WHERE 1=1`
	var args []any
	if f.PracticeID != nil {
		args = append(args, *f.PracticeID)
		sql += fmt.Sprintf(" AND d.practice_id = $%d", len(args))
	}
	if f.LocationID != nil {
		args = append(args, *f.LocationID)
		sql += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM doctor_locations x WHERE x.doctor_id = d.id AND x.location_id = $%d)", len(args))
	}
	sql += " ORDER BY d.name, d.id"

	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := r.scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *doctorRepoPG) ReplaceLocations(ctx context.Context, doctorID uuid.UUID, locationIDs []uuid.UUID) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor_locations WHERE doctor_id = $1`, doctorID); err != nil {
		return err
	}
	for _, locID := range locationIDs {
		if _, err := r.conn(ctx).Exec(ctx,
			`INSERT INTO doctor_locations (doctor_id, location_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			doctorID, locID); err != nil {
			return err
		}
	}
	return nil
}

// =========== Provider Note Repository ===========

type noteRepoPG struct{ pool *pgxpool.Pool }

func NewNoteRepoPG(pool *pgxpool.Pool) NoteRepository { return &noteRepoPG{pool: pool} }

func (r *noteRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const noteCols = `n.id, n.doctor_id, n.content, n.created_by, u.name, n.created_at, n.updated_at`

const noteFrom = ` FROM provider_notes n LEFT JOIN users u ON u.id = n.created_by`

func (r *noteRepoPG) scanNote(row pgx.Row) (*ProviderNote, error) {
	var n ProviderNote
	err := row.Scan(&n.ID, &n.DoctorID, &n.Content, &n.CreatedBy, &n.CreatedByName, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

func (r *noteRepoPG) Create(ctx context.Context, n *ProviderNote) error {
	n.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO provider_notes (id, doctor_id, content, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		n.ID, n.DoctorID, n.Content, n.CreatedBy).Scan(&n.CreatedAt, &n.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperr.ErrNotFound
	}
	return err
}

func (r *noteRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ProviderNote, error) {
	return r.scanNote(r.conn(ctx).QueryRow(ctx, `SELECT `+noteCols+noteFrom+` WHERE n.id = $1`, id))
}

func (r *noteRepoPG) Update(ctx context.Context, n *ProviderNote) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE provider_notes SET content = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING doctor_id, created_by, created_at, updated_at`,
		n.ID, n.Content).Scan(&n.DoctorID, &n.CreatedBy, &n.CreatedAt, &n.UpdatedAt)
	return notFound(err)
}

func (r *noteRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM provider_notes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *noteRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*ProviderNote, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+noteCols+noteFrom+` WHERE n.doctor_id = $1 ORDER BY n.created_at DESC, n.id`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ProviderNote
	for rows.Next() {
		n, err := r.scanNote(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}
