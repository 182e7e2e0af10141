package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/clinic/referrals/internal/platform/apperr"
	"github.com/clinic/referrals/internal/platform/auth"
	"github.com/clinic/referrals/internal/platform/db"
	"github.com/clinic/referrals/internal/platform/metrics"
	"github.com/clinic/referrals/internal/platform/telemetry"
)

var tracer = telemetry.Tracer("github.com/clinic/referrals/internal/domain/directory")

type Service struct {
	practices PracticeRepository
	locations LocationRepository
	doctors   DoctorRepository
	notes     NoteRepository
	referrals ReferralCounter
	tx        db.TxRunner
	policy    auth.Policy
	metrics   *metrics.Collector
	validate  *validator.Validate
}

func NewService(practices PracticeRepository, locations LocationRepository, doctors DoctorRepository, notes NoteRepository,
	referrals ReferralCounter, tx db.TxRunner, policy auth.Policy, m *metrics.Collector) *Service {
	return &Service{
		practices: practices,
		locations: locations,
		doctors:   doctors,
		notes:     notes,
		referrals: referrals,
		tx:        tx,
		policy:    policy,
		metrics:   m,
		validate:  validator.New(),
	}
}

// -- Practices --

func practiceFromInput(in PracticeInput) (*Practice, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Invalid("name", "Practice name is required")
	}
	return &Practice{
		Name:    name,
		Phone:   optional(in.Phone),
		Fax:     optional(in.Fax),
		Address: optional(in.Address),
	}, nil
}

func (s *Service) CreatePractice(ctx context.Context, in PracticeInput) (*Practice, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceDirectory, auth.ActionCreate); err != nil {
		return nil, err
	}
	p, err := practiceFromInput(in)
	if err != nil {
		return nil, err
	}
	if err := s.practices.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create practice: %w", err)
	}
	return p, nil
}

func (s *Service) UpdatePractice(ctx context.Context, id uuid.UUID, in PracticeInput) (*Practice, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceDirectory, auth.ActionUpdate); err != nil {
		return nil, err
	}
	p, err := practiceFromInput(in)
	if err != nil {
		return nil, err
	}
	p.ID = id
	if err := s.practices.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update practice: %w", err)
	}
	return p, nil
}

func (s *Service) DeletePractice(ctx context.Context, id uuid.UUID) error {
	if err := s.policy.Authorize(ctx, auth.ResourceDirectory, auth.ActionDelete); err != nil {
		return err
	}
	return s.guardDelete(ctx, "practice", id, s.referrals.CountByPractice, s.practices.Delete)
}

func (s *Service) GetPractice(ctx context.Context, id uuid.UUID) (*Practice, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceDirectory, auth.ActionRead); err != nil {
		return nil, err
	}
	return s.practices.GetByID(ctx, id)
}

// ListPractices returns every practice ordered by name with its locations and
// doctors attached.
func (s *Service) ListPractices(ctx context.Context) ([]*Practice, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceDirectory, auth.ActionRead); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "directory.ListPractices")
	defer span.End()

	var (
		practices []*Practice
		locations []*Location
		doctors   []*Doctor
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		practices, err = s.practices.List(gctx)
		return err
	})
	g.Go(func() (err error) {
		locations, err = s.locations.List(gctx)
		return err
	})
	g.Go(func() (err error) {
		doctors, err = s.doctors.List(gctx, DoctorFilter{})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("list practices: %w", err)
	}

	byID := make(map[uuid.UUID]*Practice, len(practices))
	for _, p := range practices {
		p.Locations = []*Location{}
		p.Doctors = []*Doctor{}
		byID[p.ID] = p
	}
	for _, l := range locations {
		if p, ok := byID[l.PracticeID]; ok {
			p.Locations = append(p.Locations, l)
		}
	}
	for _, d := range doctors {
		if p, ok := byID[d.PracticeID]; ok {
			p.Doctors = append(p.Doctors, d)
		}
	}
	span.SetAttributes(attribute.Int("directory.practices", len(practices)))
	return practices, nil
}

// -- Locations --

func (s *Service) locationFromInput(ctx context.Context, in LocationInput) (*Location, error) {
	verr := &apperr.ValidationError{}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		verr.Add("name", "Location name is required")
	}
	if in.PracticeID == uuid.Nil {
		verr.Add("practice_id", "Practice is required")
	} else if err := s.requirePractice(ctx, in.PracticeID, verr); err != nil {
		return nil, err
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return &Location{
		PracticeID: in.PracticeID,
		Name:       name,
		Phone:      optional(in.Phone),
		Fax:        optional(in.Fax),
		Address:    optional(in.Address),
	}, nil
}

func (s *Service) requirePractice(ctx context.Context, id uuid.UUID, verr *apperr.ValidationError) error {
	_, err := s.practices.GetByID(ctx, id)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		verr.Add("practice_id", "Practice not found")
		return nil
	case err != nil:
		return fmt.Errorf("load practice: %w", err)
	}
	return nil
}

func (s *Service) CreateLocation(ctx context.Context, in LocationInput) (*Location, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceDirectory, auth.ActionCreate); err != nil {
		return nil, err
	}
	l, err := s.locationFromInput(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.locations.Create(ctx, l); err != nil {
		return nil, fmt.Errorf("create location: %w", err)
	}
	return l, nil
}

// UpdateLocation overwrites a location. Moving it to another practice is
// refused while doctors of the old practice are affiliated with it.
func (s *Service) UpdateLocation(ctx context.Context, id uuid.UUID, in LocationInput) (*Location, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceDirectory, auth.ActionUpdate); err != nil {
		return nil, err
	}
	existing, err := s.locations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	l, err := s.locationFromInput(ctx, in)
	if err != nil {
		return nil, err
	}
	l.ID = id

	if existing.PracticeID != l.PracticeID {
		affiliated, err := s.doctors.List(ctx, DoctorFilter{LocationID: &id})
		if err != nil {
			return nil, fmt.Errorf("list affiliated doctors: %w", err)
		}
		stranded := 0
		for _, d := range affiliated {
			if d.PracticeID != l.PracticeID {
				stranded++
			}
		}
		if stranded > 0 {
			return nil, apperr.Invalid("practice_id",
				fmt.Sprintf("Location has %d affiliated provider(s) from its current practice", stranded))
		}
	}

	if err := s.locations.Update(ctx, l); err != nil {
		return nil, fmt.Errorf("update location: %w", err)
	}
	return l, nil
}

func (s *Service) DeleteLocation(ctx context.Context, id uuid.UUID) error {
	if err := s.policy.Authorize(ctx, auth.ResourceDirectory, auth.ActionDelete); err != nil {
		return err
	}
	return s.guardDelete(ctx, "location", id, s.referrals.CountByLocation, s.locations.Delete)
}

// -- Doctors --

func (s *Service) doctorFromInput(ctx context.Context, in DoctorInput) (*Doctor, error) {
	verr := &apperr.ValidationError{}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		verr.Add("name", "Provider name is required")
	}
	email := strings.TrimSpace(in.Email)
	if email != "" {
		if err := s.validate.Var(email, "email"); err != nil {
			verr.Add("email", "Invalid email")
		}
	}
	locationIDs := dedupe(in.LocationIDs)
	if in.PracticeID == uuid.Nil {
		verr.Add("practice_id", "Practice is required")
	} else {
		if err := s.requirePractice(ctx, in.PracticeID, verr); err != nil {
			return nil, err
		}
		if err := s.checkAffiliations(ctx, in.PracticeID, locationIDs, verr); err != nil {
			return nil, err
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return &Doctor{
		PracticeID:  in.PracticeID,
		Name:        name,
		Title:       optional(in.Title),
		NPI:         optional(in.NPI),
		Specialty:   optional(in.Specialty),
		Phone:       optional(in.Phone),
		Email:       optional(email),
		LocationIDs: locationIDs,
	}, nil
}

// checkAffiliations requires every location to exist and belong to practiceID.
func (s *Service) checkAffiliations(ctx context.Context, practiceID uuid.UUID, ids []uuid.UUID, verr *apperr.ValidationError) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := s.locations.ListByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load locations: %w", err)
	}
	if len(found) != len(ids) {
		verr.Add("location_ids", "Unknown location")
	}
	for _, l := range found {
		if l.PracticeID != practiceID {
			verr.Add("location_ids", fmt.Sprintf("Location %q does not belong to the selected practice", l.Name))
		}
	}
	return nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (s *Service) CreateDoctor(ctx context.Context, in DoctorInput) (*Doctor, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceDirectory, auth.ActionCreate); err != nil {
		return nil, err
	}
	d, err := s.doctorFromInput(ctx, in)
	if err != nil {
		return nil, err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.doctors.Create(ctx, d); err != nil {
			return err
		}
		return s.doctors.ReplaceLocations(ctx, d.ID, d.LocationIDs)
	})
	if err != nil {
		return nil, fmt.Errorf("create doctor: %w", err)
	}
	return d, nil
}

// UpdateDoctor overwrites the doctor and replaces its whole affiliation set
// in one transaction.
func (s *Service) UpdateDoctor(ctx context.Context, id uuid.UUID, in DoctorInput) (*Doctor, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceDirectory, auth.ActionUpdate); err != nil {
		return nil, err
	}
	d, err := s.doctorFromInput(ctx, in)
	if err != nil {
		return nil, err
	}
	d.ID = id
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.doctors.Update(ctx, d); err != nil {
			return err
		}
		return s.doctors.ReplaceLocations(ctx, d.ID, d.LocationIDs)
	})
	if err != nil {
		return nil, fmt.Errorf("update doctor: %w", err)
	}
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) DeleteDoctor(ctx context.Context, id uuid.UUID) error {
	if err := s.policy.Authorize(ctx, auth.ResourceDirectory, auth.ActionDelete); err != nil {
		return err
	}
	return s.guardDelete(ctx, "doctor", id, s.referrals.CountByDoctor, s.doctors.Delete)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceDirectory, auth.ActionRead); err != nil {
		return nil, err
	}
	return s.doctors.GetByID(ctx, id)
}

// ListDoctors returns the doctors of a practice, narrowed to those affiliated
// with a location when one is given.
func (s *Service) ListDoctors(ctx context.Context, f DoctorFilter) ([]*Doctor, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceDirectory, auth.ActionRead); err != nil {
		return nil, err
	}
	return s.doctors.List(ctx, f)
}

// GetDoctorDetail loads the doctor, then its practice, locations, notes and
// referral count concurrently.
func (s *Service) GetDoctorDetail(ctx context.Context, id uuid.UUID) (*DoctorDetail, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceDirectory, auth.ActionRead); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "directory.GetDoctorDetail", trace.WithAttributes(
		attribute.String("doctor.id", id.String()),
	))
	defer span.End()

	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &DoctorDetail{Doctor: d, Locations: []*Location{}, Notes: []*ProviderNote{}}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		detail.Practice, err = s.practices.GetByID(gctx, d.PracticeID)
		return err
	})
	g.Go(func() error {
		locs, err := s.locations.ListByIDs(gctx, d.LocationIDs)
		if err == nil && locs != nil {
			detail.Locations = locs
		}
		return err
	})
	g.Go(func() error {
		notes, err := s.notes.ListByDoctor(gctx, id)
		if err == nil && notes != nil {
			detail.Notes = notes
		}
		return err
	})
	g.Go(func() (err error) {
		detail.ReferralCount, err = s.referrals.CountByDoctor(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load doctor detail: %w", err)
	}
	return detail, nil
}

// -- Provider notes --

func noteContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperr.Invalid("content", "Note cannot be empty")
	}
	return content, nil
}

func (s *Service) CreateNote(ctx context.Context, doctorID uuid.UUID, content string) (*ProviderNote, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceNote, auth.ActionCreate); err != nil {
		return nil, err
	}
	content, err := noteContent(content)
	if err != nil {
		return nil, err
	}
	if _, err := s.doctors.GetByID(ctx, doctorID); err != nil {
		return nil, err
	}
	n := &ProviderNote{DoctorID: doctorID, Content: content}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		if id.UserID != uuid.Nil {
			uid := id.UserID
			n.CreatedBy = &uid
		}
		if id.Name != "" {
			name := id.Name
			n.CreatedByName = &name
		}
	}
	if err := s.notes.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	return n, nil
}

func (s *Service) UpdateNote(ctx context.Context, id uuid.UUID, content string) (*ProviderNote, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceNote, auth.ActionUpdate); err != nil {
		return nil, err
	}
	content, err := noteContent(content)
	if err != nil {
		return nil, err
	}
	n := &ProviderNote{ID: id, Content: content}
	if err := s.notes.Update(ctx, n); err != nil {
		return nil, fmt.Errorf("update note: %w", err)
	}
	return n, nil
}

func (s *Service) DeleteNote(ctx context.Context, id uuid.UUID) error {
	if err := s.policy.Authorize(ctx, auth.ResourceNote, auth.ActionDelete); err != nil {
		return err
	}
	if err := s.notes.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

func (s *Service) ListNotes(ctx context.Context, doctorID uuid.UUID) ([]*ProviderNote, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceNote, auth.ActionRead); err != nil {
		return nil, err
	}
	return s.notes.ListByDoctor(ctx, doctorID)
}

// -- Delete guard --

// guardDelete refuses to delete an entity that referrals still reference.
// The repository repeats the check atomically, so a referral created after
// the count still blocks the delete.
func (s *Service) guardDelete(ctx context.Context, entity string, id uuid.UUID,
	count func(context.Context, uuid.UUID) (int, error), del func(context.Context, uuid.UUID) error) error {
	n, err := count(ctx, id)
	if err != nil {
		return fmt.Errorf("count referrals for %s: %w", entity, err)
	}
	if n > 0 {
		s.metrics.DeleteBlocked(entity)
		return &apperr.ReferencedEntityError{Entity: entity, Count: n}
	}
	if err := del(ctx, id); err != nil {
		var ref *apperr.ReferencedEntityError
		if errors.As(err, &ref) {
			s.metrics.DeleteBlocked(entity)
			return err
		}
		return fmt.Errorf("delete %s: %w", entity, err)
	}
	return nil
}
