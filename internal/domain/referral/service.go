package referral

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/clinic/referrals/internal/platform/apperr"
	"github.com/clinic/referrals/internal/platform/auth"
	"github.com/clinic/referrals/internal/platform/blobstore"
	"github.com/clinic/referrals/internal/platform/db"
	"github.com/clinic/referrals/internal/platform/metrics"
	"github.com/clinic/referrals/internal/platform/telemetry"
	"github.com/clinic/referrals/pkg/pagination"
)

var tracer = telemetry.Tracer("github.com/clinic/referrals/internal/domain/referral")

type Service struct {
	referrals Repository
	documents DocumentRepository
	blobs     blobstore.Store
	tx        db.TxRunner
	policy    auth.Policy
	metrics   *metrics.Collector
	validate  *validator.Validate
	now       func() time.Time
}

func NewService(referrals Repository, documents DocumentRepository, blobs blobstore.Store, tx db.TxRunner,
	policy auth.Policy, m *metrics.Collector) *Service {
	return &Service{
		referrals: referrals,
		documents: documents,
		blobs:     blobs,
		tx:        tx,
		policy:    policy,
		metrics:   m,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// fromInput validates in and builds the referral it describes. Unparseable
// optional dates become nil; an unparseable referral date becomes now.
func (s *Service) fromInput(in Input) (*Referral, error) {
	verr := &apperr.ValidationError{}

	first := strings.TrimSpace(in.PatientFirstName)
	if first == "" {
		verr.Add("patient_first_name", "First name is required")
	}
	last := strings.TrimSpace(in.PatientLastName)
	if last == "" {
		verr.Add("patient_last_name", "Last name is required")
	}
	email := strings.TrimSpace(in.PatientEmail)
	if email != "" {
		if err := s.validate.Var(email, "email"); err != nil {
			verr.Add("patient_email", "Invalid email")
		}
	}

	status := StatusNew
	if strings.TrimSpace(in.Status) != "" {
		parsed, ok := ParseStatus(in.Status)
		if !ok {
			verr.Add("status", "Invalid status")
		}
		status = parsed
	}

	var referralDate time.Time
	if strings.TrimSpace(in.ReferralDate) == "" {
		verr.Add("referral_date", "Referral date is required")
	} else if d := parseDate(in.ReferralDate); d != nil {
		referralDate = *d
	} else {
		referralDate = Calendar(s.now())
	}

	practiceID := parseOptionalID(verr, "practice_id", in.PracticeID)
	locationID := parseOptionalID(verr, "location_id", in.LocationID)
	doctorID := parseOptionalID(verr, "doctor_id", in.DoctorID)

	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return &Referral{
		PatientFirstName:    first,
		PatientLastName:     last,
		PatientMRN:          optional(in.PatientMRN),
		PatientPhone:        optional(in.PatientPhone),
		PatientEmail:        optional(email),
		PatientDOB:          parseDate(in.PatientDOB),
		PracticeID:          practiceID,
		LocationID:          locationID,
		DoctorID:            doctorID,
		ReferringDoctorName: optional(in.ReferringDoctorName),
		Status:              status,
		ReferralDate:        referralDate,
		AppointmentDate:     parseDate(in.AppointmentDate),
		InsuranceProvider:   optional(in.InsuranceProvider),
		InsuranceMemberID:   optional(in.InsuranceMemberID),
		InsuranceGroup:      optional(in.InsuranceGroup),
		AuthStatus:          optional(in.AuthStatus),
		Notes:               optional(in.Notes),
	}, nil
}

func parseOptionalID(verr *apperr.ValidationError, field, raw string) *uuid.UUID {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		verr.Add(field, "Invalid id")
		return nil
	}
	return &id
}

// callerID is the authenticated user's id, or nil for the development
// identity, which has no users row.
func callerID(ctx context.Context) *uuid.UUID {
	id := auth.UserIDFromContext(ctx)
	if id == uuid.Nil {
		return nil
	}
	return &id
}

// -- Referrals --

func (s *Service) Create(ctx context.Context, in Input) (*Referral, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceReferral, auth.ActionCreate); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "referral.Create")
	defer span.End()

	ref, err := s.fromInput(in)
	if err != nil {
		return nil, err
	}
	ref.CreatedBy = callerID(ctx)
	if err := s.referrals.Create(ctx, ref); err != nil {
		return nil, fmt.Errorf("create referral: %w", err)
	}
	s.metrics.ReferralCreated()
	span.SetAttributes(attribute.String("referral.id", ref.ID.String()))
	log.Ctx(ctx).Info().Str("referral_id", ref.ID.String()).Str("status", string(ref.Status)).Msg("referral created")
	return ref, nil
}

// Get returns the referral with its joined directory names and documents.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Referral, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceReferral, auth.ActionRead); err != nil {
		return nil, err
	}
	var (
		ref  *Referral
		docs []*Document
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		ref, err = s.referrals.GetByID(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		docs, err = s.documents.ListByReferral(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("get referral: %w", err)
	}
	ref.Documents = docs
	if ref.Documents == nil {
		ref.Documents = []*Document{}
	}
	return ref, nil
}

// Update overwrites every field of the referral.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in Input) (*Referral, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceReferral, auth.ActionUpdate); err != nil {
		return nil, err
	}
	ref, err := s.fromInput(in)
	if err != nil {
		return nil, err
	}
	ref.ID = id
	if err := s.referrals.Update(ctx, ref); err != nil {
		return nil, fmt.Errorf("update referral: %w", err)
	}
	return s.referrals.GetByID(ctx, id)
}

func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, raw string) error {
	if err := s.policy.Authorize(ctx, auth.ResourceReferral, auth.ActionUpdate); err != nil {
		return err
	}
	status, ok := ParseStatus(raw)
	if !ok {
		return apperr.Invalid("status", "Invalid status")
	}
	if err := s.referrals.UpdateStatus(ctx, id, status); err != nil {
		return fmt.Errorf("update referral status: %w", err)
	}
	s.metrics.StatusChanged(string(status))
	log.Ctx(ctx).Info().Str("referral_id", id.String()).Str("status", string(status)).Msg("referral status changed")
	return nil
}

// UpdateNotes replaces the notes. Blank text clears them.
func (s *Service) UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error {
	if err := s.policy.Authorize(ctx, auth.ResourceReferral, auth.ActionUpdate); err != nil {
		return err
	}
	var value *string
	if strings.TrimSpace(notes) != "" {
		value = &notes
	}
	if err := s.referrals.UpdateNotes(ctx, id, value); err != nil {
		return fmt.Errorf("update referral notes: %w", err)
	}
	return nil
}

// Delete removes the referral and its document rows in one transaction, then
// removes the stored files. File removal failures are logged and ignored.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.policy.Authorize(ctx, auth.ResourceReferral, auth.ActionDelete); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "referral.Delete", trace.WithAttributes(attribute.String("referral.id", id.String())))
	defer span.End()

	var docs []*Document
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if docs, err = s.documents.ListByReferral(ctx, id); err != nil {
			return err
		}
		return s.referrals.Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete referral: %w", err)
	}

	for _, d := range docs {
		s.removeBlob(ctx, d)
	}
	log.Ctx(ctx).Info().Str("referral_id", id.String()).Int("documents", len(docs)).Msg("referral deleted")
	return nil
}

func (s *Service) removeBlob(ctx context.Context, d *Document) {
	if err := s.blobs.Delete(ctx, d.Locator); err != nil {
		s.metrics.BlobDeleteFailed()
		log.Ctx(ctx).Warn().Err(err).
			Str("document_id", d.ID.String()).
			Str("locator", d.Locator).
			Msg("failed to remove stored document")
	}
}

// List returns one page of referrals matching f and the total match count.
func (s *Service) List(ctx context.Context, f Filter, p pagination.Params) ([]*Referral, int, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceReferral, auth.ActionRead); err != nil {
		return nil, 0, err
	}
	ctx, span := tracer.Start(ctx, "referral.List")
	defer span.End()

	items, total, err := s.referrals.Search(ctx, f, p.Limit(), p.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list referrals: %w", err)
	}
	span.SetAttributes(attribute.Int("referral.total", total), attribute.Int("page", p.Page))
	return items, total, nil
}

// Export returns every referral matching the status and date criteria of f.
func (s *Service) Export(ctx context.Context, f Filter) ([]*Referral, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceReferral, auth.ActionRead); err != nil {
		return nil, err
	}
	items, err := s.referrals.ListAll(ctx, f.ExportOnly())
	if err != nil {
		return nil, fmt.Errorf("export referrals: %w", err)
	}
	return items, nil
}

// -- Documents --

// UploadDocument validates the file, stores it and records it against the
// referral.
func (s *Service) UploadDocument(ctx context.Context, referralID uuid.UUID, fileName, contentType string, size int64, body io.Reader) (*Document, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceDocument, auth.ActionCreate); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "referral.UploadDocument", trace.WithAttributes(
		attribute.String("referral.id", referralID.String()),
		attribute.Int64("document.size", size),
	))
	defer span.End()

	up, err := blobstore.PrepareUpload(body, contentType, size)
	if err != nil {
		return nil, err
	}
	if _, err := s.referrals.GetByID(ctx, referralID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("Referral not found")
		}
		return nil, fmt.Errorf("load referral: %w", err)
	}

	key := blobstore.DocumentKey(referralID.String(), s.now(), fileName)
	locator, err := s.blobs.Put(ctx, key, up.Body, up.Size, up.ContentType)
	if err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	doc := &Document{
		ReferralID:  referralID,
		FileName:    fileName,
		Locator:     locator,
		FileSize:    up.Size,
		ContentType: up.ContentType,
		UploadedBy:  callerID(ctx),
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		s.removeBlob(ctx, doc)
		return nil, fmt.Errorf("record document: %w", err)
	}
	s.metrics.DocumentUploaded()
	span.SetAttributes(attribute.String("document.content_type", doc.ContentType))
	return doc, nil
}

func (s *Service) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceDocument, auth.ActionRead); err != nil {
		return nil, err
	}
	return s.documents.GetByID(ctx, id)
}

// OpenDocument returns the document and a reader over its bytes. The caller
// closes the reader.
func (s *Service) OpenDocument(ctx context.Context, id uuid.UUID) (*Document, io.ReadCloser, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Open(ctx, doc.Locator)
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return nil, nil, apperr.NotFound("File not found")
		}
		return nil, nil, fmt.Errorf("open document: %w", err)
	}
	return doc, rc, nil
}

// DeleteDocument removes the stored file, best effort, then the row.
func (s *Service) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	if err := s.policy.Authorize(ctx, auth.ResourceDocument, auth.ActionDelete); err != nil {
		return err
	}
	doc, err := s.documents.GetByID(ctx, id)
	if err != nil {
		return err
	}
	s.removeBlob(ctx, doc)
	if err := s.documents.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}
