package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/clinic/referrals/internal/domain/directory"
	"github.com/clinic/referrals/internal/domain/referral"
	"github.com/clinic/referrals/internal/platform/auth"
	"github.com/clinic/referrals/internal/platform/telemetry"
)

var tracer = telemetry.Tracer("github.com/clinic/referrals/internal/domain/reporting")

// ReferralSource is the subset of the referral repository reports read.
type ReferralSource interface {
	ListAll(ctx context.Context, f referral.Filter) ([]*referral.Referral, error)
	ListRecent(ctx context.Context, n int) ([]*referral.Referral, error)
}

type PracticeLister interface {
	List(ctx context.Context) ([]*directory.Practice, error)
}

type DoctorLister interface {
	List(ctx context.Context, f directory.DoctorFilter) ([]*directory.Doctor, error)
}

type Service struct {
	referrals ReferralSource
	practices PracticeLister
	doctors   DoctorLister
	policy    auth.Policy
	now       func() time.Time
}

func NewService(referrals ReferralSource, practices PracticeLister, doctors DoctorLister, policy auth.Policy) *Service {
	return &Service{
		referrals: referrals,
		practices: practices,
		doctors:   doctors,
		policy:    policy,
		now:       time.Now,
	}
}

func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceReport, auth.ActionRead); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "reporting.Dashboard")
	defer span.End()

	var all, recent []*referral.Referral
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		all, err = s.referrals.ListAll(gctx, referral.Filter{})
		return err
	})
	g.Go(func() (err error) {
		recent, err = s.referrals.ListRecent(gctx, RecentCount)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load dashboard: %w", err)
	}

	span.SetAttributes(attribute.Int("referral.total", len(all)))
	return BuildDashboard(all, recent), nil
}

func (s *Service) Report(ctx context.Context) (*Report, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceReport, auth.ActionRead); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "reporting.Report")
	defer span.End()

	var (
		all       []*referral.Referral
		practices []*directory.Practice
		doctors   []*directory.Doctor
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		all, err = s.referrals.ListAll(gctx, referral.Filter{})
		return err
	})
	g.Go(func() (err error) {
		practices, err = s.practices.List(gctx)
		return err
	})
	g.Go(func() (err error) {
		doctors, err = s.doctors.List(gctx, directory.DoctorFilter{})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}

	rankedPractices := make([]Ranked, 0, len(practices))
	for _, p := range practices {
		rankedPractices = append(rankedPractices, Ranked{ID: p.ID, Name: p.Name})
	}
	rankedDoctors := make([]Ranked, 0, len(doctors))
	for _, d := range doctors {
		rankedDoctors = append(rankedDoctors, Ranked{ID: d.ID, Name: d.DisplayName()})
	}

	now := s.now()
	report := BuildReport(all, rankedPractices, rankedDoctors, now)
	span.SetAttributes(attribute.Int("referral.total", report.Total))
	log.Ctx(ctx).Debug().Int("total", report.Total).Int("this_month", report.ThisMonth).Msg("report generated")
	return report, nil
}
