package directory

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/clinic/referrals/internal/platform/apperr"
	"github.com/clinic/referrals/internal/platform/auth"
	"github.com/clinic/referrals/internal/platform/db"
	"github.com/clinic/referrals/internal/platform/metrics"
)

// -- In-memory store shared by the mock repositories --

type memStore struct {
	practices map[uuid.UUID]*Practice
	locations map[uuid.UUID]*Location
	doctors   map[uuid.UUID]*Doctor
	notes     map[uuid.UUID]*ProviderNote

	// referral foreign keys, one entry per referral
	refPractice []uuid.UUID
	refLocation []uuid.UUID
	refDoctor   []uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		practices: make(map[uuid.UUID]*Practice),
		locations: make(map[uuid.UUID]*Location),
		doctors:   make(map[uuid.UUID]*Doctor),
		notes:     make(map[uuid.UUID]*ProviderNote),
	}
}

func countOf(ids []uuid.UUID, id uuid.UUID) int {
	n := 0
	for _, x := range ids {
		if x == id {
			n++
		}
	}
	return n
}

// addReferral records a referral pointing at the given entities.
func (s *memStore) addReferral(practiceID, locationID, doctorID uuid.UUID) {
	s.refPractice = append(s.refPractice, practiceID)
	s.refLocation = append(s.refLocation, locationID)
	s.refDoctor = append(s.refDoctor, doctorID)
}

type mockPracticeRepo struct{ s *memStore }

func (m *mockPracticeRepo) Create(_ context.Context, p *Practice) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.s.practices[p.ID] = p
	return nil
}

func (m *mockPracticeRepo) GetByID(_ context.Context, id uuid.UUID) (*Practice, error) {
	p, ok := m.s.practices[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return p, nil
}

func (m *mockPracticeRepo) Update(_ context.Context, p *Practice) error {
	if _, ok := m.s.practices[p.ID]; !ok {
		return apperr.ErrNotFound
	}
	m.s.practices[p.ID] = p
	return nil
}

func (m *mockPracticeRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.s.practices[id]; !ok {
		return apperr.ErrNotFound
	}
	if n := countOf(m.s.refPractice, id); n > 0 {
		return &apperr.ReferencedEntityError{Entity: "practice", Count: n}
	}
	delete(m.s.practices, id)
	return nil
}

func (m *mockPracticeRepo) List(_ context.Context) ([]*Practice, error) {
	var out []*Practice
	for _, p := range m.s.practices {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type mockLocationRepo struct{ s *memStore }

func (m *mockLocationRepo) Create(_ context.Context, l *Location) error {
	l.ID = uuid.New()
	m.s.locations[l.ID] = l
	return nil
}

func (m *mockLocationRepo) GetByID(_ context.Context, id uuid.UUID) (*Location, error) {
	l, ok := m.s.locations[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return l, nil
}

func (m *mockLocationRepo) Update(_ context.Context, l *Location) error {
	if _, ok := m.s.locations[l.ID]; !ok {
		return apperr.ErrNotFound
	}
	m.s.locations[l.ID] = l
	return nil
}

func (m *mockLocationRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.s.locations[id]; !ok {
		return apperr.ErrNotFound
	}
	if n := countOf(m.s.refLocation, id); n > 0 {
		return &apperr.ReferencedEntityError{Entity: "location", Count: n}
	}
	delete(m.s.locations, id)
	return nil
}

func (m *mockLocationRepo) List(_ context.Context) ([]*Location, error) {
	var out []*Location
	for _, l := range m.s.locations {
		out = append(out, l)
	}
	return out, nil
}

func (m *mockLocationRepo) ListByIDs(_ context.Context, ids []uuid.UUID) ([]*Location, error) {
	var out []*Location
	for _, id := range ids {
		if l, ok := m.s.locations[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

type mockDoctorRepo struct{ s *memStore }

func (m *mockDoctorRepo) Create(_ context.Context, d *Doctor) error {
	d.ID = uuid.New()
	cp := *d
	m.s.doctors[d.ID] = &cp
	return nil
}

func (m *mockDoctorRepo) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	d, ok := m.s.doctors[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *d
	cp.ReferralCount = countOf(m.s.refDoctor, id)
	return &cp, nil
}

func (m *mockDoctorRepo) Update(_ context.Context, d *Doctor) error {
	existing, ok := m.s.doctors[d.ID]
	if !ok {
		return apperr.ErrNotFound
	}
	cp := *d
	cp.LocationIDs = existing.LocationIDs
	m.s.doctors[d.ID] = &cp
	return nil
}

func (m *mockDoctorRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.s.doctors[id]; !ok {
		return apperr.ErrNotFound
	}
	if n := countOf(m.s.refDoctor, id); n > 0 {
		return &apperr.ReferencedEntityError{Entity: "doctor", Count: n}
	}
	delete(m.s.doctors, id)
	for nid, n := range m.s.notes {
		if n.DoctorID == id {
			delete(m.s.notes, nid)
		}
	}
	return nil
}

func (m *mockDoctorRepo) List(_ context.Context, f DoctorFilter) ([]*Doctor, error) {
	var out []*Doctor
	for _, d := range m.s.doctors {
		if f.Matches(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockDoctorRepo) ReplaceLocations(_ context.Context, doctorID uuid.UUID, locationIDs []uuid.UUID) error {
	d, ok := m.s.doctors[doctorID]
	if !ok {
		return apperr.ErrNotFound
	}
	d.LocationIDs = append([]uuid.UUID(nil), locationIDs...)
	return nil
}

type mockNoteRepo struct{ s *memStore }

func (m *mockNoteRepo) Create(_ context.Context, n *ProviderNote) error {
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt
	m.s.notes[n.ID] = n
	return nil
}

func (m *mockNoteRepo) GetByID(_ context.Context, id uuid.UUID) (*ProviderNote, error) {
	n, ok := m.s.notes[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return n, nil
}

func (m *mockNoteRepo) Update(_ context.Context, n *ProviderNote) error {
	existing, ok := m.s.notes[n.ID]
	if !ok {
		return apperr.ErrNotFound
	}
	existing.Content = n.Content
	existing.UpdatedAt = time.Now()
	*n = *existing
	return nil
}

func (m *mockNoteRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.s.notes[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(m.s.notes, id)
	return nil
}

func (m *mockNoteRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]*ProviderNote, error) {
	var out []*ProviderNote
	for _, n := range m.s.notes {
		if n.DoctorID == doctorID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type mockCounter struct {
	s *memStore
	// stale makes every count report zero, as if a referral was created
	// between the count and the delete.
	stale bool
}

func (m *mockCounter) CountByPractice(_ context.Context, id uuid.UUID) (int, error) {
	if m.stale {
		return 0, nil
	}
	return countOf(m.s.refPractice, id), nil
}

func (m *mockCounter) CountByLocation(_ context.Context, id uuid.UUID) (int, error) {
	if m.stale {
		return 0, nil
	}
	return countOf(m.s.refLocation, id), nil
}

func (m *mockCounter) CountByDoctor(_ context.Context, id uuid.UUID) (int, error) {
	if m.stale {
		return 0, nil
	}
	return countOf(m.s.refDoctor, id), nil
}

type testEnv struct {
	svc     *Service
	store   *memStore
	counter *mockCounter
	metrics *metrics.Collector
}

func newTestEnv() *testEnv {
	s := newMemStore()
	counter := &mockCounter{s: s}
	m := metrics.NewCollector("test")
	svc := NewService(&mockPracticeRepo{s}, &mockLocationRepo{s}, &mockDoctorRepo{s}, &mockNoteRepo{s},
		counter, db.NoTx{}, auth.AllowAll{}, m)
	return &testEnv{svc: svc, store: s, counter: counter, metrics: m}
}

func staffCtx() context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{
		UserID: uuid.New(),
		Name:   "Sam Staff",
		Role:   auth.RoleStaff,
	})
}

func (e *testEnv) mustPractice(t *testing.T, name string) *Practice {
	t.Helper()
	p, err := e.svc.CreatePractice(staffCtx(), PracticeInput{Name: name})
	if err != nil {
		t.Fatalf("create practice: %v", err)
	}
	return p
}

func (e *testEnv) mustLocation(t *testing.T, practiceID uuid.UUID, name string) *Location {
	t.Helper()
	l, err := e.svc.CreateLocation(staffCtx(), LocationInput{PracticeID: practiceID, Name: name})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	return l
}

func (e *testEnv) mustDoctor(t *testing.T, practiceID uuid.UUID, name string, locs ...uuid.UUID) *Doctor {
	t.Helper()
	d, err := e.svc.CreateDoctor(staffCtx(), DoctorInput{PracticeID: practiceID, Name: name, LocationIDs: locs})
	if err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	return d
}

func fieldErrors(t *testing.T, err error) map[string][]string {
	t.Helper()
	var verr *apperr.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	return verr.Fields
}

// -- Practice Tests --

func TestCreatePractice_TrimsAndNormalises(t *testing.T) {
	e := newTestEnv()
	p, err := e.svc.CreatePractice(staffCtx(), PracticeInput{Name: "  Valley Family Medicine ", Phone: " ", Fax: "555-0101"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Valley Family Medicine" {
		t.Errorf("name not trimmed: %q", p.Name)
	}
	if p.Phone != nil {
		t.Errorf("blank phone should be nil, got %q", *p.Phone)
	}
	if p.Fax == nil || *p.Fax != "555-0101" {
		t.Errorf("unexpected fax %v", p.Fax)
	}
}

func TestCreatePractice_NameRequired(t *testing.T) {
	e := newTestEnv()
	_, err := e.svc.CreatePractice(staffCtx(), PracticeInput{Name: "   "})
	fields := fieldErrors(t, err)
	if len(fields["name"]) != 1 || fields["name"][0] != "Practice name is required" {
		t.Errorf("unexpected fields %v", fields)
	}
}

func TestCreatePractice_Unauthenticated(t *testing.T) {
	e := newTestEnv()
	_, err := e.svc.CreatePractice(context.Background(), PracticeInput{Name: "X"})
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(e.store.practices) != 0 {
		t.Error("nothing should be persisted for an unauthenticated caller")
	}
}

func TestUpdatePractice_NotFound(t *testing.T) {
	e := newTestEnv()
	_, err := e.svc.UpdatePractice(staffCtx(), uuid.New(), PracticeInput{Name: "X"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPractices_AttachesLocationsAndDoctors(t *testing.T) {
	e := newTestEnv()
	b := e.mustPractice(t, "Bayside Clinic")
	a := e.mustPractice(t, "Alder Health")
	loc := e.mustLocation(t, a.ID, "Main St")
	e.mustDoctor(t, a.ID, "Jane Smith", loc.ID)
	e.mustDoctor(t, b.ID, "Raj Patel")

	items, err := e.svc.ListPractices(staffCtx())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[0].Name != "Alder Health" {
		t.Fatalf("expected practices ordered by name, got %v", items)
	}
	if len(items[0].Locations) != 1 || len(items[0].Doctors) != 1 {
		t.Errorf("Alder Health: %d locations, %d doctors", len(items[0].Locations), len(items[0].Doctors))
	}
	if len(items[1].Locations) != 0 || len(items[1].Doctors) != 1 {
		t.Errorf("Bayside Clinic: %d locations, %d doctors", len(items[1].Locations), len(items[1].Doctors))
	}
}

// -- Delete guard Tests --

func TestDeletePractice_Referenced(t *testing.T) {
	e := newTestEnv()
	p := e.mustPractice(t, "Busy Practice")
	for i := 0; i < 3; i++ {
		e.store.addReferral(p.ID, uuid.Nil, uuid.Nil)
	}

	err := e.svc.DeletePractice(staffCtx(), p.ID)
	var ref *apperr.ReferencedEntityError
	if !errors.As(err, &ref) {
		t.Fatalf("expected ReferencedEntityError, got %v", err)
	}
	if ref.Entity != "practice" || ref.Count != 3 {
		t.Errorf("unexpected error %+v", ref)
	}
	if err.Error() != "cannot delete: this practice has 3 referral(s) linked to it" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if _, ok := e.store.practices[p.ID]; !ok {
		t.Error("referenced practice must not be deleted")
	}
	if got := testutil.ToFloat64(e.metrics.DeletesBlocked.WithLabelValues("practice")); got != 1 {
		t.Errorf("expected 1 blocked delete, got %v", got)
	}
}

func TestDeletePractice_Unreferenced(t *testing.T) {
	e := newTestEnv()
	p := e.mustPractice(t, "Quiet Practice")

	if err := e.svc.DeletePractice(staffCtx(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.svc.GetPractice(staffCtx(), p.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("deleted practice should be unreadable, got %v", err)
	}
}

func TestDeleteLocation_Referenced(t *testing.T) {
	e := newTestEnv()
	p := e.mustPractice(t, "P")
	l := e.mustLocation(t, p.ID, "North")
	e.store.addReferral(p.ID, l.ID, uuid.Nil)

	err := e.svc.DeleteLocation(staffCtx(), l.ID)
	var ref *apperr.ReferencedEntityError
	if !errors.As(err, &ref) || ref.Entity != "location" || ref.Count != 1 {
		t.Fatalf("expected location referenced by 1 referral, got %v", err)
	}
}

func TestDeleteDoctor_ReferencedThenFreed(t *testing.T) {
	e := newTestEnv()
	p := e.mustPractice(t, "P")
	d := e.mustDoctor(t, p.ID, "Dr Who")
	e.store.addReferral(p.ID, uuid.Nil, d.ID)
	e.store.addReferral(p.ID, uuid.Nil, d.ID)

	err := e.svc.DeleteDoctor(staffCtx(), d.ID)
	var ref *apperr.ReferencedEntityError
	if !errors.As(err, &ref) || ref.Count != 2 {
		t.Fatalf("expected doctor referenced by 2 referrals, got %v", err)
	}

	e.store.refDoctor = nil
	if err := e.svc.DeleteDoctor(staffCtx(), d.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.svc.GetDoctor(staffCtx(), d.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("deleted doctor should be unreadable, got %v", err)
	}
}

func TestDelete_ReferralCreatedAfterCount(t *testing.T) {
	e := newTestEnv()
	p := e.mustPractice(t, "P")
	e.store.addReferral(p.ID, uuid.Nil, uuid.Nil)
	e.counter.stale = true

	err := e.svc.DeletePractice(staffCtx(), p.ID)
	var ref *apperr.ReferencedEntityError
	if !errors.As(err, &ref) {
		t.Fatalf("repository guard should refuse the delete, got %v", err)
	}
	if got := testutil.ToFloat64(e.metrics.DeletesBlocked.WithLabelValues("practice")); got != 1 {
		t.Errorf("expected 1 blocked delete, got %v", got)
	}
}

func TestDelete_Missing(t *testing.T) {
	e := newTestEnv()
	if err := e.svc.DeleteLocation(staffCtx(), uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// -- Location Tests --

func TestCreateLocation_Validation(t *testing.T) {
	e := newTestEnv()
	_, err := e.svc.CreateLocation(staffCtx(), LocationInput{})
	fields := fieldErrors(t, err)
	if fields["name"] == nil || fields["practice_id"] == nil {
		t.Errorf("expected name and practice_id errors, got %v", fields)
	}

	_, err = e.svc.CreateLocation(staffCtx(), LocationInput{PracticeID: uuid.New(), Name: "X"})
	fields = fieldErrors(t, err)
	if fields["practice_id"][0] != "Practice not found" {
		t.Errorf("unexpected fields %v", fields)
	}
}

func TestUpdateLocation_MoveStrandsDoctors(t *testing.T) {
	e := newTestEnv()
	a := e.mustPractice(t, "A")
	b := e.mustPractice(t, "B")
	loc := e.mustLocation(t, a.ID, "Shared")
	e.mustDoctor(t, a.ID, "Dr A", loc.ID)

	_, err := e.svc.UpdateLocation(staffCtx(), loc.ID, LocationInput{PracticeID: b.ID, Name: "Shared"})
	fields := fieldErrors(t, err)
	if fields["practice_id"] == nil {
		t.Fatalf("expected practice_id error, got %v", fields)
	}
	if e.store.locations[loc.ID].PracticeID != a.ID {
		t.Error("location must stay with its practice")
	}
}

func TestUpdateLocation_MoveWithoutDoctors(t *testing.T) {
	e := newTestEnv()
	a := e.mustPractice(t, "A")
	b := e.mustPractice(t, "B")
	loc := e.mustLocation(t, a.ID, "Annex")

	got, err := e.svc.UpdateLocation(staffCtx(), loc.ID, LocationInput{PracticeID: b.ID, Name: "Annex East"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PracticeID != b.ID || got.Name != "Annex East" {
		t.Errorf("unexpected location %+v", got)
	}
}

// -- Doctor Tests --

func TestCreateDoctor_Validation(t *testing.T) {
	e := newTestEnv()
	p := e.mustPractice(t, "P")
	_, err := e.svc.CreateDoctor(staffCtx(), DoctorInput{PracticeID: p.ID, Name: " ", Email: "not-an-email"})
	fields := fieldErrors(t, err)
	if fields["name"][0] != "Provider name is required" {
		t.Errorf("unexpected name error %v", fields["name"])
	}
	if fields["email"] == nil {
		t.Error("expected email error")
	}
}

func TestCreateDoctor_EmailOptional(t *testing.T) {
	e := newTestEnv()
	p := e.mustPractice(t, "P")
	d, err := e.svc.CreateDoctor(staffCtx(), DoctorInput{PracticeID: p.ID, Name: "Dr Blank", Email: ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Email != nil {
		t.Errorf("expected nil email, got %q", *d.Email)
	}

	d, err = e.svc.CreateDoctor(staffCtx(), DoctorInput{PracticeID: p.ID, Name: "Dr Mail", Email: "dr@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Email == nil || *d.Email != "dr@example.com" {
		t.Errorf("unexpected email %v", d.Email)
	}
}

func TestCreateDoctor_LocationFromOtherPractice(t *testing.T) {
	e := newTestEnv()
	a := e.mustPractice(t, "A")
	b := e.mustPractice(t, "B")
	foreign := e.mustLocation(t, b.ID, "B Main")

	_, err := e.svc.CreateDoctor(staffCtx(), DoctorInput{PracticeID: a.ID, Name: "Dr A", LocationIDs: []uuid.UUID{foreign.ID}})
	fields := fieldErrors(t, err)
	if fields["location_ids"] == nil {
		t.Fatalf("expected location_ids error, got %v", fields)
	}
	if len(e.store.doctors) != 0 {
		t.Error("doctor must not be created")
	}
}

func TestCreateDoctor_UnknownLocation(t *testing.T) {
	e := newTestEnv()
	p := e.mustPractice(t, "P")
	_, err := e.svc.CreateDoctor(staffCtx(), DoctorInput{PracticeID: p.ID, Name: "Dr", LocationIDs: []uuid.UUID{uuid.New()}})
	fields := fieldErrors(t, err)
	if fields["location_ids"][0] != "Unknown location" {
		t.Errorf("unexpected fields %v", fields)
	}
}

func TestUpdateDoctor_ReplacesAffiliations(t *testing.T) {
	e := newTestEnv()
	p := e.mustPractice(t, "P")
	l1 := e.mustLocation(t, p.ID, "One")
	l2 := e.mustLocation(t, p.ID, "Two")
	d := e.mustDoctor(t, p.ID, "Dr", l1.ID, l1.ID)

	if got := e.store.doctors[d.ID].LocationIDs; len(got) != 1 {
		t.Fatalf("duplicate location ids should collapse, got %v", got)
	}

	updated, err := e.svc.UpdateDoctor(staffCtx(), d.ID, DoctorInput{PracticeID: p.ID, Name: "Dr", LocationIDs: []uuid.UUID{l2.ID}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updated.LocationIDs) != 1 || updated.LocationIDs[0] != l2.ID {
		t.Errorf("expected affiliations replaced with %s, got %v", l2.ID, updated.LocationIDs)
	}
}

func TestListDoctors_ByLocation(t *testing.T) {
	e := newTestEnv()
	p := e.mustPractice(t, "P")
	north := e.mustLocation(t, p.ID, "North")
	south := e.mustLocation(t, p.ID, "South")
	e.mustDoctor(t, p.ID, "Dr North", north.ID)
	e.mustDoctor(t, p.ID, "Dr Both", north.ID, south.ID)
	e.mustDoctor(t, p.ID, "Dr None")

	all, err := e.svc.ListDoctors(staffCtx(), DoctorFilter{PracticeID: &p.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("no location: expected all 3 doctors, got %d", len(all))
	}

	atSouth, err := e.svc.ListDoctors(staffCtx(), DoctorFilter{PracticeID: &p.ID, LocationID: &south.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(atSouth) != 1 || atSouth[0].Name != "Dr Both" {
		t.Errorf("expected only Dr Both at South, got %v", atSouth)
	}
}

func TestGetDoctorDetail(t *testing.T) {
	e := newTestEnv()
	p := e.mustPractice(t, "P")
	l := e.mustLocation(t, p.ID, "Main")
	d := e.mustDoctor(t, p.ID, "Dr Detail", l.ID)
	e.store.addReferral(p.ID, l.ID, d.ID)
	if _, err := e.svc.CreateNote(staffCtx(), d.ID, "prefers fax"); err != nil {
		t.Fatalf("create note: %v", err)
	}

	detail, err := e.svc.GetDoctorDetail(staffCtx(), d.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail.Practice == nil || detail.Practice.ID != p.ID {
		t.Errorf("unexpected practice %v", detail.Practice)
	}
	if len(detail.Locations) != 1 || len(detail.Notes) != 1 || detail.ReferralCount != 1 {
		t.Errorf("detail: %d locations, %d notes, %d referrals", len(detail.Locations), len(detail.Notes), detail.ReferralCount)
	}
}

func TestDoctor_DisplayName(t *testing.T) {
	title := "Dr."
	blank := "  "
	tests := []struct {
		d    Doctor
		want string
	}{
		{Doctor{Name: "Jane Smith", Title: &title}, "Dr. Jane Smith"},
		{Doctor{Name: "Jane Smith"}, "Jane Smith"},
		{Doctor{Name: "Jane Smith", Title: &blank}, "Jane Smith"},
	}
	for _, tt := range tests {
		if got := tt.d.DisplayName(); got != tt.want {
			t.Errorf("DisplayName() = %q, want %q", got, tt.want)
		}
	}
}

// -- Note Tests --

func TestCreateNote_TrimsContent(t *testing.T) {
	e := newTestEnv()
	p := e.mustPractice(t, "P")
	d := e.mustDoctor(t, p.ID, "Dr")

	n, err := e.svc.CreateNote(staffCtx(), d.ID, "  call before noon \n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Content != "call before noon" {
		t.Errorf("content not trimmed: %q", n.Content)
	}
	if n.CreatedBy == nil {
		t.Error("expected creator to be recorded")
	}
}

func TestCreateNote_Empty(t *testing.T) {
	e := newTestEnv()
	p := e.mustPractice(t, "P")
	d := e.mustDoctor(t, p.ID, "Dr")

	_, err := e.svc.CreateNote(staffCtx(), d.ID, "   \t")
	fields := fieldErrors(t, err)
	if fields["content"][0] != "Note cannot be empty" {
		t.Errorf("unexpected fields %v", fields)
	}
	if len(e.store.notes) != 0 {
		t.Error("empty note must not be stored")
	}
}

func TestCreateNote_UnknownDoctor(t *testing.T) {
	e := newTestEnv()
	if _, err := e.svc.CreateNote(staffCtx(), uuid.New(), "hello"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateNote_DevIdentityLeavesCreatorEmpty(t *testing.T) {
	e := newTestEnv()
	p := e.mustPractice(t, "P")
	d := e.mustDoctor(t, p.ID, "Dr")

	ctx := auth.WithIdentity(context.Background(), auth.DevIdentity)
	n, err := e.svc.CreateNote(ctx, d.ID, "from dev")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.CreatedBy != nil {
		t.Errorf("dev identity has no user row, got %v", *n.CreatedBy)
	}
}

func TestUpdateAndDeleteNote(t *testing.T) {
	e := newTestEnv()
	p := e.mustPractice(t, "P")
	d := e.mustDoctor(t, p.ID, "Dr")
	n, err := e.svc.CreateNote(staffCtx(), d.ID, "first")
	if err != nil {
		t.Fatalf("create note: %v", err)
	}

	if _, err := e.svc.UpdateNote(staffCtx(), n.ID, ""); err == nil {
		t.Error("expected error for empty update")
	}
	updated, err := e.svc.UpdateNote(staffCtx(), n.ID, " second ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Content != "second" || updated.DoctorID != d.ID {
		t.Errorf("unexpected note %+v", updated)
	}

	if err := e.svc.DeleteNote(staffCtx(), n.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.svc.DeleteNote(staffCtx(), n.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, ok := e.store.doctors[d.ID]; !ok {
		t.Error("deleting a note must not affect the doctor")
	}
}

func TestDeleteDoctor_RemovesNotes(t *testing.T) {
	e := newTestEnv()
	p := e.mustPractice(t, "P")
	d := e.mustDoctor(t, p.ID, "Dr")
	if _, err := e.svc.CreateNote(staffCtx(), d.ID, "note"); err != nil {
		t.Fatalf("create note: %v", err)
	}
	if err := e.svc.DeleteDoctor(staffCtx(), d.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.store.notes) != 0 {
		t.Errorf("expected notes removed with the doctor, %d left", len(e.store.notes))
	}
}

func TestStaffPolicy_AllowsDirectoryWrites(t *testing.T) {
	s := newMemStore()
	policy, err := auth.NewCasbinPolicy(auth.DefaultRules)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	svc := NewService(&mockPracticeRepo{s}, &mockLocationRepo{s}, &mockDoctorRepo{s}, &mockNoteRepo{s},
		&mockCounter{s: s}, db.NoTx{}, policy, nil)

	if _, err := svc.CreatePractice(staffCtx(), PracticeInput{Name: "Staff Made"}); err != nil {
		t.Fatalf("staff should manage the directory: %v", err)
	}
}
