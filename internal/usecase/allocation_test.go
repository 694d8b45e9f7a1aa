package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KidneyAllocation/internal/domain"
	"KidneyAllocation/internal/offers"
	"KidneyAllocation/internal/ports"
	"KidneyAllocation/internal/ranking"
	"KidneyAllocation/internal/store"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fakeSource struct {
	roster ports.Roster
	err    error
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Load(context.Context) (ports.Roster, error) {
	return f.roster, f.err
}

type fakeRepository struct {
	mu       sync.Mutex
	offers   map[string]domain.Offer
	patients map[string]domain.PatientStatus
	donors   map[string]domain.DonorStatus
	fail     bool
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		offers:   map[string]domain.Offer{},
		patients: map[string]domain.PatientStatus{},
		donors:   map[string]domain.DonorStatus{},
	}
}

func (f *fakeRepository) SaveOffer(_ context.Context, o domain.Offer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("db down")
	}
	f.offers[o.ID] = o
	return nil
}

func (f *fakeRepository) UpdatePatientStatus(_ context.Context, id string, s domain.PatientStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patients[id] = s
	return nil
}

func (f *fakeRepository) UpdateDonorStatus(_ context.Context, id string, s domain.DonorStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.donors[id] = s
	return nil
}

type fakeNotifier struct {
	messages map[string][]string
}

func (f *fakeNotifier) NotifyClinician(_ context.Context, clinician, message string) error {
	if f.messages == nil {
		f.messages = map[string][]string{}
	}
	f.messages[clinician] = append(f.messages[clinician], message)
	return nil
}

type fakeDispatcher struct {
	dispatched []ports.Allocation
	err        error
}

func (f *fakeDispatcher) DispatchAllocation(_ context.Context, a ports.Allocation) error {
	f.dispatched = append(f.dispatched, a)
	return f.err
}

type fixture struct {
	alloc      *Allocation
	repo       *fakeRepository
	notifier   *fakeNotifier
	dispatcher *fakeDispatcher
	store      *store.Store
}

func roster() ports.Roster {
	return ports.Roster{
		Patients: []domain.Patient{
			{ID: "P001", Name: "John Anderson", Age: 45, BloodType: domain.BloodA, HLA: []string{"A1", "A2", "B8", "B44", "DR3", "DR4"}, CPRA: 85, WaitDays: 730, Diabetes: true, DialysisDays: 547, DistanceMiles: 25, Clinician: "dr.smith", Status: domain.PatientActive},
			{ID: "P002", Name: "Sarah Martinez", Age: 32, BloodType: domain.BloodO, HLA: []string{"A3", "A24", "B7", "B35", "DR1", "DR15"}, CPRA: 95, WaitDays: 1095, PriorTransplant: true, DialysisDays: 821, DistanceMiles: 45, Clinician: "dr.johnson", Status: domain.PatientActive},
			{ID: "P004", Name: "Emily Thompson", Age: 28, BloodType: domain.BloodAB, HLA: []string{"A1", "A3", "B8", "B7", "DR3", "DR1"}, CPRA: 42, WaitDays: 180, DialysisDays: 91, DistanceMiles: 75, Clinician: "dr.johnson", Status: domain.PatientActive},
		},
		Donors: []domain.Donor{
			{ID: "D001", Age: 42, BloodType: domain.BloodO, HLA: []string{"A1", "A2", "B8", "B35", "DR3", "DR15"}, HeightIn: 68, WeightLb: 170, Creatinine: 1.1, Status: domain.DonorAvailable},
			{ID: "D002", Age: 35, BloodType: domain.BloodA, HLA: []string{"A1", "A3", "B7", "B44", "DR4", "DR7"}, HeightIn: 65, WeightLb: 145, Creatinine: 0.9, Status: domain.DonorAvailable},
		},
	}
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	st := store.New()
	seq := 0
	mgr := offers.NewManager(st, offers.WithIDGenerator(func() string {
		seq++
		return fmt.Sprintf("OFF-%d", seq)
	}))
	f := fixture{
		repo:       newFakeRepository(),
		notifier:   &fakeNotifier{},
		dispatcher: &fakeDispatcher{},
		store:      st,
	}

	alloc, err := NewAllocation(AllocationDeps{
		Source:     &fakeSource{roster: roster()},
		Store:      st,
		Ranker:     ranking.NewRanker(nil),
		Offers:     mgr,
		Repository: f.repo,
		Notifier:   f.notifier,
		Dispatcher: f.dispatcher,
	})
	require.NoError(t, err)
	f.alloc = alloc

	require.NoError(t, alloc.Refresh(context.Background()))
	return f
}

func TestNewAllocationRequiresCore(t *testing.T) {
	t.Parallel()

	_, err := NewAllocation(AllocationDeps{})
	assert.Error(t, err)
}

func TestRefreshPropagatesSourceErrors(t *testing.T) {
	t.Parallel()

	st := store.New()
	alloc, err := NewAllocation(AllocationDeps{
		Source: &fakeSource{err: errors.New("unreachable")},
		Store:  st,
		Ranker: ranking.NewRanker(nil),
		Offers: offers.NewManager(st),
	})
	require.NoError(t, err)

	err = alloc.Refresh(context.Background())
	assert.ErrorContains(t, err, "unreachable")
}

func TestOfferAcceptFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.alloc.GenerateMatches(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, res.Matches)

	offer, err := f.alloc.OfferNext(ctx, res.Matches, "D001", t0)
	require.NoError(t, err)
	assert.Equal(t, ranking.ForDonor(res.Matches, "D001")[0].PatientID, offer.PatientID)
	assert.Equal(t, domain.OfferPending, f.repo.offers[offer.ID].Status)
	assert.Len(t, f.notifier.messages[offer.Clinician], 1)

	accepted, err := f.alloc.Accept(ctx, offer.ID, t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.OfferAccepted, accepted.Status)
	assert.Equal(t, domain.OfferAccepted, f.repo.offers[offer.ID].Status)
	assert.Equal(t, domain.DonorAllocated, f.repo.donors["D001"])
	assert.Equal(t, domain.PatientMatched, f.repo.patients[offer.PatientID])

	require.Len(t, f.dispatcher.dispatched, 1)
	assert.Equal(t, offer.ID, f.dispatcher.dispatched[0].OfferID)

	d, err := f.store.Donor("D001")
	require.NoError(t, err)
	assert.Equal(t, domain.DonorAllocated, d.Status)

	again, err := f.alloc.GenerateMatches(ctx)
	require.NoError(t, err)
	for _, m := range again.Matches {
		assert.NotEqual(t, "D001", m.DonorID)
		assert.NotEqual(t, offer.PatientID, m.PatientID)
	}
}

func TestOfferNextSkipsPatientsWithOutstandingOffers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.alloc.GenerateMatches(ctx)
	require.NoError(t, err)

	group := ranking.ForDonor(res.Matches, "D002")
	require.Len(t, group, 2)

	first, err := f.alloc.OfferNext(ctx, res.Matches, "D002", t0)
	require.NoError(t, err)
	assert.Equal(t, group[0].PatientID, first.PatientID)

	second, err := f.alloc.OfferNext(ctx, res.Matches, "D002", t0)
	require.NoError(t, err)
	assert.Equal(t, group[1].PatientID, second.PatientID)

	_, err = f.alloc.OfferNext(ctx, res.Matches, "D002", t0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRejectAndReoffer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.alloc.GenerateMatches(ctx)
	require.NoError(t, err)

	offer, err := f.alloc.OfferNext(ctx, res.Matches, "D001", t0)
	require.NoError(t, err)

	rejected, err := f.alloc.Reject(ctx, offer.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.OfferRejected, rejected.Status)
	assert.Empty(t, f.repo.donors)

	_, err = f.alloc.Accept(ctx, offer.ID, t0.Add(2*time.Minute))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Empty(t, f.dispatcher.dispatched)

	_, err = f.alloc.Reject(ctx, "OFF-404", t0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	next, err := f.alloc.OfferNext(ctx, res.Matches, "D001", t0.Add(3*time.Minute))
	require.NoError(t, err)
	assert.NotEqual(t, offer.ID, next.ID)
	assert.Equal(t, offer.PatientID, next.PatientID)
}

func TestExpireStaleAndViews(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.alloc.GenerateMatches(ctx)
	require.NoError(t, err)

	a, err := f.alloc.OfferNext(ctx, res.Matches, "D001", t0)
	require.NoError(t, err)
	b, err := f.alloc.OfferNext(ctx, res.Matches, "D002", t0.Add(30*time.Minute))
	require.NoError(t, err)

	dash := f.alloc.Dashboard(t0.Add(31 * time.Minute))
	assert.Equal(t, Dashboard{ActivePatients: 3, AvailableDonors: 2, PendingOffers: 2}, dash)

	expired := f.alloc.ExpireStale(ctx, t0.Add(time.Hour))
	require.Len(t, expired, 1)
	assert.Equal(t, a.ID, expired[0].ID)
	assert.Equal(t, domain.OfferExpired, f.repo.offers[a.ID].Status)

	admin := Viewer{Username: "admin", Admin: true}
	assert.Len(t, f.alloc.ActiveOffers(admin, t0.Add(time.Hour)), 1)
	assert.Len(t, f.alloc.History(admin, t0.Add(time.Hour)), 1)

	owner := Viewer{Username: b.Clinician}
	active := f.alloc.ActiveOffers(owner, t0.Add(time.Hour))
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)

	stranger := Viewer{Username: "dr.nobody"}
	assert.Empty(t, f.alloc.ActiveOffers(stranger, t0.Add(time.Hour)))
	assert.Empty(t, f.alloc.History(stranger, t0.Add(time.Hour)))
	assert.Empty(t, f.alloc.Waitlist(stranger))
	assert.Len(t, f.alloc.Waitlist(admin), 3)
	assert.Len(t, f.alloc.Waitlist(Viewer{Username: "dr.johnson"}), 2)
	assert.Len(t, f.alloc.AvailableDonors(), 2)
}

func TestExpireStaleReportsOffersExpiredByReads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.alloc.GenerateMatches(ctx)
	require.NoError(t, err)

	offer, err := f.alloc.OfferNext(ctx, res.Matches, "D001", t0)
	require.NoError(t, err)

	dash := f.alloc.Dashboard(t0.Add(time.Hour))
	assert.Zero(t, dash.PendingOffers)
	assert.Equal(t, domain.OfferPending, f.repo.offers[offer.ID].Status)

	expired := f.alloc.ExpireStale(ctx, t0.Add(time.Hour+time.Minute))
	require.Len(t, expired, 1)
	assert.Equal(t, offer.ID, expired[0].ID)
	assert.Equal(t, domain.OfferExpired, f.repo.offers[offer.ID].Status)
	assert.Len(t, f.notifier.messages[offer.Clinician], 2)
	assert.Contains(t, f.notifier.messages[offer.Clinician][1], "expired without a response")

	assert.Empty(t, f.alloc.ExpireStale(ctx, t0.Add(2*time.Hour)))
	assert.Len(t, f.notifier.messages[offer.Clinician], 2)
}

func TestPersistenceFailuresDoNotUndoTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.repo.fail = true
	f.dispatcher.err = errors.New("dispatch offline")

	res, err := f.alloc.GenerateMatches(ctx)
	require.NoError(t, err)
	offer, err := f.alloc.OfferNext(ctx, res.Matches, "D001", t0)
	require.NoError(t, err)

	accepted, err := f.alloc.Accept(ctx, offer.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.OfferAccepted, accepted.Status)
	assert.Empty(t, f.repo.offers)
}

type manualDriver struct {
	job     func(time.Time)
	stopped bool
}

func (m *manualDriver) Start(_ context.Context, job func(time.Time)) error {
	m.job = job
	return nil
}

func (m *manualDriver) Stop(context.Context) error {
	m.stopped = true
	return nil
}

func TestExpirySweeperReportsLapsedOffers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.alloc.GenerateMatches(ctx)
	require.NoError(t, err)
	offer, err := f.alloc.OfferNext(ctx, res.Matches, "D001", t0)
	require.NoError(t, err)

	driver := &manualDriver{}
	sweeper := NewExpirySweeper(driver, f.alloc)
	require.NoError(t, sweeper.Start(ctx))
	require.NotNil(t, driver.job)

	driver.job(t0.Add(30 * time.Minute))
	assert.Zero(t, sweeper.Reported())

	driver.job(t0.Add(2 * time.Hour))
	assert.Equal(t, domain.OfferExpired, f.repo.offers[offer.ID].Status)
	assert.Len(t, f.notifier.messages[offer.Clinician], 2)
	assert.Equal(t, int64(1), sweeper.Reported())

	driver.job(t0.Add(3 * time.Hour))
	assert.Equal(t, int64(1), sweeper.Reported())

	require.NoError(t, sweeper.Stop(ctx))
	assert.True(t, driver.stopped)

	assert.NoError(t, NewExpirySweeper(nil, f.alloc).Start(ctx))
}
