// Package offers owns the allocation offer lifecycle. An offer starts Pending
// and moves exactly once to Accepted, Rejected or Expired. A patient holds at
// most one Pending offer at a time.
//
// There is no internal clock: every operation takes now explicitly, and every
// read path re-checks expiry before reporting state.
package offers

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"KidneyAllocation/internal/domain"
)

// Records is the slice of the record store the manager reads and mutates.
type Records interface {
	Patient(id string) (domain.Patient, error)
	Donor(id string) (domain.Donor, error)
	SetPatientStatus(id string, status domain.PatientStatus) error
	SetDonorStatus(id string, status domain.DonorStatus) error
}

// Observer is told about every state change (metrics, audit). OfferDiscarded
// fires for offers dropped by Reset while still Pending.
type Observer interface {
	OfferCreated(offer domain.Offer)
	OfferTransitioned(offer domain.Offer, from domain.OfferStatus)
	OfferDiscarded(offer domain.Offer)
}

// Manager is safe for concurrent use. Offer fields are guarded by the shard
// lock of the offer's patient; the tables themselves by mu.
type Manager struct {
	records  Records
	locks    shardedLocks
	observer Observer
	logger   *slog.Logger
	newID    func() string

	mu      sync.Mutex
	offers  map[string]*domain.Offer
	order   []string
	pending map[string]string // patient ID -> offer ID
	expired []string          // expired offer IDs not yet handed to SweepExpired
}

// Option customises a Manager.
type Option func(*Manager)

// WithObserver registers a transition observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithLogger attaches a logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithIDGenerator replaces the default OFF-<uuid> identifiers.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewManager builds a manager over the given record store.
func NewManager(records Records, opts ...Option) *Manager {
	m := &Manager{
		records: records,
		newID:   func() string { return "OFF-" + uuid.NewString() },
		offers:  make(map[string]*domain.Offer),
		pending: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateOffer opens a Pending offer for the match's patient, expiring one hour
// after now. An existing Pending offer for the same patient is re-evaluated
// first; if it is still live the call fails with *domain.DuplicateOfferError.
func (m *Manager) CreateOffer(match domain.Match, now time.Time) (*domain.Offer, error) {
	if match.PatientID == "" || match.DonorID == "" {
		return nil, fmt.Errorf("create offer: match must reference a donor and a patient")
	}

	unlock := m.locks.lock(match.PatientID)
	defer unlock()

	if existing := m.pendingFor(match.PatientID); existing != nil {
		m.expireLocked(existing, now)
		if existing.Status == domain.OfferPending {
			return nil, &domain.DuplicateOfferError{PatientID: match.PatientID, ExistingOfferID: existing.ID}
		}
	}

	offer := &domain.Offer{
		ID:          m.newID(),
		DonorID:     match.DonorID,
		PatientID:   match.PatientID,
		PatientName: match.PatientName,
		Clinician:   match.Clinician,
		Score:       match.Score,
		CreatedAt:   now,
		ExpiresAt:   now.Add(domain.OfferTTL),
		Status:      domain.OfferPending,
	}

	m.mu.Lock()
	m.offers[offer.ID] = offer
	m.order = append(m.order, offer.ID)
	m.pending[offer.PatientID] = offer.ID
	m.mu.Unlock()

	m.info("offer created", "offer", offer.ID, "donor", offer.DonorID, "patient", offer.PatientID, "expires_at", offer.ExpiresAt)
	if m.observer != nil {
		m.observer.OfferCreated(*offer)
	}

	out := *offer
	return &out, nil
}

// Evaluate applies lazy expiry and returns the current status. offer is
// refreshed in place from the manager's copy.
func (m *Manager) Evaluate(offer *domain.Offer, now time.Time) domain.OfferStatus {
	if offer == nil {
		return ""
	}
	canonical, ok := m.lookup(offer)
	if !ok {
		return offer.Status
	}

	unlock := m.locks.lock(canonical.PatientID)
	defer unlock()

	m.expireLocked(canonical, now)
	*offer = *canonical
	return canonical.Status
}

// Accept binds the donor to the patient. It fails with an invalid transition
// unless the offer is Pending and unexpired at now, and the donor is still
// Available. On success the donor becomes Allocated and the patient Matched.
func (m *Manager) Accept(offer *domain.Offer, now time.Time) error {
	if offer == nil {
		return fmt.Errorf("accept: offer is required")
	}
	canonical, ok := m.lookup(offer)
	if !ok {
		return fmt.Errorf("offer %s: %w", offer.ID, domain.ErrNotFound)
	}

	unlock := m.locks.lock(canonical.PatientID, canonical.DonorID)
	defer unlock()
	defer func() { *offer = *canonical }()

	m.expireLocked(canonical, now)
	if canonical.Status != domain.OfferPending {
		return &domain.TransitionError{OfferID: canonical.ID, From: canonical.Status, To: domain.OfferAccepted}
	}

	donor, err := m.records.Donor(canonical.DonorID)
	if err != nil {
		return &domain.TransitionError{OfferID: canonical.ID, From: canonical.Status, To: domain.OfferAccepted, Reason: err}
	}
	if donor.Status != domain.DonorAvailable {
		return &domain.TransitionError{OfferID: canonical.ID, From: canonical.Status, To: domain.OfferAccepted, Reason: domain.ErrDonorUnavailable}
	}
	patient, err := m.records.Patient(canonical.PatientID)
	if err != nil {
		return &domain.TransitionError{OfferID: canonical.ID, From: canonical.Status, To: domain.OfferAccepted, Reason: err}
	}

	if err := m.records.SetDonorStatus(donor.ID, domain.DonorAllocated); err != nil {
		return fmt.Errorf("allocate donor %s: %w", donor.ID, err)
	}
	if err := m.records.SetPatientStatus(patient.ID, domain.PatientMatched); err != nil {
		_ = m.records.SetDonorStatus(donor.ID, donor.Status)
		return fmt.Errorf("match patient %s: %w", patient.ID, err)
	}

	m.transitionLocked(canonical, domain.OfferAccepted, now)
	return nil
}

// Reject closes a Pending offer without touching donor or patient records.
func (m *Manager) Reject(offer *domain.Offer, now time.Time) error {
	if offer == nil {
		return fmt.Errorf("reject: offer is required")
	}
	canonical, ok := m.lookup(offer)
	if !ok {
		return fmt.Errorf("offer %s: %w", offer.ID, domain.ErrNotFound)
	}

	unlock := m.locks.lock(canonical.PatientID)
	defer unlock()
	defer func() { *offer = *canonical }()

	m.expireLocked(canonical, now)
	if canonical.Status != domain.OfferPending {
		return &domain.TransitionError{OfferID: canonical.ID, From: canonical.Status, To: domain.OfferRejected}
	}

	m.transitionLocked(canonical, domain.OfferRejected, now)
	return nil
}

// Get returns a copy of one offer after lazy expiry.
func (m *Manager) Get(id string, now time.Time) (domain.Offer, error) {
	m.mu.Lock()
	canonical, ok := m.offers[id]
	m.mu.Unlock()
	if !ok {
		return domain.Offer{}, fmt.Errorf("offer %s: %w", id, domain.ErrNotFound)
	}

	unlock := m.locks.lock(canonical.PatientID)
	defer unlock()
	m.expireLocked(canonical, now)
	return *canonical, nil
}

// List returns every offer in creation order after lazy expiry.
func (m *Manager) List(now time.Time) []domain.Offer {
	return m.scan(now)
}

// Pending returns the offers still awaiting an answer at now.
func (m *Manager) Pending(now time.Time) []domain.Offer {
	all := m.List(now)
	out := all[:0]
	for _, o := range all {
		if o.Status == domain.OfferPending {
			out = append(out, o)
		}
	}
	return out
}

// SweepExpired runs lazy expiry across all offers and returns every offer
// that has expired since the previous sweep, including those expired by a
// read such as Get or List. Each expiry is returned exactly once.
func (m *Manager) SweepExpired(now time.Time) []domain.Offer {
	m.scan(now)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.expired) == 0 {
		return nil
	}
	out := make([]domain.Offer, 0, len(m.expired))
	for _, id := range m.expired {
		// expired offers are terminal, their fields no longer change
		out = append(out, *m.offers[id])
	}
	m.expired = nil
	return out
}

// Reset forgets every offer. Donor and patient records are left alone.
// Offers still Pending are reported to the observer as discarded.
func (m *Manager) Reset() {
	m.mu.Lock()
	discarded := make([]*domain.Offer, 0, len(m.pending))
	for _, id := range m.order {
		if o := m.offers[id]; m.pending[o.PatientID] == id {
			discarded = append(discarded, o)
		}
	}
	m.offers = make(map[string]*domain.Offer)
	m.pending = make(map[string]string)
	m.order = nil
	m.expired = nil
	m.mu.Unlock()

	for _, o := range discarded {
		unlock := m.locks.lock(o.PatientID)
		snapshot := *o
		unlock()

		m.info("offer discarded", "offer", snapshot.ID, "patient", snapshot.PatientID, "donor", snapshot.DonorID)
		if m.observer != nil {
			m.observer.OfferDiscarded(snapshot)
		}
	}
}

func (m *Manager) scan(now time.Time) []domain.Offer {
	m.mu.Lock()
	offers := make([]*domain.Offer, 0, len(m.order))
	for _, id := range m.order {
		offers = append(offers, m.offers[id])
	}
	m.mu.Unlock()

	all := make([]domain.Offer, 0, len(offers))
	for _, o := range offers {
		unlock := m.locks.lock(o.PatientID)
		m.expireLocked(o, now)
		all = append(all, *o)
		unlock()
	}
	return all
}

func (m *Manager) lookup(offer *domain.Offer) (*domain.Offer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	canonical, ok := m.offers[offer.ID]
	return canonical, ok
}

// pendingFor must be called with the patient's shard held.
func (m *Manager) pendingFor(patientID string) *domain.Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.pending[patientID]
	if !ok {
		return nil
	}
	return m.offers[id]
}

// expireLocked reports whether the offer moved to Expired. Requires the patient shard.
func (m *Manager) expireLocked(o *domain.Offer, now time.Time) bool {
	if o.Status != domain.OfferPending || !o.ExpiredAt(now) {
		return false
	}
	m.transitionLocked(o, domain.OfferExpired, now)
	return true
}

func (m *Manager) transitionLocked(o *domain.Offer, to domain.OfferStatus, now time.Time) {
	from := o.Status
	o.Status = to
	if to != domain.OfferExpired {
		at := now
		o.RespondedAt = &at
	}

	m.mu.Lock()
	if m.pending[o.PatientID] == o.ID {
		delete(m.pending, o.PatientID)
	}
	known := m.offers[o.ID] == o
	if known && to == domain.OfferExpired {
		m.expired = append(m.expired, o.ID)
	}
	m.mu.Unlock()

	m.info("offer transition", "offer", o.ID, "from", from, "to", to, "patient", o.PatientID, "donor", o.DonorID)
	// offers forgotten by Reset were already reported as discarded
	if known && m.observer != nil {
		m.observer.OfferTransitioned(*o, from)
	}
}

func (m *Manager) info(msg string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Info(msg, args...)
	}
}
