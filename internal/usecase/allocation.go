package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"KidneyAllocation/internal/domain"
	"KidneyAllocation/internal/offers"
	"KidneyAllocation/internal/ports"
	"KidneyAllocation/internal/ranking"
	"KidneyAllocation/internal/store"
)

// AllocationDeps wires the core and the driven adapters into the workflow.
// Source, Repository, Notifier and Dispatcher are optional.
type AllocationDeps struct {
	Source     ports.RosterSource
	Store      *store.Store
	Ranker     *ranking.Ranker
	Offers     *offers.Manager
	Repository ports.AllocationRepository
	Notifier   ports.Notifier
	Dispatcher ports.Dispatcher
	Logger     *slog.Logger
}

// Allocation exposes explicit commands over the matching engine and the offer
// lifecycle. Nothing here re-runs implicitly.
type Allocation struct {
	source     ports.RosterSource
	store      *store.Store
	ranker     *ranking.Ranker
	offers     *offers.Manager
	repository ports.AllocationRepository
	notifier   ports.Notifier
	dispatcher ports.Dispatcher
	logger     *slog.Logger
}

// NewAllocation constructs the workflow. Store, Ranker and Offers are required.
func NewAllocation(deps AllocationDeps) (*Allocation, error) {
	if deps.Store == nil || deps.Ranker == nil || deps.Offers == nil {
		return nil, fmt.Errorf("allocation requires store, ranker and offer manager")
	}
	return &Allocation{
		source:     deps.Source,
		store:      deps.Store,
		ranker:     deps.Ranker,
		offers:     deps.Offers,
		repository: deps.Repository,
		notifier:   deps.Notifier,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
	}, nil
}

// Refresh replaces the working set with a fresh roster snapshot. Offers are
// kept; they reference records by ID.
func (a *Allocation) Refresh(ctx context.Context) error {
	if a.source == nil {
		return nil
	}

	roster, err := a.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load roster from %s: %w", a.source.Name(), err)
	}
	if err := a.store.Load(ctx, roster.Patients, roster.Donors); err != nil {
		return fmt.Errorf("store roster: %w", err)
	}

	a.info("roster loaded", "source", a.source.Name(), "patients", len(roster.Patients), "donors", len(roster.Donors))
	return nil
}

// GenerateMatches ranks the current working set.
func (a *Allocation) GenerateMatches(ctx context.Context) (ranking.Result, error) {
	return a.ranker.Rank(ctx, a.store.Donors(), a.store.Patients())
}

// SendOffer opens an offer for a ranked match and informs the clinician.
func (a *Allocation) SendOffer(ctx context.Context, match domain.Match, now time.Time) (domain.Offer, error) {
	offer, err := a.offers.CreateOffer(match, now)
	if err != nil {
		return domain.Offer{}, err
	}

	a.persistOffer(ctx, *offer)
	a.notify(ctx, offer.Clinician, fmt.Sprintf("New kidney offer %s: donor %s for %s (%s), score %.2f. Respond by %s.",
		offer.ID, offer.DonorID, offer.PatientName, offer.PatientID, offer.Score, offer.ExpiresAt.Format(time.RFC3339)))
	return *offer, nil
}

// OfferNext walks a donor's ranked candidates and offers the organ to the
// first patient without an outstanding offer. It returns domain.ErrNotFound
// when no candidate can take an offer.
func (a *Allocation) OfferNext(ctx context.Context, matches []domain.Match, donorID string, now time.Time) (domain.Offer, error) {
	for _, m := range ranking.ForDonor(matches, donorID) {
		offer, err := a.SendOffer(ctx, m, now)
		if errors.Is(err, domain.ErrDuplicateOffer) {
			a.debug("candidate already holds an offer", "donor", donorID, "patient", m.PatientID)
			continue
		}
		return offer, err
	}
	return domain.Offer{}, fmt.Errorf("no candidate for donor %s: %w", donorID, domain.ErrNotFound)
}

// Accept records a clinician's acceptance and starts organ transport.
func (a *Allocation) Accept(ctx context.Context, offerID string, now time.Time) (domain.Offer, error) {
	offer, err := a.offers.Get(offerID, now)
	if err != nil {
		return domain.Offer{}, err
	}
	if err := a.offers.Accept(&offer, now); err != nil {
		a.persistOffer(ctx, offer)
		return offer, err
	}

	a.persistOffer(ctx, offer)
	if a.repository != nil {
		if err := a.repository.UpdateDonorStatus(ctx, offer.DonorID, domain.DonorAllocated); err != nil {
			a.warn("persist donor status failed", "donor", offer.DonorID, "error", err)
		}
		if err := a.repository.UpdatePatientStatus(ctx, offer.PatientID, domain.PatientMatched); err != nil {
			a.warn("persist patient status failed", "patient", offer.PatientID, "error", err)
		}
	}

	if a.dispatcher != nil {
		err := a.dispatcher.DispatchAllocation(ctx, ports.Allocation{
			OfferID:    offer.ID,
			DonorID:    offer.DonorID,
			PatientID:  offer.PatientID,
			Clinician:  offer.Clinician,
			Score:      offer.Score,
			AcceptedAt: now,
		})
		if err != nil {
			a.warn("transport dispatch failed", "offer", offer.ID, "error", err)
		}
	}

	a.notify(ctx, offer.Clinician, fmt.Sprintf("Offer %s accepted. Donor %s allocated to %s; transport initiated.", offer.ID, offer.DonorID, offer.PatientName))
	return offer, nil
}

// Reject records a clinician's refusal. Re-offering is left to the caller,
// typically via OfferNext.
func (a *Allocation) Reject(ctx context.Context, offerID string, now time.Time) (domain.Offer, error) {
	offer, err := a.offers.Get(offerID, now)
	if err != nil {
		return domain.Offer{}, err
	}
	if err := a.offers.Reject(&offer, now); err != nil {
		a.persistOffer(ctx, offer)
		return offer, err
	}

	a.persistOffer(ctx, offer)
	a.notify(ctx, offer.Clinician, fmt.Sprintf("Offer %s rejected. Donor %s returns to the pool.", offer.ID, offer.DonorID))
	return offer, nil
}

// ExpireStale closes every offer whose window has passed and reports each
// expiry once, including those first observed by a read such as Dashboard.
func (a *Allocation) ExpireStale(ctx context.Context, now time.Time) []domain.Offer {
	expired := a.offers.SweepExpired(now)
	for _, offer := range expired {
		a.persistOffer(ctx, offer)
		a.notify(ctx, offer.Clinician, fmt.Sprintf("Offer %s for %s expired without a response.", offer.ID, offer.PatientName))
	}
	if len(expired) > 0 {
		a.info("offers expired", "count", len(expired))
	}
	return expired
}

func (a *Allocation) persistOffer(ctx context.Context, offer domain.Offer) {
	if a.repository == nil {
		return
	}
	if err := a.repository.SaveOffer(ctx, offer); err != nil {
		a.warn("persist offer failed", "offer", offer.ID, "status", offer.Status, "error", err)
	}
}

func (a *Allocation) notify(ctx context.Context, clinician, message string) {
	if a.notifier == nil || clinician == "" {
		return
	}
	if err := a.notifier.NotifyClinician(ctx, clinician, message); err != nil {
		a.warn("notify clinician failed", "clinician", clinician, "error", err)
	}
}

func (a *Allocation) info(msg string, args ...interface{}) {
	if a.logger != nil {
		a.logger.Info(msg, args...)
	}
}

func (a *Allocation) warn(msg string, args ...interface{}) {
	if a.logger != nil {
		a.logger.Warn(msg, args...)
	}
}

func (a *Allocation) debug(msg string, args ...interface{}) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}
