package usecase

import (
	"time"

	"KidneyAllocation/internal/domain"
)

// Viewer is an already-authenticated caller. Admins see everything; a
// clinician sees their own patients and offers.
type Viewer struct {
	Username string
	Admin    bool
}

func (v Viewer) sees(clinician string) bool {
	return v.Admin || v.Username == clinician
}

// Dashboard is the headline count set.
type Dashboard struct {
	ActivePatients  int
	AvailableDonors int
	PendingOffers   int
	AcceptedOffers  int
}

// Dashboard counts records and offers at now.
func (a *Allocation) Dashboard(now time.Time) Dashboard {
	var d Dashboard
	d.ActivePatients, d.AvailableDonors = a.store.Counts()
	for _, o := range a.offers.List(now) {
		switch o.Status {
		case domain.OfferPending:
			d.PendingOffers++
		case domain.OfferAccepted:
			d.AcceptedOffers++
		}
	}
	return d
}

// ActiveOffers lists the viewer's pending offers.
func (a *Allocation) ActiveOffers(v Viewer, now time.Time) []domain.Offer {
	var out []domain.Offer
	for _, o := range a.offers.Pending(now) {
		if v.sees(o.Clinician) {
			out = append(out, o)
		}
	}
	return out
}

// History lists the viewer's offers that reached a terminal state.
func (a *Allocation) History(v Viewer, now time.Time) []domain.Offer {
	var out []domain.Offer
	for _, o := range a.offers.List(now) {
		if o.Status.Terminal() && v.sees(o.Clinician) {
			out = append(out, o)
		}
	}
	return out
}

// Waitlist lists the viewer's patients in roster order.
func (a *Allocation) Waitlist(v Viewer) []domain.Patient {
	var out []domain.Patient
	for _, p := range a.store.Patients() {
		if v.sees(p.Clinician) {
			out = append(out, p)
		}
	}
	return out
}

// AvailableDonors lists donors that can still be allocated.
func (a *Allocation) AvailableDonors() []domain.Donor {
	var out []domain.Donor
	for _, d := range a.store.Donors() {
		if d.Status == domain.DonorAvailable {
			out = append(out, d)
		}
	}
	return out
}
