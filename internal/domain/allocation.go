package domain

import "time"

// OfferTTL is how long a clinician has to answer an offer.
const OfferTTL = time.Hour

// Breakdown keeps every factor that went into a match score.
type Breakdown struct {
	Blood    float64
	HLA      float64
	CPRA     float64
	WaitTime float64
	Age      float64
	Distance float64
	EPTS     float64
	KDPI     float64
	Quality  float64
}

// Match is a derived donor/patient pairing. It is regenerated on demand and never stored.
type Match struct {
	DonorID            string
	PatientID          string
	PatientName        string
	Clinician          string
	Score              float64
	BloodCompatibility float64
	Breakdown          Breakdown
}

// OfferStatus enumerates offer lifecycle states. Everything but Pending is terminal.
type OfferStatus string

const (
	OfferPending  OfferStatus = "Pending"
	OfferAccepted OfferStatus = "Accepted"
	OfferRejected OfferStatus = "Rejected"
	OfferExpired  OfferStatus = "Expired"
)

// Terminal reports whether no further transition is allowed.
func (s OfferStatus) Terminal() bool {
	return s != OfferPending
}

// Offer binds one donor to one patient for a fixed window.
type Offer struct {
	ID          string
	DonorID     string
	PatientID   string
	PatientName string
	Clinician   string
	Score       float64
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Status      OfferStatus
	RespondedAt *time.Time
}

// ExpiredAt reports whether the offer window has closed at now.
func (o Offer) ExpiredAt(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// Remaining returns the time left before expiry, never negative.
func (o Offer) Remaining(now time.Time) time.Duration {
	if d := o.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
