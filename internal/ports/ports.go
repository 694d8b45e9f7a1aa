package ports

import (
	"context"
	"time"

	"KidneyAllocation/internal/domain"
)

// Roster is a point-in-time snapshot of the waiting list and donor pool.
type Roster struct {
	Patients []domain.Patient
	Donors   []domain.Donor
}

// RosterSource supplies patient and donor snapshots from an external system.
type RosterSource interface {
	Name() string
	Load(ctx context.Context) (Roster, error)
}

// AllocationRepository records offers and the status changes they cause.
type AllocationRepository interface {
	SaveOffer(ctx context.Context, offer domain.Offer) error
	UpdatePatientStatus(ctx context.Context, patientID string, status domain.PatientStatus) error
	UpdateDonorStatus(ctx context.Context, donorID string, status domain.DonorStatus) error
}

// Notifier tells the attending clinician about offer events.
type Notifier interface {
	NotifyClinician(ctx context.Context, clinician, message string) error
}

// Allocation is what the transport coordinator needs once an offer is accepted.
type Allocation struct {
	OfferID    string
	DonorID    string
	PatientID  string
	Clinician  string
	Score      float64
	AcceptedAt time.Time
}

// Dispatcher starts organ transport for an accepted allocation.
type Dispatcher interface {
	DispatchAllocation(ctx context.Context, allocation Allocation) error
}

// Scheduler controls when recurring jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
