package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateOffer    = errors.New("pending offer already exists for patient")
	ErrInvalidTransition = errors.New("invalid offer state transition")
	ErrUnknownBloodType  = errors.New("unknown blood type")
	ErrUnknownEnum       = errors.New("unknown enum value")
	ErrNotFound          = errors.New("not found")
	ErrDonorUnavailable  = errors.New("donor is no longer available")
)

// DuplicateOfferError is returned when a patient already holds a pending offer.
type DuplicateOfferError struct {
	PatientID       string
	ExistingOfferID string
}

func (e *DuplicateOfferError) Error() string {
	return fmt.Sprintf("patient %s already has pending offer %s", e.PatientID, e.ExistingOfferID)
}

func (e *DuplicateOfferError) Is(target error) bool {
	return target == ErrDuplicateOffer
}

// TransitionError describes a refused state change. The offer is left untouched.
type TransitionError struct {
	OfferID string
	From    OfferStatus
	To      OfferStatus
	Reason  error
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("offer %s: cannot move from %s to %s", e.OfferID, e.From, e.To)
	if e.Reason != nil {
		msg += ": " + e.Reason.Error()
	}
	return msg
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func (e *TransitionError) Unwrap() error {
	return e.Reason
}
