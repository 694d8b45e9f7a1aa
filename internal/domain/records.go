package domain

import (
	"fmt"
	"strings"
	"time"
)

// BloodType is an ABO group.
type BloodType string

const (
	BloodO  BloodType = "O"
	BloodA  BloodType = "A"
	BloodB  BloodType = "B"
	BloodAB BloodType = "AB"
)

// ParseBloodType normalises raw input; unknown groups return ErrUnknownBloodType.
func ParseBloodType(raw string) (BloodType, error) {
	switch bt := BloodType(strings.ToUpper(strings.TrimSpace(raw))); bt {
	case BloodO, BloodA, BloodB, BloodAB:
		return bt, nil
	default:
		return bt, fmt.Errorf("%w: %q", ErrUnknownBloodType, raw)
	}
}

// Valid reports whether the value is one of the four ABO groups.
func (b BloodType) Valid() bool {
	switch b {
	case BloodO, BloodA, BloodB, BloodAB:
		return true
	}
	return false
}

// PatientStatus tracks a recipient on the waiting list.
type PatientStatus string

const (
	PatientActive   PatientStatus = "Active"
	PatientMatched  PatientStatus = "Matched"
	PatientInactive PatientStatus = "Inactive"
)

// ParsePatientStatus accepts the canonical names case-insensitively.
func ParsePatientStatus(raw string) (PatientStatus, error) {
	for _, s := range []PatientStatus{PatientActive, PatientMatched, PatientInactive} {
		if strings.EqualFold(strings.TrimSpace(raw), string(s)) {
			return s, nil
		}
	}
	return PatientStatus(raw), fmt.Errorf("%w: patient status %q", ErrUnknownEnum, raw)
}

// DonorStatus tracks an organ from procurement to allocation.
type DonorStatus string

const (
	DonorAvailable DonorStatus = "Available"
	DonorAllocated DonorStatus = "Allocated"
	DonorDiscarded DonorStatus = "Discarded"
)

// ParseDonorStatus accepts the canonical names case-insensitively.
func ParseDonorStatus(raw string) (DonorStatus, error) {
	for _, s := range []DonorStatus{DonorAvailable, DonorAllocated, DonorDiscarded} {
		if strings.EqualFold(strings.TrimSpace(raw), string(s)) {
			return s, nil
		}
	}
	return DonorStatus(raw), fmt.Errorf("%w: donor status %q", ErrUnknownEnum, raw)
}

// HLALoci is the number of position-significant antigens compared (A, A, B, B, DR, DR).
const HLALoci = 6

// Patient is a waiting-list recipient.
type Patient struct {
	ID              string
	Name            string
	BloodType       BloodType
	HLA             []string
	CPRA            float64
	WaitDays        int
	Age             int
	Diabetes        bool
	PriorTransplant bool
	DialysisDays    int
	DistanceMiles   float64
	Clinician       string
	Status          PatientStatus
}

// Donor is a deceased-donor kidney offered for allocation.
type Donor struct {
	ID              string
	BloodType       BloodType
	HLA             []string
	Age             int
	HeightIn        float64
	WeightLb        float64
	Hypertension    bool
	Diabetes        bool
	HCV             bool
	DCD             bool
	Creatinine      float64
	Status          DonorStatus
	ProcurementTime time.Time
}

// Clone returns a copy that does not share the HLA slice.
func (p Patient) Clone() Patient {
	p.HLA = append([]string(nil), p.HLA...)
	return p
}

// Clone returns a copy that does not share the HLA slice.
func (d Donor) Clone() Donor {
	d.HLA = append([]string(nil), d.HLA...)
	return d
}
