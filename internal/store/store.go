// Package store holds the caller-owned working set of patients and donors.
// It replaces ambient session state: the caller constructs it, loads a roster
// into it, and resets it when a new snapshot arrives.
package store

import (
	"context"
	"fmt"
	"sync"

	"KidneyAllocation/internal/domain"
)

// Store keeps records in insertion order so ranking stays deterministic.
type Store struct {
	mu           sync.RWMutex
	patients     map[string]domain.Patient
	patientOrder []string
	donors       map[string]domain.Donor
	donorOrder   []string
}

// New returns an empty store.
func New() *Store {
	s := &Store{}
	s.Reset()
	return s
}

// Reset drops every record.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients = make(map[string]domain.Patient)
	s.donors = make(map[string]domain.Donor)
	s.patientOrder = nil
	s.donorOrder = nil
}

// Load replaces the contents with a roster snapshot. Readers see either the
// previous roster or the new one; a rejected snapshot leaves the store as is.
func (s *Store) Load(_ context.Context, patients []domain.Patient, donors []domain.Donor) error {
	nextPatients := make(map[string]domain.Patient, len(patients))
	patientOrder := make([]string, 0, len(patients))
	for _, p := range patients {
		if p.ID == "" {
			return fmt.Errorf("patient id is required")
		}
		if _, ok := nextPatients[p.ID]; !ok {
			patientOrder = append(patientOrder, p.ID)
		}
		nextPatients[p.ID] = p.Clone()
	}

	nextDonors := make(map[string]domain.Donor, len(donors))
	donorOrder := make([]string, 0, len(donors))
	for _, d := range donors {
		if d.ID == "" {
			return fmt.Errorf("donor id is required")
		}
		if _, ok := nextDonors[d.ID]; !ok {
			donorOrder = append(donorOrder, d.ID)
		}
		nextDonors[d.ID] = d.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients, s.patientOrder = nextPatients, patientOrder
	s.donors, s.donorOrder = nextDonors, donorOrder
	return nil
}

// PutPatient inserts or replaces a patient, keeping its original position.
func (s *Store) PutPatient(p domain.Patient) error {
	if p.ID == "" {
		return fmt.Errorf("patient id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[p.ID]; !ok {
		s.patientOrder = append(s.patientOrder, p.ID)
	}
	s.patients[p.ID] = p.Clone()
	return nil
}

// PutDonor inserts or replaces a donor, keeping its original position.
func (s *Store) PutDonor(d domain.Donor) error {
	if d.ID == "" {
		return fmt.Errorf("donor id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.donors[d.ID]; !ok {
		s.donorOrder = append(s.donorOrder, d.ID)
	}
	s.donors[d.ID] = d.Clone()
	return nil
}

// Patient returns a copy of one patient.
func (s *Store) Patient(id string) (domain.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return domain.Patient{}, fmt.Errorf("patient %s: %w", id, domain.ErrNotFound)
	}
	return p.Clone(), nil
}

// Donor returns a copy of one donor.
func (s *Store) Donor(id string) (domain.Donor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.donors[id]
	if !ok {
		return domain.Donor{}, fmt.Errorf("donor %s: %w", id, domain.ErrNotFound)
	}
	return d.Clone(), nil
}

// Patients returns a snapshot in insertion order.
func (s *Store) Patients() []domain.Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Patient, 0, len(s.patientOrder))
	for _, id := range s.patientOrder {
		out = append(out, s.patients[id].Clone())
	}
	return out
}

// Donors returns a snapshot in insertion order.
func (s *Store) Donors() []domain.Donor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Donor, 0, len(s.donorOrder))
	for _, id := range s.donorOrder {
		out = append(out, s.donors[id].Clone())
	}
	return out
}

// SetPatientStatus changes the lifecycle status of one patient.
func (s *Store) SetPatientStatus(id string, status domain.PatientStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return fmt.Errorf("patient %s: %w", id, domain.ErrNotFound)
	}
	p.Status = status
	s.patients[id] = p
	return nil
}

// SetDonorStatus changes the lifecycle status of one donor.
func (s *Store) SetDonorStatus(id string, status domain.DonorStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.donors[id]
	if !ok {
		return fmt.Errorf("donor %s: %w", id, domain.ErrNotFound)
	}
	d.Status = status
	s.donors[id] = d
	return nil
}

// Counts reports active patients and available donors.
func (s *Store) Counts() (activePatients, availableDonors int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.patients {
		if p.Status == domain.PatientActive {
			activePatients++
		}
	}
	for _, d := range s.donors {
		if d.Status == domain.DonorAvailable {
			availableDonors++
		}
	}
	return activePatients, availableDonors
}
