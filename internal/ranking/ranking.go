// Package ranking turns a snapshot of donors and patients into an ordered
// match list: one group per available donor, best candidate first.
package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"golang.org/x/sync/errgroup"

	"KidneyAllocation/internal/compat"
	"KidneyAllocation/internal/domain"
)

// Factor weights for the six tiered factors. Quality match is added unweighted.
const (
	WeightBlood    = 0.25
	WeightHLA      = 0.20
	WeightCPRA     = 0.15
	WeightWaitTime = 0.15
	WeightAge      = 0.10
	WeightDistance = 0.10
)

// Score evaluates a single pair. ok is false when blood types are incompatible.
func Score(d domain.Donor, p domain.Patient) (domain.Match, bool) {
	blood := compat.BloodCompatibility(p.BloodType, d.BloodType)
	if blood <= 0 {
		return domain.Match{}, false
	}

	b := domain.Breakdown{
		Blood:    blood,
		HLA:      compat.HLAMatch(p.HLA, d.HLA),
		CPRA:     compat.CPRAPriority(p.CPRA),
		WaitTime: compat.WaitTimePoints(p.WaitDays),
		Age:      compat.AgeCompatibility(p.Age, d.Age),
		Distance: compat.DistanceScore(p.DistanceMiles),
		EPTS:     compat.PatientEPTS(p),
		KDPI:     compat.DonorKDPI(d),
	}
	b.Quality = compat.QualityMatch(b.EPTS, b.KDPI)

	overall := WeightBlood*b.Blood +
		WeightHLA*b.HLA +
		WeightCPRA*b.CPRA +
		WeightWaitTime*b.WaitTime +
		WeightAge*b.Age +
		WeightDistance*b.Distance +
		b.Quality

	return domain.Match{
		DonorID:            d.ID,
		PatientID:          p.ID,
		PatientName:        p.Name,
		Clinician:          p.Clinician,
		Score:              round2(overall),
		BloodCompatibility: blood,
		Breakdown:          b,
	}, true
}

// GenerateMatches ranks every eligible pair. Donors must be Available and
// patients Active; incompatible pairs are absent, not low-scored. Groups follow
// donor input order and ties keep patient input order.
func GenerateMatches(donors []domain.Donor, patients []domain.Patient) []domain.Match {
	active := activePatients(patients)
	var matches []domain.Match
	for _, d := range donors {
		if d.Status != domain.DonorAvailable {
			continue
		}
		matches = append(matches, rankDonor(d, active)...)
	}
	return matches
}

func rankDonor(d domain.Donor, patients []domain.Patient) []domain.Match {
	var group []domain.Match
	for _, p := range patients {
		if m, ok := Score(d, p); ok {
			group = append(group, m)
		}
	}
	slices.SortStableFunc(group, func(a, b domain.Match) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return group
}

func activePatients(patients []domain.Patient) []domain.Patient {
	active := make([]domain.Patient, 0, len(patients))
	for _, p := range patients {
		if p.Status == domain.PatientActive {
			active = append(active, p)
		}
	}
	return active
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Warning flags malformed input that was scored as incompatible instead of failing.
type Warning struct {
	RecordID string
	Kind     string
	Err      error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %s: %v", w.Kind, w.RecordID, w.Err)
}

// Result is the outcome of a ranking pass.
type Result struct {
	Matches  []domain.Match
	Warnings []Warning
}

// Ranker evaluates donors concurrently. Output is identical to GenerateMatches.
type Ranker struct {
	parallelism int
	logger      *slog.Logger
	observer    Observer
}

// Observer receives per-pass statistics (metrics adapter).
type Observer interface {
	ObserveRanking(donors, patients, matches int)
}

// Option customises a Ranker.
type Option func(*Ranker)

// WithParallelism bounds the number of donors ranked at once.
func WithParallelism(n int) Option {
	return func(r *Ranker) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// WithObserver attaches a statistics sink.
func WithObserver(o Observer) Option {
	return func(r *Ranker) { r.observer = o }
}

// NewRanker builds a Ranker; parallelism defaults to 4.
func NewRanker(logger *slog.Logger, opts ...Option) *Ranker {
	r := &Ranker{parallelism: 4, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rank validates the snapshot, then ranks each available donor in parallel.
func (r *Ranker) Rank(ctx context.Context, donors []domain.Donor, patients []domain.Patient) (Result, error) {
	warnings := validate(donors, patients)
	for _, w := range warnings {
		r.warn("malformed record scored as incompatible", "kind", w.Kind, "id", w.RecordID, "error", w.Err)
	}

	active := activePatients(patients)
	groups := make([][]domain.Match, len(donors))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i, d := range donors {
		if d.Status != domain.DonorAvailable {
			continue
		}
		i, d := i, d
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			groups[i] = rankDonor(d, active)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("rank donors: %w", err)
	}

	var matches []domain.Match
	for _, group := range groups {
		matches = append(matches, group...)
	}

	if r.observer != nil {
		r.observer.ObserveRanking(len(donors), len(patients), len(matches))
	}
	r.info("ranking done", "donors", len(donors), "patients", len(patients), "matches", len(matches))

	return Result{Matches: matches, Warnings: warnings}, nil
}

func validate(donors []domain.Donor, patients []domain.Patient) []Warning {
	var out []Warning
	for _, d := range donors {
		if !d.BloodType.Valid() {
			out = append(out, Warning{RecordID: d.ID, Kind: "donor", Err: fmt.Errorf("%w: %q", domain.ErrUnknownBloodType, d.BloodType)})
		}
		if _, err := domain.ParseDonorStatus(string(d.Status)); err != nil {
			out = append(out, Warning{RecordID: d.ID, Kind: "donor", Err: err})
		}
	}
	for _, p := range patients {
		if !p.BloodType.Valid() {
			out = append(out, Warning{RecordID: p.ID, Kind: "patient", Err: fmt.Errorf("%w: %q", domain.ErrUnknownBloodType, p.BloodType)})
		}
		if _, err := domain.ParsePatientStatus(string(p.Status)); err != nil {
			out = append(out, Warning{RecordID: p.ID, Kind: "patient", Err: err})
		}
	}
	return out
}

func (r *Ranker) info(msg string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Info(msg, args...)
	}
}

func (r *Ranker) warn(msg string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
