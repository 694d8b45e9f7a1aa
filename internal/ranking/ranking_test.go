package ranking

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KidneyAllocation/internal/domain"
	"KidneyAllocation/internal/logging"
)

func waitlist() []domain.Patient {
	return []domain.Patient{
		{ID: "P001", Name: "John Anderson", Age: 45, BloodType: domain.BloodA, HLA: []string{"A1", "A2", "B8", "B44", "DR3", "DR4"}, CPRA: 85, WaitDays: 730, Diabetes: true, DialysisDays: 547, DistanceMiles: 25, Clinician: "dr.smith", Status: domain.PatientActive},
		{ID: "P002", Name: "Sarah Martinez", Age: 32, BloodType: domain.BloodO, HLA: []string{"A3", "A24", "B7", "B35", "DR1", "DR15"}, CPRA: 95, WaitDays: 1095, PriorTransplant: true, DialysisDays: 821, DistanceMiles: 45, Clinician: "dr.johnson", Status: domain.PatientActive},
		{ID: "P003", Name: "Michael Chen", Age: 58, BloodType: domain.BloodB, HLA: []string{"A2", "A11", "B44", "B51", "DR4", "DR7"}, CPRA: 15, WaitDays: 365, DialysisDays: 273, DistanceMiles: 120, Clinician: "dr.smith", Status: domain.PatientActive},
		{ID: "P004", Name: "Emily Thompson", Age: 28, BloodType: domain.BloodAB, HLA: []string{"A1", "A3", "B8", "B7", "DR3", "DR1"}, CPRA: 42, WaitDays: 180, DialysisDays: 91, DistanceMiles: 75, Clinician: "dr.johnson", Status: domain.PatientActive},
	}
}

func donorPool() []domain.Donor {
	return []domain.Donor{
		{ID: "D001", Age: 42, BloodType: domain.BloodO, HLA: []string{"A1", "A2", "B8", "B35", "DR3", "DR15"}, HeightIn: 68, WeightLb: 170, Creatinine: 1.1, Status: domain.DonorAvailable},
		{ID: "D002", Age: 35, BloodType: domain.BloodA, HLA: []string{"A1", "A3", "B7", "B44", "DR4", "DR7"}, HeightIn: 65, WeightLb: 145, Creatinine: 0.9, Status: domain.DonorAvailable},
	}
}

func TestGenerateMatchesGroupsByDonor(t *testing.T) {
	t.Parallel()

	matches := GenerateMatches(donorPool(), waitlist())
	require.Len(t, matches, 6)

	d1 := ForDonor(matches, "D001")
	d2 := ForDonor(matches, "D002")
	require.Len(t, d1, 4)
	require.Len(t, d2, 2)

	// D001 group comes first in full
	for i := range d1 {
		assert.Equal(t, "D001", matches[i].DonorID)
	}

	ids := []string{d2[0].PatientID, d2[1].PatientID}
	assert.ElementsMatch(t, []string{"P001", "P004"}, ids)

	for _, group := range [][]domain.Match{d1, d2} {
		for i := 1; i < len(group); i++ {
			assert.GreaterOrEqual(t, group[i-1].Score, group[i].Score)
		}
	}
}

func TestGenerateMatchesExcludesIncompatibleBlood(t *testing.T) {
	t.Parallel()

	donor := domain.Donor{ID: "D1", BloodType: domain.BloodA, HLA: []string{"A1", "A2", "B8", "B44", "DR3", "DR4"}, Age: 40, HeightIn: 70, WeightLb: 160, Creatinine: 1, Status: domain.DonorAvailable}
	patient := domain.Patient{ID: "P1", BloodType: domain.BloodB, HLA: donor.HLA, CPRA: 100, WaitDays: 3000, Age: 40, DistanceMiles: 1, Status: domain.PatientActive}

	assert.Empty(t, GenerateMatches([]domain.Donor{donor}, []domain.Patient{patient}))

	for _, m := range GenerateMatches(donorPool(), waitlist()) {
		assert.Positive(t, m.BloodCompatibility)
	}
}

func TestGenerateMatchesFiltersStatus(t *testing.T) {
	t.Parallel()

	donors := donorPool()
	donors[0].Status = domain.DonorAllocated
	patients := waitlist()
	patients[0].Status = domain.PatientMatched
	patients[3].Status = domain.PatientInactive

	matches := GenerateMatches(donors, patients)
	assert.Empty(t, matches, "D002 (A) only fits P001 and P004, both filtered")

	donors[0].Status = domain.DonorAvailable
	matches = GenerateMatches(donors, patients)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Equal(t, "D001", m.DonorID)
		assert.NotEqual(t, "P001", m.PatientID)
		assert.NotEqual(t, "P004", m.PatientID)
	}
}

func TestScoreNearMaximal(t *testing.T) {
	t.Parallel()

	hla := []string{"A1", "A2", "B8", "B44", "DR3", "DR4"}
	donor := domain.Donor{ID: "D1", BloodType: domain.BloodO, HLA: hla, Age: 40, HeightIn: 70, WeightLb: 160, Creatinine: 1.0, Status: domain.DonorAvailable}
	patient := domain.Patient{ID: "P1", BloodType: domain.BloodO, HLA: append([]string(nil), hla...), CPRA: 98, WaitDays: 2000, Age: 40, DistanceMiles: 10, Status: domain.PatientActive}

	m, ok := Score(donor, patient)
	require.True(t, ok)

	b := m.Breakdown
	for name, v := range map[string]float64{
		"blood": b.Blood, "hla": b.HLA, "cpra": b.CPRA, "wait": b.WaitTime, "age": b.Age, "distance": b.Distance,
	} {
		assert.Equal(t, 100.0, v, name)
	}
	assert.InDelta(t, 16.0, b.EPTS, 1e-9)
	assert.InDelta(t, 20.0, b.KDPI, 1e-9)
	assert.InDelta(t, 99.8, b.Quality, 1e-9)

	weighted := WeightBlood*b.Blood + WeightHLA*b.HLA + WeightCPRA*b.CPRA +
		WeightWaitTime*b.WaitTime + WeightAge*b.Age + WeightDistance*b.Distance
	assert.InDelta(t, 25.0, WeightBlood*b.Blood, 1e-9)
	assert.InDelta(t, 20.0, WeightHLA*b.HLA, 1e-9)
	assert.InDelta(t, 15.0, WeightCPRA*b.CPRA, 1e-9)
	assert.InDelta(t, 15.0, WeightWaitTime*b.WaitTime, 1e-9)
	assert.InDelta(t, 10.0, WeightAge*b.Age, 1e-9)
	assert.InDelta(t, 10.0, WeightDistance*b.Distance, 1e-9)
	assert.InDelta(t, 95.0, weighted, 1e-9)

	// quality is added unweighted and the total is not clamped to 100
	assert.InDelta(t, 194.8, m.Score, 1e-9)
}

func TestScoreRoundsToTwoDecimals(t *testing.T) {
	t.Parallel()

	for _, m := range GenerateMatches(donorPool(), waitlist()) {
		assert.InDelta(t, m.Score, round2(m.Score), 1e-9, "%s/%s", m.DonorID, m.PatientID)
	}
}

func TestTiesKeepPatientOrder(t *testing.T) {
	t.Parallel()

	donor := donorPool()[0]
	base := waitlist()[1]
	var patients []domain.Patient
	for i := 0; i < 5; i++ {
		p := base
		p.ID = fmt.Sprintf("T%d", i)
		patients = append(patients, p)
	}

	matches := GenerateMatches([]domain.Donor{donor}, patients)
	require.Len(t, matches, 5)
	for i, m := range matches {
		assert.Equal(t, fmt.Sprintf("T%d", i), m.PatientID)
	}
}

func TestRankerMatchesSequential(t *testing.T) {
	t.Parallel()

	var donors []domain.Donor
	for i := 0; i < 12; i++ {
		for _, d := range donorPool() {
			d.ID = fmt.Sprintf("%s-%d", d.ID, i)
			d.Age += i
			donors = append(donors, d)
		}
	}
	patients := waitlist()

	obs := &countingObserver{}
	r := NewRanker(nil, WithParallelism(3), WithObserver(obs))
	res, err := r.Rank(context.Background(), donors, patients)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, GenerateMatches(donors, patients), res.Matches)
	assert.Equal(t, len(res.Matches), obs.matches)
}

func TestRankerReportsMalformedInput(t *testing.T) {
	t.Parallel()

	donors := donorPool()
	donors[1].BloodType = "A+"
	patients := waitlist()
	patients[2].Status = "Waiting"

	res, err := NewRanker(nil).Rank(context.Background(), donors, patients)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 2)
	assert.True(t, errors.Is(res.Warnings[0].Err, domain.ErrUnknownBloodType))
	assert.Equal(t, "D002", res.Warnings[0].RecordID)
	assert.True(t, errors.Is(res.Warnings[1].Err, domain.ErrUnknownEnum))
	assert.Contains(t, res.Warnings[1].String(), "P003")

	for _, m := range res.Matches {
		assert.NotEqual(t, "D002", m.DonorID)
		assert.NotEqual(t, "P003", m.PatientID)
	}
}

func TestRankerLogsCompletedRunAtInfo(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	r := NewRanker(logging.Component(logging.NewWriter(&logs, "info"), "ranking"))
	res, err := r.Rank(context.Background(), donorPool(), waitlist())
	require.NoError(t, err)

	out := logs.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, `msg="ranking done"`)
	assert.Contains(t, out, "component=ranking")
	assert.Contains(t, out, fmt.Sprintf("matches=%d", len(res.Matches)))
}

func TestRankerHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRanker(nil).Rank(ctx, donorPool(), waitlist())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummarizeAndTop(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Summary{}, Summarize(nil))

	matches := []domain.Match{{Score: 150}, {Score: 170.5}, {Score: 120}}
	s := Summarize(matches)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 170.5, s.Highest)
	assert.InDelta(t, 146.83, s.Average, 1e-9)

	assert.Len(t, Top(matches, 2), 2)
	assert.Len(t, Top(matches, 10), 3)
	assert.Len(t, Top(matches, 0), 3)
}

type countingObserver struct {
	matches int
}

func (c *countingObserver) ObserveRanking(_, _, matches int) {
	c.matches = matches
}
