// Package compat holds the per-factor compatibility scores between a waiting
// patient and a donor kidney. Every function is pure and, unless noted,
// returns a value in [0,100].
package compat

import (
	"math"

	"KidneyAllocation/internal/domain"
)

// bloodTable is keyed donor type first, then patient type. Missing pairs are incompatible.
var bloodTable = map[domain.BloodType]map[domain.BloodType]float64{
	domain.BloodO: {
		domain.BloodO:  100,
		domain.BloodA:  80,
		domain.BloodB:  80,
		domain.BloodAB: 60,
	},
	domain.BloodA: {
		domain.BloodA:  100,
		domain.BloodAB: 80,
	},
	domain.BloodB: {
		domain.BloodB:  100,
		domain.BloodAB: 80,
	},
	domain.BloodAB: {
		domain.BloodAB: 100,
	},
}

// BloodCompatibility scores ABO compatibility. Zero means the pair is ineligible.
func BloodCompatibility(patient, donor domain.BloodType) float64 {
	return bloodTable[donor][patient]
}

// HLAMatch counts position-wise antigen equality over the six loci.
// Missing positions on either side count as mismatches.
func HLAMatch(patient, donor []string) float64 {
	matches := 0
	for i := 0; i < len(patient) && i < domain.HLALoci; i++ {
		if i < len(donor) && patient[i] == donor[i] {
			matches++
		}
	}
	return float64(matches) / domain.HLALoci * 100
}

// CPRAPriority favours highly sensitized patients.
func CPRAPriority(cpra float64) float64 {
	switch {
	case cpra >= 98:
		return 100
	case cpra >= 80:
		return 80
	case cpra >= 20:
		return 50
	default:
		return 20
	}
}

// MaxWaitDays caps wait-time credit at five years.
const MaxWaitDays = 365 * 5

// WaitTimePoints is linear in days waited up to MaxWaitDays.
func WaitTimePoints(waitDays int) float64 {
	if waitDays < 0 {
		waitDays = 0
	}
	return float64(min(waitDays, MaxWaitDays)) / MaxWaitDays * 100
}

// AgeCompatibility prefers donor and recipient of similar age.
func AgeCompatibility(patientAge, donorAge int) float64 {
	diff := patientAge - donorAge
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff <= 10:
		return 100
	case diff <= 20:
		return 80
	case diff <= 30:
		return 60
	default:
		return 40
	}
}

// DistanceScore approximates cold ischemia risk from travel distance.
func DistanceScore(miles float64) float64 {
	switch {
	case miles <= 50:
		return 100
	case miles <= 150:
		return 80
	case miles <= 500:
		return 60
	case miles <= 1000:
		return 40
	default:
		return 20
	}
}

// EPTS estimates post-transplant survival. Lower is better; capped at 100.
func EPTS(age int, diabetes, priorTransplant bool, dialysisDays int) float64 {
	score := float64(age) * 0.4
	if diabetes {
		score += 20
	}
	if priorTransplant {
		score += 10
	}
	score += math.Min(float64(dialysisDays)/365, 5) * 3
	return math.Min(score, 100)
}

// KDPI estimates organ quality. Lower is better; capped at 100.
func KDPI(age int, heightIn, weightLb float64, hypertension, diabetes bool, creatinine float64, hcv, dcd bool) float64 {
	score := float64(age) * 0.5
	if hypertension {
		score += 15
	}
	if diabetes {
		score += 15
	}
	if hcv {
		score += 10
	}
	if dcd {
		score += 20
	}
	score += math.Max(0, (creatinine-1.0)*10)
	if BMI(heightIn, weightLb) > 30 {
		score += 10
	}
	return math.Min(score, 100)
}

// BMI uses imperial units. A non-positive height yields zero.
func BMI(heightIn, weightLb float64) float64 {
	if heightIn <= 0 {
		return 0
	}
	return weightLb * 703 / (heightIn * heightIn)
}

// QualityMatch rewards EPTS and KDPI of similar magnitude. It does not enforce
// direction, only proximity.
func QualityMatch(epts, kdpi float64) float64 {
	return 100 - math.Abs(epts-kdpi)*0.05
}

// PatientEPTS is EPTS evaluated from a patient record.
func PatientEPTS(p domain.Patient) float64 {
	return EPTS(p.Age, p.Diabetes, p.PriorTransplant, p.DialysisDays)
}

// DonorKDPI is KDPI evaluated from a donor record.
func DonorKDPI(d domain.Donor) float64 {
	return KDPI(d.Age, d.HeightIn, d.WeightLb, d.Hypertension, d.Diabetes, d.Creatinine, d.HCV, d.DCD)
}
