package ranking

import "KidneyAllocation/internal/domain"

// Summary aggregates a match list for dashboards.
type Summary struct {
	Total   int
	Average float64
	Highest float64
}

// Summarize returns zero values for an empty list.
func Summarize(matches []domain.Match) Summary {
	if len(matches) == 0 {
		return Summary{}
	}
	s := Summary{Total: len(matches), Highest: matches[0].Score}
	var sum float64
	for _, m := range matches {
		sum += m.Score
		if m.Score > s.Highest {
			s.Highest = m.Score
		}
	}
	s.Average = round2(sum / float64(len(matches)))
	return s
}

// Top returns up to n matches in list order.
func Top(matches []domain.Match, n int) []domain.Match {
	if n <= 0 || n >= len(matches) {
		return matches
	}
	return matches[:n]
}

// ForDonor returns the group belonging to one donor, preserving rank order.
func ForDonor(matches []domain.Match, donorID string) []domain.Match {
	var out []domain.Match
	for _, m := range matches {
		if m.DonorID == donorID {
			out = append(out, m)
		}
	}
	return out
}
