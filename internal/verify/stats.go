package verify

import (
	"math"

	"code.rollmark.org/golang/internal/rounds"
)

// Stats summarizes the per round response times of a completed proof.
//
// Certainty grades how plausible the timing profile is for a human holding a
// phone: tight consistency across rounds raises it, inhuman speed or uniformity
// lowers it.
type Stats struct {
	AvgMs     float64 `json:"avg_ms"`
	StdDevMs  float64 `json:"std_dev_ms"`
	Certainty int     `json:"certainty"`
}

// ComputeStats derives Stats from the completed rounds.
func ComputeStats(completed []rounds.RoundResult) Stats {
	if 0 == len(completed) {
		return Stats{}
	}

	var sum float64
	for _, res := range completed {
		sum += float64(res.ResponseTimeMs)
	}
	avg := sum / float64(len(completed))

	var sqsum float64
	for _, res := range completed {
		d := float64(res.ResponseTimeMs) - avg
		sqsum += d * d
	}
	stddev := math.Sqrt(sqsum / float64(len(completed)))

	return Stats{
		AvgMs:     avg,
		StdDevMs:  stddev,
		Certainty: certainty(avg, stddev),
	}
}

// certainty starts at 50 and moves with the timing profile, clamped to 0..100.
func certainty(avg, stddev float64) int {
	score := 50

	// consistency across rounds
	switch {
	case stddev < 500:
		score += 30
	case stddev < 1000:
		score += 20
	case stddev < 2000:
		score += 10
	}

	// plausible human reaction bands
	switch {
	case avg >= 800 && avg <= 3000:
		score += 20
	case avg >= 500 && avg <= 5000:
		score += 10
	case avg >= 300 && avg <= 8000:
		score += 5
	}

	// automated replay tends to be too fast; a stalled relay too slow
	if avg < 300 || avg > 15000 {
		score -= 20
	}

	return min(100, max(0, score))
}
