// Package scoring aggregates rule hits into a normalized risk score and a
// severity band.
package scoring

import (
	"github.com/opensource-finance/harrier/internal/domain"
)

// Band names.
const (
	BandLow    = "low"
	BandMedium = "medium"
	BandHigh   = "high"
)

// Normalize clamps a raw score to [0, max].
func Normalize(raw, max float64) float64 {
	if raw < 0 {
		return 0
	}
	if raw > max {
		return max
	}
	return raw
}

// Band maps a score to low/medium/high. Both comparisons are strict, so a
// score exactly equal to a threshold falls into the next-higher band.
func Band(score, low, medium float64) string {
	if score < low {
		return BandLow
	}
	if score < medium {
		return BandMedium
	}
	return BandHigh
}

// ComputeRisk sums the customer's base risk with every hit's score delta,
// normalizes to [0, max] and derives the band.
func ComputeRisk(baseRisk float64, hits []domain.Hit, max, low, medium float64) (float64, string) {
	total := baseRisk
	for _, h := range hits {
		total += h.ScoreDelta
	}
	score := Normalize(total, max)
	return score, Band(score, low, medium)
}
