// Package scoring classifies RAGAS scores into display tiers and ratings.
package scoring

import (
	"fmt"
	"strings"

	"github.com/spboyer/querylens/internal/models"
)

// Tier is the display band of a single score.
type Tier string

const (
	TierLow  Tier = "low"
	TierMid  Tier = "mid"
	TierHigh Tier = "high"

	// HighThreshold is exclusive: exactly 0.80 is still mid.
	HighThreshold = 0.8
	// MidThreshold is inclusive.
	MidThreshold = 0.7
)

var tierRank = map[Tier]int{
	TierLow:  0,
	TierMid:  1,
	TierHigh: 2,
}

func (t Tier) String() string {
	return string(t)
}

// AtLeast returns true if t is at or above the target tier.
func (t Tier) AtLeast(target Tier) bool {
	return tierRank[t] >= tierRank[target]
}

// ParseTier converts a string flag value to a Tier.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return TierLow, nil
	case "mid", "medium":
		return TierMid, nil
	case "high":
		return TierHigh, nil
	default:
		return TierLow, fmt.Errorf("invalid tier %q: must be low, mid, or high", s)
	}
}

// TierOf returns the tier of a score: above 0.8 is high, 0.7 up to and
// including 0.8 is mid, anything else is low.
func TierOf(score float64) Tier {
	switch {
	case score > HighThreshold:
		return TierHigh
	case score >= MidThreshold:
		return TierMid
	default:
		return TierLow
	}
}

// Rating is the five-band label used for aggregate averages.
type Rating string

const (
	RatingExcellent Rating = "Excellent"
	RatingGood      Rating = "Good"
	RatingFair      Rating = "Fair"
	RatingWeak      Rating = "Weak"
	RatingPoor      Rating = "Poor"
)

// RatingOf returns the rating band of an average score.
func RatingOf(score float64) Rating {
	switch {
	case score >= 0.9:
		return RatingExcellent
	case score >= 0.8:
		return RatingGood
	case score >= 0.7:
		return RatingFair
	case score >= 0.6:
		return RatingWeak
	default:
		return RatingPoor
	}
}

// MetricTier is one score with its tier.
type MetricTier struct {
	models.Metric
	Tier Tier
}

// Assessment is the tiered view of a set of scores.
type Assessment struct {
	Metrics []MetricTier
	// Lowest is the lowest tier among the metrics.
	Lowest Tier
}

// Assess tiers each metric of scores.
func Assess(scores models.RagasScores) Assessment {
	a := Assessment{Lowest: TierHigh}
	for _, m := range scores.Metrics() {
		t := TierOf(m.Value)
		a.Metrics = append(a.Metrics, MetricTier{Metric: m, Tier: t})
		if !t.AtLeast(a.Lowest) {
			a.Lowest = t
		}
	}
	return a
}

// Below returns the metrics whose tier is under min.
func (a Assessment) Below(min Tier) []MetricTier {
	var out []MetricTier
	for _, m := range a.Metrics {
		if !m.Tier.AtLeast(min) {
			out = append(out, m)
		}
	}
	return out
}
