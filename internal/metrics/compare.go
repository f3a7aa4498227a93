package metrics

import "math"

// DefaultMaterialityThreshold is the accuracy difference an A/B comparison
// must exceed before either side wins.
const DefaultMaterialityThreshold = 0.02

// Winner is the outcome of an A/B comparison.
type Winner string

const (
	WinnerA   Winner = "A"
	WinnerB   Winner = "B"
	WinnerTie Winner = "TIE"
)

// BaselineDelta compares a config's stats with its baseline's.
type BaselineDelta struct {
	ConfigID        string   `json:"config_id"`
	EvaluatedRuns   int      `json:"evaluated_runs"`
	Accuracy        *float64 `json:"accuracy"`
	MeanConfidence  *float64 `json:"mean_confidence"`
	AccuracyDelta   *float64 `json:"accuracy_delta"`
	ConfidenceDelta *float64 `json:"confidence_delta"`
}

// CompareBaseline reports target minus baseline. It returns nil when the
// target is the baseline or the baseline has no evaluated runs.
func CompareBaseline(target Stats, targetID string, baseline Stats, baselineID string) *BaselineDelta {
	if targetID == baselineID || baseline.Evaluated == 0 {
		return nil
	}
	return &BaselineDelta{
		ConfigID:        baselineID,
		EvaluatedRuns:   baseline.Evaluated,
		Accuracy:        baseline.AccuracyRate,
		MeanConfidence:  baseline.MeanConfidence,
		AccuracyDelta:   diff(target.AccuracyRate, baseline.AccuracyRate),
		ConfidenceDelta: diff(target.MeanConfidence, baseline.MeanConfidence),
	}
}

// DecideWinner compares two accuracies. delta is b minus a. The higher side
// wins only when |delta| is strictly greater than threshold; an undefined
// accuracy on either side is a tie with no delta.
func DecideWinner(a, b *float64, threshold float64) (Winner, *float64) {
	delta := diff(b, a)
	if delta == nil {
		return WinnerTie, nil
	}
	// Round away float noise so 0.80 vs 0.82 sits exactly on the threshold.
	d := math.Round(*delta*1e9) / 1e9
	switch {
	case d > threshold:
		return WinnerB, delta
	case d < -threshold:
		return WinnerA, delta
	default:
		return WinnerTie, delta
	}
}

func diff(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	d := *a - *b
	return &d
}
