// Package metrics folds run results into accuracy, confidence, latency and
// trend statistics, and decides A/B winners.
package metrics

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kozaktomas/meter-lab/internal/database"
)

// Confidence bucket lower bounds.
const (
	HighConfidence   = 0.9
	MediumConfidence = 0.7
	LowConfidence    = 0.5
)

// Counters are the denormalized batch counters.
type Counters struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Evaluated int `json:"evaluated"`
	Correct   int `json:"correct"`
	Failed    int `json:"failed"`
}

// ConfidenceBuckets partition runs with a defined confidence.
type ConfidenceBuckets struct {
	High    int `json:"high"`
	Medium  int `json:"medium"`
	Low     int `json:"low"`
	VeryLow int `json:"very_low"`
}

// LatencyStats summarizes per-run latency in milliseconds.
type LatencyStats struct {
	Mean float64 `json:"mean"`
	P50  float64 `json:"p50"`
	P90  float64 `json:"p90"`
	Max  float64 `json:"max"`
}

// Stats is the aggregate over one scope of runs.
type Stats struct {
	Counters
	ModelMatches   int               `json:"model_matches"`
	NeedsReview    int               `json:"needs_review"`
	AccuracyRate   *float64          `json:"accuracy_rate"`
	MatchRate      *float64          `json:"match_rate"`
	MeanConfidence *float64          `json:"mean_confidence"`
	Confidence     ConfidenceBuckets `json:"confidence"`
	Latency        LatencyStats      `json:"latency"`
	InputTokens    int               `json:"input_tokens"`
	OutputTokens   int               `json:"output_tokens"`
	TotalCost      float64           `json:"total_cost"`
	Timeline       []DayBucket       `json:"timeline,omitempty"`
	ErrorPatterns  []ErrorPattern    `json:"error_patterns,omitempty"`
	Baseline       *BaselineDelta    `json:"baseline,omitempty"`
}

// Window bounds the aggregation in time. A zero window is derived from the
// runs' creation times.
type Window struct {
	From time.Time
	To   time.Time
}

// Count computes the batch counters. Completed includes evaluated runs;
// evaluated means a correctness verdict is attached.
func Count(runs []database.RunResult) Counters {
	c := Counters{Total: len(runs)}
	for i := range runs {
		r := &runs[i]
		switch r.Status {
		case database.RunCompleted, database.RunEvaluated:
			c.Completed++
		case database.RunFailed:
			c.Failed++
		}
		if r.Correct != nil {
			c.Evaluated++
			if *r.Correct {
				c.Correct++
			}
		}
	}
	return c
}

// Aggregate folds runs into Stats. It does not depend on run order.
func Aggregate(runs []database.RunResult, window Window) Stats {
	s := Stats{Counters: Count(runs)}
	s.AccuracyRate = ratio(s.Correct, s.Evaluated)

	var confidences, latencies []float64
	for i := range runs {
		r := &runs[i]
		if r.ModelMatched {
			s.ModelMatches++
		}
		if r.NeedsReview {
			s.NeedsReview++
		}
		s.InputTokens += r.InputTokens
		s.OutputTokens += r.OutputTokens
		s.TotalCost += r.Cost

		if r.Confidence != nil {
			confidences = append(confidences, *r.Confidence)
			s.Confidence.add(*r.Confidence)
		}
		if r.IsTerminal() {
			latencies = append(latencies, float64(r.LatencyMS))
		}
	}
	s.MatchRate = ratio(s.ModelMatches, s.Total)

	if len(confidences) > 0 {
		m := stat.Mean(confidences, nil)
		s.MeanConfidence = &m
	}
	s.Latency = latencyStats(latencies)

	if window.From.IsZero() || window.To.IsZero() {
		window = spanOf(runs, window)
	}
	s.Timeline = Timeline(runs, window)
	return s
}

func (b *ConfidenceBuckets) add(c float64) {
	switch {
	case c >= HighConfidence:
		b.High++
	case c >= MediumConfidence:
		b.Medium++
	case c >= LowConfidence:
		b.Low++
	default:
		b.VeryLow++
	}
}

func latencyStats(xs []float64) LatencyStats {
	if len(xs) == 0 {
		return LatencyStats{}
	}
	sort.Float64s(xs)
	return LatencyStats{
		Mean: stat.Mean(xs, nil),
		P50:  stat.Quantile(0.5, stat.Empirical, xs, nil),
		P90:  stat.Quantile(0.9, stat.Empirical, xs, nil),
		Max:  xs[len(xs)-1],
	}
}

// ratio returns num/den, or nil when den is zero.
func ratio(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	r := float64(num) / float64(den)
	return &r
}

// spanOf fills unset window bounds from the earliest and latest run.
func spanOf(runs []database.RunResult, w Window) Window {
	var first, last time.Time
	for i := range runs {
		t := runs[i].CreatedAt
		if first.IsZero() || t.Before(first) {
			first = t
		}
		if t.After(last) {
			last = t
		}
	}
	if w.From.IsZero() {
		w.From = first
	}
	if w.To.IsZero() {
		w.To = last
	}
	return w
}
