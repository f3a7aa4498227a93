// Package recognition executes one effective configuration against one photo
// and classifies the outcome.
package recognition

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/meter-lab/internal/ai"
	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/layers"
	"github.com/kozaktomas/meter-lab/internal/objectstore"
	"github.com/kozaktomas/meter-lab/internal/preprocess"
)

//go:embed prompts/output_schema.txt
var outputSchema string

// maxRawLength bounds the raw response kept in a parse-error payload.
const maxRawLength = 2000

// Runner executes recognition runs against a vision provider.
type Runner struct {
	provider ai.Provider
	objects  objectstore.Store
	log      zerolog.Logger
	now      func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(provider ai.Provider, objects objectstore.Store, log zerolog.Logger) *Runner {
	return &Runner{
		provider: provider,
		objects:  objects,
		log:      log,
		now:      time.Now,
	}
}

// Provider returns the vision provider used by the runner.
func (r *Runner) Provider() ai.Provider {
	return r.provider
}

// Instruction appends the fixed output schema to the composed prompt.
func Instruction(cfg layers.EffectiveConfig) string {
	if cfg.Prompt == "" {
		return outputSchema
	}
	return cfg.Prompt + "\n\n" + outputSchema
}

// Execute runs cfg against photo and records the outcome on run, which must
// already be running. Provider and storage failures mark the run failed;
// unparseable responses mark it completed with an error payload. Execute only
// returns an error for a run in the wrong state; it never persists.
func (r *Runner) Execute(ctx context.Context, run *database.RunResult, photo *database.Photo, cfg layers.EffectiveConfig) error {
	if run.Status != database.RunRunning {
		return &TransitionError{RunID: run.ID, From: run.Status, To: database.RunCompleted}
	}

	log := r.log.With().Str("run_id", run.ID).Str("photo_id", photo.ID).Str("config_id", run.ConfigID).Logger()
	resetOutcome(run)

	data, err := r.objects.Fetch(ctx, photo.Ref)
	if err != nil {
		Fail(run, fmt.Errorf("fetch photo %s: %w", photo.Ref, err))
		log.Warn().Err(err).Msg("photo fetch failed")
		return nil
	}
	data = r.preprocess(data, cfg, log)

	instruction := Instruction(cfg)
	passes := max(cfg.MultiPass, 1)

	var (
		readings []Reading
		lastRaw  string
		parseErr error
		latency  time.Duration
	)
	for pass := range passes {
		start := r.now()
		resp, err := r.provider.Infer(ctx, ai.InferenceRequest{
			Instruction: instruction,
			Images:      []ai.Image{{Data: data}},
		})
		latency += r.now().Sub(start)
		run.LatencyMS = latency.Milliseconds()

		if err != nil {
			var te *ai.TransportError
			if !errors.As(err, &te) {
				err = &ai.TransportError{Provider: r.provider.Name(), Err: err}
			}
			Fail(run, err)
			log.Warn().Err(err).Int("pass", pass+1).Msg("inference failed")
			return nil
		}

		run.InputTokens += resp.InputTokens
		run.OutputTokens += resp.OutputTokens
		run.Cost += resp.Cost
		run.Model = resp.Model

		reading, err := ParseResponse(resp.Text)
		if err != nil {
			lastRaw, parseErr = resp.Text, err
			log.Debug().Err(err).Int("pass", pass+1).Msg("unparseable response")
			continue
		}
		readings = append(readings, reading)
	}

	_ = Transition(run, database.RunCompleted)

	chosen, ok := Vote(readings)
	if !ok {
		run.Actual = parseErrorPayload(lastRaw)
		run.Error = parseErr.Error()
		zero := 0.0
		run.Confidence = &zero
		run.NeedsReview = true
		if _, hasTruth := groundTruth(photo); hasTruth {
			// No reading can match the expected one.
			r.grade(run, false)
		}
		log.Info().Str("status", string(run.Status)).Int64("latency_ms", run.LatencyMS).Msg("run completed with parse error")
		return nil
	}

	run.Actual = chosen.Raw
	run.Reading = chosen.Value
	confidence := chosen.Confidence
	run.Confidence = &confidence
	run.ModelMatched = chosen.ModelMatch
	run.NeedsReview = confidence < cfg.MinConfidence

	if expected, ok := groundTruth(photo); ok {
		r.grade(run, chosen.Value == expected)
	}

	log.Info().
		Str("status", string(run.Status)).
		Float64("confidence", confidence).
		Int64("latency_ms", run.LatencyMS).
		Int("passes", passes).
		Msg("run completed")
	return nil
}

// groundTruth returns the photo's expected reading, if it has one.
func groundTruth(photo *database.Photo) (string, bool) {
	if !photo.HasGroundTruth() {
		return "", false
	}
	return GroundTruthReading(photo.GroundTruth)
}

// grade records the automatic verdict and moves the run to evaluated.
func (r *Runner) grade(run *database.RunResult, correct bool) {
	run.Correct = &correct
	now := r.now().UTC()
	run.EvaluatedAt = &now
	_ = Transition(run, database.RunEvaluated)
}

// preprocess applies the composed preprocessing; any failure keeps the original bytes.
func (r *Runner) preprocess(data []byte, cfg layers.EffectiveConfig, log zerolog.Logger) []byte {
	out, err := preprocess.Apply(data, cfg.Params())
	if err != nil {
		log.Debug().Err(err).Msg("preprocessing skipped")
		return data
	}
	return out
}

// Fail marks a running run failed and records err as its payload.
func Fail(run *database.RunResult, err error) {
	_ = Transition(run, database.RunFailed)
	run.Error = err.Error()
	run.Actual = errorPayload("transport_error", "message", err.Error())
}

// resetOutcome clears fields left over from a previous attempt.
func resetOutcome(run *database.RunResult) {
	run.Actual = nil
	run.Reading = ""
	run.Confidence = nil
	run.Correct = nil
	run.ModelMatched = false
	run.NeedsReview = false
	run.LatencyMS = 0
	run.InputTokens = 0
	run.OutputTokens = 0
	run.Cost = 0
	run.Model = ""
	run.Error = ""
	run.EvaluatedAt = nil
}

func parseErrorPayload(raw string) json.RawMessage {
	if len(raw) > maxRawLength {
		raw = raw[:maxRawLength]
	}
	return errorPayload("parse_error", "raw", raw)
}

func errorPayload(kind, key, value string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": kind, key: value})
	return b
}
