// Package duplicate decides whether a new photo shows a meter model that is
// already represented by an existing reference photo.
package duplicate

import (
	"context"
	_ "embed"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/meter-lab/internal/ai"
	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/objectstore"
)

//go:embed prompts/compare.txt
var comparePrompt string

// DefaultBatchSize is the number of references shown per inference call.
const DefaultBatchSize = 5

// Result is the outcome of a duplicate check. Applicable is false when no
// reference image could be used at all.
type Result struct {
	Applicable     bool    `json:"applicable"`
	IsDuplicate    bool    `json:"is_duplicate"`
	MatchedPhotoID string  `json:"matched_photo_id,omitempty"`
	MatchedRef     string  `json:"matched_ref,omitempty"`
	Confidence     float64 `json:"confidence"`
	Reason         string  `json:"reason"`
	Calls          int     `json:"calls"`
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	Cost           float64 `json:"cost"`
}

// Detector compares a candidate against reference photos in fixed-size
// batches and stops at the first batch that reports a match.
type Detector struct {
	provider  ai.Provider
	objects   objectstore.Store
	batchSize int
	index     *Index
	log       zerolog.Logger
}

// NewDetector creates a Detector. batchSize is capped so the candidate plus
// one batch fit in a single provider call.
func NewDetector(provider ai.Provider, objects objectstore.Store, batchSize int, log zerolog.Logger) *Detector {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if limit := provider.MaxImagesPerCall() - 1; limit > 0 && batchSize > limit {
		batchSize = limit
	}
	return &Detector{
		provider:  provider,
		objects:   objects,
		batchSize: batchSize,
		log:       log,
	}
}

// SetIndex enables perceptual pre-ordering of references.
func (d *Detector) SetIndex(idx *Index) {
	d.index = idx
}

// BatchSize returns the effective number of references per call.
func (d *Detector) BatchSize() int {
	return d.batchSize
}

type compareResponse struct {
	MatchIndex *int    `json:"match_index"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

type reference struct {
	photo database.Photo
	data  []byte
}

// Detect checks candidate against refs in order. When the detector has an
// index and candidateHash is set, references are first reordered so the
// perceptually closest ones are checked first.
func (d *Detector) Detect(ctx context.Context, candidate []byte, candidateHash string, refs []database.Photo) (Result, error) {
	if d.index != nil && candidateHash != "" {
		refs = d.index.Rank(candidateHash, refs)
	}

	var result Result
	for start := 0; start < len(refs); start += d.batchSize {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("duplicate check cancelled: %w", err)
		}

		batch := d.load(ctx, refs[start:min(start+d.batchSize, len(refs))])
		if len(batch) == 0 {
			continue
		}
		result.Applicable = true

		match, ok := d.compare(ctx, candidate, batch, &result)
		if ok {
			return match, nil
		}
	}

	if !result.Applicable {
		result.Reason = "no usable reference images"
		return result, nil
	}
	result.Reason = "no matching reference found"
	result.Confidence = 0
	return result, nil
}

// load fetches the bytes of each reference, skipping those that fail.
func (d *Detector) load(ctx context.Context, photos []database.Photo) []reference {
	var out []reference
	for _, p := range photos {
		if p.Ref == "" {
			continue
		}
		data, err := d.objects.Fetch(ctx, p.Ref)
		if err != nil {
			d.log.Warn().Err(err).Str("photo_id", p.ID).Msg("skipping unreadable reference")
			continue
		}
		out = append(out, reference{photo: p, data: data})
	}
	return out
}

// compare issues one call for a batch. Any failure or malformed answer is
// treated as no match in this batch.
func (d *Detector) compare(ctx context.Context, candidate []byte, batch []reference, acc *Result) (Result, bool) {
	images := make([]ai.Image, 0, len(batch)+1)
	images = append(images, ai.Image{Data: candidate, Label: "CANDIDATE"})
	for i, ref := range batch {
		images = append(images, ai.Image{Data: ref.data, Label: fmt.Sprintf("REFERENCE %d", i+1)})
	}

	acc.Calls++
	resp, err := d.provider.Infer(ctx, ai.InferenceRequest{Instruction: comparePrompt, Images: images})
	if err != nil {
		d.log.Warn().Err(err).Int("batch_size", len(batch)).Msg("duplicate batch call failed")
		return Result{}, false
	}
	acc.InputTokens += resp.InputTokens
	acc.OutputTokens += resp.OutputTokens
	acc.Cost += resp.Cost

	var parsed compareResponse
	if err := ai.DecodeJSON(resp.Text, &parsed); err != nil {
		d.log.Debug().Err(err).Msg("malformed duplicate response")
		return Result{}, false
	}
	if parsed.MatchIndex == nil || *parsed.MatchIndex < 1 || *parsed.MatchIndex > len(batch) {
		return Result{}, false
	}

	matched := batch[*parsed.MatchIndex-1].photo
	match := *acc
	match.IsDuplicate = true
	match.MatchedPhotoID = matched.ID
	match.MatchedRef = matched.Ref
	match.Confidence = normalizeConfidence(parsed.Confidence)
	match.Reason = parsed.Reason
	return match, true
}

// normalizeConfidence maps a confidence to [0,100]; fractions are scaled up.
func normalizeConfidence(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v > 0 && v <= 1 {
		v *= 100
	}
	return math.Max(0, math.Min(100, v))
}
