// Package layers composes the universal, meter-type and model configuration
// layers into one EffectiveConfig.
package layers

import (
	"fmt"
	"strings"

	"github.com/kozaktomas/meter-lab/internal/optional"
	"github.com/kozaktomas/meter-lab/internal/preprocess"
)

// Defaults for universal-only settings when the universal layer leaves them unset.
const (
	DefaultMinConfidence = 0.7
	DefaultMultiPass     = 1
)

// promptSeparator joins prompt fragments of consecutive layers.
const promptSeparator = "\n\n"

// Kind identifies the tier of a layer.
type Kind string

// Layer tiers, in composition order.
const (
	KindUniversal Kind = "universal"
	KindType      Kind = "type"
	KindModel     Kind = "model"
)

// Layer is one partial configuration. MinConfidence and MultiPass are only
// honoured on the universal layer.
type Layer struct {
	Kind          Kind                    `json:"kind"`
	ID            string                  `json:"id"`
	Version       int                     `json:"version,omitempty"`
	Prompt        optional.Value[string]  `json:"prompt"`
	Preprocessing preprocess.Overrides    `json:"preprocessing"`
	MinConfidence optional.Value[float64] `json:"min_confidence"`
	MultiPass     optional.Value[int]     `json:"multi_pass"`
}

// Key identifies an EffectiveConfig for caching and reuse decisions.
type Key struct {
	UniversalVersion int    `json:"universal_version"`
	TypeConfigID     string `json:"type_config_id,omitempty"`
	ModelConfigID    string `json:"model_config_id,omitempty"`
}

// String renders the key as "u<version>/<type>/<model>".
func (k Key) String() string {
	return fmt.Sprintf("u%d/%s/%s", k.UniversalVersion, k.TypeConfigID, k.ModelConfigID)
}

// UniversalOnly reports whether the key names no type or model layer.
func (k Key) UniversalOnly() bool {
	return k.TypeConfigID == "" && k.ModelConfigID == ""
}

// EffectiveConfig is the materialized merge of a layer chain. Treat it as
// immutable: it is shared read-only between runs.
type EffectiveConfig struct {
	Key           Key                  `json:"key"`
	Prompt        string               `json:"prompt"`
	Preprocessing preprocess.Overrides `json:"preprocessing"`
	MinConfidence float64              `json:"min_confidence"`
	MultiPass     int                  `json:"multi_pass"`
}

// Params resolves the composed preprocessing overrides.
func (c EffectiveConfig) Params() preprocess.Params {
	return c.Preprocessing.Resolve()
}

// Options tunes composition.
type Options struct {
	// UniversalOnly skips the type and model layers; used for baseline runs.
	UniversalOnly bool
}

// Compose merges universal, then typeLayer, then modelLayer. Absent layers are
// no-ops. Prompt fragments concatenate; preprocessing keys from later layers
// replace earlier ones.
func Compose(universal Layer, typeLayer, modelLayer *Layer, opts Options) EffectiveConfig {
	cfg := EffectiveConfig{
		Key:           Key{UniversalVersion: universal.Version},
		Preprocessing: universal.Preprocessing,
		MinConfidence: universal.MinConfidence.OrElse(DefaultMinConfidence),
		MultiPass:     max(1, universal.MultiPass.OrElse(DefaultMultiPass)),
	}

	var fragments []string
	if p := universal.Prompt.OrElse(""); p != "" {
		fragments = append(fragments, p)
	}

	if !opts.UniversalOnly {
		for _, l := range []*Layer{typeLayer, modelLayer} {
			if l == nil {
				continue
			}
			if p := l.Prompt.OrElse(""); p != "" {
				fragments = append(fragments, p)
			}
			cfg.Preprocessing = cfg.Preprocessing.Overlay(l.Preprocessing)
		}
		if typeLayer != nil {
			cfg.Key.TypeConfigID = typeLayer.ID
		}
		if modelLayer != nil {
			cfg.Key.ModelConfigID = modelLayer.ID
		}
	}

	cfg.Prompt = strings.Join(fragments, promptSeparator)
	return cfg
}
