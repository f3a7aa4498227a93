// Package preprocess describes the image preprocessing applied before a photo
// is sent to the vision provider. Layers carry sparse Overrides; the composed
// result resolves into Params, which expand into a fixed, ordered Step list.
package preprocess

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/kozaktomas/meter-lab/internal/optional"
)

// Defaults applied when no layer sets a value.
const (
	DefaultMaxDimension = 1600
	DefaultJPEGQuality  = 85
)

// Rect is a crop window in relative coordinates (0..1 of width/height).
type Rect struct {
	X      float64 `json:"x" yaml:"x" validate:"gte=0,lte=1"`
	Y      float64 `json:"y" yaml:"y" validate:"gte=0,lte=1"`
	Width  float64 `json:"width" yaml:"width" validate:"gt=0,lte=1"`
	Height float64 `json:"height" yaml:"height" validate:"gt=0,lte=1"`
}

// Params is a fully resolved preprocessing specification.
type Params struct {
	MaxDimension int     `json:"max_dimension" validate:"gte=64,lte=4096"`
	Grayscale    bool    `json:"grayscale"`
	Contrast     float64 `json:"contrast" validate:"gte=-1,lte=1"`
	Brightness   float64 `json:"brightness" validate:"gte=-1,lte=1"`
	Rotate       int     `json:"rotate" validate:"oneof=0 90 180 270"`
	Crop         *Rect   `json:"crop,omitempty" validate:"omitempty"`
	Sharpen      bool    `json:"sharpen"`
	JPEGQuality  int     `json:"jpeg_quality" validate:"gte=1,lte=100"`
}

// DefaultParams returns the baseline used under every layer chain.
func DefaultParams() Params {
	return Params{
		MaxDimension: DefaultMaxDimension,
		JPEGQuality:  DefaultJPEGQuality,
	}
}

// Overrides is the sparse per-layer form of Params. Only set fields override;
// a set Crop replaces the previous crop window as a whole.
type Overrides struct {
	MaxDimension optional.Value[int]     `json:"max_dimension"`
	Grayscale    optional.Value[bool]    `json:"grayscale"`
	Contrast     optional.Value[float64] `json:"contrast"`
	Brightness   optional.Value[float64] `json:"brightness"`
	Rotate       optional.Value[int]     `json:"rotate"`
	Crop         optional.Value[Rect]    `json:"crop"`
	Sharpen      optional.Value[bool]    `json:"sharpen"`
	JPEGQuality  optional.Value[int]     `json:"jpeg_quality"`
}

// Overlay returns o with every field set in later replacing o's value.
func (o Overrides) Overlay(later Overrides) Overrides {
	return Overrides{
		MaxDimension: later.MaxDimension.Or(o.MaxDimension),
		Grayscale:    later.Grayscale.Or(o.Grayscale),
		Contrast:     later.Contrast.Or(o.Contrast),
		Brightness:   later.Brightness.Or(o.Brightness),
		Rotate:       later.Rotate.Or(o.Rotate),
		Crop:         later.Crop.Or(o.Crop),
		Sharpen:      later.Sharpen.Or(o.Sharpen),
		JPEGQuality:  later.JPEGQuality.Or(o.JPEGQuality),
	}
}

// Keys lists the names of the set fields, in declaration order.
func (o Overrides) Keys() []string {
	var keys []string
	add := func(set bool, name string) {
		if set {
			keys = append(keys, name)
		}
	}
	add(o.MaxDimension.IsSet(), "max_dimension")
	add(o.Grayscale.IsSet(), "grayscale")
	add(o.Contrast.IsSet(), "contrast")
	add(o.Brightness.IsSet(), "brightness")
	add(o.Rotate.IsSet(), "rotate")
	add(o.Crop.IsSet(), "crop")
	add(o.Sharpen.IsSet(), "sharpen")
	add(o.JPEGQuality.IsSet(), "jpeg_quality")
	return keys
}

// Resolve applies the overrides on top of DefaultParams.
func (o Overrides) Resolve() Params {
	p := DefaultParams()
	p.MaxDimension = o.MaxDimension.OrElse(p.MaxDimension)
	p.Grayscale = o.Grayscale.OrElse(p.Grayscale)
	p.Contrast = o.Contrast.OrElse(p.Contrast)
	p.Brightness = o.Brightness.OrElse(p.Brightness)
	p.Rotate = o.Rotate.OrElse(p.Rotate)
	if crop, ok := o.Crop.Get(); ok {
		p.Crop = &crop
	}
	p.Sharpen = o.Sharpen.OrElse(p.Sharpen)
	p.JPEGQuality = o.JPEGQuality.OrElse(p.JPEGQuality)
	return p
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks value ranges and that the crop window stays inside the image.
func (p Params) Validate() error {
	if err := getValidator().Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid preprocessing %s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid preprocessing: %w", err)
	}
	if p.Crop != nil {
		if p.Crop.X+p.Crop.Width > 1 || p.Crop.Y+p.Crop.Height > 1 {
			return errors.New("invalid preprocessing crop: window exceeds image bounds")
		}
	}
	return nil
}

// Step is one declarative transform handed to an image pipeline.
type Step struct {
	Op   string         `json:"op"`
	Args map[string]any `json:"args,omitempty"`
}

// Step operations, in the order Steps emits them.
const (
	OpCrop       = "crop"
	OpRotate     = "rotate"
	OpResize     = "resize"
	OpGrayscale  = "grayscale"
	OpBrightness = "brightness"
	OpContrast   = "contrast"
	OpSharpen    = "sharpen"
	OpEncodeJPEG = "encode_jpeg"
)

// Steps expands Params into the ordered transform list. No-op transforms are
// omitted; resize and encode are always present.
func (p Params) Steps() []Step {
	var steps []Step
	if p.Crop != nil {
		steps = append(steps, Step{Op: OpCrop, Args: map[string]any{
			"x": p.Crop.X, "y": p.Crop.Y, "width": p.Crop.Width, "height": p.Crop.Height,
		}})
	}
	if p.Rotate != 0 {
		steps = append(steps, Step{Op: OpRotate, Args: map[string]any{"degrees": p.Rotate}})
	}
	steps = append(steps, Step{Op: OpResize, Args: map[string]any{"max_dimension": p.MaxDimension}})
	if p.Grayscale {
		steps = append(steps, Step{Op: OpGrayscale})
	}
	if p.Brightness != 0 {
		steps = append(steps, Step{Op: OpBrightness, Args: map[string]any{"amount": p.Brightness}})
	}
	if p.Contrast != 0 {
		steps = append(steps, Step{Op: OpContrast, Args: map[string]any{"amount": p.Contrast}})
	}
	if p.Sharpen {
		steps = append(steps, Step{Op: OpSharpen})
	}
	steps = append(steps, Step{Op: OpEncodeJPEG, Args: map[string]any{"quality": p.JPEGQuality}})
	return steps
}
