package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/png"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrDecode is returned when the source bytes are not a decodable image.
var ErrDecode = errors.New("cannot decode image")

// sharpenSigma is the unsharp-mask radius used by the sharpen step.
const sharpenSigma = 1.0

// Apply runs the Steps of p over the image and returns JPEG bytes. EXIF
// orientation is applied while decoding, before any step.
func Apply(data []byte, p Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	img := imaging.Clone(src)
	for _, step := range p.Steps() {
		switch step.Op {
		case OpCrop:
			img = imaging.Crop(img, cropRect(img.Bounds(), *p.Crop))
		case OpRotate:
			img = rotate(img, p.Rotate)
		case OpResize:
			img = imaging.Fit(img, p.MaxDimension, p.MaxDimension, imaging.CatmullRom)
		case OpGrayscale:
			img = imaging.Grayscale(img)
		case OpBrightness:
			img = imaging.AdjustBrightness(img, p.Brightness*100)
		case OpContrast:
			img = imaging.AdjustContrast(img, p.Contrast*100)
		case OpSharpen:
			img = imaging.Sharpen(img, sharpenSigma)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Fit downsizes an encoded image to maxSize on its longer side and re-encodes
// it as JPEG. Used when no layer-specific preprocessing is available.
func Fit(data []byte, maxSize int) ([]byte, error) {
	p := DefaultParams()
	p.MaxDimension = maxSize
	return Apply(data, p)
}

// cropRect converts a fractional crop into pixels, keeping at least one
// pixel on each side.
func cropRect(b image.Rectangle, r Rect) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	x0 := int(math.Round(r.X * float64(w)))
	y0 := int(math.Round(r.Y * float64(h)))
	x1 := min(w, x0+max(1, int(math.Round(r.Width*float64(w)))))
	y1 := min(h, y0+max(1, int(math.Round(r.Height*float64(h)))))
	return image.Rect(x0, y0, x1, y1).Add(b.Min)
}

// rotate turns the image clockwise; imaging rotates counter-clockwise.
func rotate(img *image.NRGBA, degrees int) *image.NRGBA {
	switch degrees {
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
