// Package fingerprint derives identity strings from photo bytes: an exact
// SHA-256 digest for rejecting byte-identical re-uploads and a perceptual
// mean hash for near-duplicate pre-filtering.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// GridSize is the side of the downsampled grid used by the perceptual hash.
	GridSize = 32
	// Bits is the perceptual hash length in bits.
	Bits = GridSize * GridSize
	// HexLength is the perceptual hash length in hex characters.
	HexLength = Bits / 4
	// ExactLength is the exact hash length in hex characters.
	ExactLength = sha256.Size * 2

	// NearDuplicateThreshold is the Hamming distance at or below which two
	// perceptual hashes are reported as near-duplicates.
	NearDuplicateThreshold = 10
)

// DecodeError reports bytes that could not be decoded as an image. Callers
// skip perceptual fingerprinting and let the upload proceed.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Result holds both fingerprints of one image.
type Result struct {
	Exact      string `json:"exact_hash"`
	Perceptual string `json:"perceptual_hash,omitempty"`
}

// Compute returns the exact and perceptual fingerprints. When the bytes are
// not decodable the exact hash is still returned along with a *DecodeError.
func Compute(data []byte) (Result, error) {
	res := Result{Exact: Exact(data)}
	p, err := Perceptual(data)
	if err != nil {
		return res, err
	}
	res.Perceptual = p
	return res, nil
}

// Exact returns the hex SHA-256 digest of data.
func Exact(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Perceptual computes the mean hash: the image is scaled to a 32x32 grid,
// converted to grayscale and each cell emits 1 when brighter than the mean.
// Bits are packed MSB-first, four per hex character.
func Perceptual(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", &DecodeError{Err: err}
	}
	return encodeBits(meanHashBits(img)), nil
}

func meanHashBits(img image.Image) []bool {
	resized := resizeImage(img, GridSize, GridSize)
	gray := toGrayscale(resized)

	var sum float64
	for _, v := range gray {
		sum += v
	}
	mean := sum / float64(len(gray))

	out := make([]bool, len(gray))
	for i, v := range gray {
		out[i] = v > mean
	}
	return out
}

// resizeImage scales an image to the specified dimensions.
func resizeImage(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// toGrayscale returns the row-major luma values (0-255) of img.
func toGrayscale(img *image.RGBA) []float64 {
	b := img.Bounds()
	gray := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.RGBAAt(x, y)
			// ITU-R BT.601 luma formula.
			gray = append(gray, 0.299*float64(c.R)+0.587*float64(c.G)+0.114*float64(c.B))
		}
	}
	return gray
}

func encodeBits(b []bool) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 0, (len(b)+3)/4)
	for i := 0; i < len(b); i += 4 {
		var nibble byte
		for j := range 4 {
			nibble <<= 1
			if i+j < len(b) && b[i+j] {
				nibble |= 1
			}
		}
		out = append(out, digits[nibble])
	}
	return string(out)
}

// HammingDistance counts differing bits between two hex-encoded hashes of
// equal length.
func HammingDistance(a, b string) (int, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("hash length mismatch: %d vs %d", len(a), len(b))
	}
	ab, err := hex.DecodeString(a)
	if err != nil {
		return 0, fmt.Errorf("invalid hash %q: %w", a, err)
	}
	bb, err := hex.DecodeString(b)
	if err != nil {
		return 0, fmt.Errorf("invalid hash %q: %w", b, err)
	}
	distance := 0
	for i := range ab {
		distance += bits.OnesCount8(ab[i] ^ bb[i])
	}
	return distance, nil
}

// Similar reports whether two perceptual hashes are within threshold bits.
// Malformed hashes are never similar.
func Similar(a, b string, threshold int) bool {
	d, err := HammingDistance(a, b)
	return err == nil && d <= threshold
}

// Vector expands a perceptual hash into a 0/1 vector, one element per bit.
// The squared Euclidean distance between two vectors equals their Hamming
// distance, which lets vector indexes rank hashes.
func Vector(hash string) ([]float32, error) {
	raw, err := hex.DecodeString(hash)
	if err != nil {
		return nil, fmt.Errorf("invalid hash %q: %w", hash, err)
	}
	vec := make([]float32, 0, len(raw)*8)
	for _, by := range raw {
		for i := 7; i >= 0; i-- {
			vec = append(vec, float32((by>>i)&1))
		}
	}
	return vec, nil
}
