package fingerprint

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
)

func TestExact(t *testing.T) {
	a := Exact([]byte("meter photo"))
	b := Exact([]byte("meter photo"))
	c := Exact([]byte("meter photo!"))

	if a != b {
		t.Errorf("exact hash should be deterministic: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different bytes should produce different exact hashes")
	}
	if len(a) != ExactLength {
		t.Errorf("exact hash should be %d hex characters, got %d", ExactLength, len(a))
	}
}

func TestPerceptual_Format(t *testing.T) {
	data := encodeJPEG(halfImage(128, 128, true), 90)

	hash, err := Perceptual(data)
	if err != nil {
		t.Fatalf("Perceptual failed: %v", err)
	}
	if len(hash) != HexLength {
		t.Errorf("perceptual hash should be %d hex characters, got %d", HexLength, len(hash))
	}
	if strings.Trim(hash, "0123456789abcdef") != "" {
		t.Errorf("perceptual hash should be lowercase hex: %s", hash)
	}
	// Left half white: each 32-cell row starts with 16 set bits.
	if !strings.HasPrefix(hash, "ffff0000") {
		t.Errorf("unexpected first row: %s", hash[:8])
	}
}

func TestPerceptual_Deterministic(t *testing.T) {
	data := encodeJPEG(createGradientImage(100, 80), 90)

	h1, err := Perceptual(data)
	if err != nil {
		t.Fatalf("first Perceptual failed: %v", err)
	}
	h2, err := Perceptual(data)
	if err != nil {
		t.Fatalf("second Perceptual failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("perceptual hash should be consistent: %s vs %s", h1, h2)
	}
}

func TestPerceptual_DistinctImages(t *testing.T) {
	left, err := Perceptual(encodeJPEG(halfImage(128, 128, true), 90))
	if err != nil {
		t.Fatal(err)
	}
	top, err := Perceptual(encodeJPEG(halfImage(128, 128, false), 90))
	if err != nil {
		t.Fatal(err)
	}

	d, err := HammingDistance(left, top)
	if err != nil {
		t.Fatal(err)
	}
	if d <= NearDuplicateThreshold {
		t.Errorf("distinct images should differ by more than %d bits, got %d", NearDuplicateThreshold, d)
	}
}

func TestPerceptual_ToleratesRecompression(t *testing.T) {
	img := halfImage(128, 128, true)

	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		t.Fatal(err)
	}

	original, err := Perceptual(pngBuf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	recompressed, err := Perceptual(encodeJPEG(img, 40))
	if err != nil {
		t.Fatal(err)
	}

	if !Similar(original, recompressed, NearDuplicateThreshold) {
		d, _ := HammingDistance(original, recompressed)
		t.Errorf("recompressed image should be a near-duplicate, distance %d", d)
	}
	if Exact(pngBuf.Bytes()) == Exact(encodeJPEG(img, 40)) {
		t.Error("exact hashes should differ across encodings")
	}
}

func TestCompute_DecodeError(t *testing.T) {
	data := []byte("not an image")

	res, err := Compute(data)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if res.Exact != Exact(data) {
		t.Error("exact hash should still be returned on decode failure")
	}
	if res.Perceptual != "" {
		t.Error("perceptual hash should be empty on decode failure")
	}
}

func TestHammingDistance(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected int
		wantErr  bool
	}{
		{"identical", "00ff", "00ff", 0, false},
		{"completely different", "ffff", "0000", 16, false},
		{"one bit different", "0001", "0000", 1, false},
		{"alternating", "aaaa", "5555", 16, false},
		{"length mismatch", "00", "0000", 0, true},
		{"invalid hex", "zz", "00", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, err := HammingDistance(tc.a, tc.b)
			if (err != nil) != tc.wantErr {
				t.Fatalf("HammingDistance(%s, %s) error = %v; wantErr %v", tc.a, tc.b, err, tc.wantErr)
			}
			if d != tc.expected {
				t.Errorf("HammingDistance(%s, %s) = %d; want %d", tc.a, tc.b, d, tc.expected)
			}
		})
	}
}

func TestSimilar(t *testing.T) {
	tests := []struct {
		name      string
		a         string
		b         string
		threshold int
		expected  bool
	}{
		{"identical with threshold 0", "0000", "0000", 0, true},
		{"10 bits different, threshold 10", "0000", "03ff", 10, true},
		{"11 bits different, threshold 10", "0000", "07ff", 10, false},
		{"malformed", "0000", "xyz!", 10, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Similar(tc.a, tc.b, tc.threshold); got != tc.expected {
				t.Errorf("Similar(%s, %s, %d) = %v; want %v", tc.a, tc.b, tc.threshold, got, tc.expected)
			}
		})
	}
}

func TestVector(t *testing.T) {
	vec, err := Vector("a1")
	if err != nil {
		t.Fatalf("Vector failed: %v", err)
	}
	want := []float32{1, 0, 1, 0, 0, 0, 0, 1}
	if len(vec) != len(want) {
		t.Fatalf("vector length = %d; want %d", len(vec), len(want))
	}
	for i := range want {
		if vec[i] != want[i] {
			t.Errorf("vec[%d] = %v; want %v", i, vec[i], want[i])
		}
	}

	if _, err := Vector("not-hex"); err == nil {
		t.Error("expected error for invalid hash")
	}
}

func TestToGrayscale(t *testing.T) {
	img := createTestImage(10, 10, color.RGBA{255, 0, 0, 255})

	gray := toGrayscale(img)
	if len(gray) != 100 {
		t.Fatalf("grayscale length should be 100, got %d", len(gray))
	}

	// Red should convert to approximately 0.299 * 255 = 76.245
	expectedLuma := 0.299 * 255
	if gray[0] < expectedLuma-1 || gray[0] > expectedLuma+1 {
		t.Errorf("Red pixel luma should be ~%.2f, got %.2f", expectedLuma, gray[0])
	}
}

// Helper functions

func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, c)
		}
	}
	return img
}

func createGradientImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			gray := uint8((x + y) * 255 / (width + height))
			img.Set(x, y, color.RGBA{gray, gray, gray, 255})
		}
	}
	return img
}

// halfImage is white on the left (vertical) or top (horizontal) half, black elsewhere.
func halfImage(width, height int, vertical bool) *image.RGBA {
	img := createTestImage(width, height, color.Black)
	for x := range width {
		for y := range height {
			if (vertical && x < width/2) || (!vertical && y < height/2) {
				img.Set(x, y, color.White)
			}
		}
	}
	return img
}

func encodeJPEG(img image.Image, quality int) []byte {
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	return buf.Bytes()
}
