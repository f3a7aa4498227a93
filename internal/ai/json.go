package ai

import (
	"encoding/json"
	"errors"
)

// MaxScanLength bounds how many bytes ExtractJSON inspects.
const MaxScanLength = 64 * 1024

var errNoJSONObject = errors.New("no balanced JSON object found")

// ExtractJSON returns the first balanced {...} substring of content. The scan
// is a single linear pass that tracks string literals and escapes, so braces
// inside strings do not count.
func ExtractJSON(content string) (string, bool) {
	limit := min(len(content), MaxScanLength)

	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := range limit {
		c := content[i]
		if start == -1 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1], true
			}
		}
	}
	return "", false
}

// DecodeJSON extracts the first JSON object from content and unmarshals it
// into v. Failures are reported as *ParseError carrying the raw text.
func DecodeJSON(content string, v any) error {
	obj, ok := ExtractJSON(content)
	if !ok {
		return &ParseError{Raw: content, Err: errNoJSONObject}
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return &ParseError{Raw: content, Err: err}
	}
	return nil
}

// DetectMIMEType detects the MIME type from image magic bytes.
func DetectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	// BMP: 42 4D
	if data[0] == 0x42 && data[1] == 0x4D {
		return "image/bmp"
	}
	return "application/octet-stream"
}
