package recognition

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/kozaktomas/meter-lab/internal/ai"
)

// PrimaryField is the response and ground-truth field compared for correctness.
const PrimaryField = "reading"

var errNoJSON = errors.New("no JSON object in response")

// Reading is the normalized content of one model response.
type Reading struct {
	Value      string
	Confidence float64
	ModelMatch bool
	Raw        json.RawMessage
}

// ParseResponse locates the first balanced JSON object in text and
// normalizes it. Failures are returned as *ai.ParseError.
func ParseResponse(text string) (Reading, error) {
	obj, ok := ai.ExtractJSON(text)
	if !ok {
		return Reading{}, &ai.ParseError{Raw: text, Err: errNoJSON}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return Reading{}, &ai.ParseError{Raw: text, Err: err}
	}

	return Reading{
		Value:      NormalizeReading(scalarString(fields[PrimaryField])),
		Confidence: NormalizeConfidence(scalarString(fields["confidence"])),
		ModelMatch: truthy(fields["model_match"]),
		Raw:        json.RawMessage(obj),
	}, nil
}

// GroundTruthReading extracts the primary field from a ground-truth payload.
func GroundTruthReading(groundTruth json.RawMessage) (string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(groundTruth, &fields); err != nil {
		return "", false
	}
	raw, ok := fields[PrimaryField]
	if !ok {
		return "", false
	}
	return NormalizeReading(scalarString(raw)), true
}

// NormalizeReading folds compatibility characters (full-width digits and the
// like) and drops whitespace.
func NormalizeReading(s string) string {
	s = norm.NFKC.String(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// NormalizeConfidence parses a confidence value into [0,1]. Values in (1,100]
// are read as percentages; anything unparseable is 0.
func NormalizeConfidence(s string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0
	}
	if v > 1 && v <= 100 {
		v /= 100
	}
	return math.Max(0, math.Min(1, v))
}

// scalarString renders a JSON string, number or bool as text.
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return ""
	}
	switch t := v.(type) {
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func truthy(raw json.RawMessage) bool {
	switch strings.ToLower(scalarString(raw)) {
	case "true", "yes", "1":
		return true
	default:
		return false
	}
}

// Vote picks the reading with the most votes across passes. Ties go to the
// group holding the most confident pass, then to the earliest. Empty readings
// only win when no pass produced a value.
func Vote(passes []Reading) (Reading, bool) {
	if len(passes) == 0 {
		return Reading{}, false
	}

	type tally struct {
		count int
		best  Reading
		first int
	}
	groups := make(map[string]*tally)
	for i, p := range passes {
		g, ok := groups[p.Value]
		if !ok {
			groups[p.Value] = &tally{count: 1, best: p, first: i}
			continue
		}
		g.count++
		if p.Confidence > g.best.Confidence {
			g.best = p
		}
	}

	var winner *tally
	for value, g := range groups {
		if value == "" && len(groups) > 1 {
			continue
		}
		switch {
		case winner == nil,
			g.count > winner.count,
			g.count == winner.count && g.best.Confidence > winner.best.Confidence,
			g.count == winner.count && g.best.Confidence == winner.best.Confidence && g.first < winner.first:
			winner = g
		}
	}
	return winner.best, true
}
