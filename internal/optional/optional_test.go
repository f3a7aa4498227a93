package optional

import (
	"encoding/json"
	"testing"
)

func TestValue_GetAndOrElse(t *testing.T) {
	unset := None[int]()
	if _, ok := unset.Get(); ok {
		t.Error("None should not be set")
	}
	if got := unset.OrElse(7); got != 7 {
		t.Errorf("OrElse on unset = %d; want 7", got)
	}

	zero := Some(0)
	if v, ok := zero.Get(); !ok || v != 0 {
		t.Errorf("Some(0).Get() = %d, %v; want 0, true", v, ok)
	}
	if got := zero.OrElse(7); got != 0 {
		t.Errorf("OrElse on Some(0) = %d; want 0", got)
	}
}

func TestValue_Or(t *testing.T) {
	later := Some("model")
	earlier := Some("type")

	if got := later.Or(earlier).OrElse(""); got != "model" {
		t.Errorf("set value should win, got %q", got)
	}
	if got := None[string]().Or(earlier).OrElse(""); got != "type" {
		t.Errorf("unset value should fall back, got %q", got)
	}
}

func TestValue_JSON(t *testing.T) {
	type doc struct {
		A Value[float64] `json:"a"`
		B Value[float64] `json:"b"`
	}

	var d doc
	if err := json.Unmarshal([]byte(`{"a": 0.5, "b": null}`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := d.A.Get(); !ok || v != 0.5 {
		t.Errorf("a = %v, %v; want 0.5, true", v, ok)
	}
	if d.B.IsSet() {
		t.Error("b should be unset")
	}

	out, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"a":0.5,"b":null}` {
		t.Errorf("marshal = %s", out)
	}
}

func TestValue_MissingFieldStaysUnset(t *testing.T) {
	var d struct {
		A Value[int] `json:"a"`
	}
	if err := json.Unmarshal([]byte(`{}`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.A.IsSet() {
		t.Error("missing field should stay unset")
	}
}
