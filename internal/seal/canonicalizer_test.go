package seal

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCanonicalize_KeyOrderIndependent(t *testing.T) {
	c := NewCanonicalizer(nil)

	a, err := c.Canonicalize(map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := c.Canonicalize(map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if string(a) != string(b) {
		t.Errorf("expected identical canonical bytes, got %q vs %q", a, b)
	}
	if string(a) != `{"a":1,"b":2}` {
		t.Errorf("unexpected canonical form: %q", a)
	}
}

func TestCanonicalize_StableEncoding(t *testing.T) {
	c := NewCanonicalizer(nil)

	when := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("EAT", 3*3600))
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	got, err := c.Canonicalize(map[string]any{
		"none":   nil,
		"flag":   true,
		"name":   "John",
		"count":  int64(7),
		"dose":   2.5,
		"whole":  3.0,
		"seen":   when,
		"ref":    id,
		"tags":   []any{"x", 1, nil},
		"nested": map[string]any{"z": false, "a": "v"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `{"count":7,"dose":2.5,"flag":true,"name":"John","nested":{"a":"v","z":false},` +
		`"none":null,"ref":"6ba7b810-9dad-11d1-80b4-00c04fd430c8",` +
		`"seen":"2024-03-01T09:30:00Z","tags":["x",1,null],"whole":3}`
	if string(got) != want {
		t.Errorf("canonical form mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestCanonicalize_TimeZoneNormalized(t *testing.T) {
	c := NewCanonicalizer(nil)

	instant := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	a, err := c.Canonicalize(map[string]any{"at": instant})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := c.Canonicalize(map[string]any{"at": instant.In(time.FixedZone("PST", -8*3600))})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("same instant canonicalized differently: %q vs %q", a, b)
	}
}

func TestCanonicalize_ExcludedKeysNeverAppear(t *testing.T) {
	c := NewCanonicalizer([]string{"id", "created_at"})

	got, err := c.Canonicalize(map[string]any{
		"id":         42,
		"created_at": "2024-01-01",
		"name":       "John",
		"meta":       map[string]any{"id": 9, "source": "import"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"meta":{"source":"import"},"name":"John"}`
	if string(got) != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestCanonicalize_UnencodableTypeFailsClosed(t *testing.T) {
	c := NewCanonicalizer(nil)

	type opaque struct{ X int }
	got, err := c.Canonicalize(map[string]any{
		"name": "John",
		"blob": map[string]any{"inner": opaque{X: 1}},
	})
	if err == nil {
		t.Fatal("expected error for unencodable type")
	}
	if got != nil {
		t.Errorf("expected nil output on failure, got %q", got)
	}

	var cerr *CanonicalizationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CanonicalizationError, got %T", err)
	}
	if cerr.Key != "blob.inner" {
		t.Errorf("expected offending key path blob.inner, got %q", cerr.Key)
	}
}

func TestCanonicalize_NonFiniteFloatFailsClosed(t *testing.T) {
	c := NewCanonicalizer(nil)

	if _, err := c.Canonicalize(map[string]any{"v": math.NaN()}); err == nil {
		t.Fatal("expected error for NaN value")
	}
	if _, err := c.Canonicalize(map[string]any{"v": math.Inf(1)}); err == nil {
		t.Fatal("expected error for +Inf value")
	}
}
