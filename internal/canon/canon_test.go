package canon

import "testing"

func TestCanonicalizeSortsKeys(t *testing.T) {
	type doc struct {
		B int    `json:"b"`
		A string `json:"a"`
	}
	got, err := Canonicalize(doc{B: 2, A: "x"})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	want := `{"a":"x","b":2}`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestCanonicalizeStableAcrossKeyOrder(t *testing.T) {
	m1 := map[string]any{"z": 1, "a": 2, "m": []any{1, 2, 3}}
	m2 := map[string]any{"a": 2, "m": []any{1, 2, 3}, "z": 1}

	c1, err := Canonicalize(m1)
	if err != nil {
		t.Fatalf("Canonicalize m1: %v", err)
	}
	c2, err := Canonicalize(m2)
	if err != nil {
		t.Fatalf("Canonicalize m2: %v", err)
	}
	if string(c1) != string(c2) {
		t.Fatalf("canonical forms differ: %s vs %s", c1, c2)
	}
}

func TestHashValueDeterministic(t *testing.T) {
	v := map[string]any{"x": 1, "y": "hi"}
	h1, err := HashValue(v)
	if err != nil {
		t.Fatalf("HashValue: %v", err)
	}
	h2, err := HashValue(v)
	if err != nil {
		t.Fatalf("HashValue: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h1))
	}
}
