package snapshot

import "testing"

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"OPEN":     StatusOpen,
		"open":     StatusOpen,
		" Busy ":   StatusBusy,
		"CLOSED":   StatusClosed,
		"":         StatusUnknown,
		"DELIVERY": StatusUnknown,
		"UNKNOWN":  StatusUnknown,
	}
	for in, want := range cases {
		if got := ParseStatus(in); got != want {
			t.Errorf("ParseStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDeref(t *testing.T) {
	if _, ok := Deref[float64](nil); ok {
		t.Fatal("expected absent for nil pointer")
	}
	v, ok := Deref(Float(0))
	if !ok || v != 0 {
		t.Fatalf("expected present zero, got %v %v", v, ok)
	}
}
