package peer

import "testing"

func TestNew_DerivesIDFromAddress(t *testing.T) {
	a := New("localhost", 7000)
	b := New("localhost", 7000)
	if a.ID != b.ID {
		t.Fatalf("expected identical ids for identical address, got %q vs %q", a.ID, b.ID)
	}
	if !a.Active {
		t.Error("expected new peer to be active")
	}
}

func TestNew_DifferentAddressDifferentID(t *testing.T) {
	a := New("localhost", 7000)
	b := New("localhost", 7001)
	if a.ID == b.ID {
		t.Fatal("expected different ids for different ports")
	}
}

func TestID_IsA64CharHexDigest(t *testing.T) {
	got := ID("localhost", 7000)
	if len(got) != 64 {
		t.Fatalf("expected 64-char hex digest, got %d chars (%q)", len(got), got)
	}
	if got != ID("localhost", 7000) {
		t.Fatal("ID is not deterministic")
	}
}

func TestURL(t *testing.T) {
	p := New("10.0.0.5", 7500)
	if p.URL() != "http://10.0.0.5:7500" {
		t.Errorf("unexpected URL: %s", p.URL())
	}
}
