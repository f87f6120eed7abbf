package normalize

import "testing"

func TestChannelExtractsMarker(t *testing.T) {
	n := MustNew("")
	if got := n.Channel("Arcadia-7"); got != "7" {
		t.Fatalf("expected 7, got %q", got)
	}
	if got := n.Channel("  Arcadia-3 extra noise "); got != "3" {
		t.Fatalf("expected 3, got %q", got)
	}
}

func TestChannelFallsBackToTrimmedRaw(t *testing.T) {
	n := MustNew("")
	if got := n.Channel("  no pattern here  "); got != "no pattern here" {
		t.Fatalf("expected trimmed raw, got %q", got)
	}
	if got := n.Channel("   "); got != "" {
		t.Fatalf("expected empty for whitespace input, got %q", got)
	}
	if got := n.Channel(""); got != "" {
		t.Fatalf("expected empty for empty input, got %q", got)
	}
}

func TestAccountIDTrims(t *testing.T) {
	n := MustNew("")
	if got := n.AccountID("  Hero  "); got != "Hero" {
		t.Fatalf("expected Hero, got %q", got)
	}
	if got := n.AccountID(" \t\n "); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestNewRejectsBadPatterns(t *testing.T) {
	if _, err := New("Arcadia-(\\d+"); err == nil {
		t.Fatalf("expected error for unbalanced pattern")
	}
	if _, err := New(`Arcadia-\d+`); err == nil {
		t.Fatalf("expected error for pattern without capture group")
	}
	if _, err := New(`(\w+)-(\d+)`); err == nil {
		t.Fatalf("expected error for pattern with two capture groups")
	}
}

func TestCustomPattern(t *testing.T) {
	n := MustNew(`Server (\d+)`)
	if got := n.Channel("Server 12"); got != "12" {
		t.Fatalf("expected 12, got %q", got)
	}
}
