package identity

import (
	"strings"
	"testing"
	"time"
)

func TestDeriveStability(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

	a := Derive(1, ts, 1000.10, "usd", " Acme ", "OUT")
	b := Derive(1, ts, 1000.1, "USD", "acme", "out")
	if a != b {
		t.Errorf("expected identical identity for canonical-equal inputs:\n%s\n%s", a, b)
	}

	if len(a) != 64 {
		t.Errorf("expected 64-char sha256 hex, got %d chars", len(a))
	}
}

func TestDeriveFieldSensitivity(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	base := Derive(1, ts, 1000.10, "USD", "acme", "out")

	variants := map[string]string{
		"account":      Derive(2, ts, 1000.10, "USD", "acme", "out"),
		"timestamp":    Derive(1, ts.Add(time.Second), 1000.10, "USD", "acme", "out"),
		"amount":       Derive(1, ts, 1000.11, "USD", "acme", "out"),
		"currency":     Derive(1, ts, 1000.10, "EUR", "acme", "out"),
		"counterparty": Derive(1, ts, 1000.10, "USD", "other", "out"),
		"direction":    Derive(1, ts, 1000.10, "USD", "acme", "in"),
	}

	for field, got := range variants {
		if got == base {
			t.Errorf("changing %s did not change the identity", field)
		}
	}
}

func TestDeriveAmountTolerance(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

	// Differences beyond two decimals collide intentionally.
	a := Derive(1, ts, 1000.104, "USD", "acme", "out")
	b := Derive(1, ts, 1000.10, "USD", "acme", "out")
	if a != b {
		t.Error("expected sub-cent difference to collide")
	}
}

func TestDeriveNaiveTimestampAsUTC(t *testing.T) {
	utc := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	offset := utc.In(time.FixedZone("CET", 3600))

	// Same instant, different zone representation: identical identity.
	if Derive(1, utc, 5, "USD", "x", "in") != Derive(1, offset, 5, "USD", "x", "in") {
		t.Error("expected zone representation to be irrelevant")
	}
}

func TestForRecord(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

	t.Run("OverrideWins", func(t *testing.T) {
		got := ForRecord(" upstream-uuid-42 ", 1, ts, 10, "USD", "acme", "out")
		if got != "upstream-uuid-42" {
			t.Errorf("expected trimmed override, got %q", got)
		}
	})

	t.Run("EmptyOverrideDerives", func(t *testing.T) {
		got := ForRecord("   ", 1, ts, 10, "USD", "acme", "out")
		if got != Derive(1, ts, 10, "USD", "acme", "out") {
			t.Errorf("expected derived identity, got %q", got)
		}
	})

	t.Run("OverlongOverrideDerives", func(t *testing.T) {
		long := strings.Repeat("x", MaxExternalIDLen+1)
		got := ForRecord(long, 1, ts, 10, "USD", "acme", "out")
		if got == long {
			t.Error("expected overlong override to be rejected")
		}
	})
}
