package workflow

import (
	"testing"
	"time"
)

func TestCalcRMSla(t *testing.T) {
	cases := []struct {
		name     string
		raisedAt time.Time
		expected time.Duration
	}{
		{"early morning", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), 12 * time.Hour},
		{"mid morning", time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC), 12 * time.Hour},
		{"last minute before noon", time.Date(2026, 3, 10, 11, 59, 59, 0, time.UTC), 12 * time.Hour},
		{"exactly noon", time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), 24 * time.Hour},
		{"evening", time.Date(2026, 3, 10, 18, 45, 0, 0, time.UTC), 24 * time.Hour},
		{"just before midnight", time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC), 24 * time.Hour},
	}
	for _, tc := range cases {
		got := CalcRMSla(tc.raisedAt)
		if want := tc.raisedAt.Add(tc.expected); !got.Equal(want) {
			t.Fatalf("%s: CalcRMSla(%v) expected %v, got %v", tc.name, tc.raisedAt, want, got)
		}
	}
}

func TestCalcSRMSlaUsesSameClockRule(t *testing.T) {
	morning := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)

	if got := CalcSRMSla(morning); !got.Equal(morning.Add(12 * time.Hour)) {
		t.Fatalf("morning escalation expected +12h, got %v", got)
	}
	if got := CalcSRMSla(evening); !got.Equal(evening.Add(24 * time.Hour)) {
		t.Fatalf("evening escalation expected +24h, got %v", got)
	}
}
