package expiry

import (
	"testing"
	"time"
)

func TestResolve(t *testing.T) {
	target := time.Date(2025, 11, 28, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		target time.Time
		listed map[string]float64
		want   string
		wantOK bool
	}{
		{
			name:   "closer date wins regardless of lower OI",
			target: target,
			listed: map[string]float64{"28NOV25": 100, "05DEC25": 500},
			want:   "28NOV25",
			wantOK: true,
		},
		{
			name:   "exact match beats one day off",
			target: target,
			listed: map[string]float64{"28NOV25": 100, "29NOV25": 100},
			want:   "28NOV25",
			wantOK: true,
		},
		{
			name:   "higher OI wins among equidistant candidates",
			target: target,
			listed: map[string]float64{"01DEC25": 50, "25NOV25": 700, "02DEC25": 900},
			// 25NOV25 and 01DEC25 are both 3 days out; 02DEC25 is 4 days
			// out, so its larger OI must not matter.
			want:   "25NOV25",
			wantOK: true,
		},
		{
			name:   "equidistant equal OI falls back to code order",
			target: target,
			listed: map[string]float64{"01DEC25": 50, "25NOV25": 50},
			want:   "01DEC25",
			wantOK: true,
		},
		{
			name:   "unparsable candidates are discarded not fatal",
			target: target,
			listed: map[string]float64{"PERPETUAL": 9999, "05DEC25": 10},
			want:   "05DEC25",
			wantOK: true,
		},
		{
			name:   "empty map",
			target: target,
			listed: map[string]float64{},
			wantOK: false,
		},
		{
			name:   "fully unparsable map",
			target: target,
			listed: map[string]float64{"PERPETUAL": 1, "": 2, "BTC-PERP": 3},
			wantOK: false,
		},
		{
			name:   "zero target is defensive no-match",
			target: time.Time{},
			listed: map[string]float64{"28NOV25": 100},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.target, tt.listed)

			if ok != tt.wantOK {
				t.Fatalf("Resolve ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Resolve = %q, want %q", got, tt.want)
			}
		})
	}
}

// Equidistant OI tie-break from a map needs a discriminating third
// candidate with strictly greater OI, since map order is randomized.
func TestResolve_EquidistantOITieBreak(t *testing.T) {
	target := time.Date(2025, 11, 28, 0, 0, 0, 0, time.UTC)
	listed := map[string]float64{
		"25NOV25": 50,   // 3 days before
		"01DEC25": 50,   // 3 days after
		"02DEC25": 5000, // 4 days after, irrelevant despite the OI
		"26NOV25": 800,  // 2 days before: closest, must win outright
	}

	got, ok := Resolve(target, listed)
	if !ok {
		t.Fatal("expected resolution")
	}
	if got != "26NOV25" {
		t.Errorf("Resolve = %q, want 26NOV25", got)
	}
}
