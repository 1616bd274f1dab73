package internaldefs

import (
	"strings"
	"testing"
)

func TestCumulative(t *testing.T) {
	tests := []struct {
		name string
		raw  []uint64
		want [8]uint64
	}{
		{"empty", nil, [8]uint64{}},
		{"short", []uint64{1, 2}, [8]uint64{1, 3, 3, 3, 3, 3, 3, 3}},
		{"full", []uint64{1, 1, 1, 1, 1, 1, 1, 1}, [8]uint64{1, 2, 3, 4, 5, 6, 7, 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cumulative(tt.raw); got != tt.want {
				t.Fatalf("Cumulative(%v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCounterNamesUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, def := range Counters {
		if !strings.HasPrefix(def.Name, "kennelguard_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("unexpected name %q", def.Name)
		}
		if seen[def.Name] {
			t.Fatalf("duplicate name %q", def.Name)
		}
		seen[def.Name] = true
	}
}
