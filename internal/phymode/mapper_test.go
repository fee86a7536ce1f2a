package phymode

import (
	"math"
	"testing"

	"github.com/me/rrsched/pkg/model"
)

func TestBestModeFor_Monotonic(t *testing.T) {
	m := Default()
	prev := -1
	// Sweep -10 dB .. 30 dB in 0.25 dB steps.
	for db := -10.0; db <= 30; db += 0.25 {
		capacity := m.BestModeFor(model.Linear(db)).BitCapacity(1e6)
		if capacity < prev {
			t.Fatalf("capacity dropped at %.2f dB: %d < %d", db, capacity, prev)
		}
		prev = capacity
	}
}

func TestBestModeFor_Thresholds(t *testing.T) {
	m := Default()
	tests := []struct {
		db   float64
		want string
	}{
		{-20, "QPSK-0.333"},
		{-1, "QPSK-0.333"},
		{2, "QPSK-0.5"},
		{7.9, "QPSK-0.75"},
		{8, "16QAM-0.5"},
		{40, "64QAM-0.833"},
	}
	for _, tt := range tests {
		if got := m.BestModeFor(model.Linear(tt.db)).Name; got != tt.want {
			t.Errorf("BestModeFor(%g dB) = %q, want %q", tt.db, got, tt.want)
		}
	}
}

func TestSINRIsAboveLimit(t *testing.T) {
	m := Default()
	if m.SINRIsAboveLimit(model.Linear(-3)) {
		t.Error("-3 dB should be below the limit")
	}
	if !m.SINRIsAboveLimit(model.Linear(0)) {
		t.Error("0 dB should be above the limit")
	}
	if got := model.DB(m.MinimumSINR()); math.Abs(got+1) > 1e-9 {
		t.Errorf("MinimumSINR = %g dB, want -1", got)
	}
}

func TestNew_RejectsNonMonotonicTable(t *testing.T) {
	table := []Entry{
		{Modulation: "16QAM", CodeRate: 0.5, BitsPerSym: 4, MinSINRdB: 3},
		{Modulation: "QPSK", CodeRate: 0.5, BitsPerSym: 2, MinSINRdB: 6},
	}
	if _, err := New(table, DefaultSymbolRate); err == nil {
		t.Fatal("expected error for table whose rate falls with SINR")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, DefaultSymbolRate); err == nil {
		t.Error("expected error for empty table")
	}
	if _, err := New(DefaultTable(), 0); err == nil {
		t.Error("expected error for zero symbol rate")
	}
	if _, err := New([]Entry{{Modulation: "X", CodeRate: 2, BitsPerSym: 2}}, 1); err == nil {
		t.Error("expected error for code rate > 1")
	}
}

func TestHighestAndLookup(t *testing.T) {
	m := Default()
	h := m.Highest()
	if h.Modulation != "64QAM" {
		t.Errorf("Highest = %s, want 64QAM", h.Name)
	}
	got, ok := m.Lookup(h.Name)
	if !ok || got != h {
		t.Errorf("Lookup(%q) = %v, %v", h.Name, got, ok)
	}
	if _, ok := m.Lookup("nope"); ok {
		t.Error("Lookup(nope) should fail")
	}
}
