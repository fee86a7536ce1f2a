package apc

import (
	"bytes"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/me/rrsched/internal/channel"
	"github.com/me/rrsched/internal/frame"
	"github.com/me/rrsched/internal/grid"
	"github.com/me/rrsched/internal/phymode"
	"github.com/me/rrsched/internal/queue"
	"github.com/me/rrsched/internal/registry"
	"github.com/me/rrsched/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func setup(t *testing.T, pc model.PowerCapabilities, ch channel.UserChannel, opts frame.Options) (*frame.State, *grid.Map) {
	t.Helper()
	reg, err := registry.New([]model.Connection{{ID: 1, User: "a"}}, map[model.UserID]model.PowerCapabilities{"a": pc})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	dir, err := channel.NewDirectory(map[model.UserID]channel.UserChannel{"a": ch}, testLogger())
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	st := frame.NewState(reg, queue.New(), dir, phymode.Default(), opts)
	st.BeginInterval(1)
	g, err := grid.New(grid.Dimensions{SubChannels: 2, TimeSlots: 2, Layers: 1, SlotLength: time.Millisecond})
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	return st, g
}

// 90 dB pathloss against -100 dBm interference: SINR at 1 mW is 10 dB.
var tenDB = channel.UserChannel{PathlossDB: 90, InterferenceDBm: -100}

func TestChooseTxPower_Nominal(t *testing.T) {
	st, g := setup(t, model.PowerCapabilities{NominalPerSubband: 1, MaxPerSubband: 10}, tenDB, frame.Options{})
	a := NewNominal(Options{}, testLogger())
	res, ok := a.ChooseTxPower(frame.Request{User: "a", Bits: 10}, st, g)
	if !ok {
		t.Fatal("expected ok")
	}
	if res.TxPower != 1 {
		t.Errorf("TxPower = %g, want 1", res.TxPower)
	}
	if got := model.DB(res.SINR); math.Abs(got-10) > 1e-9 {
		t.Errorf("SINR = %g dB, want 10", got)
	}
	if res.PhyMode.Name != "16QAM-0.5" {
		t.Errorf("PhyMode = %s, want 16QAM-0.5", res.PhyMode.Name)
	}
	if math.Abs(res.Estimate.Carrier-1/model.Linear(90)) > 1e-20 {
		t.Errorf("Carrier = %g", res.Estimate.Carrier)
	}
}

func TestChooseTxPower_MaxPower(t *testing.T) {
	st, g := setup(t, model.PowerCapabilities{NominalPerSubband: 1, MaxPerSubband: 10}, tenDB, frame.Options{})
	res, ok := NewMaxPower(Options{}, testLogger()).ChooseTxPower(frame.Request{User: "a"}, st, g)
	if !ok || res.TxPower != 10 {
		t.Fatalf("ChooseTxPower = %+v, %v; want power 10", res, ok)
	}
	if got := model.DB(res.SINR); math.Abs(got-20) > 1e-9 {
		t.Errorf("SINR = %g dB, want 20", got)
	}
}

func TestChooseTxPower_Defaults(t *testing.T) {
	forced := phymode.Default().Modes()[0]
	st, g := setup(t, model.PowerCapabilities{NominalPerSubband: 1}, tenDB,
		frame.Options{DefaultTxPower: 5, DefaultPhyMode: forced})
	res, ok := NewNominal(Options{}, testLogger()).ChooseTxPower(frame.Request{User: "a"}, st, g)
	if !ok {
		t.Fatal("expected ok")
	}
	if res.TxPower != 5 || res.PhyMode != forced {
		t.Errorf("ChooseTxPower = %g / %s, want 5 / %s", res.TxPower, res.PhyMode.Name, forced.Name)
	}
}

func TestChooseTxPower_NotOK(t *testing.T) {
	tests := []struct {
		name string
		pc   model.PowerCapabilities
		ch   channel.UserChannel
		opts frame.Options
	}{
		{"no power", model.PowerCapabilities{}, tenDB, frame.Options{}},
		{"sinr too low", model.PowerCapabilities{NominalPerSubband: 1},
			channel.UserChannel{PathlossDB: 120, InterferenceDBm: -100}, frame.Options{ExcludeTooLowSINR: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, g := setup(t, tt.pc, tt.ch, tt.opts)
			if _, ok := NewNominal(Options{}, testLogger()).ChooseTxPower(frame.Request{User: "a"}, st, g); ok {
				t.Error("expected not ok")
			}
		})
	}
}

func TestChooseTxPower_NoCQIUsesRobustMode(t *testing.T) {
	st, g := setup(t, model.PowerCapabilities{NominalPerSubband: 1}, channel.UserChannel{NoCQI: true}, frame.Options{})
	res, ok := NewNominal(Options{}, testLogger()).ChooseTxPower(frame.Request{User: "a"}, st, g)
	if !ok {
		t.Fatal("expected ok without CQI")
	}
	if res.PhyMode != phymode.Default().Modes()[0] {
		t.Errorf("PhyMode = %s, want most robust mode", res.PhyMode.Name)
	}
}

func TestPostProcess_TrimsUntrackedOnly(t *testing.T) {
	st, g := setup(t, model.PowerCapabilities{NominalPerSubband: 1}, tenDB, frame.Options{})
	a := NewNominal(Options{TrimMargin: true}, testLogger())
	res, _ := a.ChooseTxPower(frame.Request{User: "a"}, st, g)

	plain := &model.AllocationBurst{User: "a", TxPower: res.TxPower, PhyMode: res.PhyMode, Estimate: res.Estimate, SINR: res.SINR}
	tracked := plain.Clone()
	tracked.HARQ.Tracked = true
	if err := g.Allocate(model.Cell(0, 0, 0), plain); err != nil {
		t.Fatal(err)
	}
	if err := g.Allocate(model.Cell(1, 0, 0), tracked); err != nil {
		t.Fatal(err)
	}

	rep := a.PostProcess(st, g)
	if rep.Trimmed != 1 {
		t.Errorf("Trimmed = %d, want 1", rep.Trimmed)
	}
	if plain.TxPower >= 1 {
		t.Errorf("untracked power = %g, want below 1", plain.TxPower)
	}
	if plain.PhyMode != res.PhyMode {
		t.Error("trim changed the PHY mode")
	}
	if plain.SINR < plain.PhyMode.MinSINR*(1-1e-9) {
		t.Errorf("trimmed SINR %g below mode threshold %g", plain.SINR, plain.PhyMode.MinSINR)
	}
	if tracked.TxPower != 1 {
		t.Errorf("tracked power = %g, want untouched 1", tracked.TxPower)
	}
}

func TestPostProcess_CountsOverflow(t *testing.T) {
	st, g := setup(t, model.PowerCapabilities{NominalPerSubband: 1, MaxOverall: 1.5}, tenDB, frame.Options{})
	a := NewNominal(Options{}, testLogger())
	for sc := 0; sc < 2; sc++ {
		if err := g.Allocate(model.Cell(sc, 0, 0), &model.AllocationBurst{User: "a", TxPower: 1}); err != nil {
			t.Fatal(err)
		}
	}
	_ = g.Allocate(model.Cell(0, 1, 0), &model.AllocationBurst{User: "a", TxPower: 1})

	rep := a.PostProcess(st, g)
	if rep.Overflows != 1 {
		t.Errorf("Overflows = %d, want 1 (only time slot 0)", rep.Overflows)
	}
	for _, b := range g.Bursts() {
		if b.TxPower != 1 {
			t.Errorf("burst power rescaled to %g", b.TxPower)
		}
	}
}

func TestNew(t *testing.T) {
	for _, name := range []string{NameNominal, NameMaxPower} {
		s, err := New(name, Options{}, testLogger())
		if err != nil || s.Name() != name {
			t.Errorf("New(%q) = %v, %v", name, s, err)
		}
	}
	if _, err := New("bogus", Options{}, testLogger()); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
