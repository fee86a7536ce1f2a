// Package apc implements adaptive power control: transmit power and PHY mode
// for a granted cell, and a pass over the finished map.
package apc

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"

	"github.com/me/rrsched/internal/frame"
	"github.com/me/rrsched/internal/grid"
	"github.com/me/rrsched/pkg/model"
)

// minTxPower is the floor applied when trimming power (mW).
const minTxPower = 1e-12

// Result is the outcome of ChooseTxPower.
type Result struct {
	TxPower  float64
	PhyMode  model.PhyMode
	SINR     float64
	Estimate model.ChannelQuality
}

// Report summarizes PostProcess.
type Report struct {
	Trimmed   int
	Overflows int
}

// Strategy chooses power and PHY mode per burst.
type Strategy interface {
	Name() string
	Initialize(st *frame.State, g *grid.Map)
	ChooseTxPower(req frame.Request, st *frame.State, g *grid.Map) (Result, bool)
	PostProcess(st *frame.State, g *grid.Map) Report
}

// Options configures construction.
type Options struct {
	// TrimMargin lowers the power of untracked bursts to what their PHY mode
	// needs.
	TrimMargin bool
	// MaxOverall overrides the per-user total power limit (mW) when > 0.
	MaxOverall float64
}

// Names of the registered strategies.
const (
	NameNominal  = "nominal"
	NameMaxPower = "max_power"
)

// New constructs the strategy registered under name.
func New(name string, opts Options, logger *slog.Logger) (Strategy, error) {
	switch name {
	case NameNominal:
		return NewNominal(opts, logger), nil
	case NameMaxPower:
		return NewMaxPower(opts, logger), nil
	}
	return nil, fmt.Errorf("unknown apc strategy %q (known: %v)", name, []string{NameMaxPower, NameNominal})
}

// Constant uses one power per user: the frame-wide default if imposed, else a
// per-user capability chosen at construction.
type Constant struct {
	name   string
	power  func(model.PowerCapabilities) float64
	opts   Options
	logger *slog.Logger
}

// NewNominal uses the nominal per-subband power.
func NewNominal(opts Options, logger *slog.Logger) *Constant {
	return &Constant{
		name:   NameNominal,
		power:  func(pc model.PowerCapabilities) float64 { return pc.NominalPerSubband },
		opts:   opts,
		logger: logger.With("component", "apc-nominal"),
	}
}

// NewMaxPower uses the maximum per-subband power.
func NewMaxPower(opts Options, logger *slog.Logger) *Constant {
	return &Constant{
		name:   NameMaxPower,
		power:  func(pc model.PowerCapabilities) float64 { return pc.MaxPerSubband },
		opts:   opts,
		logger: logger.With("component", "apc-max-power"),
	}
}

func (a *Constant) Name() string                       { return a.name }
func (a *Constant) Initialize(*frame.State, *grid.Map) {}

func (a *Constant) txPower(st *frame.State, u model.UserID) float64 {
	if st.DefaultTxPower > 0 {
		return st.DefaultTxPower
	}
	return a.power(st.Registry.PowerCapabilities(u))
}

// ChooseTxPower computes SINR = P/(I*PL) on the selected subchannel and picks
// the best PHY mode for it. Without any estimate the most robust mode is used
// at SINR 0.
func (a *Constant) ChooseTxPower(req frame.Request, st *frame.State, _ *grid.Map) (Result, bool) {
	p := a.txPower(st, req.User)
	if p <= 0 {
		return Result{}, false
	}
	q, ok := st.Estimate(req.User, req.SubChannel)
	if !ok {
		q, ok = st.Estimate(req.User, 0)
	}
	var sinr float64
	if ok {
		sinr = q.SINRFor(p)
		q = q.WithTxPower(p)
	}
	if st.ExcludeTooLowSINR && !st.Modes.SINRIsAboveLimit(sinr) {
		a.logger.Debug("sinr below limit", "user", req.User, "sc", req.SubChannel, "sinr_db", model.DB(sinr))
		return Result{}, false
	}
	mode := st.DefaultPhyMode
	if mode.IsZero() {
		mode = st.Modes.BestModeFor(sinr)
	}
	return Result{TxPower: p, PhyMode: mode, SINR: sinr, Estimate: q}, true
}

type slotKey struct {
	user model.UserID
	ts   int
}

// PostProcess optionally trims untracked bursts to the power their mode
// needs, then checks the per-user power sum of every time slot. Overflows are
// logged and counted; committed bursts are never rescaled.
func (a *Constant) PostProcess(st *frame.State, g *grid.Map) Report {
	var rep Report
	bursts := g.Bursts()
	if a.opts.TrimMargin {
		for _, b := range bursts {
			if b.HARQ.Tracked || b.Estimate.Pathloss <= 0 || b.Estimate.Interference <= 0 {
				continue
			}
			need := max(b.PhyMode.MinSINR*b.Estimate.Interference*b.Estimate.Pathloss, minTxPower)
			if need >= b.TxPower {
				continue
			}
			b.TxPower = need
			b.Estimate = b.Estimate.WithTxPower(need)
			b.SINR = b.Estimate.SINRFor(need)
			rep.Trimmed++
		}
	}

	sums := make(map[slotKey]float64)
	for _, b := range bursts {
		nsc, nts, nl := b.Region.Extent()
		for ts := b.Region.TimeSlot; ts < b.Region.TimeSlot+nts; ts++ {
			sums[slotKey{user: b.User, ts: ts}] += b.TxPower * float64(nsc*nl)
		}
	}
	keys := make([]slotKey, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(x, y slotKey) int {
		if c := cmp.Compare(x.user, y.user); c != 0 {
			return c
		}
		return cmp.Compare(x.ts, y.ts)
	})
	for _, k := range keys {
		limit := a.opts.MaxOverall
		if limit <= 0 {
			limit = st.Registry.PowerCapabilities(k.user).MaxOverall
		}
		if limit > 0 && sums[k] > limit {
			a.logger.Warn("power limit exceeded", "frame", st.Frame, "user", k.user, "ts", k.ts,
				"power_mw", sums[k], "limit_mw", limit)
			rep.Overflows++
		}
	}
	return rep
}
