// Package dsa implements dynamic subchannel assignment strategies: given a
// request and the current grid, pick a free cell.
package dsa

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/me/rrsched/internal/frame"
	"github.com/me/rrsched/internal/grid"
	"github.com/me/rrsched/pkg/model"
)

// Strategy selects a cell for a request. Not finding one is an expected
// outcome reported through the boolean result.
type Strategy interface {
	Name() string
	Initialize(st *frame.State, g *grid.Map)
	SelectRegion(req frame.Request, st *frame.State, g *grid.Map) (Result, bool)
	RequiresCQI() bool
}

// Result is the selected cell.
type Result struct {
	SubChannel int
	TimeSlot   int
	Layer      int
}

// Region returns the single-cell region of r.
func (r Result) Region() model.Region {
	return model.Cell(r.SubChannel, r.TimeSlot, r.Layer)
}

// Order is the cell walk order of the linear strategies.
type Order string

const (
	FrequencyFirst Order = "frequency_first"
	TimeFirst      Order = "time_first"
)

// Options configures construction.
type Options struct {
	Order Order
	// AdjacentSubChannels makes BestCapacity keep a user's grants next to
	// the subchannel it used last, as single-carrier uplinks need.
	AdjacentSubChannels bool
}

// Names of the registered strategies.
const (
	NameFixed                   = "fixed"
	NameBestCapacity            = "best_capacity"
	NameInterferenceCoordinated = "interference_coordinated"
	NameLinearFFirst            = "linear_ffirst"
)

var constructors = map[string]func(Options, *slog.Logger) Strategy{
	NameFixed:                   func(o Options, l *slog.Logger) Strategy { return NewFixed(o.Order, l) },
	NameBestCapacity:            func(o Options, l *slog.Logger) Strategy { return NewBestCapacity(o.AdjacentSubChannels, l) },
	NameInterferenceCoordinated: func(_ Options, l *slog.Logger) Strategy { return NewInterferenceCoordinated(l) },
	NameLinearFFirst:            func(_ Options, l *slog.Logger) Strategy { return NewLinearFFirst(l) },
}

// New constructs the strategy registered under name.
func New(name string, opts Options, logger *slog.Logger) (Strategy, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown dsa strategy %q (known: %v)", name, Names())
	}
	if opts.Order == "" {
		opts.Order = FrequencyFirst
	}
	if opts.Order != FrequencyFirst && opts.Order != TimeFirst {
		return nil, fmt.Errorf("unknown linear order %q", opts.Order)
	}
	return ctor(opts, logger), nil
}

// Names lists the registered strategies in sorted order.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for n := range constructors {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// channelIsUsable reports whether req may take cell (sc, ts, layer).
func channelIsUsable(req frame.Request, st *frame.State, g *grid.Map, sc, ts, layer int) bool {
	if !g.IsFree(model.Cell(sc, ts, layer)) {
		return false
	}
	if st.OneUserOnOneSubChannel {
		for _, u := range g.SubChannelOwners(sc) {
			if u != req.User {
				return false
			}
		}
	}
	for _, u := range g.LayerOccupants(sc, ts) {
		if !st.SameGroup(req.User, u) {
			return false
		}
	}
	mode := req.PhyMode
	if mode.IsZero() {
		mode = st.Modes.Highest()
	}
	return req.Bits <= mode.BitCapacity(g.Dimensions().SlotLength)
}

// layersFor returns the layers user may use: its group pattern when grouped,
// otherwise every layer.
func layersFor(user model.UserID, st *frame.State, g *grid.Map) []int {
	if st.Grouping.Contains(user) {
		return []int{st.Grouping.Layer(user)}
	}
	layers := make([]int, g.Dimensions().Layers)
	for i := range layers {
		layers[i] = i
	}
	return layers
}

// firstUsable scans the layers of (sc, ts) for a usable cell.
func firstUsable(req frame.Request, st *frame.State, g *grid.Map, sc, ts int, layers []int) (Result, bool) {
	for _, l := range layers {
		if channelIsUsable(req, st, g, sc, ts, l) {
			return Result{SubChannel: sc, TimeSlot: ts, Layer: l}, true
		}
	}
	return Result{}, false
}
