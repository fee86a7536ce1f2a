package dsa

import (
	"log/slog"

	"github.com/me/rrsched/internal/frame"
	"github.com/me/rrsched/internal/grid"
)

// LinearFFirst walks cells frequency-first from a per-interval cursor and
// returns the first usable one. It needs no channel knowledge, which makes it
// the fallback when CQI is missing.
type LinearFFirst struct {
	cursor int
	logger *slog.Logger
}

// NewLinearFFirst creates a LinearFFirst strategy.
func NewLinearFFirst(logger *slog.Logger) *LinearFFirst {
	return &LinearFFirst{logger: logger.With("component", "dsa-linear")}
}

func (l *LinearFFirst) Name() string      { return NameLinearFFirst }
func (l *LinearFFirst) RequiresCQI() bool { return false }

// Initialize rewinds the cursor.
func (l *LinearFFirst) Initialize(*frame.State, *grid.Map) {
	l.cursor = 0
}

// SelectRegion scans a full cycle starting at the cursor.
func (l *LinearFFirst) SelectRegion(req frame.Request, st *frame.State, g *grid.Map) (Result, bool) {
	dims := g.Dimensions()
	total := dims.Cells()
	allowed := make(map[int]bool)
	for _, layer := range layersFor(req.User, st, g) {
		allowed[layer] = true
	}
	for i := 0; i < total; i++ {
		idx := (l.cursor + i) % total
		layer := idx % dims.Layers
		sc := (idx / dims.Layers) % dims.SubChannels
		ts := idx / (dims.Layers * dims.SubChannels)
		if !allowed[layer] {
			continue
		}
		if channelIsUsable(req, st, g, sc, ts, layer) {
			l.cursor = idx
			return Result{SubChannel: sc, TimeSlot: ts, Layer: layer}, true
		}
	}
	return Result{}, false
}
