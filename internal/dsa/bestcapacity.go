package dsa

import (
	"log/slog"

	"github.com/me/rrsched/internal/frame"
	"github.com/me/rrsched/internal/grid"
	"github.com/me/rrsched/pkg/model"
)

type userInfo struct {
	lastUsed int
	used     map[int]bool
	// toggle is +1 or -1: the side searched first around lastUsed.
	toggle int
}

// BestCapacity picks the subchannel with the largest remaining capacity for
// the user at nominal power. The scan starts after the subchannel last used
// by that user, so ties rotate.
//
// With adjacent set, a user that already holds a subchannel this interval is
// kept next to it: the last subchannel first, then +/-1, +/-2 and so on. The
// side tried first alternates between calls.
type BestCapacity struct {
	adjacent bool
	users    map[model.UserID]*userInfo
	logger   *slog.Logger
}

// NewBestCapacity creates a BestCapacity strategy.
func NewBestCapacity(adjacent bool, logger *slog.Logger) *BestCapacity {
	return &BestCapacity{
		adjacent: adjacent,
		users:    make(map[model.UserID]*userInfo),
		logger:   logger.With("component", "dsa-best-capacity"),
	}
}

func (b *BestCapacity) Name() string      { return NameBestCapacity }
func (b *BestCapacity) RequiresCQI() bool { return true }

// Initialize forgets the per-user cursors of the previous interval.
func (b *BestCapacity) Initialize(*frame.State, *grid.Map) {
	clear(b.users)
}

func (b *BestCapacity) info(u model.UserID) *userInfo {
	i, ok := b.users[u]
	if !ok {
		i = &userInfo{lastUsed: -1, used: make(map[int]bool), toggle: 1}
		b.users[u] = i
	}
	return i
}

// SelectRegion scores every unused subchannel by
// bestMode(P/(I*PL)).DataRate * freeTime and returns a usable cell of the
// best one.
func (b *BestCapacity) SelectRegion(req frame.Request, st *frame.State, g *grid.Map) (Result, bool) {
	dims := g.Dimensions()
	info := b.info(req.User)
	if b.adjacent && info.lastUsed >= 0 {
		return b.selectAdjacent(req, st, g, info)
	}
	power := st.NominalTxPower(req.User)
	layers := layersFor(req.User, st, g)

	best, bestScore := -1, -1.0
	var bestCell Result
	for i := 1; i <= dims.SubChannels; i++ {
		sc := (info.lastUsed + i + dims.SubChannels) % dims.SubChannels
		if info.used[sc] {
			continue
		}
		if !g.SubChannelUsable(sc) {
			info.used[sc] = true
			continue
		}
		q, ok := st.Estimate(req.User, sc)
		if !ok {
			info.used[sc] = true
			continue
		}
		free := 0
		var first Result
		for ts := 0; ts < dims.TimeSlots; ts++ {
			for _, l := range layers {
				if channelIsUsable(req, st, g, sc, ts, l) {
					if free == 0 {
						first = Result{SubChannel: sc, TimeSlot: ts, Layer: l}
					}
					free++
				}
			}
		}
		if free == 0 {
			info.used[sc] = true
			continue
		}
		rate := st.Modes.BestModeFor(q.SINRFor(power)).DataRate
		score := rate * float64(free) * dims.SlotLength.Seconds()
		if score > bestScore {
			best, bestScore, bestCell = sc, score, first
		}
	}
	if best < 0 {
		return Result{}, false
	}
	info.lastUsed = best
	return bestCell, true
}

// selectAdjacent returns the usable cell nearest to the user's last
// subchannel. Subchannels found full are not tried again this interval.
func (b *BestCapacity) selectAdjacent(req frame.Request, st *frame.State, g *grid.Map, info *userInfo) (Result, bool) {
	dims := g.Dimensions()
	layers := layersFor(req.User, st, g)
	defer func() { info.toggle = -info.toggle }()

	try := func(sc int) (Result, bool) {
		if sc < 0 || sc >= dims.SubChannels || info.used[sc] {
			return Result{}, false
		}
		if g.SubChannelUsable(sc) {
			for ts := 0; ts < dims.TimeSlots; ts++ {
				for _, l := range layers {
					if channelIsUsable(req, st, g, sc, ts, l) {
						return Result{SubChannel: sc, TimeSlot: ts, Layer: l}, true
					}
				}
			}
		}
		info.used[sc] = true
		return Result{}, false
	}

	last := info.lastUsed
	if res, ok := try(last); ok {
		return res, true
	}
	for off := 1; off < dims.SubChannels; off++ {
		for _, sc := range []int{last + off*info.toggle, last - off*info.toggle} {
			if res, ok := try(sc); ok {
				info.lastUsed = sc
				return res, true
			}
		}
	}
	b.logger.Debug("no subchannel next to the last one", "user", req.User, "last", last)
	return Result{}, false
}
