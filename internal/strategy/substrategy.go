package strategy

import (
	"log/slog"
	"math"

	"github.com/me/rrsched/internal/apc"
	"github.com/me/rrsched/internal/dsa"
	"github.com/me/rrsched/internal/frame"
	"github.com/me/rrsched/internal/grid"
	"github.com/me/rrsched/internal/harq"
	"github.com/me/rrsched/pkg/model"
)

// Env is what a sub-strategy works with during one priority class.
type Env struct {
	State    *frame.State
	Grid     *grid.Map
	DSA      dsa.Strategy
	Fallback dsa.Strategy
	APC      apc.Strategy
	HARQ     harq.Tracker
	NextTB   func() int64
	Logger   *slog.Logger
}

// SubStrategy serves the connections of one priority class.
type SubStrategy interface {
	Name() string
	Schedule(e *Env, conns []model.ConnectionID) []*model.AllocationBurst
}

// Names of the registered sub-strategies.
const (
	NameRoundRobin           = "round_robin"
	NameExhaustiveRoundRobin = "exhaustive_round_robin"
	NameDisabled             = "disabled"
)

// scheduleConnection places up to maxUnits new units of cid in one cell.
// Pending retransmissions are already on the grid when it runs. It returns
// the number of units placed; 0 means no progress.
func scheduleConnection(cid model.ConnectionID, e *Env, maxUnits int, out *[]*model.AllocationBurst) int {
	st := e.State
	user, ok := st.Registry.UserForConnection(cid)
	if !ok {
		return 0
	}

	if !st.Queue.HasData(cid) || !e.HARQ.HasFreeSenderProcess(user) {
		return 0
	}
	req := frame.Request{
		User:       user,
		Connection: cid,
		Priority:   st.Priority,
		Bits:       st.Queue.HeadOfLineBits(cid),
	}
	d := e.DSA
	if d.RequiresCQI() && !st.HasCQI(user) {
		d = e.Fallback
	}
	res, ok := d.SelectRegion(req, st, e.Grid)
	if !ok {
		return 0
	}
	req.SubChannel = res.SubChannel
	pw, ok := e.APC.ChooseTxPower(req, st, e.Grid)
	if !ok {
		return 0
	}
	slot := e.Grid.Dimensions().SlotLength
	capacity := pw.PhyMode.BitCapacity(slot)
	if req.Bits > capacity {
		e.Logger.Debug("unit does not fit the chosen mode", "connection", cid, "bits", req.Bits,
			"mode", pw.PhyMode.Name, "capacity", capacity)
		return 0
	}

	group := -1
	if gi, ok := st.Grouping.GroupOf(user); ok {
		group = gi
	}
	b := &model.AllocationBurst{
		Frame:      st.Frame,
		User:       user,
		Connection: cid,
		Priority:   st.Priority,
		Group:      group,
		PhyMode:    pw.PhyMode,
		TxPower:    pw.TxPower,
		Estimate:   pw.Estimate,
		SINR:       pw.SINR,
	}
	used := 0
	for len(b.Units) < maxUnits && st.Queue.HasData(cid) {
		if used+st.Queue.HeadOfLineBits(cid) > capacity {
			break
		}
		u, _ := st.Queue.NextUnit(cid)
		b.Units = append(b.Units, u)
		used += u.Bits
	}
	b.End = pw.PhyMode.Duration(used)

	if err := e.Grid.Allocate(res.Region(), b); err != nil {
		model.Inconsistent("substrategy", "%s granted %s to connection %d: %v", d.Name(), res.Region(), cid, err)
	}
	if err := e.HARQ.StoreSchedulingTimeSlot(e.NextTB(), b); err != nil {
		model.Inconsistent("substrategy", "store connection %d: %v", cid, err)
	}
	*out = append(*out, b)
	return len(b.Units)
}

// RoundRobin serves connections in ID order, BlockSize units at a time,
// resuming after the connection served last, across intervals.
type RoundRobin struct {
	name      string
	blockSize int
	last      model.ConnectionID
	started   bool
}

// NewRoundRobin creates a RoundRobin; blockSize < 1 means 1.
func NewRoundRobin(blockSize int) *RoundRobin {
	return &RoundRobin{name: NameRoundRobin, blockSize: max(blockSize, 1)}
}

// NewExhaustiveRoundRobin serves each connection until it is empty or blocked.
func NewExhaustiveRoundRobin() *RoundRobin {
	return &RoundRobin{name: NameExhaustiveRoundRobin, blockSize: math.MaxInt}
}

func (r *RoundRobin) Name() string { return r.name }

// Schedule drops a connection for the rest of the interval once its queue is
// empty or it makes no progress, and stops when none remain.
func (r *RoundRobin) Schedule(e *Env, conns []model.ConnectionID) []*model.AllocationBurst {
	if len(conns) == 0 {
		return nil
	}
	start := 0
	if r.started {
		for i, cid := range conns {
			if cid > r.last {
				start = i
				break
			}
		}
	}
	order := append(append([]model.ConnectionID{}, conns[start:]...), conns[:start]...)

	var out []*model.AllocationBurst
	for len(order) > 0 {
		var next []model.ConnectionID
		for _, cid := range order {
			placed := scheduleConnection(cid, e, r.blockSize, &out)
			if placed > 0 {
				r.last, r.started = cid, true
			}
			if placed == 0 || !e.State.Queue.HasData(cid) {
				continue
			}
			next = append(next, cid)
		}
		order = next
	}
	return out
}

// Disabled leaves a priority class unserved.
type Disabled struct{}

func (Disabled) Name() string { return NameDisabled }

func (Disabled) Schedule(*Env, []model.ConnectionID) []*model.AllocationBurst { return nil }
