// Package strategy drives one scheduling interval: grouping, HARQ
// retransmissions, the per-priority sub-strategies and post-processing.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/me/rrsched/internal/apc"
	"github.com/me/rrsched/internal/dsa"
	"github.com/me/rrsched/internal/frame"
	"github.com/me/rrsched/internal/grid"
	"github.com/me/rrsched/internal/grouping"
	"github.com/me/rrsched/internal/harq"
	"github.com/me/rrsched/pkg/model"
)

// Interval carries the collaborators of one scheduling interval.
type Interval struct {
	Frame    int
	Registry frame.Registry
	Queue    frame.Queue
	Channels frame.ChannelDirectory
	Modes    frame.PhyModeSelector
}

// Result is the outcome of one interval. Map is owned by the Strategy and is
// reset by the next RunInterval.
type Result struct {
	Frame int
	Map   *grid.Map
	// Bursts lists retransmissions first, then new grants in priority order.
	Bursts         []*model.AllocationBurst
	Grouping       *model.Grouping
	Utilization    float64
	GroupingGain   float64
	Retransmitted  int
	PowerOverflows int
	Trimmed        int
	HARQ           harq.Stats
}

// BitsScheduled returns the payload of all bursts.
func (r *Result) BitsScheduled() int {
	n := 0
	for _, b := range r.Bursts {
		n += b.Bits()
	}
	return n
}

// Strategy is the top-level scheduler. It is not safe for concurrent use.
type Strategy struct {
	cfg      Config
	grid     *grid.Map
	dsa      dsa.Strategy
	fallback dsa.Strategy
	apc      apc.Strategy
	harq     harq.Tracker
	grouper  grouping.Grouper
	subs     []SubStrategy
	phase    model.StrategyPhase
	nextTB   int64
	logger   *slog.Logger
}

// HARQ returns the tracker so the receiving side can feed it.
func (s *Strategy) HARQ() harq.Tracker {
	return s.harq
}

// Phase returns where the strategy is within an interval.
func (s *Strategy) Phase() model.StrategyPhase {
	return s.phase
}

func (s *Strategy) transition(to model.StrategyPhase) {
	if !s.phase.CanTransitionTo(to) {
		panic(&model.InvalidTransitionError{
			Entity: "strategy",
			ID:     s.cfg.Name,
			From:   s.phase.String(),
			To:     to.String(),
		})
	}
	s.phase = to
}

func (iv Interval) validate() error {
	var errs []error
	if iv.Registry == nil {
		errs = append(errs, errors.New("registry is required"))
	}
	if iv.Queue == nil {
		errs = append(errs, errors.New("queue is required"))
	}
	if iv.Channels == nil {
		errs = append(errs, errors.New("channel directory is required"))
	}
	if iv.Modes == nil {
		errs = append(errs, errors.New("phy mode selector is required"))
	}
	return errors.Join(errs...)
}

// RunInterval schedules one interval. Errors are only returned before any
// state changes; once started an interval runs to completion.
func (s *Strategy) RunInterval(ctx context.Context, iv Interval) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.phase != model.PhaseIdle {
		return nil, fmt.Errorf("interval %d: strategy is in phase %s", iv.Frame, s.phase)
	}
	if err := iv.validate(); err != nil {
		return nil, fmt.Errorf("interval %d: %w", iv.Frame, err)
	}
	if n := iv.Registry.NumberOfPriorities(); n > len(s.subs) {
		return nil, fmt.Errorf("interval %d: %d priorities but %d sub-strategies configured", iv.Frame, n, len(s.subs))
	}

	st := frame.NewState(iv.Registry, iv.Queue, iv.Channels, iv.Modes, s.cfg.Frame)
	st.BeginInterval(iv.Frame)
	if s.cfg.Grid.Layers > 1 {
		if active := st.ActiveUsers(); len(active) > 0 {
			est := grouping.CrossTalkEstimator{Channels: st, Power: st.NominalTxPower, CrossTalk: s.cfg.CrossTalk}
			g, err := s.grouper.ComputeGrouping(est, iv.Modes, active, s.cfg.Grid.Layers)
			if err != nil {
				return nil, fmt.Errorf("interval %d: grouping: %w", iv.Frame, err)
			}
			st.Grouping = g
		}
	}

	s.transition(model.PhasePerPriorityLoop)
	if err := s.grid.Reset(s.cfg.Grid); err != nil {
		model.Inconsistent("strategy", "reset grid: %v", err)
	}
	for _, sc := range s.cfg.MaskedSubChannels {
		if err := s.grid.MaskSubChannel(sc); err != nil {
			model.Inconsistent("strategy", "mask: %v", err)
		}
	}
	s.dsa.Initialize(st, s.grid)
	s.fallback.Initialize(st, s.grid)
	s.apc.Initialize(st, s.grid)

	env := &Env{
		State:    st,
		Grid:     s.grid,
		DSA:      s.dsa,
		Fallback: s.fallback,
		APC:      s.apc,
		HARQ:     s.harq,
		NextTB:   func() int64 { s.nextTB++; return s.nextTB },
		Logger:   s.logger,
	}

	res := &Result{Frame: iv.Frame, Map: s.grid, Grouping: st.Grouping, GroupingGain: 1}
	if st.Grouping != nil {
		res.GroupingGain = st.Grouping.Gain
	}

	// All pending copies come from the grid of one earlier interval, so
	// their regions are disjoint.
	for _, u := range s.harq.UsersWithRetransmissions() {
		for _, pid := range s.harq.ProcessesWithRetransmissions(u) {
			for {
				b, ok := s.harq.GetNextRetransmission(u, pid)
				if !ok {
					break
				}
				b.Frame = iv.Frame
				if err := s.grid.Allocate(b.Region, b); err != nil {
					model.Inconsistent("strategy", "retransmission %s/%d at %s: %v", u, pid, b.Region, err)
				}
				res.Bursts = append(res.Bursts, b)
			}
		}
	}
	res.Retransmitted = len(res.Bursts)

	for p := 0; p < iv.Registry.NumberOfPriorities(); p++ {
		st.Priority = p
		conns := iv.Registry.ConnectionsForPriority(p)
		if st.Grouping != nil {
			conns = slices.DeleteFunc(conns, func(cid model.ConnectionID) bool {
				u, ok := iv.Registry.UserForConnection(cid)
				return !ok || !st.Grouping.Contains(u)
			})
		}
		placed := s.subs[p].Schedule(env, conns)
		res.Bursts = append(res.Bursts, placed...)
		s.logger.Debug("priority scheduled", "frame", iv.Frame, "priority", p,
			"sub_strategy", s.subs[p].Name(), "connections", len(conns), "bursts", len(placed))
	}

	s.transition(model.PhasePostProcess)
	rep := s.apc.PostProcess(st, s.grid)
	s.harq.SendPendingFeedback()
	res.PowerOverflows = rep.Overflows
	res.Trimmed = rep.Trimmed
	res.Utilization = s.grid.Utilization()
	res.HARQ = s.harq.Stats()

	s.transition(model.PhaseDone)
	s.transition(model.PhaseIdle)
	s.logger.Debug("interval done", "frame", iv.Frame, "bursts", len(res.Bursts),
		"retransmitted", res.Retransmitted, "utilization", res.Utilization)
	return res, nil
}
