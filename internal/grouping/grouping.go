// Package grouping partitions active users into groups that share a
// (subchannel, time slot) on distinct spatial layers.
package grouping

import (
	"fmt"
	"log/slog"
	"math/bits"
	"slices"

	"github.com/me/rrsched/internal/frame"
	"github.com/me/rrsched/pkg/model"
)

// DefaultMaxStations bounds the number of users one grouping run accepts.
const DefaultMaxStations = 16

// Estimator returns the channel of every member when the members transmit
// together. The second result is false when any member has no estimate.
type Estimator interface {
	Estimate(members []model.UserID) ([]model.ChannelQuality, bool)
}

// CrossTalkEstimator adds a fraction of every co-scheduled member's received
// power to each member's interference.
type CrossTalkEstimator struct {
	Channels  frame.ChannelDirectory
	Power     func(model.UserID) float64
	CrossTalk float64
}

// Estimate uses subchannel 0 as the flat-channel reference.
func (e CrossTalkEstimator) Estimate(members []model.UserID) ([]model.ChannelQuality, bool) {
	qs := make([]model.ChannelQuality, len(members))
	total := 0.0
	for i, u := range members {
		q, ok := e.Channels.Estimate(u, 0)
		if !ok {
			return nil, false
		}
		qs[i] = q.WithTxPower(e.Power(u))
		total += qs[i].Carrier
	}
	for i := range qs {
		qs[i].Interference += e.CrossTalk * (total - qs[i].Carrier)
	}
	return qs, true
}

// Grouper computes a grouping of users for an interval.
type Grouper interface {
	Name() string
	ComputeGrouping(est Estimator, modes frame.PhyModeSelector, users []model.UserID, maxLayers int) (*model.Grouping, error)
}

// Names of the registered groupers and partitioners.
const (
	NameAllPossible = "all_possible"
	NameTrivial     = "trivial"

	PartitionGreedy  = "greedy"
	PartitionOptimal = "optimal"
)

// Options configures construction.
type Options struct {
	Partition   string
	MaxStations int
}

// New constructs the grouper registered under name.
func New(name string, opts Options, logger *slog.Logger) (Grouper, error) {
	switch name {
	case NameTrivial:
		return NewTrivial(), nil
	case NameAllPossible:
		var p Partitioner
		switch opts.Partition {
		case PartitionGreedy, "":
			p = Greedy{}
		case PartitionOptimal:
			p = Optimal{}
		default:
			return nil, fmt.Errorf("unknown partitioner %q", opts.Partition)
		}
		return NewAllPossibleGroups(opts.MaxStations, p, logger)
	}
	return nil, fmt.Errorf("unknown grouper %q (known: %v)", name, []string{NameAllPossible, NameTrivial})
}

// candidate is one evaluated subset. Bit i of mask stands for users[i].
type candidate struct {
	mask       uint64
	throughput float64
	qualities  []model.ChannelQuality
}

// Partitioner picks disjoint candidates covering every user. Singletons for
// every user are always among cands.
type Partitioner interface {
	Name() string
	Partition(cands []candidate, n int) ([]candidate, error)
}

// AllPossibleGroups evaluates every subset of up to maxLayers users and hands
// the candidates to a partitioner.
type AllPossibleGroups struct {
	maxStations int
	partition   Partitioner
	logger      *slog.Logger
}

// NewAllPossibleGroups creates the grouper. maxStations must fit the 64-bit
// subset representation; 0 selects DefaultMaxStations.
func NewAllPossibleGroups(maxStations int, p Partitioner, logger *slog.Logger) (*AllPossibleGroups, error) {
	if maxStations == 0 {
		maxStations = DefaultMaxStations
	}
	if maxStations < 1 || maxStations > 64 {
		return nil, fmt.Errorf("max stations must be in [1,64], got %d", maxStations)
	}
	return &AllPossibleGroups{
		maxStations: maxStations,
		partition:   p,
		logger:      logger.With("component", "grouper", "partition", p.Name()),
	}, nil
}

func (a *AllPossibleGroups) Name() string { return NameAllPossible }

// ComputeGrouping returns a partition of users whose average per-group
// throughput is never below that of serving every user alone.
func (a *AllPossibleGroups) ComputeGrouping(est Estimator, modes frame.PhyModeSelector, users []model.UserID, maxLayers int) (*model.Grouping, error) {
	users = sortedUnique(users)
	n := len(users)
	if n == 0 {
		return &model.Grouping{UserGroup: map[model.UserID]int{}, Gain: 1}, nil
	}
	if n > a.maxStations {
		return nil, fmt.Errorf("%d active users exceed max stations %d", n, a.maxStations)
	}
	if maxLayers < 1 {
		return nil, fmt.Errorf("max layers must be positive, got %d", maxLayers)
	}

	cands := enumerate(est, modes, users, min(maxLayers, n))
	trivialAvg := 0.0
	for _, c := range cands {
		if bits.OnesCount64(c.mask) == 1 {
			trivialAvg += c.throughput
		}
	}
	trivialAvg /= float64(n)

	selected, err := a.partition.Partition(cands, n)
	if err != nil {
		return nil, err
	}
	verify(selected, n)

	g := build(users, selected, trivialAvg)
	a.logger.Debug("grouping computed", "users", n, "groups", len(g.Groups), "gain", g.Gain)
	return g, nil
}

// enumerate evaluates every subset of size 1..k in size order, then numeric
// order, using Gosper's hack. Multi-user subsets with an unservable member are
// skipped; singletons are always kept.
func enumerate(est Estimator, modes frame.PhyModeSelector, users []model.UserID, k int) []candidate {
	n := len(users)
	var cands []candidate
	for size := 1; size <= k; size++ {
		x := uint64(1)<<size - 1
		for {
			if c, ok := evaluate(est, modes, users, x); ok {
				cands = append(cands, c)
			}
			next, ok := nextSubset(x)
			if !ok || (n < 64 && next >= uint64(1)<<n) {
				break
			}
			x = next
		}
	}
	return cands
}

// nextSubset returns the next larger integer with the same popcount.
func nextSubset(x uint64) (uint64, bool) {
	c := x & -x
	r := x + c
	if r == 0 {
		return 0, false
	}
	return (((r ^ x) >> 2) / c) | r, true
}

func evaluate(est Estimator, modes frame.PhyModeSelector, users []model.UserID, mask uint64) (candidate, bool) {
	members := membersOf(users, mask)
	single := len(members) == 1
	qs, ok := est.Estimate(members)
	if !ok {
		if single {
			return candidate{mask: mask, qualities: make([]model.ChannelQuality, 1)}, true
		}
		return candidate{}, false
	}
	c := candidate{mask: mask, qualities: qs}
	for _, q := range qs {
		sinr := q.SINR()
		if !modes.SINRIsAboveLimit(sinr) {
			if single {
				return candidate{mask: mask, qualities: qs}, true
			}
			return candidate{}, false
		}
		c.throughput += modes.BestModeFor(sinr).DataRate
	}
	return c, true
}

func membersOf(users []model.UserID, mask uint64) []model.UserID {
	members := make([]model.UserID, 0, bits.OnesCount64(mask))
	for m := mask; m != 0; m &= m - 1 {
		members = append(members, users[bits.TrailingZeros64(m)])
	}
	return members
}

// verify panics unless selected covers every user exactly once.
func verify(selected []candidate, n int) {
	var covered uint64
	for _, c := range selected {
		if c.mask&covered != 0 {
			model.Inconsistent("grouper", "groups overlap on mask %b", c.mask&covered)
		}
		covered |= c.mask
	}
	if covered != allMask(n) {
		model.Inconsistent("grouper", "users not covered: mask %b", allMask(n)&^covered)
	}
}

func allMask(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<n - 1
}

func build(users []model.UserID, selected []candidate, trivialAvg float64) *model.Grouping {
	ordered := slices.Clone(selected)
	slices.SortFunc(ordered, func(x, y candidate) int {
		return bits.TrailingZeros64(x.mask) - bits.TrailingZeros64(y.mask)
	})
	g := &model.Grouping{UserGroup: make(map[model.UserID]int, len(users))}
	total := 0.0
	for i, c := range ordered {
		members := membersOf(users, c.mask)
		grp := model.Group{
			Users:      members,
			Throughput: c.throughput,
			Qualities:  make(map[model.UserID]model.ChannelQuality, len(members)),
			Patterns:   make(map[model.UserID]int, len(members)),
		}
		for layer, u := range members {
			grp.Qualities[u] = c.qualities[layer]
			grp.Patterns[u] = layer
			g.UserGroup[u] = i
		}
		g.Groups = append(g.Groups, grp)
		total += c.throughput
	}
	g.Gain = 1
	if trivialAvg > 0 && len(ordered) > 0 {
		g.Gain = total / float64(len(ordered)) / trivialAvg
	}
	return g
}

func sortedUnique(users []model.UserID) []model.UserID {
	out := slices.Clone(users)
	slices.Sort(out)
	return slices.Compact(out)
}
