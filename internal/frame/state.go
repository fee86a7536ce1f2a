package frame

import (
	"slices"

	"github.com/me/rrsched/pkg/model"
)

// Options are the frame-wide policy switches a State carries.
type Options struct {
	// DefaultTxPower imposes one transmit power (mW) on every burst when > 0.
	DefaultTxPower float64
	// DefaultPhyMode imposes one PHY mode on every burst when set.
	DefaultPhyMode model.PhyMode
	// ExcludeTooLowSINR refuses grants whose SINR is below every mode.
	ExcludeTooLowSINR bool
	// OneUserOnOneSubChannel keeps a subchannel to a single user per interval.
	OneUserOnOneSubChannel bool
}

type cqiKey struct {
	user       model.UserID
	subChannel int
}

type cqiEntry struct {
	q  model.ChannelQuality
	ok bool
}

// State is the per-interval scheduling state handed to every strategy.
type State struct {
	Frame    int
	Priority int
	Grouping *model.Grouping

	Registry Registry
	Queue    Queue
	Channels ChannelDirectory
	Modes    PhyModeSelector

	Options

	cqi map[cqiKey]cqiEntry
}

// NewState binds the collaborators of one run.
func NewState(reg Registry, q Queue, ch ChannelDirectory, modes PhyModeSelector, opts Options) *State {
	return &State{
		Registry: reg,
		Queue:    q,
		Channels: ch,
		Modes:    modes,
		Options:  opts,
		cqi:      make(map[cqiKey]cqiEntry),
	}
}

// BeginInterval resets everything that lives for one interval only.
func (s *State) BeginInterval(frameNo int) {
	s.Frame = frameNo
	s.Priority = 0
	s.Grouping = nil
	clear(s.cqi)
	if s.cqi == nil {
		s.cqi = make(map[cqiKey]cqiEntry)
	}
}

// Estimate returns the channel estimate of user on subChannel, cached for
// the interval.
func (s *State) Estimate(user model.UserID, subChannel int) (model.ChannelQuality, bool) {
	k := cqiKey{user: user, subChannel: subChannel}
	if e, ok := s.cqi[k]; ok {
		return e.q, e.ok
	}
	if s.cqi == nil {
		s.cqi = make(map[cqiKey]cqiEntry)
	}
	q, ok := s.Channels.Estimate(user, subChannel)
	s.cqi[k] = cqiEntry{q: q, ok: ok}
	return q, ok
}

// HasCQI reports whether any channel knowledge exists for user.
func (s *State) HasCQI(user model.UserID) bool {
	_, ok := s.Estimate(user, 0)
	return ok
}

// NominalTxPower returns the imposed default power, else the user's nominal
// per-subband power.
func (s *State) NominalTxPower(user model.UserID) float64 {
	if s.DefaultTxPower > 0 {
		return s.DefaultTxPower
	}
	return s.Registry.PowerCapabilities(user).NominalPerSubband
}

// AllUsers returns the union of users over every priority, sorted.
func (s *State) AllUsers() []model.UserID {
	seen := make(map[model.UserID]bool)
	var users []model.UserID
	for p := 0; p < s.Registry.NumberOfPriorities(); p++ {
		for _, u := range s.Registry.UsersForPriority(p) {
			if !seen[u] {
				seen[u] = true
				users = append(users, u)
			}
		}
	}
	slices.Sort(users)
	return users
}

// ActiveUsers returns the sorted users that have queued data.
func (s *State) ActiveUsers() []model.UserID {
	var active []model.UserID
	for p := 0; p < s.Registry.NumberOfPriorities(); p++ {
		for _, cid := range s.Registry.ConnectionsForPriority(p) {
			if !s.Queue.HasData(cid) {
				continue
			}
			if u, ok := s.Registry.UserForConnection(cid); ok && !slices.Contains(active, u) {
				active = append(active, u)
			}
		}
	}
	slices.Sort(active)
	return active
}

// SameGroup reports whether a and b may share a (subchannel, time slot).
// Without a grouping only a user shares with itself.
func (s *State) SameGroup(a, b model.UserID) bool {
	if a == b {
		return true
	}
	ga, ok := s.Grouping.GroupOf(a)
	if !ok {
		return false
	}
	gb, ok := s.Grouping.GroupOf(b)
	return ok && ga == gb
}
