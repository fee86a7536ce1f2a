// Package frame defines the collaborators the engine consumes and the
// per-interval state shared by the strategies.
package frame

import "github.com/me/rrsched/pkg/model"

// Registry exposes connections, their owners and priorities. Priority 0 is
// the highest class.
type Registry interface {
	NumberOfPriorities() int
	// ConnectionsForPriority returns connection IDs in ascending order.
	ConnectionsForPriority(priority int) []model.ConnectionID
	UsersForPriority(priority int) []model.UserID
	UserForConnection(cid model.ConnectionID) (model.UserID, bool)
	PowerCapabilities(user model.UserID) model.PowerCapabilities
}

// Queue holds pre-segmented data units per connection.
type Queue interface {
	HasData(cid model.ConnectionID) bool
	HeadOfLineBits(cid model.ConnectionID) int
	NextUnit(cid model.ConnectionID) (model.DataUnit, bool)
	IsEmpty() bool
}

// ChannelDirectory returns the channel estimate of a user on a subchannel.
// The second result is false when no CQI is available.
type ChannelDirectory interface {
	Estimate(user model.UserID, subChannel int) (model.ChannelQuality, bool)
}

// PhyModeSelector maps SINR (linear) to a modulation and coding scheme.
type PhyModeSelector interface {
	BestModeFor(sinr float64) model.PhyMode
	SINRIsAboveLimit(sinr float64) bool
	MinimumSINR() float64
	Highest() model.PhyMode
}

// Request asks DSA and APC for resources for one connection.
type Request struct {
	User       model.UserID
	Connection model.ConnectionID
	Priority   int
	// Bits is the head-of-line unit size.
	Bits int
	// SubChannel is the subchannel DSA selected, read by APC.
	SubChannel int
	// PhyMode is the mode already chosen for the request, zero when DSA runs
	// before APC.
	PhyMode model.PhyMode
}
