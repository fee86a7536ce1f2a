package model

import (
	"fmt"
	"slices"
	"time"
)

// Region is a rectangular block of grid cells starting at (SubChannel,
// TimeSlot, Layer). Zero extents count as one.
type Region struct {
	SubChannel  int `json:"sub_channel"`
	TimeSlot    int `json:"time_slot"`
	Layer       int `json:"layer"`
	SubChannels int `json:"sub_channels,omitempty"`
	TimeSlots   int `json:"time_slots,omitempty"`
	Layers      int `json:"layers,omitempty"`
}

// Cell returns the single-cell region at (sc, ts, layer).
func Cell(sc, ts, layer int) Region {
	return Region{SubChannel: sc, TimeSlot: ts, Layer: layer, SubChannels: 1, TimeSlots: 1, Layers: 1}
}

// Extent returns the region size along each axis.
func (r Region) Extent() (sc, ts, layers int) {
	return max(r.SubChannels, 1), max(r.TimeSlots, 1), max(r.Layers, 1)
}

// Size returns the number of cells covered.
func (r Region) Size() int {
	sc, ts, l := r.Extent()
	return sc * ts * l
}

// Each calls fn for every cell of the region in subchannel, time slot, layer order.
func (r Region) Each(fn func(sc, ts, layer int)) {
	nsc, nts, nl := r.Extent()
	for sc := r.SubChannel; sc < r.SubChannel+nsc; sc++ {
		for ts := r.TimeSlot; ts < r.TimeSlot+nts; ts++ {
			for l := r.Layer; l < r.Layer+nl; l++ {
				fn(sc, ts, l)
			}
		}
	}
}

// Overlaps reports whether r and o share at least one cell.
func (r Region) Overlaps(o Region) bool {
	rsc, rts, rl := r.Extent()
	osc, ots, ol := o.Extent()
	return span(r.SubChannel, rsc, o.SubChannel, osc) &&
		span(r.TimeSlot, rts, o.TimeSlot, ots) &&
		span(r.Layer, rl, o.Layer, ol)
}

func span(a, na, b, nb int) bool {
	return a < b+nb && b < a+na
}

func (r Region) String() string {
	nsc, nts, nl := r.Extent()
	return fmt.Sprintf("sc=%d+%d ts=%d+%d layer=%d+%d", r.SubChannel, nsc, r.TimeSlot, nts, r.Layer, nl)
}

// HARQInfo carries retransmission bookkeeping stamped on a burst.
type HARQInfo struct {
	Tracked          bool  `json:"tracked"`
	ProcessID        int   `json:"process_id"`
	TransportBlockID int64 `json:"transport_block_id"`
	NDI              bool  `json:"ndi"`
	RetryCounter     int   `json:"retry_counter"`
	Position         int   `json:"position"`
}

// AllocationBurst is one committed grant: a region plus the user, PHY mode,
// power and data placed in it.
type AllocationBurst struct {
	Frame      int            `json:"frame"`
	Region     Region         `json:"region"`
	Start      time.Duration  `json:"start"`
	End        time.Duration  `json:"end"`
	User       UserID         `json:"user"`
	Connection ConnectionID   `json:"connection"`
	Priority   int            `json:"priority"`
	Group      int            `json:"group"`
	PhyMode    PhyMode        `json:"phy_mode"`
	TxPower    float64        `json:"tx_power"`
	Estimate   ChannelQuality `json:"estimate"`
	SINR       float64        `json:"sinr"`
	Units      []DataUnit     `json:"units"`
	HARQ       HARQInfo       `json:"harq"`
}

// Bits returns the total payload in the burst.
func (b *AllocationBurst) Bits() int {
	n := 0
	for _, u := range b.Units {
		n += u.Bits
	}
	return n
}

// IsRetransmission reports whether the burst repeats an earlier transport block.
func (b *AllocationBurst) IsRetransmission() bool {
	return b.HARQ.Tracked && !b.HARQ.NDI
}

// Clone returns a deep copy.
func (b *AllocationBurst) Clone() *AllocationBurst {
	c := *b
	c.Units = slices.Clone(b.Units)
	return &c
}
