// Package grid holds the resource occupancy of one scheduling interval.
package grid

import (
	"fmt"
	"time"

	"github.com/me/rrsched/pkg/model"
)

// Dimensions describes the grid shape of an interval.
type Dimensions struct {
	SubChannels int           `json:"sub_channels"`
	TimeSlots   int           `json:"time_slots"`
	Layers      int           `json:"layers"`
	SlotLength  time.Duration `json:"slot_length"`
}

// Cells returns the total number of cells.
func (d Dimensions) Cells() int {
	return d.SubChannels * d.TimeSlots * d.Layers
}

// Validate checks that every axis is non-empty.
func (d Dimensions) Validate() error {
	if d.SubChannels <= 0 || d.TimeSlots <= 0 || d.Layers <= 0 {
		return fmt.Errorf("grid dimensions must be positive: %d subchannels, %d time slots, %d layers",
			d.SubChannels, d.TimeSlots, d.Layers)
	}
	if d.SlotLength <= 0 {
		return fmt.Errorf("slot length must be positive, got %v", d.SlotLength)
	}
	return nil
}

type cell struct {
	burst *model.AllocationBurst
}

// Map is the [subchannel][timeSlot][layer] occupancy table. Each cell is
// either free or references exactly one burst.
type Map struct {
	dims     Dimensions
	cells    []cell
	masked   []bool // per subchannel
	bursts   []*model.AllocationBurst
	occupied int
	usable   int
}

// New creates an empty Map.
func New(d Dimensions) (*Map, error) {
	m := &Map{}
	if err := m.Reset(d); err != nil {
		return nil, err
	}
	return m, nil
}

// Reset clears every cell and mask for a new interval.
func (m *Map) Reset(d Dimensions) error {
	if err := d.Validate(); err != nil {
		return err
	}
	m.dims = d
	if cap(m.cells) >= d.Cells() {
		m.cells = m.cells[:d.Cells()]
		clear(m.cells)
	} else {
		m.cells = make([]cell, d.Cells())
	}
	m.masked = make([]bool, d.SubChannels)
	m.bursts = nil
	m.occupied = 0
	m.usable = d.Cells()
	return nil
}

// Dimensions returns the current grid shape.
func (m *Map) Dimensions() Dimensions {
	return m.dims
}

func (m *Map) index(sc, ts, layer int) int {
	return (sc*m.dims.TimeSlots+ts)*m.dims.Layers + layer
}

// InBounds reports whether r lies entirely inside the grid.
func (m *Map) InBounds(r model.Region) bool {
	nsc, nts, nl := r.Extent()
	return r.SubChannel >= 0 && r.TimeSlot >= 0 && r.Layer >= 0 &&
		r.SubChannel+nsc <= m.dims.SubChannels &&
		r.TimeSlot+nts <= m.dims.TimeSlots &&
		r.Layer+nl <= m.dims.Layers
}

// MaskSubChannel marks sc unusable for the rest of the interval. Cells that
// are already occupied keep their burst.
func (m *Map) MaskSubChannel(sc int) error {
	if sc < 0 || sc >= m.dims.SubChannels {
		return fmt.Errorf("mask subchannel %d: %w", sc, model.ErrRegionOutOfBounds)
	}
	if m.masked[sc] {
		return nil
	}
	m.masked[sc] = true
	for ts := 0; ts < m.dims.TimeSlots; ts++ {
		for l := 0; l < m.dims.Layers; l++ {
			if m.cells[m.index(sc, ts, l)].burst == nil {
				m.usable--
			}
		}
	}
	return nil
}

// SubChannelUsable reports whether sc has not been masked.
func (m *Map) SubChannelUsable(sc int) bool {
	return sc >= 0 && sc < m.dims.SubChannels && !m.masked[sc]
}

// IsFree reports whether every cell of r is in bounds, usable and unoccupied.
func (m *Map) IsFree(r model.Region) bool {
	if !m.InBounds(r) {
		return false
	}
	free := true
	r.Each(func(sc, ts, l int) {
		if m.masked[sc] || m.cells[m.index(sc, ts, l)].burst != nil {
			free = false
		}
	})
	return free
}

// Allocate marks every cell of r as held by b and records b.
// It returns ErrGridExhausted when no usable cell is left, ErrRegionOutOfBounds
// for a region outside the grid and ErrRegionConflict when any cell is taken
// or masked. The grid is unchanged on error.
func (m *Map) Allocate(r model.Region, b *model.AllocationBurst) error {
	if m.FreeCells() == 0 {
		return model.ErrGridExhausted
	}
	if !m.InBounds(r) {
		return fmt.Errorf("allocate %s: %w", r, model.ErrRegionOutOfBounds)
	}
	if !m.IsFree(r) {
		return fmt.Errorf("allocate %s: %w", r, model.ErrRegionConflict)
	}
	b.Region = r
	r.Each(func(sc, ts, l int) {
		m.cells[m.index(sc, ts, l)].burst = b
	})
	m.occupied += r.Size()
	m.bursts = append(m.bursts, b)
	return nil
}

// Bursts returns the grants of this interval in allocation order.
func (m *Map) Bursts() []*model.AllocationBurst {
	out := make([]*model.AllocationBurst, len(m.bursts))
	copy(out, m.bursts)
	return out
}

// BurstAt returns the burst holding a cell, or nil.
func (m *Map) BurstAt(sc, ts, layer int) *model.AllocationBurst {
	if !m.InBounds(model.Cell(sc, ts, layer)) {
		return nil
	}
	return m.cells[m.index(sc, ts, layer)].burst
}

// OwnerAt returns the user holding a cell.
func (m *Map) OwnerAt(sc, ts, layer int) (model.UserID, bool) {
	b := m.BurstAt(sc, ts, layer)
	if b == nil {
		return "", false
	}
	return b.User, true
}

// LayerOccupants returns the users holding any layer of (sc, ts).
func (m *Map) LayerOccupants(sc, ts int) []model.UserID {
	var users []model.UserID
	for l := 0; l < m.dims.Layers; l++ {
		if u, ok := m.OwnerAt(sc, ts, l); ok {
			users = append(users, u)
		}
	}
	return users
}

// SubChannelOwners returns the distinct users holding cells on sc.
func (m *Map) SubChannelOwners(sc int) []model.UserID {
	seen := make(map[model.UserID]bool)
	var users []model.UserID
	for ts := 0; ts < m.dims.TimeSlots; ts++ {
		for _, u := range m.LayerOccupants(sc, ts) {
			if !seen[u] {
				seen[u] = true
				users = append(users, u)
			}
		}
	}
	return users
}

// FreeCellsOn counts the usable free cells of subchannel sc.
func (m *Map) FreeCellsOn(sc int) int {
	if !m.SubChannelUsable(sc) {
		return 0
	}
	n := 0
	for ts := 0; ts < m.dims.TimeSlots; ts++ {
		for l := 0; l < m.dims.Layers; l++ {
			if m.cells[m.index(sc, ts, l)].burst == nil {
				n++
			}
		}
	}
	return n
}

// FreeCells returns the number of usable, unoccupied cells.
func (m *Map) FreeCells() int {
	return m.usable - m.occupied
}

// UsableCells returns the number of cells not masked before being taken.
func (m *Map) UsableCells() int {
	return m.usable
}

// FreeBits returns the bit capacity of r at mode, or 0 if r is not free.
func (m *Map) FreeBits(r model.Region, mode model.PhyMode) int {
	if !m.IsFree(r) {
		return 0
	}
	return r.Size() * mode.BitCapacity(m.dims.SlotLength)
}

// Utilization returns the fraction of usable cells that hold a burst.
func (m *Map) Utilization() float64 {
	if m.usable == 0 {
		return 0
	}
	return float64(m.occupied) / float64(m.usable)
}
