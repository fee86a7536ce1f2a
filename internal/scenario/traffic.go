package scenario

import (
	"slices"

	"github.com/me/rrsched/pkg/model"
)

// Arrival is a burst of units entering one connection queue.
type Arrival struct {
	Connection model.ConnectionID
	Count      int
	Bits       int
}

// Traffic generates arrivals from a fixed list of sources.
type Traffic struct {
	sources []Source
}

// NewTraffic creates a Traffic over sources, ordered by connection.
func NewTraffic(sources []Source) *Traffic {
	s := slices.Clone(sources)
	slices.SortStableFunc(s, func(a, b Source) int { return int(a.Connection) - int(b.Connection) })
	return &Traffic{sources: s}
}

// Arrivals returns what enters the queues at frame n. The result depends only
// on n.
func (t *Traffic) Arrivals(n int) []Arrival {
	var out []Arrival
	for _, src := range t.sources {
		if !src.active(n) {
			continue
		}
		out = append(out, Arrival{Connection: src.Connection, Count: src.Count, Bits: src.Bits})
	}
	return out
}

// Pusher receives generated units.
type Pusher interface {
	Push(cid model.ConnectionID, bits int) model.DataUnit
}

// Feed pushes the arrivals of frame n into q and returns the number of bits.
func (t *Traffic) Feed(n int, q Pusher) int {
	total := 0
	for _, a := range t.Arrivals(n) {
		for i := 0; i < a.Count; i++ {
			q.Push(a.Connection, a.Bits)
			total += a.Bits
		}
	}
	return total
}

func (s Source) active(n int) bool {
	if n < s.Start || (s.Until > 0 && n > s.Until) {
		return false
	}
	if s.Every == 0 {
		return n == s.Start
	}
	return (n-s.Start)%s.Every == 0
}
