// Package queue provides per-connection FIFO queues of data units.
package queue

import (
	"slices"
	"sync"

	"github.com/me/rrsched/pkg/model"
)

// SimpleQueue is a FIFO of pre-segmented units per connection.
type SimpleQueue struct {
	mu     sync.Mutex
	units  map[model.ConnectionID][]model.DataUnit
	nextID uint64
}

// New creates an empty SimpleQueue.
func New() *SimpleQueue {
	return &SimpleQueue{units: make(map[model.ConnectionID][]model.DataUnit)}
}

// Push appends a unit of the given size and returns it with its ID assigned.
func (q *SimpleQueue) Push(cid model.ConnectionID, bits int) model.DataUnit {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	u := model.DataUnit{ID: q.nextID, Connection: cid, Bits: bits}
	q.units[cid] = append(q.units[cid], u)
	return u
}

// HasData reports whether cid has a unit waiting.
func (q *SimpleQueue) HasData(cid model.ConnectionID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units[cid]) > 0
}

// HeadOfLineBits returns the size of the next unit of cid, or 0.
func (q *SimpleQueue) HeadOfLineBits(cid model.ConnectionID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if us := q.units[cid]; len(us) > 0 {
		return us[0].Bits
	}
	return 0
}

// NextUnit pops the head-of-line unit of cid.
func (q *SimpleQueue) NextUnit(cid model.ConnectionID) (model.DataUnit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	us := q.units[cid]
	if len(us) == 0 {
		return model.DataUnit{}, false
	}
	u := us[0]
	if len(us) == 1 {
		delete(q.units, cid)
	} else {
		q.units[cid] = us[1:]
	}
	return u, true
}

// IsEmpty reports whether no connection has data.
func (q *SimpleQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units) == 0
}

// Len returns the number of units waiting on cid.
func (q *SimpleQueue) Len(cid model.ConnectionID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units[cid])
}

// QueuedBits returns the total payload waiting across all connections.
func (q *SimpleQueue) QueuedBits() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, us := range q.units {
		for _, u := range us {
			n += u.Bits
		}
	}
	return n
}

// Connections returns the connections with data, in ascending order.
func (q *SimpleQueue) Connections() []model.ConnectionID {
	q.mu.Lock()
	defer q.mu.Unlock()
	cids := make([]model.ConnectionID, 0, len(q.units))
	for cid := range q.units {
		cids = append(cids, cid)
	}
	slices.Sort(cids)
	return cids
}
