// Package registry provides a static connection registry.
package registry

import (
	"fmt"
	"slices"

	"github.com/me/rrsched/pkg/model"
)

// Static is an immutable registry built once from a connection list.
type Static struct {
	priorities int
	conns      map[model.ConnectionID]model.Connection
	byPriority [][]model.ConnectionID
	power      map[model.UserID]model.PowerCapabilities
}

// New builds a registry. Priorities must be dense starting at 0 and
// connection IDs unique.
func New(conns []model.Connection, power map[model.UserID]model.PowerCapabilities) (*Static, error) {
	r := &Static{
		conns: make(map[model.ConnectionID]model.Connection, len(conns)),
		power: make(map[model.UserID]model.PowerCapabilities, len(power)),
	}
	for _, c := range conns {
		if c.Priority < 0 {
			return nil, fmt.Errorf("connection %d: negative priority %d", c.ID, c.Priority)
		}
		if c.User == "" {
			return nil, fmt.Errorf("connection %d: user is required", c.ID)
		}
		if _, dup := r.conns[c.ID]; dup {
			return nil, fmt.Errorf("duplicate connection id %d", c.ID)
		}
		r.conns[c.ID] = c
		r.priorities = max(r.priorities, c.Priority+1)
	}
	r.byPriority = make([][]model.ConnectionID, r.priorities)
	for _, c := range conns {
		r.byPriority[c.Priority] = append(r.byPriority[c.Priority], c.ID)
	}
	for p, ids := range r.byPriority {
		if len(ids) == 0 {
			return nil, fmt.Errorf("priority %d has no connections", p)
		}
		slices.Sort(ids)
	}
	for u, pc := range power {
		r.power[u] = pc
	}
	return r, nil
}

// NumberOfPriorities returns the number of priority classes.
func (r *Static) NumberOfPriorities() int { return r.priorities }

// ConnectionsForPriority returns the connections of a class in ID order.
func (r *Static) ConnectionsForPriority(priority int) []model.ConnectionID {
	if priority < 0 || priority >= r.priorities {
		return nil
	}
	return slices.Clone(r.byPriority[priority])
}

// UsersForPriority returns the distinct users of a class in sorted order.
func (r *Static) UsersForPriority(priority int) []model.UserID {
	var users []model.UserID
	for _, cid := range r.ConnectionsForPriority(priority) {
		if u := r.conns[cid].User; !slices.Contains(users, u) {
			users = append(users, u)
		}
	}
	slices.Sort(users)
	return users
}

// UserForConnection returns the owner of cid.
func (r *Static) UserForConnection(cid model.ConnectionID) (model.UserID, bool) {
	c, ok := r.conns[cid]
	return c.User, ok
}

// Connection returns the full record of cid.
func (r *Static) Connection(cid model.ConnectionID) (model.Connection, bool) {
	c, ok := r.conns[cid]
	return c, ok
}

// PowerCapabilities returns the power limits of user. Unknown users get zero
// limits.
func (r *Static) PowerCapabilities(user model.UserID) model.PowerCapabilities {
	return r.power[user]
}
