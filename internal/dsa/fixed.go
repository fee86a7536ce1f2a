package dsa

import (
	"log/slog"

	"github.com/me/rrsched/internal/frame"
	"github.com/me/rrsched/internal/grid"
	"github.com/me/rrsched/pkg/model"
)

type resource struct {
	sc, ts int
}

// Fixed splits the (subchannel, time slot) resources of the interval into
// contiguous ranges, one per user, or one per group when a grouping exists.
// With N resources and U owners, N mod U owners get one extra resource.
type Fixed struct {
	order  Order
	ranges map[model.UserID][]resource
	logger *slog.Logger
}

// NewFixed creates a Fixed strategy walking resources in order.
func NewFixed(order Order, logger *slog.Logger) *Fixed {
	if order == "" {
		order = FrequencyFirst
	}
	return &Fixed{order: order, logger: logger.With("component", "dsa-fixed")}
}

func (f *Fixed) Name() string      { return NameFixed }
func (f *Fixed) RequiresCQI() bool { return false }

// Initialize computes the per-user ranges for this interval.
func (f *Fixed) Initialize(st *frame.State, g *grid.Map) {
	dims := g.Dimensions()
	resources := make([]resource, 0, dims.SubChannels*dims.TimeSlots)
	// FrequencyFirst sorts by subchannel, then time slot; TimeFirst the reverse.
	if f.order == TimeFirst {
		for ts := 0; ts < dims.TimeSlots; ts++ {
			for sc := 0; sc < dims.SubChannels; sc++ {
				resources = append(resources, resource{sc: sc, ts: ts})
			}
		}
	} else {
		for sc := 0; sc < dims.SubChannels; sc++ {
			for ts := 0; ts < dims.TimeSlots; ts++ {
				resources = append(resources, resource{sc: sc, ts: ts})
			}
		}
	}

	var owners [][]model.UserID
	if st.Grouping != nil && len(st.Grouping.Groups) > 0 {
		for _, grp := range st.Grouping.Groups {
			owners = append(owners, grp.Users)
		}
	} else {
		for _, u := range st.AllUsers() {
			owners = append(owners, []model.UserID{u})
		}
	}

	f.ranges = make(map[model.UserID][]resource)
	if len(owners) == 0 {
		return
	}
	n, u := len(resources), len(owners)
	base, extra := n/u, n%u
	next := 0
	for i, members := range owners {
		size := base
		if i < extra {
			size++
		}
		r := resources[next : next+size]
		next += size
		for _, m := range members {
			f.ranges[m] = r
		}
	}
	if u > n {
		f.logger.Debug("more owners than resources", "owners", u, "resources", n)
	}
}

// SelectRegion returns the first usable cell in the user's range.
func (f *Fixed) SelectRegion(req frame.Request, st *frame.State, g *grid.Map) (Result, bool) {
	layers := layersFor(req.User, st, g)
	for _, r := range f.ranges[req.User] {
		if res, ok := firstUsable(req, st, g, r.sc, r.ts, layers); ok {
			return res, true
		}
	}
	return Result{}, false
}
