package model

import "slices"

// Group is a set of users served simultaneously on distinct spatial layers.
type Group struct {
	Users      []UserID                  `json:"users"`
	Throughput float64                   `json:"throughput"`
	Qualities  map[UserID]ChannelQuality `json:"qualities"`
	// Patterns maps each member to its spatial layer within the group.
	Patterns map[UserID]int `json:"patterns"`
}

// Grouping partitions the active users into disjoint groups.
type Grouping struct {
	Groups    []Group        `json:"groups"`
	UserGroup map[UserID]int `json:"user_group"`
	Gain      float64        `json:"gain"`
}

// GroupOf returns the group index of u.
func (g *Grouping) GroupOf(u UserID) (int, bool) {
	if g == nil {
		return 0, false
	}
	i, ok := g.UserGroup[u]
	return i, ok
}

// Contains reports whether u was grouped.
func (g *Grouping) Contains(u UserID) bool {
	_, ok := g.GroupOf(u)
	return ok
}

// Layer returns the spatial layer assigned to u within its group.
func (g *Grouping) Layer(u UserID) int {
	i, ok := g.GroupOf(u)
	if !ok {
		return 0
	}
	return g.Groups[i].Patterns[u]
}

// Users returns all grouped users in sorted order.
func (g *Grouping) Users() []UserID {
	if g == nil {
		return nil
	}
	users := make([]UserID, 0, len(g.UserGroup))
	for u := range g.UserGroup {
		users = append(users, u)
	}
	slices.Sort(users)
	return users
}

// AverageThroughput returns the mean throughput per group.
func (g *Grouping) AverageThroughput() float64 {
	if g == nil || len(g.Groups) == 0 {
		return 0
	}
	total := 0.0
	for _, grp := range g.Groups {
		total += grp.Throughput
	}
	return total / float64(len(g.Groups))
}
