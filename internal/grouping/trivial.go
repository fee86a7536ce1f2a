package grouping

import (
	"fmt"

	"github.com/me/rrsched/internal/frame"
	"github.com/me/rrsched/pkg/model"
)

// Trivial puts every user in a group of its own.
type Trivial struct{}

// NewTrivial creates a Trivial grouper.
func NewTrivial() Trivial { return Trivial{} }

func (Trivial) Name() string { return NameTrivial }

// ComputeGrouping returns one single-member group per user with gain 1.
func (Trivial) ComputeGrouping(est Estimator, modes frame.PhyModeSelector, users []model.UserID, _ int) (*model.Grouping, error) {
	users = sortedUnique(users)
	if len(users) > 64 {
		return nil, fmt.Errorf("%d users exceed the 64 user limit", len(users))
	}
	var cands []candidate
	for i := range users {
		if c, ok := evaluate(est, modes, users, uint64(1)<<i); ok {
			cands = append(cands, c)
		}
	}
	g := build(users, cands, 0)
	g.Gain = 1
	return g, nil
}
