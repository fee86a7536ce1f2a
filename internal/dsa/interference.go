package dsa

import (
	"log/slog"

	"github.com/me/rrsched/internal/frame"
	"github.com/me/rrsched/internal/grid"
)

// InterferenceCoordinated reserves the name for coordination across cells.
// Without neighbour information it never grants anything.
type InterferenceCoordinated struct {
	logger *slog.Logger
}

// NewInterferenceCoordinated creates the strategy.
func NewInterferenceCoordinated(logger *slog.Logger) *InterferenceCoordinated {
	return &InterferenceCoordinated{logger: logger.With("component", "dsa-interference-coordinated")}
}

func (s *InterferenceCoordinated) Name() string                       { return NameInterferenceCoordinated }
func (s *InterferenceCoordinated) RequiresCQI() bool                  { return true }
func (s *InterferenceCoordinated) Initialize(*frame.State, *grid.Map) {}

// SelectRegion always reports not found.
func (s *InterferenceCoordinated) SelectRegion(req frame.Request, _ *frame.State, _ *grid.Map) (Result, bool) {
	s.logger.Debug("no coordination data, refusing request", "user", req.User, "connection", req.Connection)
	return Result{}, false
}
