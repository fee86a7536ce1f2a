package store

import (
	"context"

	"github.com/me/rrsched/pkg/model"
)

// Store persists simulation runs and their per-frame probes.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)
	UpdateRun(ctx context.Context, run *model.Run) error

	// Frame probes
	RecordFrame(ctx context.Context, sample *model.FrameSample) error
	ListFrames(ctx context.Context, runID string, opts model.ListOptions) ([]*model.FrameSample, int, error)
	SummarizeRun(ctx context.Context, runID string) (*model.RunSummary, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
