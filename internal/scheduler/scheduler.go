package scheduler

import "context"

// Scheduler advances the frame clock: it feeds traffic, runs one scheduling
// interval per frame, delivers the bursts and records probes.
type Scheduler interface {
	// Start begins the frame loop. Blocks until ctx is cancelled, Stop is
	// called or the configured number of frames has run.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the loop.
	Stop() error

	// Tick runs a single frame. Used for testing.
	Tick(ctx context.Context) error
}
