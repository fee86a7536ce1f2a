package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/me/rrsched/internal/frame"
	"github.com/me/rrsched/internal/scenario"
	"github.com/me/rrsched/internal/store"
	"github.com/me/rrsched/internal/strategy"
	"github.com/me/rrsched/pkg/model"
)

// Config holds loop configuration.
type Config struct {
	// Frames stops Start after this many frames; 0 runs until stopped.
	Frames int
	// FramePacing is the wall-clock time between frames; 0 runs free.
	FramePacing time.Duration
	// RunID tags recorded probes. Probes are only recorded when a store is set.
	RunID string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Frames: 100}
}

// Totals accumulates over all frames run so far.
type Totals struct {
	Frames        int
	Bursts        int
	Retransmitted int
	BitsArrived   int64
	BitsScheduled int64
	BitsDelivered int64
	Drops         int
	Utilization   float64 // mean over frames
}

// Loop implements Scheduler around one Strategy and one scenario environment.
type Loop struct {
	strategy *strategy.Strategy
	env      *scenario.Environment
	modes    frame.PhyModeSelector
	store    store.Store
	config   Config
	logger   *slog.Logger

	frame     int
	lastDrops int
	last      *model.FrameSample
	totals    Totals

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewLoop creates a new frame loop. st may be nil to skip recording.
func NewLoop(s *strategy.Strategy, env *scenario.Environment, modes frame.PhyModeSelector, st store.Store, cfg Config, logger *slog.Logger) *Loop {
	return &Loop{
		strategy: s,
		env:      env,
		modes:    modes,
		store:    st,
		config:   cfg,
		logger:   logger.With("component", "scheduler"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Frame returns the number of the next frame to run.
func (l *Loop) Frame() int { return l.frame }

// Totals returns the running totals.
func (l *Loop) Totals() Totals { return l.totals }

// LastSample returns the probes of the most recent frame, or nil.
func (l *Loop) LastSample() *model.FrameSample { return l.last }

// Start runs frames until ctx is cancelled, Stop is called or Config.Frames
// frames have run.
func (l *Loop) Start(ctx context.Context) error {
	defer close(l.doneCh)
	l.logger.Info("scheduler started", "frame_pacing", l.config.FramePacing, "frames", l.config.Frames)

	var tick <-chan time.Time
	if l.config.FramePacing > 0 {
		ticker := time.NewTicker(l.config.FramePacing)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if l.config.Frames > 0 && l.frame >= l.config.Frames {
			l.logger.Info("scheduler finished", "frames", l.frame)
			return nil
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				l.logger.Info("scheduler stopping (context cancelled)")
				return ctx.Err()
			case <-l.stopCh:
				l.logger.Info("scheduler stopping (stop called)")
				return nil
			case <-tick:
			}
		} else {
			select {
			case <-ctx.Done():
				l.logger.Info("scheduler stopping (context cancelled)")
				return ctx.Err()
			case <-l.stopCh:
				l.logger.Info("scheduler stopping (stop called)")
				return nil
			default:
			}
		}
		if err := l.Tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("frame %d: %w", l.frame, err)
		}
	}
}

// Stop signals the loop to stop and waits for the current frame to finish.
// It must only be called while Start is running.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.doneCh
	return nil
}

// Run runs exactly n more frames, or fewer if ctx is cancelled first.
func (l *Loop) Run(ctx context.Context, n int) (Totals, error) {
	for i := 0; i < n; i++ {
		if err := l.Tick(ctx); err != nil {
			return l.totals, err
		}
	}
	return l.totals, nil
}

// Tick runs a single frame.
func (l *Loop) Tick(ctx context.Context) error {
	n := l.frame

	// Phase 1: Feed this frame's arrivals and advance the channel clock.
	arrived := l.arrivals(n)

	// Phase 2: Schedule one interval.
	res, err := l.strategy.RunInterval(ctx, strategy.Interval{
		Frame:    n,
		Registry: l.env.Registry,
		Queue:    l.env.Queue,
		Channels: l.env.Channels,
		Modes:    l.modes,
	})
	if err != nil {
		return fmt.Errorf("phase 2 (scheduling): %w", err)
	}

	// Phase 3: Deliver every burst to the receiving side and decode.
	delivered := l.deliver(res)

	// Phase 4: Record probes.
	if err := l.probe(ctx, res, arrived, delivered); err != nil {
		return fmt.Errorf("phase 4 (probes): %w", err)
	}

	l.frame++
	return nil
}

func (l *Loop) arrivals(n int) int {
	l.env.Channels.SetFrame(n)
	bits := l.env.Traffic.Feed(n, l.env.Queue)
	if bits > 0 {
		l.logger.Debug("traffic arrived", "frame", n, "bits", bits)
	}
	return bits
}

func (l *Loop) deliver(res *strategy.Result) int64 {
	h := l.strategy.HARQ()
	for _, b := range res.Bursts {
		h.OnTimeSlotReceived(b, b.HARQ)
	}
	var bits int64
	for _, r := range h.Decode() {
		bits += int64(r.Burst.Bits())
	}
	return bits
}

func (l *Loop) probe(ctx context.Context, res *strategy.Result, arrived int, delivered int64) error {
	fs := &model.FrameSample{
		RunID:           l.config.RunID,
		Frame:           res.Frame,
		Bursts:          len(res.Bursts),
		Retransmitted:   res.Retransmitted,
		BitsScheduled:   int64(res.BitsScheduled()),
		BitsDelivered:   delivered,
		BitsQueued:      int64(l.env.Queue.QueuedBits()),
		Utilization:     res.Utilization,
		GroupingGain:    res.GroupingGain,
		Drops:           res.HARQ.Drops - l.lastDrops,
		PowerOverflows:  res.PowerOverflows,
		MeanRetransmits: res.HARQ.RetransmissionsPerDecode,
	}
	if res.Grouping != nil {
		fs.Groups = len(res.Grouping.Groups)
	}
	l.lastDrops = res.HARQ.Drops
	l.last = fs

	t := &l.totals
	t.Utilization = (t.Utilization*float64(t.Frames) + fs.Utilization) / float64(t.Frames+1)
	t.Frames++
	t.Bursts += fs.Bursts
	t.Retransmitted += fs.Retransmitted
	t.BitsArrived += int64(arrived)
	t.BitsScheduled += fs.BitsScheduled
	t.BitsDelivered += fs.BitsDelivered
	t.Drops += fs.Drops

	l.logger.Debug("frame done", "frame", fs.Frame, "bursts", fs.Bursts,
		"bits_scheduled", fs.BitsScheduled, "bits_queued", fs.BitsQueued, "utilization", fs.Utilization)

	if l.store == nil || l.config.RunID == "" {
		return nil
	}
	return l.store.RecordFrame(ctx, fs)
}
