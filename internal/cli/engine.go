package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/rrsched/internal/config"
	"github.com/me/rrsched/internal/phymode"
	"github.com/me/rrsched/internal/scenario"
	"github.com/me/rrsched/internal/scheduler"
	"github.com/me/rrsched/internal/store"
	"github.com/me/rrsched/internal/strategy"
	"github.com/me/rrsched/pkg/model"
)

// engine ties one scenario to a freshly built strategy.
type engine struct {
	path     string
	scenario *scenario.Scenario
	env      *scenario.Environment
	modes    *phymode.Mapper
	strategy *strategy.Strategy
}

func newEngine(c *config.Config, path string, logger *slog.Logger) (*engine, error) {
	sc, err := scenario.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}
	if sc.Name == "" {
		sc.Name = filepath.Base(path)
	}
	env, err := sc.Build(logger)
	if err != nil {
		return nil, fmt.Errorf("build scenario: %w", err)
	}
	modes, err := c.Modes()
	if err != nil {
		return nil, fmt.Errorf("phy modes: %w", err)
	}
	scfg, err := c.Strategy(modes)
	if err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	s, err := strategy.New(scfg, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return &engine{path: path, scenario: sc, env: env, modes: modes, strategy: s}, nil
}

// loop returns a frame loop over the engine. st may be nil.
func (e *engine) loop(st store.Store, lc scheduler.Config, logger *slog.Logger) *scheduler.Loop {
	return scheduler.NewLoop(e.strategy, e.env, e.modes, st, lc, logger)
}

// newRun creates the stored record for a run of e.
func (e *engine) newRun(ctx context.Context, st store.Store, c *config.Config, name string) (*model.Run, error) {
	engineDoc, err := yaml.Marshal(c.Engine)
	if err != nil {
		return nil, fmt.Errorf("encode engine config: %w", err)
	}
	run := &model.Run{
		ID:       store.NewRunID(),
		Name:     name,
		Scenario: e.path,
		State:    model.RunStateRunning,
		Seed:     c.Run.Seed,
		Config:   string(engineDoc),
	}
	if err := st.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// finishRun moves run to its terminal state.
func finishRun(ctx context.Context, st store.Store, run *model.Run, frames int, runErr error) error {
	next := model.RunStateCompleted
	if runErr != nil {
		next = model.RunStateFailed
		run.Error = runErr.Error()
	}
	if !run.State.CanTransitionTo(next) {
		panic(&model.InvalidTransitionError{Entity: "run", ID: run.ID, From: string(run.State), To: string(next)})
	}
	now := time.Now().UTC()
	run.State = next
	run.Frames = frames
	run.CompletedAt = &now
	return st.UpdateRun(ctx, run)
}

// openStore opens and migrates the run database.
func openStore(ctx context.Context, path string, logger *slog.Logger) (*store.SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Debug("database ready", "path", path)
	return st, nil
}

// defaultDBPath returns ~/.rrsched/rrsched.db.
func defaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".rrsched", "rrsched.db"), nil
}

// frameDuration is the airtime covered by one interval.
func frameDuration(c *config.Config) time.Duration {
	return c.Engine.Grid.SlotLength * time.Duration(c.Engine.Grid.TimeSlots)
}
