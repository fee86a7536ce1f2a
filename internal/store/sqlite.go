package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/me/rrsched/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if run.State == "" {
		run.State = model.RunStatePending
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, scenario, state, frames, seed, config, error, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.Scenario, string(run.State), run.Frames, int64(run.Seed),
		run.Config, run.Error, run.CreatedAt.Format(time.RFC3339Nano), formatTimePtr(run.CompletedAt),
	)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, scenario, state, frames, seed, config, error, created_at, completed_at
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	whereSQL := ""
	var countArgs []any
	if opts.State != "" {
		whereSQL = " WHERE state = ?"
		countArgs = append(countArgs, string(opts.State))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+whereSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT id, name, scenario, state, frames, seed, config, error, created_at, completed_at
		FROM runs` + whereSQL + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	listArgs := append(countArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// UpdateRun persists state, frame count, error and completion time.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", run.ID, "state", run.State)

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, frames = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(run.State), run.Frames, run.Error, formatTimePtr(run.CompletedAt), run.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.NewNotFoundError("run", run.ID)
	}
	return nil
}

// --- Frame probes ---

func (s *SQLiteStore) RecordFrame(ctx context.Context, fs *model.FrameSample) error {
	s.logger.Debug("sql", "op", "insert", "table", "frame_samples", "run_id", fs.RunID, "frame", fs.Frame)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO frame_samples (run_id, frame, bursts, retransmitted, bits_scheduled, bits_delivered,
			bits_queued, utilization, grouping_gain, groups, drops, power_overflows, mean_retransmits)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fs.RunID, fs.Frame, fs.Bursts, fs.Retransmitted, fs.BitsScheduled, fs.BitsDelivered,
		fs.BitsQueued, fs.Utilization, fs.GroupingGain, fs.Groups, fs.Drops, fs.PowerOverflows, fs.MeanRetransmits,
	)
	if err != nil {
		return fmt.Errorf("record frame %d of %s: %w", fs.Frame, fs.RunID, err)
	}
	return nil
}

func (s *SQLiteStore) ListFrames(ctx context.Context, runID string, opts model.ListOptions) ([]*model.FrameSample, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "frame_samples", "run_id", runID, "limit", opts.Limit)
	opts.Clamp()

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM frame_samples WHERE run_id = ?`, runID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, frame, bursts, retransmitted, bits_scheduled, bits_delivered, bits_queued,
			utilization, grouping_gain, groups, drops, power_overflows, mean_retransmits
		 FROM frame_samples WHERE run_id = ? ORDER BY frame LIMIT ? OFFSET ?`,
		runID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*model.FrameSample
	for rows.Next() {
		var fs model.FrameSample
		if err := rows.Scan(&fs.RunID, &fs.Frame, &fs.Bursts, &fs.Retransmitted, &fs.BitsScheduled,
			&fs.BitsDelivered, &fs.BitsQueued, &fs.Utilization, &fs.GroupingGain, &fs.Groups,
			&fs.Drops, &fs.PowerOverflows, &fs.MeanRetransmits); err != nil {
			return nil, 0, err
		}
		out = append(out, &fs)
	}
	return out, total, rows.Err()
}

// SummarizeRun aggregates the probes of a run. A run without samples yields
// a zero summary.
func (s *SQLiteStore) SummarizeRun(ctx context.Context, runID string) (*model.RunSummary, error) {
	s.logger.Debug("sql", "op", "aggregate", "table", "frame_samples", "run_id", runID)

	sum := model.RunSummary{RunID: runID}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(bursts), 0), COALESCE(SUM(retransmitted), 0),
			COALESCE(SUM(bits_scheduled), 0), COALESCE(SUM(bits_delivered), 0),
			COALESCE(AVG(utilization), 0), COALESCE(AVG(grouping_gain), 0),
			COALESCE(SUM(drops), 0)
		 FROM frame_samples WHERE run_id = ?`, runID,
	).Scan(&sum.Frames, &sum.Bursts, &sum.Retransmitted, &sum.BitsScheduled, &sum.BitsDelivered,
		&sum.MeanUtilization, &sum.MeanGain, &sum.Drops)
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	var run model.Run
	var state, createdAt string
	var seed int64
	var completedAt *string
	if err := row.Scan(&run.ID, &run.Name, &run.Scenario, &state, &run.Frames, &seed,
		&run.Config, &run.Error, &createdAt, &completedAt); err != nil {
		return nil, err
	}
	run.State = model.RunState(state)
	run.Seed = uint64(seed)
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *completedAt)
		run.CompletedAt = &t
	}
	return &run, nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
