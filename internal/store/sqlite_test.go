package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/me/rrsched/pkg/model"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleRun(id string) *model.Run {
	return &model.Run{
		ID:        id,
		Name:      "smoke",
		Scenario:  "three-users.yaml",
		State:     model.RunStatePending,
		Seed:      math.MaxUint64 - 7,
		Config:    "dsa: best_capacity",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	st := testStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestCreateAndGetRun(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	run := sampleRun("run_1")
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	got, err := st.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil {
		t.Fatal("GetRun returned nil")
	}
	if got.Name != run.Name || got.Scenario != run.Scenario || got.Config != run.Config {
		t.Errorf("got %+v, want %+v", got, run)
	}
	if got.Seed != run.Seed {
		t.Errorf("Seed = %d, want %d", got.Seed, run.Seed)
	}
	if !got.CreatedAt.Equal(run.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, run.CreatedAt)
	}
	if got.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil", got.CompletedAt)
	}
}

func TestCreateRun_Defaults(t *testing.T) {
	st := testStore(t)
	run := &model.Run{Scenario: "s.yaml"}
	if err := st.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if !strings.HasPrefix(run.ID, "run_") {
		t.Errorf("ID = %q, want run_ prefix", run.ID)
	}
	if run.State != model.RunStatePending || run.CreatedAt.IsZero() {
		t.Errorf("defaults not applied: %+v", run)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	st := testStore(t)
	got, err := st.GetRun(context.Background(), "run_missing")
	if err != nil || got != nil {
		t.Errorf("GetRun(missing) = %v, %v; want nil, nil", got, err)
	}
}

func TestUpdateRun(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	run := sampleRun("run_1")
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	run.State = model.RunStateFailed
	run.Frames = 12
	run.Error = "phase 2 (scheduling): boom"
	run.CompletedAt = &now
	if err := st.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	got, _ := st.GetRun(ctx, "run_1")
	if got.State != model.RunStateFailed || got.Frames != 12 || got.Error != run.Error {
		t.Errorf("got %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(now) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, now)
	}

	var apiErr *model.APIError
	err := st.UpdateRun(ctx, &model.Run{ID: "run_missing", State: model.RunStateRunning})
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrNotFound {
		t.Errorf("UpdateRun(missing) err = %v, want NOT_FOUND", err)
	}
}

func TestListRuns(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		run := sampleRun(fmt.Sprintf("run_%d", i))
		run.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if i%2 == 1 {
			run.State = model.RunStateCompleted
		}
		if err := st.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name      string
		opts      model.ListOptions
		wantLen   int
		wantTotal int
		wantFirst string
	}{
		{"all", model.ListOptions{Limit: 10}, 5, 5, "run_4"},
		{"paged", model.ListOptions{Limit: 2, Offset: 2}, 2, 5, "run_2"},
		{"completed", model.ListOptions{Limit: 10, State: model.RunStateCompleted}, 2, 2, "run_3"},
		{"zero limit clamps", model.ListOptions{}, 5, 5, "run_4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, total, err := st.ListRuns(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(runs) != tt.wantLen || total != tt.wantTotal {
				t.Fatalf("got %d runs of %d, want %d of %d", len(runs), total, tt.wantLen, tt.wantTotal)
			}
			if runs[0].ID != tt.wantFirst {
				t.Errorf("first = %s, want %s", runs[0].ID, tt.wantFirst)
			}
		})
	}
}

func TestFrames(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.CreateRun(ctx, sampleRun("run_1")); err != nil {
		t.Fatal(err)
	}
	for f := 0; f < 4; f++ {
		fs := &model.FrameSample{
			RunID:         "run_1",
			Frame:         f,
			Bursts:        2,
			Retransmitted: f % 2,
			BitsScheduled: 200,
			BitsDelivered: 100,
			Utilization:   0.5 + 0.1*float64(f),
			GroupingGain:  1,
			Groups:        2,
			Drops:         f / 3,
		}
		if err := st.RecordFrame(ctx, fs); err != nil {
			t.Fatalf("RecordFrame(%d): %v", f, err)
		}
	}

	if err := st.RecordFrame(ctx, &model.FrameSample{RunID: "run_1", Frame: 0}); err == nil {
		t.Error("expected error for duplicate frame")
	}
	if err := st.RecordFrame(ctx, &model.FrameSample{RunID: "run_nope", Frame: 0}); err == nil {
		t.Error("expected foreign key error for unknown run")
	}

	frames, total, err := st.ListFrames(ctx, "run_1", model.ListOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListFrames: %v", err)
	}
	if total != 4 || len(frames) != 2 || frames[0].Frame != 1 || frames[1].Frame != 2 {
		t.Errorf("ListFrames = %d of %d starting at %d", len(frames), total, frames[0].Frame)
	}

	sum, err := st.SummarizeRun(ctx, "run_1")
	if err != nil {
		t.Fatalf("SummarizeRun: %v", err)
	}
	if sum.Frames != 4 || sum.Bursts != 8 || sum.Retransmitted != 2 || sum.BitsScheduled != 800 || sum.BitsDelivered != 400 {
		t.Errorf("summary = %+v", sum)
	}
	if math.Abs(sum.MeanUtilization-0.65) > 1e-9 {
		t.Errorf("MeanUtilization = %g, want 0.65", sum.MeanUtilization)
	}
	if sum.Drops != 1 {
		t.Errorf("Drops = %d, want 1", sum.Drops)
	}

	empty, err := st.SummarizeRun(ctx, "run_none")
	if err != nil || empty.Frames != 0 || empty.MeanUtilization != 0 {
		t.Errorf("empty summary = %+v, %v", empty, err)
	}
}
