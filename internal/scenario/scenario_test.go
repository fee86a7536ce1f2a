package scenario

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/rrsched/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

const threeUsers = `
name: three-users
users:
  - id: A
    channel: {pathloss_db: 75, interference_dbm: -100}
  - id: B
    channel: {pathloss_db: 75, interference_dbm: -100}
    power: {nominal_per_subband: 2, max_per_subband: 4, max_overall: 10}
  - id: C
    channel:
      interference_dbm: -100
      pathloss_expr: "70 + sc"
connections:
  - {id: 1, user: A}
  - {id: 2, user: B}
  - {id: 3, user: C, priority: 1}
traffic:
  - {connection: 1, bits: 100}
  - {connection: 2, bits: 50, every: 2, count: 3}
  - {connection: 3, bits: 10, start: 1, every: 1, until: 3}
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(threeUsers))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Name != "three-users" || len(s.Users) != 3 || len(s.Connections) != 3 {
		t.Fatalf("scenario = %+v", s)
	}
	if s.Users[0].Power.NominalPerSubband != DefaultNominalPower {
		t.Errorf("default nominal = %g, want %g", s.Users[0].Power.NominalPerSubband, DefaultNominalPower)
	}
	if s.Users[1].Power.MaxPerSubband != 4 {
		t.Errorf("explicit max = %g, want 4", s.Users[1].Power.MaxPerSubband)
	}
	if s.Traffic[0].Count != 1 {
		t.Errorf("default count = %d, want 1", s.Traffic[0].Count)
	}
	if got := s.UserIDs(); len(got) != 3 || got[0] != "A" {
		t.Errorf("UserIDs = %v", got)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"unknown user", "users: [{id: a}]\nconnections: [{id: 1, user: b}]", "connections[0].user"},
		{"duplicate user", "users: [{id: a}, {id: a}]", "users[1].id"},
		{"missing id", "users: [{channel: {pathloss_db: 1}}]", "users[0].id"},
		{"duplicate connection", "users: [{id: a}]\nconnections: [{id: 1, user: a}, {id: 1, user: a}]", "connections[1].id"},
		{"priority gap", "users: [{id: a}]\nconnections: [{id: 1, user: a, priority: 1}]", "connections"},
		{"unknown source", "users: [{id: a}]\nconnections: [{id: 1, user: a}]\ntraffic: [{connection: 2, bits: 1}]", "traffic[0].connection"},
		{"zero bits", "users: [{id: a}]\nconnections: [{id: 1, user: a}]\ntraffic: [{connection: 1}]", "traffic[0].bits"},
		{"power order", "users: [{id: a, power: {nominal_per_subband: 3, max_per_subband: 1}}]", "users[0].power"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *model.APIError", err)
			}
			found := false
			for _, d := range apiErr.Details {
				if d.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("details %+v do not mention %s", apiErr.Details, tt.field)
			}
		})
	}
}

func TestParse_BadYAML(t *testing.T) {
	if _, err := Parse([]byte("users: [")); err == nil || !strings.Contains(err.Error(), "YAML") {
		t.Errorf("err = %v, want YAML parse error", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	if err := os.WriteFile(path, []byte(threeUsers), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "three-users" {
		t.Errorf("Name = %q", s.Name)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestBuild(t *testing.T) {
	s, err := Parse([]byte(threeUsers))
	if err != nil {
		t.Fatal(err)
	}
	env, err := s.Build(testLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if n := env.Registry.NumberOfPriorities(); n != 2 {
		t.Errorf("NumberOfPriorities = %d, want 2", n)
	}
	if u, ok := env.Registry.UserForConnection(3); !ok || u != "C" {
		t.Errorf("UserForConnection(3) = %s, %v", u, ok)
	}
	q, ok := env.Channels.Estimate("B", 0)
	if !ok {
		t.Fatal("no estimate for B")
	}
	// Carrier is filled at the user's nominal power.
	if want := 2 / model.Linear(75); !near(q.Carrier, want) {
		t.Errorf("Carrier = %g, want %g", q.Carrier, want)
	}
	qc, _ := env.Channels.Estimate("C", 5)
	if !near(qc.Pathloss, model.Linear(75)) {
		t.Errorf("expression pathloss = %g, want %g", qc.Pathloss, model.Linear(75))
	}
	if !env.Queue.IsEmpty() {
		t.Error("queue should start empty")
	}
}

func TestBuild_BadExpression(t *testing.T) {
	s, err := Parse([]byte("users: [{id: a, channel: {pathloss_expr: 'nope('}}]"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Build(testLogger()); err == nil {
		t.Error("expected error for broken pathloss expression")
	}
}

func TestTraffic_Arrivals(t *testing.T) {
	s, err := Parse([]byte(threeUsers))
	if err != nil {
		t.Fatal(err)
	}
	tr := NewTraffic(s.Traffic)
	tests := []struct {
		frame int
		want  map[model.ConnectionID]int // units
	}{
		{0, map[model.ConnectionID]int{1: 1, 2: 3}},
		{1, map[model.ConnectionID]int{3: 1}},
		{2, map[model.ConnectionID]int{2: 3, 3: 1}},
		{3, map[model.ConnectionID]int{3: 1}},
		{4, map[model.ConnectionID]int{2: 3}},
		{5, map[model.ConnectionID]int{}},
	}
	for _, tt := range tests {
		got := make(map[model.ConnectionID]int)
		for _, a := range tr.Arrivals(tt.frame) {
			got[a.Connection] += a.Count
		}
		if len(got) != len(tt.want) {
			t.Errorf("frame %d: arrivals %v, want %v", tt.frame, got, tt.want)
			continue
		}
		for cid, n := range tt.want {
			if got[cid] != n {
				t.Errorf("frame %d: connection %d got %d units, want %d", tt.frame, cid, got[cid], n)
			}
		}
	}
}

func TestTraffic_FeedDeterministic(t *testing.T) {
	s, _ := Parse([]byte(threeUsers))
	a, _ := s.Build(testLogger())
	b, _ := s.Build(testLogger())
	for n := 0; n < 6; n++ {
		if x, y := a.Traffic.Feed(n, a.Queue), b.Traffic.Feed(n, b.Queue); x != y {
			t.Fatalf("frame %d: fed %d vs %d bits", n, x, y)
		}
	}
	if a.Queue.QueuedBits() != 100+3*50*3+3*10 {
		t.Errorf("QueuedBits = %d", a.Queue.QueuedBits())
	}
}

func near(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= 1e-9*max(a, b)
}
