package registry

import (
	"testing"

	"github.com/me/rrsched/pkg/model"
)

func TestNew(t *testing.T) {
	r, err := New([]model.Connection{
		{ID: 3, User: "b", Priority: 0},
		{ID: 1, User: "a", Priority: 0},
		{ID: 2, User: "a", Priority: 1},
	}, map[model.UserID]model.PowerCapabilities{"a": {NominalPerSubband: 10}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := r.NumberOfPriorities(); got != 2 {
		t.Errorf("NumberOfPriorities = %d, want 2", got)
	}
	if got := r.ConnectionsForPriority(0); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("ConnectionsForPriority(0) = %v, want [1 3]", got)
	}
	if got := r.UsersForPriority(0); len(got) != 2 || got[0] != "a" {
		t.Errorf("UsersForPriority(0) = %v", got)
	}
	if u, ok := r.UserForConnection(3); !ok || u != "b" {
		t.Errorf("UserForConnection(3) = %q, %v", u, ok)
	}
	if _, ok := r.UserForConnection(99); ok {
		t.Error("unknown connection should not resolve")
	}
	if got := r.PowerCapabilities("a").NominalPerSubband; got != 10 {
		t.Errorf("nominal power = %g, want 10", got)
	}
	if r.ConnectionsForPriority(5) != nil {
		t.Error("out of range priority should have no connections")
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		conns []model.Connection
	}{
		{"duplicate", []model.Connection{{ID: 1, User: "a"}, {ID: 1, User: "b"}}},
		{"negative priority", []model.Connection{{ID: 1, User: "a", Priority: -1}}},
		{"missing user", []model.Connection{{ID: 1}}},
		{"gap in priorities", []model.Connection{{ID: 1, User: "a", Priority: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.conns, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}
