// Package scenario loads YAML descriptions of users, connections and traffic
// and builds the collaborators the strategy schedules against.
package scenario

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/me/rrsched/internal/channel"
	"github.com/me/rrsched/internal/queue"
	"github.com/me/rrsched/internal/registry"
	"github.com/me/rrsched/pkg/model"
)

// User is one station and its channel.
type User struct {
	ID      model.UserID            `yaml:"id"`
	Channel channel.UserChannel     `yaml:"channel"`
	Power   model.PowerCapabilities `yaml:"power"`
}

// Connection is one flow owned by a user.
type Connection struct {
	ID       model.ConnectionID `yaml:"id"`
	User     model.UserID       `yaml:"user"`
	Priority int                `yaml:"priority"`
}

// Source generates units on one connection: Count units of Bits bits every
// Every frames, starting at frame Start. Every 0 means a single burst at Start.
type Source struct {
	Connection model.ConnectionID `yaml:"connection"`
	Start      int                `yaml:"start"`
	Every      int                `yaml:"every"`
	Count      int                `yaml:"count"`
	Bits       int                `yaml:"bits"`
	// Until is the last frame that generates; 0 means unbounded.
	Until int `yaml:"until"`
}

// Scenario is the parsed document.
type Scenario struct {
	Name        string       `yaml:"name"`
	Users       []User       `yaml:"users"`
	Connections []Connection `yaml:"connections"`
	Traffic     []Source     `yaml:"traffic"`
}

// Default powers applied to users that leave them unset.
const (
	DefaultNominalPower = 1.0
	DefaultMaxPower     = 2.0
)

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Scenario) applyDefaults() {
	for i := range s.Users {
		p := &s.Users[i].Power
		if p.NominalPerSubband == 0 {
			p.NominalPerSubband = DefaultNominalPower
		}
		if p.MaxPerSubband == 0 {
			p.MaxPerSubband = max(DefaultMaxPower, p.NominalPerSubband)
		}
	}
	for i := range s.Traffic {
		if s.Traffic[i].Count == 0 {
			s.Traffic[i].Count = 1
		}
	}
}

// Validate checks references and ranges. It returns nil or an *model.APIError
// listing every problem found.
func (s *Scenario) Validate() error {
	var errs []model.FieldError
	users := make(map[model.UserID]bool, len(s.Users))
	for i, u := range s.Users {
		field := fmt.Sprintf("users[%d]", i)
		switch {
		case u.ID == "":
			errs = append(errs, model.FieldError{Field: field + ".id", Message: "id is required"})
		case users[u.ID]:
			errs = append(errs, model.FieldError{Field: field + ".id", Message: fmt.Sprintf("duplicate user %q", u.ID)})
		}
		users[u.ID] = true
		if u.Power.NominalPerSubband < 0 || u.Power.MaxPerSubband < u.Power.NominalPerSubband {
			errs = append(errs, model.FieldError{Field: field + ".power", Message: "need 0 <= nominal_per_subband <= max_per_subband"})
		}
	}

	conns := make(map[model.ConnectionID]bool, len(s.Connections))
	var maxPrio int
	prios := make(map[int]bool)
	for i, c := range s.Connections {
		field := fmt.Sprintf("connections[%d]", i)
		if conns[c.ID] {
			errs = append(errs, model.FieldError{Field: field + ".id", Message: fmt.Sprintf("duplicate connection %d", c.ID)})
		}
		conns[c.ID] = true
		if !users[c.User] {
			errs = append(errs, model.FieldError{Field: field + ".user", Message: fmt.Sprintf("unknown user %q", c.User)})
		}
		if c.Priority < 0 {
			errs = append(errs, model.FieldError{Field: field + ".priority", Message: "priority must not be negative"})
			continue
		}
		prios[c.Priority] = true
		maxPrio = max(maxPrio, c.Priority)
	}
	for p := 0; p < maxPrio; p++ {
		if !prios[p] {
			errs = append(errs, model.FieldError{Field: "connections", Message: fmt.Sprintf("priority %d has no connections", p)})
		}
	}

	for i, src := range s.Traffic {
		field := fmt.Sprintf("traffic[%d]", i)
		if !conns[src.Connection] {
			errs = append(errs, model.FieldError{Field: field + ".connection", Message: fmt.Sprintf("unknown connection %d", src.Connection)})
		}
		if src.Bits <= 0 {
			errs = append(errs, model.FieldError{Field: field + ".bits", Message: "bits must be positive"})
		}
		if src.Start < 0 || src.Every < 0 || src.Count < 0 {
			errs = append(errs, model.FieldError{Field: field, Message: "start, every and count must not be negative"})
		}
		if src.Until != 0 && src.Until < src.Start {
			errs = append(errs, model.FieldError{Field: field + ".until", Message: "until must not precede start"})
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return model.NewValidationError(fmt.Sprintf("scenario %q is invalid", s.Name), errs...)
}

// UserIDs returns the users in sorted order.
func (s *Scenario) UserIDs() []model.UserID {
	ids := make([]model.UserID, 0, len(s.Users))
	for _, u := range s.Users {
		ids = append(ids, u.ID)
	}
	slices.Sort(ids)
	return ids
}

// Environment is everything a scenario builds.
type Environment struct {
	Registry *registry.Static
	Queue    *queue.SimpleQueue
	Channels *channel.Directory
	Traffic  *Traffic
}

// Build creates the registry, an empty queue, the channel directory and the
// traffic source. Carrier estimates use each user's nominal power.
func (s *Scenario) Build(logger *slog.Logger) (*Environment, error) {
	conns := make([]model.Connection, 0, len(s.Connections))
	for _, c := range s.Connections {
		conns = append(conns, model.Connection{ID: c.ID, User: c.User, Priority: c.Priority})
	}
	power := make(map[model.UserID]model.PowerCapabilities, len(s.Users))
	chans := make(map[model.UserID]channel.UserChannel, len(s.Users))
	for _, u := range s.Users {
		power[u.ID] = u.Power
		uc := u.Channel
		uc.ReferencePower = u.Power.NominalPerSubband
		chans[u.ID] = uc
	}
	reg, err := registry.New(conns, power)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	dir, err := channel.NewDirectory(chans, logger)
	if err != nil {
		return nil, fmt.Errorf("channels: %w", err)
	}
	return &Environment{
		Registry: reg,
		Queue:    queue.New(),
		Channels: dir,
		Traffic:  NewTraffic(s.Traffic),
	}, nil
}
