package strategy

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/me/rrsched/internal/apc"
	"github.com/me/rrsched/internal/dsa"
	"github.com/me/rrsched/internal/frame"
	"github.com/me/rrsched/internal/grid"
	"github.com/me/rrsched/internal/grouping"
	"github.com/me/rrsched/internal/harq"
	"github.com/me/rrsched/pkg/model"
)

// SubStrategyConfig selects the sub-strategy of one priority class.
type SubStrategyConfig struct {
	Type      string
	BlockSize int
}

// Config holds the strategy configuration.
type Config struct {
	Name              string
	Grid              grid.Dimensions
	MaskedSubChannels []int

	DSA         string
	FallbackDSA string
	DSAOptions  dsa.Options

	APC        string
	APCOptions apc.Options

	HARQ        string
	HARQOptions harq.Options

	Grouper        string
	GrouperOptions grouping.Options
	CrossTalk      float64

	// SubStrategies is indexed by priority.
	SubStrategies []SubStrategyConfig

	Frame frame.Options
}

// DefaultConfig returns a single-layer best-capacity setup without HARQ.
func DefaultConfig() Config {
	return Config{
		Name:           "default",
		Grid:           grid.Dimensions{SubChannels: 8, TimeSlots: 1, Layers: 1, SlotLength: time.Millisecond},
		DSA:            dsa.NameBestCapacity,
		FallbackDSA:    dsa.NameLinearFFirst,
		DSAOptions:     dsa.Options{Order: dsa.FrequencyFirst},
		APC:            apc.NameNominal,
		HARQ:           harq.NameNone,
		HARQOptions:    harq.DefaultOptions(),
		Grouper:        grouping.NameAllPossible,
		GrouperOptions: grouping.Options{Partition: grouping.PartitionGreedy, MaxStations: grouping.DefaultMaxStations},
		CrossTalk:      0.01,
		SubStrategies:  []SubStrategyConfig{{Type: NameRoundRobin, BlockSize: 1}},
	}
}

var subStrategies = map[string]func(SubStrategyConfig) SubStrategy{
	NameRoundRobin:           func(c SubStrategyConfig) SubStrategy { return NewRoundRobin(c.BlockSize) },
	NameExhaustiveRoundRobin: func(SubStrategyConfig) SubStrategy { return NewExhaustiveRoundRobin() },
	NameDisabled:             func(SubStrategyConfig) SubStrategy { return Disabled{} },
}

// SubStrategyNames lists the registered sub-strategies in sorted order.
func SubStrategyNames() []string {
	names := make([]string, 0, len(subStrategies))
	for n := range subStrategies {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// New builds a Strategy and every component it names.
func New(cfg Config, logger *slog.Logger) (*Strategy, error) {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	g, err := grid.New(cfg.Grid)
	if err != nil {
		return nil, fmt.Errorf("grid: %w", err)
	}
	for _, sc := range cfg.MaskedSubChannels {
		if sc < 0 || sc >= cfg.Grid.SubChannels {
			return nil, fmt.Errorf("masked subchannel %d: %w", sc, model.ErrRegionOutOfBounds)
		}
	}

	primary, err := dsa.New(cfg.DSA, cfg.DSAOptions, logger)
	if err != nil {
		return nil, err
	}
	if cfg.FallbackDSA == "" {
		cfg.FallbackDSA = dsa.NameLinearFFirst
	}
	fallback, err := dsa.New(cfg.FallbackDSA, cfg.DSAOptions, logger)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	if fallback.RequiresCQI() {
		return nil, fmt.Errorf("fallback dsa %q must not require CQI", cfg.FallbackDSA)
	}

	power, err := apc.New(cfg.APC, cfg.APCOptions, logger)
	if err != nil {
		return nil, err
	}
	tracker, err := harq.New(cfg.HARQ, cfg.HARQOptions, logger)
	if err != nil {
		return nil, err
	}
	grouper, err := grouping.New(cfg.Grouper, cfg.GrouperOptions, logger)
	if err != nil {
		return nil, err
	}
	if cfg.CrossTalk < 0 {
		return nil, fmt.Errorf("cross talk must not be negative, got %g", cfg.CrossTalk)
	}

	if len(cfg.SubStrategies) == 0 {
		return nil, fmt.Errorf("at least one sub-strategy is required")
	}
	subs := make([]SubStrategy, 0, len(cfg.SubStrategies))
	for p, sc := range cfg.SubStrategies {
		ctor, ok := subStrategies[sc.Type]
		if !ok {
			return nil, fmt.Errorf("priority %d: unknown sub-strategy %q (known: %v)", p, sc.Type, SubStrategyNames())
		}
		subs = append(subs, ctor(sc))
	}

	l := logger.With("component", "strategy", "name", cfg.Name)
	l.Info("strategy configured",
		"grid", fmt.Sprintf("%dx%dx%d", cfg.Grid.SubChannels, cfg.Grid.TimeSlots, cfg.Grid.Layers),
		"dsa", primary.Name(), "fallback", fallback.Name(), "apc", power.Name(),
		"harq", tracker.Name(), "grouper", grouper.Name(), "priorities", len(subs))

	return &Strategy{
		cfg:      cfg,
		grid:     g,
		dsa:      primary,
		fallback: fallback,
		apc:      power,
		harq:     tracker,
		grouper:  grouper,
		subs:     subs,
		phase:    model.PhaseIdle,
		logger:   l,
	}, nil
}
