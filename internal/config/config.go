// Package config loads rrsched configuration from YAML, environment variables
// and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/me/rrsched/internal/apc"
	"github.com/me/rrsched/internal/dsa"
	"github.com/me/rrsched/internal/frame"
	"github.com/me/rrsched/internal/grid"
	"github.com/me/rrsched/internal/grouping"
	"github.com/me/rrsched/internal/harq"
	"github.com/me/rrsched/internal/logging"
	"github.com/me/rrsched/internal/phymode"
	"github.com/me/rrsched/internal/strategy"
)

// EnvPrefix prefixes environment overrides, e.g. RRSCHED_ENGINE_DSA.
const EnvPrefix = "RRSCHED"

// Config is the root configuration.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	DBPath string       `mapstructure:"db_path"`
	Server ServerConfig `mapstructure:"server"`
	Run    RunConfig    `mapstructure:"run"`
	PHY    PHYConfig    `mapstructure:"phy"`
	Engine EngineConfig `mapstructure:"engine"`
}

// LogConfig selects level, format and an optional rotated file.
type LogConfig struct {
	Level  string             `mapstructure:"level"`
	Format string             `mapstructure:"format"`
	File   logging.FileConfig `mapstructure:"file"`
}

// ServerConfig holds configuration for the probe API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// RunConfig controls the frame loop.
type RunConfig struct {
	Frames      int           `mapstructure:"frames"`
	FramePacing time.Duration `mapstructure:"frame_pacing"`
	Seed        uint64        `mapstructure:"seed"`
}

// PHYConfig describes the PHY mode table. An empty table selects the default
// ladder.
type PHYConfig struct {
	SymbolRate float64         `mapstructure:"symbol_rate"`
	Modes      []phymode.Entry `mapstructure:"modes"`
}

// GridConfig is the shape of one scheduling interval.
type GridConfig struct {
	SubChannels int           `mapstructure:"subchannels"`
	TimeSlots   int           `mapstructure:"time_slots"`
	Layers      int           `mapstructure:"layers"`
	SlotLength  time.Duration `mapstructure:"slot_length"`
}

// HARQConfig selects the tracker and its decoder.
type HARQConfig struct {
	Type                string  `mapstructure:"type"`
	Processes           int     `mapstructure:"processes"`
	RetransmissionLimit int     `mapstructure:"retransmission_limit"`
	Decoder             string  `mapstructure:"decoder"`
	InitialPER          float64 `mapstructure:"initial_per"`
	Rolloff             float64 `mapstructure:"rolloff"`
}

// SubStrategyConfig selects the sub-strategy of one priority class.
type SubStrategyConfig struct {
	Type      string `mapstructure:"type"`
	BlockSize int    `mapstructure:"block_size"`
}

// EngineConfig configures the scheduling strategy.
type EngineConfig struct {
	Name                   string              `mapstructure:"name"`
	Grid                   GridConfig          `mapstructure:"grid"`
	MaskedSubChannels      []int               `mapstructure:"masked_subchannels"`
	DSA                    string              `mapstructure:"dsa"`
	FallbackDSA            string              `mapstructure:"fallback_dsa"`
	DSAOrder               string              `mapstructure:"dsa_order"`
	AdjacentSubChannels    bool                `mapstructure:"adjacent_subchannels"`
	APC                    string              `mapstructure:"apc"`
	TrimPower              bool                `mapstructure:"trim_power"`
	MaxOverallPower        float64             `mapstructure:"max_overall_power"`
	HARQ                   HARQConfig          `mapstructure:"harq"`
	Grouper                string              `mapstructure:"grouper"`
	Partition              string              `mapstructure:"partition"`
	MaxStations            int                 `mapstructure:"max_stations"`
	CrossTalk              float64             `mapstructure:"cross_talk"`
	SubStrategies          []SubStrategyConfig `mapstructure:"sub_strategies"`
	DefaultTxPower         float64             `mapstructure:"default_tx_power"`
	DefaultPhyMode         string              `mapstructure:"default_phy_mode"`
	ExcludeTooLowSINR      bool                `mapstructure:"exclude_too_low_sinr"`
	OneUserOnOneSubChannel bool                `mapstructure:"one_user_on_one_subchannel"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	sc := strategy.DefaultConfig()
	ho := harq.DefaultOptions()
	subs := make([]SubStrategyConfig, 0, len(sc.SubStrategies))
	for _, s := range sc.SubStrategies {
		subs = append(subs, SubStrategyConfig{Type: s.Type, BlockSize: s.BlockSize})
	}
	return &Config{
		Log:    LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{Addr: ":8080"},
		Run:    RunConfig{Frames: 100, Seed: 1},
		PHY:    PHYConfig{SymbolRate: phymode.DefaultSymbolRate},
		Engine: EngineConfig{
			Name: sc.Name,
			Grid: GridConfig{
				SubChannels: sc.Grid.SubChannels,
				TimeSlots:   sc.Grid.TimeSlots,
				Layers:      sc.Grid.Layers,
				SlotLength:  sc.Grid.SlotLength,
			},
			DSA:                 sc.DSA,
			FallbackDSA:         sc.FallbackDSA,
			DSAOrder:            string(sc.DSAOptions.Order),
			AdjacentSubChannels: sc.DSAOptions.AdjacentSubChannels,
			APC:                 sc.APC,
			HARQ: HARQConfig{
				Type:                sc.HARQ,
				Processes:           ho.Processes,
				RetransmissionLimit: ho.RetransmissionLimit,
				Decoder:             ho.Decoder.Type,
				InitialPER:          ho.Decoder.InitialPER,
				Rolloff:             ho.Decoder.Rolloff,
			},
			Grouper:       sc.Grouper,
			Partition:     sc.GrouperOptions.Partition,
			MaxStations:   sc.GrouperOptions.MaxStations,
			CrossTalk:     sc.CrossTalk,
			SubStrategies: subs,
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise from
// rrsched.yaml in the usual locations. Environment variables use the
// RRSCHED prefix with `.` and `-` replaced by `_`, e.g. RRSCHED_LOG_LEVEL.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		if envPath := os.Getenv(EnvPrefix + "_CONFIG"); envPath != "" {
			path = envPath
		}
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rrsched")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".rrsched"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds viper so env-only configs work.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file.path", cfg.Log.File.Path)
	v.SetDefault("log.file.max_size_mb", cfg.Log.File.MaxSizeMB)
	v.SetDefault("log.file.max_backups", cfg.Log.File.MaxBackups)
	v.SetDefault("log.file.max_age_days", cfg.Log.File.MaxAgeDays)
	v.SetDefault("log.file.compress", cfg.Log.File.Compress)
	v.SetDefault("db_path", cfg.DBPath)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("run.frames", cfg.Run.Frames)
	v.SetDefault("run.frame_pacing", cfg.Run.FramePacing)
	v.SetDefault("run.seed", cfg.Run.Seed)
	v.SetDefault("phy.symbol_rate", cfg.PHY.SymbolRate)

	e := cfg.Engine
	v.SetDefault("engine.name", e.Name)
	v.SetDefault("engine.grid.subchannels", e.Grid.SubChannels)
	v.SetDefault("engine.grid.time_slots", e.Grid.TimeSlots)
	v.SetDefault("engine.grid.layers", e.Grid.Layers)
	v.SetDefault("engine.grid.slot_length", e.Grid.SlotLength)
	v.SetDefault("engine.dsa", e.DSA)
	v.SetDefault("engine.fallback_dsa", e.FallbackDSA)
	v.SetDefault("engine.dsa_order", e.DSAOrder)
	v.SetDefault("engine.adjacent_subchannels", e.AdjacentSubChannels)
	v.SetDefault("engine.apc", e.APC)
	v.SetDefault("engine.trim_power", e.TrimPower)
	v.SetDefault("engine.max_overall_power", e.MaxOverallPower)
	v.SetDefault("engine.harq.type", e.HARQ.Type)
	v.SetDefault("engine.harq.processes", e.HARQ.Processes)
	v.SetDefault("engine.harq.retransmission_limit", e.HARQ.RetransmissionLimit)
	v.SetDefault("engine.harq.decoder", e.HARQ.Decoder)
	v.SetDefault("engine.harq.initial_per", e.HARQ.InitialPER)
	v.SetDefault("engine.harq.rolloff", e.HARQ.Rolloff)
	v.SetDefault("engine.grouper", e.Grouper)
	v.SetDefault("engine.partition", e.Partition)
	v.SetDefault("engine.max_stations", e.MaxStations)
	v.SetDefault("engine.cross_talk", e.CrossTalk)
	v.SetDefault("engine.default_tx_power", e.DefaultTxPower)
	v.SetDefault("engine.default_phy_mode", e.DefaultPhyMode)
	v.SetDefault("engine.exclude_too_low_sinr", e.ExcludeTooLowSINR)
	v.SetDefault("engine.one_user_on_one_subchannel", e.OneUserOnOneSubChannel)
}

func (c *Config) validate() error {
	if !logging.ValidLevel(c.Log.Level) {
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	case "":
		c.Log.Format = "text"
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if c.Run.Frames < 0 {
		return fmt.Errorf("run.frames must not be negative, got %d", c.Run.Frames)
	}
	if c.Run.FramePacing < 0 {
		return fmt.Errorf("run.frame_pacing must not be negative, got %s", c.Run.FramePacing)
	}
	if len(c.Engine.SubStrategies) == 0 {
		c.Engine.SubStrategies = []SubStrategyConfig{{Type: strategy.NameRoundRobin, BlockSize: 1}}
	}
	return nil
}

// Modes builds the PHY mode table.
func (c *Config) Modes() (*phymode.Mapper, error) {
	table := c.PHY.Modes
	if len(table) == 0 {
		table = phymode.DefaultTable()
	}
	rate := c.PHY.SymbolRate
	if rate == 0 {
		rate = phymode.DefaultSymbolRate
	}
	return phymode.New(table, rate)
}

// Strategy maps the engine section onto a strategy configuration. modes
// resolves default_phy_mode.
func (c *Config) Strategy(modes *phymode.Mapper) (strategy.Config, error) {
	e := c.Engine
	sc := strategy.Config{
		Name: e.Name,
		Grid: grid.Dimensions{
			SubChannels: e.Grid.SubChannels,
			TimeSlots:   e.Grid.TimeSlots,
			Layers:      e.Grid.Layers,
			SlotLength:  e.Grid.SlotLength,
		},
		MaskedSubChannels: e.MaskedSubChannels,
		DSA:               e.DSA,
		FallbackDSA:       e.FallbackDSA,
		DSAOptions:        dsa.Options{Order: dsa.Order(e.DSAOrder), AdjacentSubChannels: e.AdjacentSubChannels},
		APC:               e.APC,
		APCOptions:        apc.Options{TrimMargin: e.TrimPower, MaxOverall: e.MaxOverallPower},
		HARQ:              e.HARQ.Type,
		HARQOptions: harq.Options{
			Processes:           e.HARQ.Processes,
			RetransmissionLimit: e.HARQ.RetransmissionLimit,
			Decoder: harq.DecoderOptions{
				Type:       e.HARQ.Decoder,
				InitialPER: e.HARQ.InitialPER,
				Rolloff:    e.HARQ.Rolloff,
				Seed:       c.Run.Seed,
			},
		},
		Grouper:        e.Grouper,
		GrouperOptions: grouping.Options{Partition: e.Partition, MaxStations: e.MaxStations},
		CrossTalk:      e.CrossTalk,
		Frame: frame.Options{
			DefaultTxPower:         e.DefaultTxPower,
			ExcludeTooLowSINR:      e.ExcludeTooLowSINR,
			OneUserOnOneSubChannel: e.OneUserOnOneSubChannel,
		},
	}
	for _, s := range e.SubStrategies {
		sc.SubStrategies = append(sc.SubStrategies, strategy.SubStrategyConfig{Type: s.Type, BlockSize: s.BlockSize})
	}
	if e.DefaultPhyMode != "" {
		m, ok := modes.Lookup(e.DefaultPhyMode)
		if !ok {
			return strategy.Config{}, fmt.Errorf("engine.default_phy_mode: unknown mode %q", e.DefaultPhyMode)
		}
		sc.Frame.DefaultPhyMode = m
	}
	return sc, nil
}
