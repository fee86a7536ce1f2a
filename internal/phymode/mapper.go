// Package phymode maps channel quality to modulation and coding schemes.
package phymode

import (
	"fmt"
	"slices"

	"github.com/me/rrsched/pkg/model"
)

// DefaultSymbolRate is the per-subchannel symbol rate (12 subcarriers at
// 14000 symbols/s).
const DefaultSymbolRate = 168000.0

// Entry describes one row of a PHY mode table. MinSINRdB is the threshold at
// which the mode becomes usable.
type Entry struct {
	Modulation string  `yaml:"modulation" mapstructure:"modulation"`
	CodeRate   float64 `yaml:"code_rate" mapstructure:"code_rate"`
	BitsPerSym int     `yaml:"bits_per_symbol" mapstructure:"bits_per_symbol"`
	MinSINRdB  float64 `yaml:"min_sinr_db" mapstructure:"min_sinr_db"`
}

// DefaultTable returns a QPSK/16QAM/64QAM ladder.
func DefaultTable() []Entry {
	return []Entry{
		{Modulation: "QPSK", CodeRate: 1.0 / 3, BitsPerSym: 2, MinSINRdB: -1},
		{Modulation: "QPSK", CodeRate: 1.0 / 2, BitsPerSym: 2, MinSINRdB: 2},
		{Modulation: "QPSK", CodeRate: 3.0 / 4, BitsPerSym: 2, MinSINRdB: 5},
		{Modulation: "16QAM", CodeRate: 1.0 / 2, BitsPerSym: 4, MinSINRdB: 8},
		{Modulation: "16QAM", CodeRate: 3.0 / 4, BitsPerSym: 4, MinSINRdB: 11.5},
		{Modulation: "64QAM", CodeRate: 2.0 / 3, BitsPerSym: 6, MinSINRdB: 15},
		{Modulation: "64QAM", CodeRate: 5.0 / 6, BitsPerSym: 6, MinSINRdB: 19},
	}
}

// Mapper selects the best PHY mode for a SINR. Modes are ordered by
// threshold and their data rates never decrease along that order.
type Mapper struct {
	modes []model.PhyMode
}

// New builds a Mapper from a table at the given symbol rate.
func New(table []Entry, symbolRate float64) (*Mapper, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("phy mode table is empty")
	}
	if symbolRate <= 0 {
		return nil, fmt.Errorf("symbol rate must be positive, got %g", symbolRate)
	}
	modes := make([]model.PhyMode, 0, len(table))
	for i, e := range table {
		if e.BitsPerSym <= 0 || e.CodeRate <= 0 || e.CodeRate > 1 {
			return nil, fmt.Errorf("phy mode %d: invalid bits per symbol %d or code rate %g", i, e.BitsPerSym, e.CodeRate)
		}
		eff := float64(e.BitsPerSym) * e.CodeRate
		modes = append(modes, model.PhyMode{
			Name:               fmt.Sprintf("%s-%.3g", e.Modulation, e.CodeRate),
			Modulation:         e.Modulation,
			CodeRate:           e.CodeRate,
			SpectralEfficiency: eff,
			DataRate:           eff * symbolRate,
			MinSINR:            model.Linear(e.MinSINRdB),
		})
	}
	slices.SortStableFunc(modes, func(a, b model.PhyMode) int {
		switch {
		case a.MinSINR < b.MinSINR:
			return -1
		case a.MinSINR > b.MinSINR:
			return 1
		}
		return 0
	})
	for i := 1; i < len(modes); i++ {
		if modes[i].DataRate < modes[i-1].DataRate {
			return nil, fmt.Errorf("phy mode %s needs more SINR than %s but carries less", modes[i].Name, modes[i-1].Name)
		}
	}
	return &Mapper{modes: modes}, nil
}

// Default returns a Mapper over DefaultTable at DefaultSymbolRate.
func Default() *Mapper {
	m, err := New(DefaultTable(), DefaultSymbolRate)
	if err != nil {
		panic(err)
	}
	return m
}

// Modes returns the modes in ascending threshold order.
func (m *Mapper) Modes() []model.PhyMode {
	return slices.Clone(m.modes)
}

// BestModeFor returns the highest mode whose threshold sinr meets. Below the
// lowest threshold the most robust mode is returned; use SINRIsAboveLimit to
// tell the two cases apart.
func (m *Mapper) BestModeFor(sinr float64) model.PhyMode {
	best := m.modes[0]
	for _, mode := range m.modes {
		if sinr < mode.MinSINR {
			break
		}
		best = mode
	}
	return best
}

// SINRIsAboveLimit reports whether any mode is usable at sinr.
func (m *Mapper) SINRIsAboveLimit(sinr float64) bool {
	return sinr >= m.modes[0].MinSINR
}

// MinimumSINR returns the lowest usable threshold (linear).
func (m *Mapper) MinimumSINR() float64 {
	return m.modes[0].MinSINR
}

// Highest returns the mode with the largest data rate.
func (m *Mapper) Highest() model.PhyMode {
	return m.modes[len(m.modes)-1]
}

// Lookup returns the mode with the given name.
func (m *Mapper) Lookup(name string) (model.PhyMode, bool) {
	for _, mode := range m.modes {
		if mode.Name == name {
			return mode, true
		}
	}
	return model.PhyMode{}, false
}
