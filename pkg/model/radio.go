package model

import (
	"fmt"
	"math"
	"time"
)

// UserID identifies a station (the peer of a connection).
type UserID string

// ConnectionID identifies a connection. Round robin walks connections in ID order.
type ConnectionID int

// Connection binds a connection to its owning user and priority class.
// Priority 0 is served first.
type Connection struct {
	ID       ConnectionID `json:"id" yaml:"id"`
	User     UserID       `json:"user" yaml:"user"`
	Priority int          `json:"priority" yaml:"priority"`
}

// DataUnit is one pre-segmented unit waiting in a connection queue.
type DataUnit struct {
	ID         uint64       `json:"id"`
	Connection ConnectionID `json:"connection"`
	Bits       int          `json:"bits"`
}

// ChannelQuality is a channel estimate for one user on one subchannel.
// All values are linear: Pathloss is a loss factor (>= 1), Interference and
// Carrier are in mW.
type ChannelQuality struct {
	Pathloss     float64 `json:"pathloss"`
	Interference float64 `json:"interference"`
	Carrier      float64 `json:"carrier"`
}

// SINR returns the estimated carrier over interference.
func (q ChannelQuality) SINR() float64 {
	if q.Interference <= 0 {
		return 0
	}
	return q.Carrier / q.Interference
}

// SINRFor returns the SINR reached with the given transmit power (mW).
func (q ChannelQuality) SINRFor(txPower float64) float64 {
	if q.Interference <= 0 || q.Pathloss <= 0 {
		return 0
	}
	return txPower / (q.Interference * q.Pathloss)
}

// WithTxPower returns a copy whose carrier is the power received at txPower.
func (q ChannelQuality) WithTxPower(txPower float64) ChannelQuality {
	if q.Pathloss > 0 {
		q.Carrier = txPower / q.Pathloss
	}
	return q
}

// PowerCapabilities holds per-user transmit power limits in mW.
type PowerCapabilities struct {
	MaxPerSubband     float64 `json:"max_per_subband" yaml:"max_per_subband"`
	NominalPerSubband float64 `json:"nominal_per_subband" yaml:"nominal_per_subband"`
	MaxOverall        float64 `json:"max_overall" yaml:"max_overall"`
}

// PhyMode is a modulation and coding scheme.
// DataRate is in bit/s per subchannel; MinSINR is linear.
type PhyMode struct {
	Name               string  `json:"name"`
	Modulation         string  `json:"modulation"`
	CodeRate           float64 `json:"code_rate"`
	SpectralEfficiency float64 `json:"spectral_efficiency"`
	DataRate           float64 `json:"data_rate"`
	MinSINR            float64 `json:"min_sinr"`
}

// BitCapacity returns how many bits fit into d at this mode.
func (m PhyMode) BitCapacity(d time.Duration) int {
	if m.DataRate <= 0 || d <= 0 {
		return 0
	}
	// tolerate float error so exact multiples round to the full slot capacity
	return int(math.Floor(m.DataRate*d.Seconds() + 1e-6))
}

// Duration returns the airtime needed for bits, rounded up to the nanosecond.
func (m PhyMode) Duration(bits int) time.Duration {
	if m.DataRate <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(float64(bits) / m.DataRate * float64(time.Second)))
}

// IsZero reports whether no mode has been chosen.
func (m PhyMode) IsZero() bool {
	return m.Name == "" && m.DataRate == 0
}

func (m PhyMode) String() string {
	return fmt.Sprintf("%s-%g", m.Modulation, m.CodeRate)
}

// DB converts a linear ratio to decibels.
func DB(linear float64) float64 {
	return 10 * math.Log10(linear)
}

// Linear converts decibels to a linear ratio.
func Linear(db float64) float64 {
	return math.Pow(10, db/10)
}
