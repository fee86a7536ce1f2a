// Package harq tracks hybrid ARQ state: which transport blocks await a
// decode result, which must be repeated, and which were given up.
package harq

import (
	"fmt"
	"log/slog"

	"github.com/me/rrsched/pkg/model"
)

// Reception is one received burst together with the HARQ info it carried.
type Reception struct {
	Burst *model.AllocationBurst
	Info  model.HARQInfo
}

// Stats are cumulative counters for the probe pipeline.
type Stats struct {
	Stored          int `json:"stored"`
	Decoded         int `json:"decoded"`
	Failed          int `json:"failed"`
	Retransmissions int `json:"retransmissions"`
	Drops           int `json:"drops"`
	// RetransmissionsPerDecode is the mean retry count of acknowledged blocks.
	RetransmissionsPerDecode float64 `json:"retransmissions_per_decode"`
}

// Tracker is the sender and receiver side of HARQ for all peers.
type Tracker interface {
	Name() string
	// StoreSchedulingTimeSlot records a new transmission of tbID and stamps
	// b.HARQ. It returns model.ErrNoFreeProcess when the peer has no process.
	StoreSchedulingTimeSlot(tbID int64, b *model.AllocationBurst) error
	OnTimeSlotReceived(b *model.AllocationBurst, info model.HARQInfo)
	// Decode returns what was decoded since the last call.
	Decode() []Reception
	// SendPendingFeedback applies queued ACK/NACKs to the sender processes.
	SendPendingFeedback()

	HasFreeSenderProcess(peer model.UserID) bool
	HasFreeReceiverProcess(peer model.UserID) bool
	GetNextRetransmission(peer model.UserID, pid int) (*model.AllocationBurst, bool)
	PeekNextRetransmission(peer model.UserID, pid int) (*model.AllocationBurst, bool)
	UsersWithRetransmissions() []model.UserID
	ProcessesWithRetransmissions(peer model.UserID) []int
	NumberOfRetransmissions(peer model.UserID, pid int) int
	ProcessState(peer model.UserID, pid int) model.HARQProcessState
	Stats() Stats
}

// Names of the registered trackers.
const (
	NameNone = "none"
	NameHARQ = "harq"
)

// Options configures construction.
type Options struct {
	Processes           int
	RetransmissionLimit int
	Decoder             DecoderOptions
}

// DefaultOptions returns 8 processes, 3 retransmissions and the uniform
// random decoder.
func DefaultOptions() Options {
	return Options{
		Processes:           8,
		RetransmissionLimit: 3,
		Decoder:             DefaultDecoderOptions(),
	}
}

// New constructs the tracker registered under name.
func New(name string, opts Options, logger *slog.Logger) (Tracker, error) {
	switch name {
	case NameNone:
		return NewNoHARQ(logger), nil
	case NameHARQ:
		dec, err := NewDecoder(opts.Decoder)
		if err != nil {
			return nil, err
		}
		return NewHARQ(opts.Processes, opts.RetransmissionLimit, dec, logger)
	}
	return nil, fmt.Errorf("unknown harq tracker %q (known: %v)", name, []string{NameHARQ, NameNone})
}
