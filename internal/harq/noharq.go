package harq

import (
	"log/slog"

	"github.com/me/rrsched/pkg/model"
)

// NoHARQ delivers everything it receives and never retransmits.
type NoHARQ struct {
	received []Reception
	stats    Stats
	logger   *slog.Logger
}

// NewNoHARQ creates a pass-through tracker.
func NewNoHARQ(logger *slog.Logger) *NoHARQ {
	return &NoHARQ{logger: logger.With("component", "harq-none")}
}

func (n *NoHARQ) Name() string { return NameNone }

// StoreSchedulingTimeSlot leaves b untracked.
func (n *NoHARQ) StoreSchedulingTimeSlot(_ int64, _ *model.AllocationBurst) error {
	n.stats.Stored++
	return nil
}

func (n *NoHARQ) OnTimeSlotReceived(b *model.AllocationBurst, info model.HARQInfo) {
	n.received = append(n.received, Reception{Burst: b, Info: info})
}

// Decode drains everything received since the last call in arrival order.
func (n *NoHARQ) Decode() []Reception {
	out := n.received
	n.received = nil
	n.stats.Decoded += len(out)
	return out
}

func (n *NoHARQ) SendPendingFeedback()                            {}
func (n *NoHARQ) HasFreeSenderProcess(model.UserID) bool          { return true }
func (n *NoHARQ) HasFreeReceiverProcess(model.UserID) bool        { return true }
func (n *NoHARQ) UsersWithRetransmissions() []model.UserID        { return nil }
func (n *NoHARQ) ProcessesWithRetransmissions(model.UserID) []int { return nil }
func (n *NoHARQ) NumberOfRetransmissions(model.UserID, int) int   { return 0 }

func (n *NoHARQ) GetNextRetransmission(model.UserID, int) (*model.AllocationBurst, bool) {
	return nil, false
}

func (n *NoHARQ) PeekNextRetransmission(model.UserID, int) (*model.AllocationBurst, bool) {
	return nil, false
}

func (n *NoHARQ) ProcessState(model.UserID, int) model.HARQProcessState {
	return model.HARQStateFree
}

func (n *NoHARQ) Stats() Stats { return n.stats }
