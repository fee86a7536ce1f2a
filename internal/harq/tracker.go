package harq

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/me/rrsched/pkg/model"
)

type senderProcess struct {
	id      int
	state   model.HARQProcessState
	tbID    int64
	retry   int
	bursts  []*model.AllocationBurst
	pending []*model.AllocationBurst
}

func (p *senderProcess) transition(peer model.UserID, to model.HARQProcessState) {
	if !p.state.CanTransitionTo(to) {
		panic(&model.InvalidTransitionError{
			Entity: "harq process",
			ID:     fmt.Sprintf("%s/%d", peer, p.id),
			From:   p.state.String(),
			To:     to.String(),
		})
	}
	p.state = to
}

func (p *senderProcess) reset() {
	p.tbID = 0
	p.retry = 0
	p.bursts = nil
	p.pending = nil
}

type receiverProcess struct {
	id     int
	buffer []Reception
	// fresh is set when a copy arrived since the last Decode.
	fresh bool
}

type feedback struct {
	peer     model.UserID
	pid      int
	tbID     int64
	ack      bool
	limitHit bool
}

// entity holds the processes of one peer.
type entity struct {
	senders   []*senderProcess
	receivers []*receiverProcess
}

// HARQ is a stop-and-wait tracker with a fixed number of processes per peer
// and a retransmission limit.
type HARQ struct {
	processes int
	limit     int
	decoder   Decoder
	peers     map[model.UserID]*entity
	feedback  []feedback
	stats     Stats
	samples   int
	retrySum  int
	logger    *slog.Logger
}

// NewHARQ creates a tracker.
func NewHARQ(processes, limit int, dec Decoder, logger *slog.Logger) (*HARQ, error) {
	if processes <= 0 {
		return nil, fmt.Errorf("harq processes must be positive, got %d", processes)
	}
	if limit < 0 {
		return nil, fmt.Errorf("retransmission limit must not be negative, got %d", limit)
	}
	if dec == nil {
		return nil, fmt.Errorf("harq decoder is required")
	}
	return &HARQ{
		processes: processes,
		limit:     limit,
		decoder:   dec,
		peers:     make(map[model.UserID]*entity),
		logger:    logger.With("component", "harq"),
	}, nil
}

func (h *HARQ) Name() string { return NameHARQ }

func (h *HARQ) entity(peer model.UserID) *entity {
	e, ok := h.peers[peer]
	if !ok {
		e = &entity{}
		for i := 0; i < h.processes; i++ {
			e.senders = append(e.senders, &senderProcess{id: i, state: model.HARQStateFree})
			e.receivers = append(e.receivers, &receiverProcess{id: i})
		}
		h.peers[peer] = e
	}
	return e
}

func (h *HARQ) sender(peer model.UserID, pid int) (*senderProcess, bool) {
	e, ok := h.peers[peer]
	if !ok || pid < 0 || pid >= len(e.senders) {
		return nil, false
	}
	return e.senders[pid], true
}

// StoreSchedulingTimeSlot stores a copy of b in the process already holding
// tbID, or in the first free process.
func (h *HARQ) StoreSchedulingTimeSlot(tbID int64, b *model.AllocationBurst) error {
	e := h.entity(b.User)
	var proc *senderProcess
	for _, p := range e.senders {
		if p.state == model.HARQStateAwaitingDecodeResult && p.tbID == tbID && len(p.bursts) > 0 {
			proc = p
			break
		}
	}
	if proc == nil {
		for _, p := range e.senders {
			if p.state == model.HARQStateFree {
				proc = p
				proc.transition(b.User, model.HARQStateAwaitingDecodeResult)
				proc.reset()
				proc.tbID = tbID
				break
			}
		}
	}
	if proc == nil {
		return fmt.Errorf("peer %s: %w", b.User, model.ErrNoFreeProcess)
	}
	b.HARQ = model.HARQInfo{
		Tracked:          true,
		ProcessID:        proc.id,
		TransportBlockID: tbID,
		NDI:              true,
		RetryCounter:     0,
		Position:         len(proc.bursts),
	}
	proc.bursts = append(proc.bursts, b.Clone())
	h.stats.Stored++
	return nil
}

// OnTimeSlotReceived buffers b in the receiver process named by info. A new
// data indicator flushes stale copies first.
func (h *HARQ) OnTimeSlotReceived(b *model.AllocationBurst, info model.HARQInfo) {
	e := h.entity(b.User)
	if info.ProcessID < 0 || info.ProcessID >= len(e.receivers) {
		model.Inconsistent("harq", "peer %s: received process %d of %d", b.User, info.ProcessID, len(e.receivers))
	}
	rp := e.receivers[info.ProcessID]
	if info.NDI {
		rp.buffer = nil
	}
	rp.buffer = append(rp.buffer, Reception{Burst: b, Info: info})
	rp.fresh = true
}

// Decode runs the decoder over every receiver process that received a copy
// since the previous Decode, peers in sorted order and processes ascending.
// Failed blocks stay buffered for combining but are not decoded again until
// a retransmission arrives.
func (h *HARQ) Decode() []Reception {
	var out []Reception
	for _, peer := range slices.Sorted(maps.Keys(h.peers)) {
		for _, rp := range h.peers[peer].receivers {
			if !rp.fresh || len(rp.buffer) == 0 {
				continue
			}
			rp.fresh = false
			last := rp.buffer[len(rp.buffer)-1].Info
			if h.decoder.Decode(rp.buffer) {
				out = append(out, latestPerPosition(rp.buffer)...)
				h.stats.Decoded++
				h.feedback = append(h.feedback, feedback{peer: peer, pid: rp.id, tbID: last.TransportBlockID, ack: true})
				rp.buffer = nil
				continue
			}
			h.stats.Failed++
			limitHit := last.RetryCounter >= h.limit
			h.feedback = append(h.feedback, feedback{peer: peer, pid: rp.id, tbID: last.TransportBlockID, limitHit: limitHit})
			if limitHit {
				rp.buffer = nil
			}
			h.logger.Debug("decode failed", "peer", peer, "process", rp.id, "tb", last.TransportBlockID,
				"retry", last.RetryCounter, "limit_hit", limitHit)
		}
	}
	return out
}

// latestPerPosition keeps the most recent copy of every burst position.
func latestPerPosition(buf []Reception) []Reception {
	byPos := make(map[int]Reception)
	for _, r := range buf {
		byPos[r.Info.Position] = r
	}
	out := make([]Reception, 0, len(byPos))
	for _, pos := range slices.Sorted(maps.Keys(byPos)) {
		out = append(out, byPos[pos])
	}
	return out
}

// SendPendingFeedback applies queued feedback. A NACK within the limit queues
// exact copies of the stored bursts for retransmission; past the limit the
// block is dropped. Feedback is ignored unless the process still awaits the
// decode result of the same transport block.
func (h *HARQ) SendPendingFeedback() {
	pending := h.feedback
	h.feedback = nil
	for _, fb := range pending {
		p, ok := h.sender(fb.peer, fb.pid)
		if !ok {
			model.Inconsistent("harq", "feedback for unknown process %s/%d", fb.peer, fb.pid)
		}
		if p.state != model.HARQStateAwaitingDecodeResult || p.tbID != fb.tbID {
			h.logger.Debug("stale feedback ignored", "peer", fb.peer, "process", p.id,
				"tb", fb.tbID, "holding", p.tbID, "state", p.state)
			continue
		}
		if fb.ack {
			p.transition(fb.peer, model.HARQStateFree)
			h.samples++
			h.retrySum += p.retry
			p.reset()
			continue
		}
		p.retry++
		if p.retry > h.limit {
			h.logger.Warn("retransmission limit reached, dropping block", "peer", fb.peer, "process", p.id,
				"tb", p.tbID, "retries", p.retry-1)
			h.stats.Drops++
			p.transition(fb.peer, model.HARQStateFree)
			p.reset()
			continue
		}
		p.transition(fb.peer, model.HARQStateAwaitingRetransmission)
		p.pending = p.pending[:0]
		for _, b := range p.bursts {
			c := b.Clone()
			c.HARQ.NDI = false
			c.HARQ.RetryCounter = p.retry
			p.pending = append(p.pending, c)
		}
	}
}

func (h *HARQ) HasFreeSenderProcess(peer model.UserID) bool {
	e, ok := h.peers[peer]
	if !ok {
		return true
	}
	for _, p := range e.senders {
		if p.state == model.HARQStateFree {
			return true
		}
	}
	return false
}

func (h *HARQ) HasFreeReceiverProcess(peer model.UserID) bool {
	e, ok := h.peers[peer]
	if !ok {
		return true
	}
	for _, rp := range e.receivers {
		if len(rp.buffer) == 0 {
			return true
		}
	}
	return false
}

// GetNextRetransmission pops the next pending copy. Taking the last one moves
// the process back to awaiting a decode result.
func (h *HARQ) GetNextRetransmission(peer model.UserID, pid int) (*model.AllocationBurst, bool) {
	p, ok := h.sender(peer, pid)
	if !ok || len(p.pending) == 0 {
		return nil, false
	}
	b := p.pending[0]
	p.pending = p.pending[1:]
	if len(p.pending) == 0 {
		p.pending = nil
		p.transition(peer, model.HARQStateAwaitingDecodeResult)
	}
	h.stats.Retransmissions++
	return b, true
}

func (h *HARQ) PeekNextRetransmission(peer model.UserID, pid int) (*model.AllocationBurst, bool) {
	p, ok := h.sender(peer, pid)
	if !ok || len(p.pending) == 0 {
		return nil, false
	}
	return p.pending[0], true
}

// UsersWithRetransmissions returns the peers with pending copies, sorted.
func (h *HARQ) UsersWithRetransmissions() []model.UserID {
	var users []model.UserID
	for _, peer := range slices.Sorted(maps.Keys(h.peers)) {
		if len(h.ProcessesWithRetransmissions(peer)) > 0 {
			users = append(users, peer)
		}
	}
	return users
}

func (h *HARQ) ProcessesWithRetransmissions(peer model.UserID) []int {
	e, ok := h.peers[peer]
	if !ok {
		return nil
	}
	var pids []int
	for _, p := range e.senders {
		if len(p.pending) > 0 {
			pids = append(pids, p.id)
		}
	}
	return pids
}

func (h *HARQ) NumberOfRetransmissions(peer model.UserID, pid int) int {
	p, ok := h.sender(peer, pid)
	if !ok {
		return 0
	}
	return p.retry
}

// ProcessState returns FREE for unknown peers or processes.
func (h *HARQ) ProcessState(peer model.UserID, pid int) model.HARQProcessState {
	p, ok := h.sender(peer, pid)
	if !ok {
		return model.HARQStateFree
	}
	return p.state
}

func (h *HARQ) Stats() Stats {
	s := h.stats
	if h.samples > 0 {
		s.RetransmissionsPerDecode = float64(h.retrySum) / float64(h.samples)
	}
	return s
}
