package harq

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/me/rrsched/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// scripted decodes according to a fixed list of outcomes.
type scripted struct {
	outcomes []bool
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Decode([]Reception) bool {
	ok := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return ok
}

func newHARQ(t *testing.T, processes, limit int, outcomes ...bool) *HARQ {
	t.Helper()
	h, err := NewHARQ(processes, limit, &scripted{outcomes: outcomes}, testLogger())
	if err != nil {
		t.Fatalf("NewHARQ: %v", err)
	}
	return h
}

func testBurst(user model.UserID) *model.AllocationBurst {
	return &model.AllocationBurst{
		Frame:   1,
		Region:  model.Cell(2, 1, 0),
		User:    user,
		PhyMode: model.PhyMode{Name: "QPSK-0.5", DataRate: 168000, MinSINR: 1.58},
		TxPower: 3.5,
		SINR:    4,
		Units:   []model.DataUnit{{ID: 7, Connection: 1, Bits: 100}},
	}
}

// transmit stores and receives b as the sender and receiver would.
func transmit(t *testing.T, h *HARQ, tbID int64, b *model.AllocationBurst) {
	t.Helper()
	if err := h.StoreSchedulingTimeSlot(tbID, b); err != nil {
		t.Fatalf("StoreSchedulingTimeSlot: %v", err)
	}
	h.OnTimeSlotReceived(b, b.HARQ)
}

func TestHARQ_RetransmissionFidelity(t *testing.T) {
	h := newHARQ(t, 2, 3, false, true)
	orig := testBurst("a")
	transmit(t, h, 42, orig)

	if got := h.ProcessState("a", 0); got != model.HARQStateAwaitingDecodeResult {
		t.Fatalf("state after store = %s", got)
	}
	if !orig.HARQ.Tracked || !orig.HARQ.NDI || orig.HARQ.TransportBlockID != 42 {
		t.Fatalf("HARQ info not stamped: %+v", orig.HARQ)
	}

	if got := h.Decode(); len(got) != 0 {
		t.Fatalf("failed decode delivered %d bursts", len(got))
	}
	h.SendPendingFeedback()

	if got := h.ProcessState("a", 0); got != model.HARQStateAwaitingRetransmission {
		t.Fatalf("state after NACK = %s", got)
	}
	if users := h.UsersWithRetransmissions(); len(users) != 1 || users[0] != "a" {
		t.Fatalf("UsersWithRetransmissions = %v", users)
	}
	if pids := h.ProcessesWithRetransmissions("a"); len(pids) != 1 || pids[0] != 0 {
		t.Fatalf("ProcessesWithRetransmissions = %v", pids)
	}
	if _, ok := h.PeekNextRetransmission("a", 0); !ok {
		t.Fatal("PeekNextRetransmission found nothing")
	}

	re, ok := h.GetNextRetransmission("a", 0)
	if !ok {
		t.Fatal("GetNextRetransmission found nothing")
	}
	if re.Region != orig.Region || re.PhyMode != orig.PhyMode || re.TxPower != orig.TxPower {
		t.Errorf("retransmission differs: %+v vs %+v", re, orig)
	}
	if len(re.Units) != 1 || re.Units[0] != orig.Units[0] {
		t.Errorf("retransmission units = %v", re.Units)
	}
	if re.HARQ.NDI || re.HARQ.RetryCounter != 1 || re.HARQ.ProcessID != 0 || re.HARQ.TransportBlockID != 42 {
		t.Errorf("retransmission HARQ info = %+v", re.HARQ)
	}
	if !re.IsRetransmission() {
		t.Error("IsRetransmission = false")
	}
	if got := h.ProcessState("a", 0); got != model.HARQStateAwaitingDecodeResult {
		t.Errorf("state after taking retransmission = %s", got)
	}
	if _, ok := h.GetNextRetransmission("a", 0); ok {
		t.Error("second GetNextRetransmission should be empty")
	}

	h.OnTimeSlotReceived(re, re.HARQ)
	got := h.Decode()
	if len(got) != 1 || got[0].Burst != re {
		t.Fatalf("Decode = %v, want the retransmitted burst", got)
	}
	h.SendPendingFeedback()
	if state := h.ProcessState("a", 0); state != model.HARQStateFree {
		t.Errorf("state after ACK = %s", state)
	}
	st := h.Stats()
	if st.Decoded != 1 || st.Failed != 1 || st.Retransmissions != 1 || st.RetransmissionsPerDecode != 1 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestHARQ_StoredCopyIsIndependent(t *testing.T) {
	h := newHARQ(t, 1, 1, false)
	orig := testBurst("a")
	transmit(t, h, 1, orig)
	orig.TxPower = 0.01
	orig.Units[0].Bits = 1
	h.Decode()
	h.SendPendingFeedback()

	re, _ := h.GetNextRetransmission("a", 0)
	if re.TxPower != 3.5 || re.Units[0].Bits != 100 {
		t.Errorf("retransmission picked up later edits: power %g bits %d", re.TxPower, re.Units[0].Bits)
	}
}

func TestHARQ_DropAfterLimit(t *testing.T) {
	h := newHARQ(t, 1, 1, false, false)
	transmit(t, h, 9, testBurst("a"))
	h.Decode()
	h.SendPendingFeedback()

	re, ok := h.GetNextRetransmission("a", 0)
	if !ok {
		t.Fatal("expected a retransmission")
	}
	h.OnTimeSlotReceived(re, re.HARQ)
	h.Decode()
	h.SendPendingFeedback()

	if got := h.ProcessState("a", 0); got != model.HARQStateFree {
		t.Errorf("state after drop = %s, want FREE", got)
	}
	if got := h.Stats().Drops; got != 1 {
		t.Errorf("Drops = %d, want 1", got)
	}
	if len(h.UsersWithRetransmissions()) != 0 {
		t.Error("dropped block still pending")
	}
	if !h.HasFreeReceiverProcess("a") {
		t.Error("receiver buffer not cleared after limit")
	}
}

func TestHARQ_NoFreeProcess(t *testing.T) {
	h := newHARQ(t, 1, 3)
	if err := h.StoreSchedulingTimeSlot(1, testBurst("a")); err != nil {
		t.Fatal(err)
	}
	if h.HasFreeSenderProcess("a") {
		t.Error("HasFreeSenderProcess = true with the only process busy")
	}
	err := h.StoreSchedulingTimeSlot(2, testBurst("a"))
	if !errors.Is(err, model.ErrNoFreeProcess) {
		t.Fatalf("StoreSchedulingTimeSlot = %v, want ErrNoFreeProcess", err)
	}
	// Same transport block joins the busy process.
	b := testBurst("a")
	if err := h.StoreSchedulingTimeSlot(1, b); err != nil {
		t.Fatalf("same TB: %v", err)
	}
	if b.HARQ.Position != 1 {
		t.Errorf("Position = %d, want 1", b.HARQ.Position)
	}
	if !h.HasFreeSenderProcess("b") {
		t.Error("unknown peer should have a free process")
	}
}

func TestHARQ_InvalidTransitionPanics(t *testing.T) {
	h := newHARQ(t, 1, 3, true)
	transmit(t, h, 1, testBurst("a"))
	h.Decode()
	h.SendPendingFeedback()
	p, ok := h.sender("a", 0)
	if !ok || p.state != model.HARQStateFree {
		t.Fatalf("process not FREE after ACK")
	}

	defer func() {
		r := recover()
		var ite *model.InvalidTransitionError
		err, ok := r.(error)
		if !ok || !errors.As(err, &ite) {
			t.Fatalf("recovered %v, want InvalidTransitionError", r)
		}
		if ite.From != model.HARQStateFree.String() || ite.To != model.HARQStateAwaitingRetransmission.String() {
			t.Errorf("transition = %s -> %s", ite.From, ite.To)
		}
	}()
	p.transition("a", model.HARQStateAwaitingRetransmission)
}

func TestHARQ_DecodeOnlyFreshCopies(t *testing.T) {
	h := newHARQ(t, 1, 3, false)
	transmit(t, h, 5, testBurst("a"))
	if got := h.Decode(); len(got) != 0 {
		t.Fatalf("failed decode delivered %d bursts", len(got))
	}
	h.SendPendingFeedback()
	if got := h.ProcessState("a", 0); got != model.HARQStateAwaitingRetransmission {
		t.Fatalf("state after NACK = %s", got)
	}

	// No new copy arrived: the buffer is not decoded again and no
	// feedback is queued. The scripted decoder has no outcomes left and
	// would panic if called.
	for i := 0; i < 3; i++ {
		if got := h.Decode(); len(got) != 0 {
			t.Fatalf("Decode without a new copy returned %d", len(got))
		}
		if len(h.feedback) != 0 {
			t.Fatalf("Decode without a new copy queued %d feedback entries", len(h.feedback))
		}
		h.SendPendingFeedback()
	}
	if got := h.ProcessState("a", 0); got != model.HARQStateAwaitingRetransmission {
		t.Errorf("state = %s, want AWAITING_RETRANSMISSION", got)
	}
	if st := h.Stats(); st.Failed != 1 || st.Drops != 0 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestHARQ_StaleFeedbackIgnored(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *HARQ)
		fb    feedback
		want  model.HARQProcessState
	}{
		{
			name:  "ack for a free process",
			setup: func(t *testing.T, h *HARQ) { transmit(t, h, 1, testBurst("a")); h.Decode(); h.SendPendingFeedback() },
			fb:    feedback{peer: "a", pid: 0, tbID: 1, ack: true},
			want:  model.HARQStateFree,
		},
		{
			name:  "nack for a free process",
			setup: func(t *testing.T, h *HARQ) { transmit(t, h, 1, testBurst("a")); h.Decode(); h.SendPendingFeedback() },
			fb:    feedback{peer: "a", pid: 0, tbID: 1},
			want:  model.HARQStateFree,
		},
		{
			name: "nack for an older block",
			setup: func(t *testing.T, h *HARQ) {
				transmit(t, h, 1, testBurst("a"))
				h.Decode()
				h.SendPendingFeedback()
				transmit(t, h, 2, testBurst("a"))
			},
			fb:   feedback{peer: "a", pid: 0, tbID: 1},
			want: model.HARQStateAwaitingDecodeResult,
		},
		{
			name: "ack while awaiting retransmission",
			setup: func(t *testing.T, h *HARQ) {
				transmit(t, h, 1, testBurst("a"))
				h.Decode()
				h.SendPendingFeedback()
			},
			fb:   feedback{peer: "a", pid: 0, tbID: 1, ack: true},
			want: model.HARQStateAwaitingRetransmission,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := tt.want != model.HARQStateAwaitingRetransmission
			h := newHARQ(t, 1, 3, outcome)
			tt.setup(t, h)
			before := h.Stats()
			h.feedback = append(h.feedback, tt.fb)
			h.SendPendingFeedback()
			if got := h.ProcessState("a", 0); got != tt.want {
				t.Errorf("state = %s, want %s", got, tt.want)
			}
			if after := h.Stats(); after != before {
				t.Errorf("stats changed: %+v -> %+v", before, after)
			}
		})
	}
}

func TestHARQ_UnknownPeer(t *testing.T) {
	h := newHARQ(t, 2, 3)
	if _, ok := h.GetNextRetransmission("ghost", 0); ok {
		t.Error("unknown peer should have no retransmission")
	}
	if got := h.ProcessState("ghost", 5); got != model.HARQStateFree {
		t.Errorf("ProcessState = %s", got)
	}
	if h.NumberOfRetransmissions("ghost", 0) != 0 {
		t.Error("NumberOfRetransmissions for unknown peer")
	}
}

func TestNoHARQ_PassThrough(t *testing.T) {
	n := NewNoHARQ(testLogger())
	var sent []*model.AllocationBurst
	for _, u := range []model.UserID{"b", "a", "c"} {
		b := testBurst(u)
		if err := n.StoreSchedulingTimeSlot(1, b); err != nil {
			t.Fatal(err)
		}
		if b.HARQ.Tracked {
			t.Error("NoHARQ should not track bursts")
		}
		n.OnTimeSlotReceived(b, b.HARQ)
		sent = append(sent, b)
	}
	got := n.Decode()
	if len(got) != len(sent) {
		t.Fatalf("Decode returned %d, want %d", len(got), len(sent))
	}
	for i := range sent {
		if got[i].Burst != sent[i] {
			t.Errorf("delivery %d out of order", i)
		}
	}
	if again := n.Decode(); len(again) != 0 {
		t.Errorf("second Decode returned %d entries", len(again))
	}
	if !n.HasFreeSenderProcess("a") || !n.HasFreeReceiverProcess("a") {
		t.Error("NoHARQ always has free processes")
	}
	if len(n.UsersWithRetransmissions()) != 0 {
		t.Error("NoHARQ never retransmits")
	}
}

func TestDecoders(t *testing.T) {
	mode := model.PhyMode{MinSINR: 10}
	copies := func(sinrs ...float64) []Reception {
		var out []Reception
		for _, s := range sinrs {
			out = append(out, Reception{Burst: &model.AllocationBurst{SINR: s, PhyMode: mode}})
		}
		return out
	}
	cc := ChaseCombining{}
	if cc.Decode(copies(4)) {
		t.Error("single weak copy should fail")
	}
	if !cc.Decode(copies(4, 6.5)) {
		t.Error("combined copies should decode")
	}

	never, err := NewDecoder(DecoderOptions{Type: DecoderUniformRandom, InitialPER: 1, Rolloff: 1})
	if err != nil {
		t.Fatal(err)
	}
	always, err := NewDecoder(DecoderOptions{Type: DecoderUniformRandom, InitialPER: 0, Rolloff: 1, Seed: 3})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		if never.Decode(copies(1)) {
			t.Fatal("PER 1 decoded")
		}
		if !always.Decode(copies(1)) {
			t.Fatal("PER 0 failed")
		}
	}

	if _, err := NewDecoder(DecoderOptions{Type: "bogus"}); err == nil {
		t.Error("expected error for unknown decoder")
	}
	if _, err := NewDecoder(DecoderOptions{Type: DecoderUniformRandom, InitialPER: 2, Rolloff: 1}); err == nil {
		t.Error("expected error for PER > 1")
	}
}

func TestUniformRandom_Seeded(t *testing.T) {
	run := func() []bool {
		d, _ := NewDecoder(DecoderOptions{Type: DecoderUniformRandom, InitialPER: 0.5, Rolloff: 1, Seed: 11})
		var out []bool
		for i := 0; i < 32; i++ {
			out = append(out, d.Decode(make([]Reception, 1)))
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("seeded decoder diverged at %d", i)
		}
	}
}

func TestNew(t *testing.T) {
	if tr, err := New(NameNone, DefaultOptions(), testLogger()); err != nil || tr.Name() != NameNone {
		t.Errorf("New(none) = %v, %v", tr, err)
	}
	if tr, err := New(NameHARQ, DefaultOptions(), testLogger()); err != nil || tr.Name() != NameHARQ {
		t.Errorf("New(harq) = %v, %v", tr, err)
	}
	if _, err := New("x", DefaultOptions(), testLogger()); err == nil {
		t.Error("expected error")
	}
	bad := DefaultOptions()
	bad.Processes = 0
	if _, err := New(NameHARQ, bad, testLogger()); err == nil {
		t.Error("expected error for zero processes")
	}
}
