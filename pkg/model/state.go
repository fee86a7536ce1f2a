package model

// HARQProcessState represents the lifecycle state of one HARQ sender process.
type HARQProcessState string

const (
	HARQStateFree                   HARQProcessState = "FREE"
	HARQStateAwaitingDecodeResult   HARQProcessState = "AWAITING_DECODE_RESULT"
	HARQStateAwaitingRetransmission HARQProcessState = "AWAITING_RETRANSMISSION"
)

// String returns the string representation of the process state.
func (s HARQProcessState) String() string {
	return string(s)
}

// IsBusy returns true if the process holds a transport block.
func (s HARQProcessState) IsBusy() bool {
	return s != HARQStateFree
}

// ValidHARQTransitions defines the allowed state transitions for HARQ processes.
// AWAITING_DECODE_RESULT returns to FREE both on success and when the
// retransmission limit is exhausted.
var ValidHARQTransitions = map[HARQProcessState][]HARQProcessState{
	HARQStateFree:                   {HARQStateAwaitingDecodeResult},
	HARQStateAwaitingDecodeResult:   {HARQStateFree, HARQStateAwaitingRetransmission},
	HARQStateAwaitingRetransmission: {HARQStateAwaitingDecodeResult},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s HARQProcessState) CanTransitionTo(next HARQProcessState) bool {
	for _, allowed := range ValidHARQTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StrategyPhase represents where the top-level strategy is within one interval.
type StrategyPhase string

const (
	PhaseIdle            StrategyPhase = "IDLE"
	PhasePerPriorityLoop StrategyPhase = "PER_PRIORITY_LOOP"
	PhasePostProcess     StrategyPhase = "POST_PROCESS"
	PhaseDone            StrategyPhase = "DONE"
)

// String returns the string representation of the phase.
func (p StrategyPhase) String() string {
	return string(p)
}

// ValidPhaseTransitions defines the allowed phase transitions of one interval.
var ValidPhaseTransitions = map[StrategyPhase][]StrategyPhase{
	PhaseIdle:            {PhasePerPriorityLoop},
	PhasePerPriorityLoop: {PhasePostProcess},
	PhasePostProcess:     {PhaseDone},
	PhaseDone:            {PhaseIdle},
}

// CanTransitionTo returns true if moving from the current phase to next is valid.
func (p StrategyPhase) CanTransitionTo(next StrategyPhase) bool {
	for _, allowed := range ValidPhaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RunState represents the lifecycle state of a recorded simulation run.
type RunState string

const (
	RunStatePending   RunState = "PENDING"
	RunStateRunning   RunState = "RUNNING"
	RunStateCompleted RunState = "COMPLETED"
	RunStateFailed    RunState = "FAILED"
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	return string(s)
}

// IsTerminal returns true if the run is in a final state.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateCompleted, RunStateFailed:
		return true
	}
	return false
}

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[RunState][]RunState{
	RunStatePending: {RunStateRunning, RunStateFailed},
	RunStateRunning: {RunStateCompleted, RunStateFailed},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s RunState) CanTransitionTo(next RunState) bool {
	for _, allowed := range ValidRunTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
