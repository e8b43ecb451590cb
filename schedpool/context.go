package schedpool

import (
	"fmt"

	"github.com/eth2030/unisched/sched"
	"github.com/eth2030/unisched/types"
)

// Bank executes transactions against the state of one slot. Implementations
// must be safe for concurrent ExecuteTask calls; the engine never executes
// two transactions with conflicting account access at the same time, but
// non-conflicting ones run in parallel.
type Bank interface {
	Slot() uint64
	ExecuteTask(tx *types.Transaction) *types.ExecutionOutcome
}

// Recorder commits executed transactions in produce mode. A non-nil error
// pauses commits; the worker retries after the commit status resumes.
type Recorder interface {
	Record(hash types.Hash, outcome *types.ExecutionOutcome) error
}

// SchedulingContext binds one session to its mode, bank and optional
// recorder. It is immutable; a new session installs a new context through
// the checkpoint restart gate.
type SchedulingContext struct {
	mode     sched.Mode
	bank     Bank
	recorder Recorder
}

// NewSchedulingContext builds a session context. The recorder may be nil;
// replay sessions typically carry none.
func NewSchedulingContext(mode sched.Mode, bank Bank, recorder Recorder) *SchedulingContext {
	if bank == nil {
		panic("schedpool: scheduling context without a bank")
	}
	return &SchedulingContext{mode: mode, bank: bank, recorder: recorder}
}

// Mode returns the session mode.
func (c *SchedulingContext) Mode() sched.Mode { return c.mode }

// Slot returns the bank's slot.
func (c *SchedulingContext) Slot() uint64 { return c.bank.Slot() }

// Bank returns the execution target.
func (c *SchedulingContext) Bank() Bank { return c.bank }

// Recorder returns the commit target, nil when the session does not record.
func (c *SchedulingContext) Recorder() Recorder { return c.recorder }

func (c *SchedulingContext) String() string {
	return fmt.Sprintf("slot:%d/mode:%s", c.Slot(), c.mode)
}

// WaitReason states why a session ends.
type WaitReason uint8

const (
	// WaitSessionEnded drains every admitted task to completion before
	// ending the session.
	WaitSessionEnded WaitReason = iota
	// WaitSessionFlushed abandons all queued work immediately; only
	// already-executing tasks finish.
	WaitSessionFlushed
)

// String returns the reason name.
func (r WaitReason) String() string {
	if r == WaitSessionFlushed {
		return "flushed"
	}
	return "ended"
}
