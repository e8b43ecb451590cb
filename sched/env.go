package sched

import (
	"time"

	"github.com/eth2030/unisched/types"
)

// ExecutionEnvironment carries one dispatched task to a worker and its
// outcome back. The scheduling goroutine owns it until dispatch and again
// after the result is collected; in between the executing worker fills in
// the outcome fields and must not touch the task's lock state.
type ExecutionEnvironment struct {
	Task *Task

	// HighLane records which worker lane the dispatcher chose.
	HighLane bool

	Outcome  types.ExecutionOutcome
	ExecTime time.Duration
}

// SessionStats aggregates what happened over one scheduling session.
type SessionStats struct {
	Executed int
	Failed   int
	Flushed  int

	ComputeUnits uint64
	ExecWall     time.Duration
}

// Absorb folds one executed environment into the totals.
func (s *SessionStats) Absorb(env *ExecutionEnvironment) {
	s.Executed++
	if !env.Outcome.Succeeded() {
		s.Failed++
	}
	s.ComputeUnits += env.Outcome.ComputeUnits
	s.ExecWall += env.ExecTime
}

// Merge adds other's totals into s.
func (s *SessionStats) Merge(other SessionStats) {
	s.Executed += other.Executed
	s.Failed += other.Failed
	s.Flushed += other.Flushed
	s.ComputeUnits += other.ComputeUnits
	s.ExecWall += other.ExecWall
}
