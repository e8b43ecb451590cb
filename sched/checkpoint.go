package sched

import (
	"sync"
)

// Checkpoint is the rendezvous that ends a scheduling session. It runs in
// two phases. First every participant (the scheduling goroutine, each
// worker, and the result collector) arrives and blocks; the session owner
// observes the drain through WaitDrained and collects the session result.
// Second the owner decides the participants' fate: Restart releases them
// into a new session context, Terminate releases them to exit.
//
// A checkpoint is one-shot; each session end builds a fresh one.
type Checkpoint struct {
	mu   sync.Mutex
	cond *sync.Cond

	expected int
	arrived  int

	decided   bool
	terminate bool
	next      Context

	result SessionStats
}

// NewCheckpoint creates a barrier for the given number of participants.
func NewCheckpoint(participants int) *Checkpoint {
	if participants <= 0 {
		panic("sched: checkpoint without participants")
	}
	cp := &Checkpoint{expected: participants}
	cp.cond = sync.NewCond(&cp.mu)
	return cp
}

// Arrive blocks the calling participant at the barrier until the owner
// decides. It returns the next session context and true on restart, or nil
// and false on termination.
func (cp *Checkpoint) Arrive() (Context, bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.arrived++
	if cp.arrived > cp.expected {
		panic("sched: checkpoint overfilled")
	}
	if cp.arrived == cp.expected {
		cp.cond.Broadcast()
	}
	for !cp.decided {
		cp.cond.Wait()
	}
	return cp.next, !cp.terminate
}

// WaitDrained blocks the session owner until every participant arrived.
func (cp *Checkpoint) WaitDrained() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for cp.arrived < cp.expected {
		cp.cond.Wait()
	}
}

// RegisterResult deposits the session stats. The collector calls this
// before arriving.
func (cp *Checkpoint) RegisterResult(stats SessionStats) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.result = stats
}

// TakeResult returns the registered session stats. Valid after WaitDrained.
func (cp *Checkpoint) TakeResult() SessionStats {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.result
}

// Restart releases all participants into the given session context.
func (cp *Checkpoint) Restart(ctx Context) {
	cp.decide(ctx, false)
}

// Terminate releases all participants to exit.
func (cp *Checkpoint) Terminate() {
	cp.decide(nil, true)
}

func (cp *Checkpoint) decide(next Context, terminate bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.decided {
		panic("sched: checkpoint already decided")
	}
	cp.decided = true
	cp.terminate = terminate
	cp.next = next
	cp.cond.Broadcast()
}
