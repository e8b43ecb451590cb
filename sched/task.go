package sched

import (
	"fmt"
	"sort"

	"go.uber.org/atomic"

	"github.com/eth2030/unisched/types"
)

// TaskStatus is the scheduling lifecycle stage of a task. Transitions only
// move forward; skipping a stage is legal, moving backward is a protocol
// violation.
type TaskStatus uint32

const (
	// TaskPending means the task has been admitted but never attempted.
	TaskPending TaskStatus = iota
	// TaskContended means at least one lock attempt failed and the task
	// waits in the contention index.
	TaskContended
	// TaskUncontended means the task holds every lock it needs and is
	// dispatchable or executing.
	TaskUncontended
	// TaskFinished means execution completed and all locks were released.
	TaskFinished
)

// String returns the status name.
func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskContended:
		return "contended"
	case TaskUncontended:
		return "uncontended"
	case TaskFinished:
		return "finished"
	default:
		return fmt.Sprintf("status(%d)", uint32(s))
	}
}

// LockAttempt binds one address of a task to its lock page and records how
// the most recent attempt resolved. Attempts are created once at admission
// and reused across retries.
type LockAttempt struct {
	address types.AccountKey
	usage   RequestedUsage
	page    *page
	status  LockStatus
}

// Address returns the account the attempt locks.
func (a *LockAttempt) Address() types.AccountKey { return a.address }

// Usage returns the requested access.
func (a *LockAttempt) Usage() RequestedUsage { return a.usage }

// Status returns the resolution of the most recent attempt.
func (a *LockAttempt) Status() LockStatus { return a.status }

func sortAttempts(attempts []*LockAttempt) {
	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].address.Less(attempts[j].address)
	})
}

// ProvisioningTracker counts down the lock holders a provisionally granted
// task still waits on. It is created when a scheduling pass ends with at
// least one reservation, initialized to the total holder population across
// the reserved addresses, and decremented on every release of any of them.
// At zero every reserved page has promoted and the task holds all its locks.
type ProvisioningTracker struct {
	task      *Task
	remaining int
}

func newProvisioningTracker(task *Task, holders int) *ProvisioningTracker {
	if holders <= 0 {
		panic("sched: provisioning tracker with no holders")
	}
	return &ProvisioningTracker{task: task, remaining: holders}
}

// Task returns the tracked task.
func (pt *ProvisioningTracker) Task() *Task { return pt.task }

// Remaining returns the number of holder releases still awaited.
func (pt *ProvisioningTracker) Remaining() int { return pt.remaining }

// countDown records one holder release and reports whether the task is now
// fully provisioned.
func (pt *ProvisioningTracker) countDown() bool {
	if pt.remaining <= 0 {
		panic("sched: provisioning tracker underflow")
	}
	pt.remaining--
	return pt.remaining == 0
}

// Task is one admitted transaction moving through the scheduling lifecycle.
// The status and contention count are updated across goroutines; every other
// field is owned by the scheduling goroutine after admission.
type Task struct {
	tx       *types.Transaction
	weight   UniqueWeight
	attempts []*LockAttempt

	status      atomic.Uint32
	contendedIn atomic.Int32

	// tracker is non-nil while a provisional grant is pending.
	tracker *ProvisioningTracker
	// pooled guards against double-insertion into the dispatch pools.
	pooled bool
	// wasContended sticks once the task loses any lock attempt.
	wasContended bool
}

// NewTask admits a transaction under the given weight, resolving its account
// lists into lock attempts through the preloader. A transaction naming the
// same account twice is malformed and panics; admission must deduplicate.
func NewTask(pl *Preloader, tx *types.Transaction, weight UniqueWeight) *Task {
	attempts := pl.AttemptsForTransaction(tx)
	for i := 1; i < len(attempts); i++ {
		if attempts[i-1].address == attempts[i].address {
			panic("sched: duplicate account in transaction " + tx.Hash().String())
		}
	}
	return &Task{tx: tx, weight: weight, attempts: attempts}
}

// Transaction returns the underlying transaction.
func (t *Task) Transaction() *types.Transaction { return t.tx }

// Weight returns the task's unique scheduling weight.
func (t *Task) Weight() UniqueWeight { return t.weight }

// Status returns the current lifecycle stage.
func (t *Task) Status() TaskStatus { return TaskStatus(t.status.Load()) }

// Attempts returns the task's lock attempts in address order.
func (t *Task) Attempts() []*LockAttempt { return t.attempts }

// WasContended reports whether the task ever lost a lock attempt or waited
// on a reservation. Lane routing uses it to expedite tasks that already
// waited once.
func (t *Task) WasContended() bool { return t.wasContended }

// setStatus advances the lifecycle stage. Skips are legal; regressions
// panic.
func (t *Task) setStatus(next TaskStatus) {
	prev := TaskStatus(t.status.Load())
	if next <= prev {
		panic(fmt.Sprintf("sched: task %s status regression %s -> %s",
			t.tx.Hash(), prev, next))
	}
	if next == TaskContended {
		t.wasContended = true
	}
	t.status.Store(uint32(next))
}

// markPromoted records that the reservation on p's address materialized into
// a held lock.
func (t *Task) markPromoted(p *page) {
	for _, a := range t.attempts {
		if a.page == p {
			a.status = LockSucceeded
			return
		}
	}
	panic("sched: promotion on address not attempted by " + t.tx.Hash().String())
}

// addContention records insertion into n contended lists.
func (t *Task) addContention(n int) { t.contendedIn.Add(int32(n)) }

// dropContention records removal from one contended list.
func (t *Task) dropContention() { t.contendedIn.Dec() }

// contention returns the number of contended lists the task sits in.
func (t *Task) contention() int32 { return t.contendedIn.Load() }
