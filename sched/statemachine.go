package sched

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/eth2030/unisched/metrics"
)

// ErrSessionFlushed reports a task abandoned because its session ended
// before the task executed.
var ErrSessionFlushed = errors.New("sched: session flushed before execution")

// MachineConfig tunes a SchedulingStateMachine.
type MachineConfig struct {
	// IndexWorkers is the size of the contention registration pool.
	IndexWorkers int
	// CompletionBacklog buffers registration completion events.
	CompletionBacklog int
	// ProvisionalThrottleRatio caps outstanding provisioning trackers
	// relative to executing tasks. Above the cap, conflicting attempts
	// fail outright instead of reserving.
	ProvisionalThrottleRatio float64
}

// DefaultMachineConfig returns the defaults used by the scheduler pool.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		IndexWorkers:             4,
		CompletionBacklog:        1024,
		ProvisionalThrottleRatio: 0.25,
	}
}

func (cfg MachineConfig) sanitized() MachineConfig {
	def := DefaultMachineConfig()
	if cfg.IndexWorkers <= 0 {
		cfg.IndexWorkers = def.IndexWorkers
	}
	if cfg.CompletionBacklog <= 0 {
		cfg.CompletionBacklog = def.CompletionBacklog
	}
	if cfg.ProvisionalThrottleRatio <= 0 {
		cfg.ProvisionalThrottleRatio = def.ProvisionalThrottleRatio
	}
	return cfg
}

// SchedulingStateMachine decides, task by task, what may run. All lock
// bookkeeping funnels through the one goroutine that calls its methods;
// workers only ever see ExecutionEnvironments. That single-writer discipline
// is the concurrency cornerstone of the whole engine: pages need no locks
// for usage state, rollbacks cannot interleave, and every invariant check
// observes a consistent world.
//
// Admission lands tasks in the runnable queue. ScheduleNext prefers tasks
// whose provisional grants fulfilled (they already hold every lock), then
// retry candidates surfaced by releases, then never-attempted tasks by
// descending weight.
type SchedulingStateMachine struct {
	cfg MachineConfig

	table *AddressLockTable
	pl    *Preloader
	index *ContentionIndex

	runnable    *TaskQueue
	uncontended *TaskQueue
	fulfilled   *TaskQueue

	trackers  map[*ProvisioningTracker]struct{}
	executing int
}

// NewStateMachine builds a machine with its own lock table and contention
// index.
func NewStateMachine(cfg MachineConfig) (*SchedulingStateMachine, error) {
	cfg = cfg.sanitized()
	index, err := NewContentionIndex(cfg.IndexWorkers, cfg.CompletionBacklog)
	if err != nil {
		return nil, err
	}
	table := NewAddressLockTable()
	return &SchedulingStateMachine{
		cfg:         cfg,
		table:       table,
		pl:          NewPreloader(table),
		index:       index,
		runnable:    NewTaskQueue(),
		uncontended: NewTaskQueue(),
		fulfilled:   NewTaskQueue(),
		trackers:    make(map[*ProvisioningTracker]struct{}),
	}, nil
}

// Preloader returns the admission-side loader. Safe from any goroutine.
func (m *SchedulingStateMachine) Preloader() *Preloader { return m.pl }

// Completions returns the registration events the scheduling goroutine must
// drain into OnRegistered.
func (m *SchedulingStateMachine) Completions() <-chan *Task {
	return m.index.Completions()
}

// Admit enqueues a newly created task for its first attempt.
func (m *SchedulingStateMachine) Admit(t *Task) {
	m.runnable.Insert(t)
	metrics.TasksAdmitted.Inc()
	metrics.RunnableDepth.Set(int64(m.runnable.Len()))
}

// Executing returns the number of dispatched tasks not yet collected.
func (m *SchedulingStateMachine) Executing() int { return m.executing }

// ActiveTrackers returns the number of outstanding provisioning trackers.
func (m *SchedulingStateMachine) ActiveTrackers() int { return len(m.trackers) }

// Idle reports whether nothing is queued, executing, reserved, or being
// registered.
func (m *SchedulingStateMachine) Idle() bool {
	return m.executing == 0 &&
		m.runnable.Len() == 0 &&
		m.uncontended.Len() == 0 &&
		m.fulfilled.Len() == 0 &&
		len(m.trackers) == 0 &&
		m.index.Outstanding() == 0
}

// DrainRegistrations processes contention registrations until none remain in
// flight, then consumes the completion events already buffered. Required
// before DrainAbandon.
func (m *SchedulingStateMachine) DrainRegistrations() {
	for m.index.Outstanding() > 0 {
		select {
		case t := <-m.index.completions:
			m.OnRegistered(t)
		default:
			runtime.Gosched()
		}
	}
	for {
		select {
		case t := <-m.index.completions:
			m.OnRegistered(t)
		default:
			return
		}
	}
}

// Reinitialize readies the machine for the next session. The lock table and
// its pages survive across sessions; everything else must have drained, and
// any leftover panics.
func (m *SchedulingStateMachine) Reinitialize() {
	if !m.Idle() {
		panic("sched: reinitialize on a busy machine")
	}
	if !m.table.AllUnused() {
		panic("sched: reinitialize with lock state held")
	}
}

// Close releases the contention index workers. The machine must be idle.
func (m *SchedulingStateMachine) Close() {
	m.index.Close()
}

// ----------------------------------------------------------------------------
// Scheduling
// ----------------------------------------------------------------------------

// ScheduleNext returns the next dispatchable task wrapped in its execution
// environment, or nil when nothing can run right now. Tasks whose
// reservations fulfilled dispatch first and without re-attempting; they
// already hold every lock.
func (m *SchedulingStateMachine) ScheduleNext() *ExecutionEnvironment {
	for {
		if t := m.fulfilled.PopMax(); t != nil {
			t.pooled = false
			return m.dispatch(t)
		}
		if t := m.uncontended.PopMax(); t != nil {
			t.pooled = false
			if env := m.attemptTask(t, false); env != nil {
				return env
			}
			continue
		}
		t := m.runnable.PopMax()
		if t == nil {
			return nil
		}
		metrics.RunnableDepth.Set(int64(m.runnable.Len()))
		if env := m.attemptTask(t, true); env != nil {
			return env
		}
	}
}

// preferImmediate reports whether conflicting attempts should fail instead
// of reserving, which throttles reservation buildup when few tasks execute.
func (m *SchedulingStateMachine) preferImmediate() bool {
	return float64(len(m.trackers)) > m.cfg.ProvisionalThrottleRatio*float64(m.executing)
}

// attemptTask tries to take every lock of t in address order. It returns the
// execution environment when all succeed, or nil after parking the task in
// the contention index (on failure) or behind a provisioning tracker (on
// reservation).
func (m *SchedulingStateMachine) attemptTask(t *Task, fromRunnable bool) *ExecutionEnvironment {
	preferImmediate := m.preferImmediate()
	holders, provisional := 0, 0
	for i, a := range t.attempts {
		status, n := a.page.attemptLock(fromRunnable, preferImmediate, a.usage)
		a.status = status
		if status == LockFailed {
			metrics.LockConflicts.Inc()
			m.rollback(t, i)
			if t.Status() == TaskPending {
				t.setStatus(TaskContended)
				metrics.TasksContended.Inc()
			}
			m.index.Register(t)
			return nil
		}
		if status == LockProvisional {
			holders += n
			provisional++
		}
	}
	if provisional > 0 {
		tr := newProvisioningTracker(t, holders)
		for _, a := range t.attempts {
			if a.status == LockProvisional {
				a.page.tracker = tr
			}
		}
		t.tracker = tr
		m.trackers[tr] = struct{}{}
		if t.Status() == TaskPending {
			t.setStatus(TaskContended)
		}
		m.index.Purge(t)
		metrics.ProvisionalGrants.Inc()
		metrics.TrackerDepth.Set(int64(len(m.trackers)))
		return nil
	}
	return m.dispatch(t)
}

// rollback undoes the attempts before failedIdx: held locks release through
// the full release path, reservations are cancelled.
func (m *SchedulingStateMachine) rollback(t *Task, failedIdx int) {
	for j := 0; j < failedIdx; j++ {
		a := t.attempts[j]
		switch a.status {
		case LockSucceeded:
			m.releaseAttempt(a)
		case LockProvisional:
			a.page.cancelReservation()
		}
	}
}

func (m *SchedulingStateMachine) dispatch(t *Task) *ExecutionEnvironment {
	t.setStatus(TaskUncontended)
	m.index.Purge(t)
	m.executing++
	metrics.ExecutingDepth.Set(int64(m.executing))
	return &ExecutionEnvironment{Task: t}
}

// ----------------------------------------------------------------------------
// Releases
// ----------------------------------------------------------------------------

// CollectResult finishes an executed task and releases every lock it held.
// Releases may fulfill trackers or surface contended tasks, so new work can
// become dispatchable as a side effect.
func (m *SchedulingStateMachine) CollectResult(env *ExecutionEnvironment) {
	t := env.Task
	t.setStatus(TaskFinished)
	for _, a := range t.attempts {
		m.releaseAttempt(a)
	}
	m.executing--
	metrics.ExecutingDepth.Set(int64(m.executing))
	metrics.TasksExecuted.Inc()
	metrics.ExecutionRate.Mark(1)
	metrics.ExecuteTime.Observe(float64(env.ExecTime.Milliseconds()))
}

// releaseAttempt releases one held lock unit. If the page carries a pending
// reservation its tracker counts down on every release; when the page turns
// unused the reservation promotes and takes the page. Otherwise an unused
// page surfaces its heaviest contended waiter.
func (m *SchedulingStateMachine) releaseAttempt(a *LockAttempt) {
	p := a.page
	newlyUnused := p.unlock(a.usage)
	if tr := p.tracker; tr != nil {
		if newlyUnused {
			p.switchToNext()
			p.tracker = nil
			tr.task.markPromoted(p)
		}
		if tr.countDown() {
			m.fulfill(tr)
		}
		return
	}
	if newlyUnused {
		m.surfaceContended(p)
	}
}

// fulfill moves a fully provisioned task into the dispatch-first pool.
func (m *SchedulingStateMachine) fulfill(tr *ProvisioningTracker) {
	delete(m.trackers, tr)
	metrics.TrackerDepth.Set(int64(len(m.trackers)))
	t := tr.task
	t.tracker = nil
	t.pooled = true
	m.index.Purge(t)
	m.fulfilled.Insert(t)
	metrics.ProvisionalFulfilled.Inc()
}

// surfaceContended pops the heaviest live waiter of a freed page into the
// retry pool. Entries for tasks that moved on since registration are
// dropped.
func (m *SchedulingStateMachine) surfaceContended(p *page) {
	for {
		t := p.popHeaviestContended()
		if t == nil {
			return
		}
		t.dropContention()
		if t.pooled || t.tracker != nil || t.Status() != TaskContended {
			continue
		}
		t.pooled = true
		m.index.Purge(t)
		m.uncontended.Insert(t)
		return
	}
}

// OnRegistered rechecks a task after its contention registration finished.
// If every attempted address would grant right now, all holders released
// while the task was still unfindable in the contended lists; it surfaces
// here or never.
func (m *SchedulingStateMachine) OnRegistered(t *Task) {
	if t.pooled || t.tracker != nil || t.Status() != TaskContended {
		return
	}
	for _, a := range t.attempts {
		if !a.page.wouldGrantNow(a.usage) {
			return
		}
	}
	t.pooled = true
	m.index.Purge(t)
	m.uncontended.Insert(t)
}

// ----------------------------------------------------------------------------
// Session flush
// ----------------------------------------------------------------------------

// DrainAbandon abandons every task the session will not execute, reporting
// each through report. The caller must have collected all executing tasks
// and drained the registration completions first. On return every page is
// unused; anything else panics.
func (m *SchedulingStateMachine) DrainAbandon(report func(*Task)) {
	if m.executing != 0 {
		panic(fmt.Sprintf("sched: flush with %d tasks executing", m.executing))
	}
	if n := m.index.Outstanding(); n != 0 {
		panic(fmt.Sprintf("sched: flush with %d registrations in flight", n))
	}
	flushed := 0

	// Trackers first: cancel reservations and release whatever the tasks
	// already held. Releases can cascade into the pools swept below.
	for len(m.trackers) > 0 {
		var tr *ProvisioningTracker
		for cand := range m.trackers {
			tr = cand
			break
		}
		m.abandonTracker(tr, report)
		flushed++
	}

	// Contended lists: every waiter still parked on a page.
	for tuple := range m.table.pages.IterBuffered() {
		p := tuple.Val
		for {
			t := p.popHeaviestContended()
			if t == nil {
				break
			}
			t.dropContention()
			if t.pooled || t.Status() != TaskContended {
				continue
			}
			t.setStatus(TaskFinished)
			report(t)
			flushed++
		}
	}

	// Queues and pools.
	for {
		t := m.runnable.PopMax()
		if t == nil {
			break
		}
		t.setStatus(TaskFinished)
		report(t)
		flushed++
	}
	for {
		t := m.uncontended.PopMax()
		if t == nil {
			break
		}
		t.pooled = false
		t.setStatus(TaskFinished)
		report(t)
		flushed++
	}
	for {
		t := m.fulfilled.PopMax()
		if t == nil {
			break
		}
		t.pooled = false
		t.setStatus(TaskFinished)
		for _, a := range t.attempts {
			m.releaseAttempt(a)
		}
		report(t)
		flushed++
	}

	metrics.TasksFlushed.Add(int64(flushed))
	metrics.RunnableDepth.Set(0)
	metrics.TrackerDepth.Set(0)
	if !m.table.AllUnused() {
		panic("sched: lock state left behind after flush")
	}
}

func (m *SchedulingStateMachine) abandonTracker(tr *ProvisioningTracker, report func(*Task)) {
	delete(m.trackers, tr)
	t := tr.task
	t.tracker = nil
	for _, a := range t.attempts {
		switch a.status {
		case LockSucceeded:
			m.releaseAttempt(a)
		case LockProvisional:
			if a.page.tracker == tr {
				a.page.cancelReservation()
				a.page.tracker = nil
			}
		}
	}
	t.setStatus(TaskFinished)
	report(t)
}
