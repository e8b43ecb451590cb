package schedpool

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/eth2030/unisched/log"
	"github.com/eth2030/unisched/metrics"
	"github.com/eth2030/unisched/sched"
	"github.com/eth2030/unisched/types"
)

var (
	// ErrSessionEnded reports an admission against a scheduler whose
	// session already ended.
	ErrSessionEnded = errors.New("schedpool: session ended")
	// ErrBankDropped marks an outcome whose recording was abandoned
	// because the session flushed while commits were paused.
	ErrBankDropped = errors.New("schedpool: bank dropped before recording")
)

const (
	stateActive = iota
	stateEnding
	stateParked
	stateStopped
)

// taskMsg stamps an admitted task with the session it was admitted for. An
// admission racing a session end can land in the intake buffer after the
// flush drained it; the stamp lets the next session recognize and discard
// the straggler instead of executing it against the wrong bank.
type taskMsg struct {
	task    *sched.Task
	session uint64
}

// laneMsg travels a worker lane. Exactly one field is set: env carries a
// dispatched task, cp is the end-of-session sentinel. Each worker consumes
// exactly one sentinel per session and parks at the checkpoint behind it.
type laneMsg struct {
	env *sched.ExecutionEnvironment
	cp  *sched.Checkpoint
}

// collectMsg travels to the collector: an executed environment, a task
// abandoned by a flush, or the end-of-session sentinel.
type collectMsg struct {
	env     *sched.ExecutionEnvironment
	flushed *sched.Task
	cp      *sched.Checkpoint
}

// command asks the scheduling goroutine to end the current session.
type command struct {
	reason WaitReason
	cp     *sched.Checkpoint
}

// ---------------------------------------------------------------------------
// PooledScheduler
// ---------------------------------------------------------------------------

// PooledScheduler drives one scheduling session at a time against a bank.
//
// It runs a fixed goroutine set for its whole lifetime: one scheduling
// goroutine that is the sole writer of lock state, Workers execution
// workers split into a normal and a high-priority lane, and one collector
// that aggregates results. Sessions end at a checkpoint where every
// goroutine parks; the pool revives a parked scheduler with a fresh
// context instead of paying goroutine and allocator churn per slot.
//
// Produce mode routes tasks that already lost a lock race once to the high
// lane so long waiters are not starved by fresh arrivals. Replay mode
// feeds every task to the normal lane and lets high-lane workers drain
// both.
type PooledScheduler struct {
	id  uint64
	cfg Config
	log *log.Logger

	machine *sched.SchedulingStateMachine
	commit  *CommitStatus

	mu         sync.RWMutex
	state      int
	ctx        *SchedulingContext
	session    uint64
	sessionEnd chan struct{}
	parkedCP   *sched.Checkpoint

	intake   chan taskMsg
	commands chan command
	normal   chan laneMsg
	high     chan laneMsg
	collect  chan collectMsg
	results  chan *sched.ExecutionEnvironment

	err atomic.Error
	wg  sync.WaitGroup
}

// NewPooledScheduler spawns a scheduler already running a session against
// ctx. The returned scheduler owns its goroutines until Shutdown.
func NewPooledScheduler(id uint64, cfg Config, ctx *SchedulingContext) (*PooledScheduler, error) {
	cfg = cfg.sanitized()
	machine, err := sched.NewStateMachine(cfg.Machine)
	if err != nil {
		return nil, errors.Wrap(err, "schedpool: state machine")
	}
	s := &PooledScheduler{
		id:      id,
		cfg:     cfg,
		log:     log.Default().Module("schedpool").With("scheduler", fmt.Sprintf("sch_%d", id)),
		machine: machine,
		commit:  newCommitStatus(),

		state:      stateActive,
		ctx:        ctx,
		session:    1,
		sessionEnd: make(chan struct{}),

		intake:   make(chan taskMsg, cfg.IntakeBacklog),
		commands: make(chan command, 1),
		normal:   make(chan laneMsg, cfg.Workers),
		high:     make(chan laneMsg, cfg.Workers),
		collect:  make(chan collectMsg, cfg.Workers*2),
		results:  make(chan *sched.ExecutionEnvironment, cfg.Workers),
	}

	high := cfg.highWorkers()
	s.wg.Add(cfg.Workers + 2)
	go s.schedulerLoop(ctx, 1)
	for i := 0; i < cfg.Workers; i++ {
		go s.workerLoop(i >= cfg.Workers-high, ctx)
	}
	go s.collectorLoop(ctx)

	s.log.Info("scheduler started",
		"workers", cfg.Workers, "high_lane", high, "session", ctx.String())
	return s, nil
}

// ID returns the pool-assigned scheduler id.
func (s *PooledScheduler) ID() uint64 { return s.id }

// Err returns the first fatal execution error observed, nil if none.
func (s *PooledScheduler) Err() error { return s.err.Load() }

// Context returns the current session context, nil while parked.
func (s *PooledScheduler) Context() *SchedulingContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

func (s *PooledScheduler) parked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == stateParked
}

// PauseCommits holds back outcome recording until ResumeCommits.
func (s *PooledScheduler) PauseCommits() { s.commit.Pause() }

// ResumeCommits releases workers waiting to record outcomes.
func (s *PooledScheduler) ResumeCommits() { s.commit.Resume() }

// CommitsPaused reports whether outcome recording is currently held back.
func (s *PooledScheduler) CommitsPaused() bool { return s.commit.Paused() }

// ---------------------------------------------------------------------------
// Admission
// ---------------------------------------------------------------------------

// ScheduleExecution admits a transaction into the current session. index
// orders admissions of equal priority and must be unique within the
// session. Page lookups run on the calling goroutine so the scheduling
// goroutine never touches the address map. Blocks while the intake backlog
// is full; fails with ErrSessionEnded once the session ends.
func (s *PooledScheduler) ScheduleExecution(tx *types.Transaction, index uint64) error {
	s.mu.RLock()
	if s.state != stateActive {
		s.mu.RUnlock()
		return ErrSessionEnded
	}
	mode := s.ctx.Mode()
	session := s.session
	end := s.sessionEnd
	s.mu.RUnlock()

	task := sched.NewTask(s.machine.Preloader(), tx, sched.WeightFor(mode, tx.Priority(), index))
	select {
	case s.intake <- taskMsg{task: task, session: session}:
		return nil
	case <-end:
		return ErrSessionEnded
	}
}

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

// EndSession ends the current session and blocks until every goroutine has
// parked at the session checkpoint, then returns the session's stats.
// WaitSessionEnded drains all admitted work to completion first and so
// cannot finish while commits are paused; WaitSessionFlushed abandons
// everything not already executing and releases paused workers with
// ErrBankDropped.
func (s *PooledScheduler) EndSession(reason WaitReason) (sched.SessionStats, error) {
	s.mu.Lock()
	if s.state != stateActive {
		s.mu.Unlock()
		return sched.SessionStats{}, ErrSessionEnded
	}
	s.state = stateEnding
	s.mu.Unlock()

	cp := sched.NewCheckpoint(s.cfg.Workers + 2)
	s.commands <- command{reason: reason, cp: cp}
	cp.WaitDrained()
	return cp.TakeResult(), nil
}

// RestartSession revives a parked scheduler with a fresh session context.
// Panics unless the scheduler is parked; the pool is the normal caller.
func (s *PooledScheduler) RestartSession(ctx *SchedulingContext) {
	if ctx == nil {
		panic("schedpool: restart without a context")
	}
	s.mu.Lock()
	if s.state != stateParked {
		s.mu.Unlock()
		panic("schedpool: restart of a scheduler that is not parked")
	}
	cp := s.parkedCP
	s.parkedCP = nil
	s.ctx = ctx
	s.state = stateActive
	s.session++
	s.sessionEnd = make(chan struct{})
	s.mu.Unlock()

	s.commit.reset()
	cp.Restart(ctx)
}

// Shutdown flushes any live session and terminates the goroutine set. Safe
// to call more than once.
func (s *PooledScheduler) Shutdown() {
	s.EndSession(WaitSessionFlushed)
	for {
		s.mu.Lock()
		switch s.state {
		case stateParked:
			cp := s.parkedCP
			s.parkedCP = nil
			s.state = stateStopped
			s.mu.Unlock()
			cp.Terminate()
			s.wg.Wait()
			s.machine.Close()
			s.log.Info("scheduler stopped")
			return
		case stateStopped:
			s.mu.Unlock()
			return
		default:
			// a concurrent EndSession is still draining
			s.mu.Unlock()
			runtime.Gosched()
		}
	}
}

// ---------------------------------------------------------------------------
// Scheduling goroutine
// ---------------------------------------------------------------------------

func (s *PooledScheduler) schedulerLoop(ctx *SchedulingContext, session uint64) {
	defer s.wg.Done()
	for {
		s.pump(ctx)
		select {
		case msg := <-s.intake:
			if msg.session != session {
				s.discardStale(msg.task)
				continue
			}
			s.machine.Admit(msg.task)
		case env := <-s.results:
			s.machine.CollectResult(env)
		case t := <-s.machine.Completions():
			s.machine.OnRegistered(t)
		case cmd := <-s.commands:
			next, nextSession, ok := s.finishSession(ctx, session, cmd)
			if !ok {
				return
			}
			ctx, session = next, nextSession
		}
	}
}

// pump dispatches ready tasks until the workers are saturated or nothing
// more can run. Lane sends never block: both lanes buffer Workers entries
// and at most Workers environments are ever outstanding.
func (s *PooledScheduler) pump(ctx *SchedulingContext) {
	for s.machine.Executing() < s.cfg.Workers {
		env := s.machine.ScheduleNext()
		if env == nil {
			return
		}
		if ctx.Mode() == sched.ModeProduce && env.Task.WasContended() && s.cfg.highWorkers() > 0 {
			env.HighLane = true
			s.high <- laneMsg{env: env}
			continue
		}
		s.normal <- laneMsg{env: env}
	}
}

func (s *PooledScheduler) finishSession(ctx *SchedulingContext, session uint64, cmd command) (*SchedulingContext, uint64, bool) {
	close(s.sessionEnd)
	if cmd.reason == WaitSessionEnded {
		s.drainAll(ctx, session)
	} else {
		s.commit.abandon()
		s.flushAll()
	}
	s.machine.Reinitialize()

	// Release the workers. Each lane sentinel parks exactly one worker:
	// arriving blocks it at the checkpoint, so nobody takes two.
	high := s.cfg.highWorkers()
	if ctx.Mode() == sched.ModeProduce {
		for i := 0; i < s.cfg.Workers-high; i++ {
			s.normal <- laneMsg{cp: cmd.cp}
		}
		for i := 0; i < high; i++ {
			s.high <- laneMsg{cp: cmd.cp}
		}
	} else {
		for i := 0; i < s.cfg.Workers; i++ {
			s.normal <- laneMsg{cp: cmd.cp}
		}
	}
	s.collect <- collectMsg{cp: cmd.cp}

	s.mu.Lock()
	s.ctx = nil
	s.state = stateParked
	s.parkedCP = cmd.cp
	s.mu.Unlock()
	s.log.Info("session ended", "reason", cmd.reason.String(), "session", ctx.String())

	next, ok := cmd.cp.Arrive()
	if !ok {
		return nil, 0, false
	}
	nctx := next.(*SchedulingContext)

	s.mu.RLock()
	nextSession := s.session
	s.mu.RUnlock()
	s.log.Info("session started", "session", nctx.String())
	return nctx, nextSession, true
}

// drainAll runs every admitted task to completion, including admissions
// still buffered in intake when the end was requested.
func (s *PooledScheduler) drainAll(ctx *SchedulingContext, session uint64) {
	for {
		s.drainIntakeAdmit(session)
		s.pump(ctx)
		if s.machine.Idle() && len(s.intake) == 0 {
			// A registration may have completed against a page whose
			// holder already released; its wakeup is still buffered.
			s.machine.DrainRegistrations()
			if s.machine.Idle() && len(s.intake) == 0 {
				return
			}
			continue
		}
		select {
		case msg := <-s.intake:
			if msg.session != session {
				s.discardStale(msg.task)
				continue
			}
			s.machine.Admit(msg.task)
		case env := <-s.results:
			s.machine.CollectResult(env)
		case t := <-s.machine.Completions():
			s.machine.OnRegistered(t)
		}
	}
}

// flushAll waits only for tasks already executing, then abandons all
// queued, contended, and reserved work.
func (s *PooledScheduler) flushAll() {
	s.drainIntakeFlush()
	for s.machine.Executing() > 0 {
		select {
		case env := <-s.results:
			s.machine.CollectResult(env)
		case t := <-s.machine.Completions():
			s.machine.OnRegistered(t)
		}
	}
	s.machine.DrainRegistrations()
	s.machine.DrainAbandon(func(t *sched.Task) {
		s.collect <- collectMsg{flushed: t}
	})
	s.drainIntakeFlush()
}

func (s *PooledScheduler) drainIntakeAdmit(session uint64) {
	for {
		select {
		case msg := <-s.intake:
			if msg.session != session {
				s.discardStale(msg.task)
				continue
			}
			s.machine.Admit(msg.task)
		default:
			return
		}
	}
}

func (s *PooledScheduler) drainIntakeFlush() {
	for {
		select {
		case msg := <-s.intake:
			metrics.TasksFlushed.Inc()
			s.collect <- collectMsg{flushed: msg.task}
		default:
			return
		}
	}
}

func (s *PooledScheduler) discardStale(t *sched.Task) {
	metrics.TasksFlushed.Inc()
	if hook := s.cfg.OnAbandon; hook != nil {
		hook(t.Transaction(), sched.ErrSessionFlushed)
	}
	s.log.Debug("discarded admission that raced a session end", "tx", t.Transaction().Hash())
}

// ---------------------------------------------------------------------------
// Execution workers
// ---------------------------------------------------------------------------

func (s *PooledScheduler) workerLoop(high bool, ctx *SchedulingContext) {
	defer s.wg.Done()
	for {
		var msg laneMsg
		switch {
		case high && ctx.Mode() == sched.ModeReplay:
			select {
			case msg = <-s.high:
			case msg = <-s.normal:
			}
		case high:
			msg = <-s.high
		default:
			msg = <-s.normal
		}

		if msg.cp != nil {
			next, ok := msg.cp.Arrive()
			if !ok {
				return
			}
			ctx = next.(*SchedulingContext)
			continue
		}
		s.execute(ctx, msg.env)
		s.collect <- collectMsg{env: msg.env}
	}
}

func (s *PooledScheduler) execute(ctx *SchedulingContext, env *sched.ExecutionEnvironment) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("schedpool: execution panicked: %v", r)
			s.err.Store(err)
			env.Outcome.Err = err
			s.log.Error("execution panicked", "tx", env.Task.Transaction().Hash(), "panic", r)
		}
	}()

	tx := env.Task.Transaction()
	start := time.Now()
	out := ctx.Bank().ExecuteTask(tx)
	env.ExecTime = time.Since(start)
	if out != nil {
		env.Outcome = *out
	}
	if rec := ctx.Recorder(); rec != nil && env.Outcome.Err == nil {
		s.record(ctx, rec, env)
	}
}

// record commits an outcome, retrying through commit pauses. A failed
// Record pauses all commits; ResumeCommits retries, a session flush
// abandons the outcome with ErrBankDropped.
func (s *PooledScheduler) record(ctx *SchedulingContext, rec Recorder, env *sched.ExecutionEnvironment) {
	tx := env.Task.Transaction()
	for {
		if err := s.awaitCommits(ctx); err != nil {
			env.Outcome.Err = err
			return
		}
		err := rec.Record(tx.Hash(), &env.Outcome)
		if err == nil {
			return
		}
		s.log.Warn("recording failed, pausing commits", "tx", tx.Hash(), "err", err)
		s.commit.Pause()
	}
}

func (s *PooledScheduler) awaitCommits(ctx *SchedulingContext) error {
	if !s.commit.await() {
		return ErrBankDropped
	}
	// the bank may have moved on while commits were paused
	if s.Context() != ctx {
		return ErrBankDropped
	}
	return nil
}

// ---------------------------------------------------------------------------
// Collector
// ---------------------------------------------------------------------------

func (s *PooledScheduler) collectorLoop(ctx *SchedulingContext) {
	defer s.wg.Done()
	var stats sched.SessionStats
	start := time.Now()
	for msg := range s.collect {
		switch {
		case msg.env != nil:
			stats.Absorb(msg.env)
			s.results <- msg.env
		case msg.flushed != nil:
			stats.Flushed++
			if hook := s.cfg.OnAbandon; hook != nil {
				hook(msg.flushed.Transaction(), sched.ErrSessionFlushed)
			}
		case msg.cp != nil:
			metrics.SessionsCompleted.Inc()
			metrics.SessionTime.Observe(float64(time.Since(start).Milliseconds()))
			s.log.Debug("session stats", "slot", ctx.Slot(),
				"executed", stats.Executed, "failed", stats.Failed, "flushed", stats.Flushed)
			msg.cp.RegisterResult(stats)
			next, ok := msg.cp.Arrive()
			if !ok {
				return
			}
			ctx = next.(*SchedulingContext)
			stats = sched.SessionStats{}
			start = time.Now()
		}
	}
}
