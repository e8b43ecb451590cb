package schedpool

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/eth2030/unisched/sched"
	"github.com/eth2030/unisched/types"
)

func acct(b byte) types.AccountKey {
	return types.BytesToAccountKey([]byte{b})
}

func testTx(payload byte, priority uint64, writes, reads []byte) *types.Transaction {
	var w, r []types.AccountKey
	for _, b := range writes {
		w = append(w, acct(b))
	}
	for _, b := range reads {
		r = append(r, acct(b))
	}
	return types.NewTransaction([]byte{payload}, w, r, priority)
}

// rendezvous fails instead of deadlocking when fewer than n executions
// overlap in the bank.
type rendezvous struct {
	mu   sync.Mutex
	left int
	done chan struct{}
}

func newRendezvous(n int) *rendezvous {
	return &rendezvous{left: n, done: make(chan struct{})}
}

func (r *rendezvous) arrive() bool {
	r.mu.Lock()
	r.left--
	if r.left == 0 {
		close(r.done)
	}
	r.mu.Unlock()
	select {
	case <-r.done:
		return true
	case <-time.After(5 * time.Second):
		return false
	}
}

// testBank checks the scheduler's lock guarantees from the inside: any
// overlapping use of an account that the lock table should have prevented
// is recorded as a violation.
type testBank struct {
	slot  uint64
	delay time.Duration

	entered chan struct{}
	meet    *rendezvous

	mu       sync.Mutex
	writing  map[types.AccountKey]int
	reading  map[types.AccountKey]int
	bad      []string
	executed int
}

func newTestBank(slot uint64) *testBank {
	return &testBank{
		slot:    slot,
		writing: make(map[types.AccountKey]int),
		reading: make(map[types.AccountKey]int),
	}
}

func (b *testBank) Slot() uint64 { return b.slot }

func (b *testBank) ExecuteTask(tx *types.Transaction) *types.ExecutionOutcome {
	b.enter(tx)
	if b.entered != nil {
		b.entered <- struct{}{}
	}
	if b.meet != nil && !b.meet.arrive() {
		b.exit(tx)
		return &types.ExecutionOutcome{Err: errors.New("executions never overlapped")}
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	b.exit(tx)
	return &types.ExecutionOutcome{ComputeUnits: 21000}
}

func (b *testBank) enter(tx *types.Transaction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range tx.WritableAccounts() {
		if b.writing[a] > 0 || b.reading[a] > 0 {
			b.bad = append(b.bad, fmt.Sprintf("write overlap on %x", a))
		}
		b.writing[a]++
	}
	for _, a := range tx.ReadonlyAccounts() {
		if b.writing[a] > 0 {
			b.bad = append(b.bad, fmt.Sprintf("read under write on %x", a))
		}
		b.reading[a]++
	}
}

func (b *testBank) exit(tx *types.Transaction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range tx.WritableAccounts() {
		b.writing[a]--
	}
	for _, a := range tx.ReadonlyAccounts() {
		b.reading[a]--
	}
	b.executed++
}

func (b *testBank) violations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.bad...)
}

func (b *testBank) executedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.executed
}

type testRecorder struct {
	mu       sync.Mutex
	failures int
	attempts int
	recorded []types.Hash
}

func (r *testRecorder) Record(h types.Hash, out *types.ExecutionOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.failures > 0 {
		r.failures--
		return errors.New("recorder unavailable")
	}
	r.recorded = append(r.recorded, h)
	return nil
}

func (r *testRecorder) attemptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *testRecorder) recordedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recorded)
}

func testConfig(workers int) Config {
	cfg := DefaultConfig()
	cfg.Workers = workers
	return cfg
}

func newScheduler(t *testing.T, cfg Config, ctx *SchedulingContext) *PooledScheduler {
	t.Helper()
	s, err := NewPooledScheduler(1, cfg, ctx)
	if err != nil {
		t.Fatalf("NewPooledScheduler: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestSessionExecutesDisjointTasksConcurrently(t *testing.T) {
	bank := newTestBank(7)
	bank.meet = newRendezvous(4)
	// Replay mode: every worker drains the normal lane, so four disjoint
	// tasks must occupy all four workers at once.
	s := newScheduler(t, testConfig(4), NewSchedulingContext(sched.ModeReplay, bank, nil))

	for i := 0; i < 4; i++ {
		tx := testTx(byte(i), 100, []byte{byte(0x10 + i)}, nil)
		if err := s.ScheduleExecution(tx, uint64(i)); err != nil {
			t.Fatalf("ScheduleExecution(%d): %v", i, err)
		}
	}
	stats, err := s.EndSession(WaitSessionEnded)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if stats.Executed != 4 || stats.Failed != 0 {
		t.Fatalf("stats executed=%d failed=%d, want 4/0", stats.Executed, stats.Failed)
	}
	if v := bank.violations(); len(v) > 0 {
		t.Fatalf("lock violations: %v", v)
	}
}

func TestSessionSerializesConflictsAcrossModes(t *testing.T) {
	for _, mode := range []sched.Mode{sched.ModeProduce, sched.ModeReplay} {
		t.Run(mode.String(), func(t *testing.T) {
			bank := newTestBank(7)
			bank.delay = 200 * time.Microsecond
			s := newScheduler(t, testConfig(4), NewSchedulingContext(mode, bank, nil))

			// Six accounts, sixty tasks, every third a reader. Neighbors
			// collide constantly so the contended paths all get traffic.
			const n = 60
			for i := 0; i < n; i++ {
				hot := byte(0x20 + i%6)
				next := byte(0x20 + (i+1)%6)
				var tx *types.Transaction
				if i%3 == 0 {
					tx = testTx(byte(i), uint64(100+i), []byte{hot}, []byte{next})
				} else {
					tx = testTx(byte(i), uint64(100+i), []byte{hot, next}, nil)
				}
				if err := s.ScheduleExecution(tx, uint64(i)); err != nil {
					t.Fatalf("ScheduleExecution(%d): %v", i, err)
				}
			}
			stats, err := s.EndSession(WaitSessionEnded)
			if err != nil {
				t.Fatalf("EndSession: %v", err)
			}
			if stats.Executed != n {
				t.Fatalf("executed %d tasks, want %d", stats.Executed, n)
			}
			if stats.Flushed != 0 || stats.Failed != 0 {
				t.Fatalf("stats flushed=%d failed=%d, want 0/0", stats.Flushed, stats.Failed)
			}
			if got := stats.ComputeUnits; got != n*21000 {
				t.Fatalf("compute units %d, want %d", got, n*21000)
			}
			if bank.executedCount() != n {
				t.Fatalf("bank executed %d, want %d", bank.executedCount(), n)
			}
			if v := bank.violations(); len(v) > 0 {
				t.Fatalf("lock violations: %v", v)
			}
		})
	}
}

func TestFlushAbandonsQueuedWork(t *testing.T) {
	bank := newTestBank(7)
	bank.delay = 300 * time.Millisecond
	bank.entered = make(chan struct{}, 1)

	var abandonMu sync.Mutex
	var abandoned []byte
	cfg := testConfig(4)
	cfg.OnAbandon = func(tx *types.Transaction, err error) {
		if !errors.Is(err, sched.ErrSessionFlushed) {
			t.Errorf("abandon error = %v, want ErrSessionFlushed", err)
		}
		abandonMu.Lock()
		abandoned = append(abandoned, tx.Payload()[0])
		abandonMu.Unlock()
	}
	s := newScheduler(t, cfg, NewSchedulingContext(sched.ModeProduce, bank, nil))

	// First writer occupies a worker; the rest pile up behind its lock.
	if err := s.ScheduleExecution(testTx(0, 500, []byte{0x30}, nil), 0); err != nil {
		t.Fatalf("ScheduleExecution(0): %v", err)
	}
	<-bank.entered
	for i := 1; i < 5; i++ {
		if err := s.ScheduleExecution(testTx(byte(i), 100, []byte{0x30}, nil), uint64(i)); err != nil {
			t.Fatalf("ScheduleExecution(%d): %v", i, err)
		}
	}

	stats, err := s.EndSession(WaitSessionFlushed)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if stats.Executed != 1 {
		t.Fatalf("executed %d, want 1 (only the in-flight task)", stats.Executed)
	}
	if stats.Flushed != 4 {
		t.Fatalf("flushed %d, want 4", stats.Flushed)
	}
	abandonMu.Lock()
	defer abandonMu.Unlock()
	if len(abandoned) != 4 {
		t.Fatalf("abandon hook saw %d tasks, want 4", len(abandoned))
	}
	if s.Context() != nil {
		t.Fatal("scheduler still bound to a context after session end")
	}
}

func TestAdmissionAfterSessionEndFails(t *testing.T) {
	bank := newTestBank(7)
	s := newScheduler(t, testConfig(2), NewSchedulingContext(sched.ModeProduce, bank, nil))

	if _, err := s.EndSession(WaitSessionEnded); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if err := s.ScheduleExecution(testTx(0, 100, []byte{0x40}, nil), 0); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("ScheduleExecution after end = %v, want ErrSessionEnded", err)
	}
	if _, err := s.EndSession(WaitSessionEnded); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("second EndSession = %v, want ErrSessionEnded", err)
	}
}

func TestRecordingPauseAndResume(t *testing.T) {
	bank := newTestBank(7)
	rec := &testRecorder{failures: 1}
	s := newScheduler(t, testConfig(2), NewSchedulingContext(sched.ModeProduce, bank, rec))

	if err := s.ScheduleExecution(testTx(1, 100, []byte{0x50}, nil), 0); err != nil {
		t.Fatalf("ScheduleExecution: %v", err)
	}

	// The failed Record pauses commits; the worker holds the outcome
	// until someone resumes.
	deadline := time.After(5 * time.Second)
	for !s.CommitsPaused() {
		select {
		case <-deadline:
			t.Fatal("commits never paused after recorder failure")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	s.ResumeCommits()

	stats, err := s.EndSession(WaitSessionEnded)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if stats.Executed != 1 || stats.Failed != 0 {
		t.Fatalf("stats executed=%d failed=%d, want 1/0", stats.Executed, stats.Failed)
	}
	if rec.attemptCount() != 2 || rec.recordedCount() != 1 {
		t.Fatalf("recorder attempts=%d recorded=%d, want 2/1", rec.attemptCount(), rec.recordedCount())
	}
}

func TestFlushReleasesPausedRecording(t *testing.T) {
	bank := newTestBank(7)
	rec := &testRecorder{failures: 1 << 30}
	s := newScheduler(t, testConfig(2), NewSchedulingContext(sched.ModeProduce, bank, rec))

	if err := s.ScheduleExecution(testTx(1, 100, []byte{0x51}, nil), 0); err != nil {
		t.Fatalf("ScheduleExecution: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for !s.CommitsPaused() {
		select {
		case <-deadline:
			t.Fatal("commits never paused after recorder failure")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	stats, err := s.EndSession(WaitSessionFlushed)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if stats.Executed != 1 || stats.Failed != 1 {
		t.Fatalf("stats executed=%d failed=%d, want the abandoned outcome counted failed", stats.Executed, stats.Failed)
	}
	if rec.recordedCount() != 0 {
		t.Fatalf("recorder committed %d outcomes through a flush", rec.recordedCount())
	}
}

func TestSessionRestartRunsNewBank(t *testing.T) {
	first := newTestBank(10)
	s := newScheduler(t, testConfig(2), NewSchedulingContext(sched.ModeProduce, first, nil))

	if err := s.ScheduleExecution(testTx(1, 100, []byte{0x60}, nil), 0); err != nil {
		t.Fatalf("ScheduleExecution: %v", err)
	}
	stats, err := s.EndSession(WaitSessionEnded)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if stats.Executed != 1 {
		t.Fatalf("first session executed %d, want 1", stats.Executed)
	}

	second := newTestBank(11)
	s.RestartSession(NewSchedulingContext(sched.ModeReplay, second, nil))
	if got := s.Context().Slot(); got != 11 {
		t.Fatalf("restarted context slot = %d, want 11", got)
	}
	for i := 0; i < 3; i++ {
		if err := s.ScheduleExecution(testTx(byte(i), 0, []byte{0x61, byte(0x70 + i)}, nil), uint64(i)); err != nil {
			t.Fatalf("ScheduleExecution(%d): %v", i, err)
		}
	}
	stats, err = s.EndSession(WaitSessionEnded)
	if err != nil {
		t.Fatalf("second EndSession: %v", err)
	}
	if stats.Executed != 3 {
		t.Fatalf("second session executed %d, want 3", stats.Executed)
	}
	if first.executedCount() != 1 || second.executedCount() != 3 {
		t.Fatalf("bank hits %d/%d, want 1/3", first.executedCount(), second.executedCount())
	}
}

func TestRestartUnparkedPanics(t *testing.T) {
	bank := newTestBank(7)
	s := newScheduler(t, testConfig(2), NewSchedulingContext(sched.ModeProduce, bank, nil))

	defer func() {
		if recover() == nil {
			t.Fatal("RestartSession on an active scheduler did not panic")
		}
	}()
	s.RestartSession(NewSchedulingContext(sched.ModeProduce, bank, nil))
}

func TestShutdownTerminatesScheduler(t *testing.T) {
	bank := newTestBank(7)
	s, err := NewPooledScheduler(9, testConfig(2), NewSchedulingContext(sched.ModeProduce, bank, nil))
	if err != nil {
		t.Fatalf("NewPooledScheduler: %v", err)
	}
	if err := s.ScheduleExecution(testTx(1, 100, []byte{0x70}, nil), 0); err != nil {
		t.Fatalf("ScheduleExecution: %v", err)
	}
	s.Shutdown()
	s.Shutdown() // idempotent

	if err := s.ScheduleExecution(testTx(2, 100, []byte{0x71}, nil), 1); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("ScheduleExecution after shutdown = %v, want ErrSessionEnded", err)
	}
}
