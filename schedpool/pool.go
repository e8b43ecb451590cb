package schedpool

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/eth2030/unisched/log"
	"github.com/eth2030/unisched/metrics"
)

// ErrPoolClosed reports a Take against a closed pool.
var ErrPoolClosed = errors.New("schedpool: pool closed")

// SchedulerPool hands out PooledSchedulers, one per live bank. Ended
// schedulers return to an idle stack and are revived for later banks so
// the goroutine set and the lock table shards are reused across slots.
type SchedulerPool struct {
	cfg Config
	log *log.Logger

	mu     sync.Mutex
	idle   []*PooledScheduler
	nextID uint64
	closed bool
}

// NewSchedulerPool returns an empty pool. Schedulers are spawned lazily by
// Take.
func NewSchedulerPool(cfg Config) *SchedulerPool {
	return &SchedulerPool{
		cfg: cfg.sanitized(),
		log: log.Default().Module("schedpool"),
	}
}

// Take returns a scheduler running a fresh session against ctx. The most
// recently returned idle scheduler is revived first; a new one is spawned
// when none is parked.
func (p *SchedulerPool) Take(ctx *SchedulingContext) (*PooledScheduler, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		p.mu.Unlock()

		metrics.PoolIdle.Dec()
		s.RestartSession(ctx)
		return s, nil
	}
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	s, err := NewPooledScheduler(id, p.cfg, ctx)
	if err != nil {
		return nil, err
	}
	metrics.PoolSpawned.Inc()
	return s, nil
}

// Return parks a scheduler back into the pool. The caller must have ended
// the session first; returning a scheduler still bound to a bank panics.
func (p *SchedulerPool) Return(s *PooledScheduler) {
	if !s.parked() {
		panic("schedpool: scheduler returned while its session is live")
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		s.Shutdown()
		return
	}
	p.idle = append(p.idle, s)
	p.mu.Unlock()
	metrics.PoolIdle.Inc()
}

// Close shuts down every idle scheduler and refuses further Takes.
// Schedulers currently taken are unaffected; returning them after Close
// shuts them down instead of parking them.
func (p *SchedulerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, s := range idle {
		s.Shutdown()
	}
	metrics.PoolIdle.Set(0)
	p.log.Info("pool closed", "idle_shutdown", len(idle))
}
