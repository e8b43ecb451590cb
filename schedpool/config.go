// Package schedpool runs scheduling sessions. A PooledScheduler owns one
// SchedulingStateMachine and the goroutine set that drives it: a scheduler
// loop that is the sole writer of lock state, execution workers split across
// a normal and a high-priority lane, and a result collector. A SchedulerPool
// reuses parked schedulers across sessions.
package schedpool

import (
	"github.com/eth2030/unisched/sched"
	"github.com/eth2030/unisched/types"
)

// Config tunes a PooledScheduler and the pool that spawns them.
type Config struct {
	// Workers is the total number of execution workers per scheduler.
	Workers int
	// HighLaneFraction is the portion of workers serving the
	// high-priority lane. In produce mode the lane is dedicated to tasks
	// that already waited once; in replay mode high workers drain both
	// lanes.
	HighLaneFraction float64
	// IntakeBacklog buffers admitted tasks ahead of the scheduler loop.
	IntakeBacklog int

	// OnAbandon, when set, observes every task a session flush abandons,
	// with the error it was abandoned under.
	OnAbandon func(tx *types.Transaction, err error)

	// Machine tunes the scheduling state machine.
	Machine sched.MachineConfig
}

// DefaultConfig returns the settings used by the benchmark binary.
func DefaultConfig() Config {
	return Config{
		Workers:          8,
		HighLaneFraction: 0.25,
		IntakeBacklog:    1024,
		Machine:          sched.DefaultMachineConfig(),
	}
}

func (cfg Config) sanitized() Config {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.HighLaneFraction <= 0 || cfg.HighLaneFraction >= 1 {
		cfg.HighLaneFraction = def.HighLaneFraction
	}
	if cfg.IntakeBacklog <= 0 {
		cfg.IntakeBacklog = def.IntakeBacklog
	}
	return cfg
}

// highWorkers returns how many of the workers serve the high lane. At least
// one when more than one worker exists.
func (cfg Config) highWorkers() int {
	n := int(cfg.HighLaneFraction * float64(cfg.Workers))
	if n == 0 && cfg.Workers > 1 {
		n = 1
	}
	if n >= cfg.Workers {
		n = cfg.Workers - 1
	}
	return n
}
