// Package sched implements the parallel transaction scheduling core: an
// address-based lock table with single-slot provisional reservations, the
// runnable/contended/uncontended task queues, the single-goroutine
// scheduling state machine that drives them, and the checkpoint barrier used
// to swap execution contexts without losing in-flight work.
//
// The concurrency contract is deliberately asymmetric. All lock bookkeeping
// (current/next usage, pending trackers) is mutated by exactly one
// scheduling goroutine; execution itself runs on parallel worker lanes that
// never touch lock state and report back over channels. Contended-task
// registration is the one concern delegated to auxiliary indexer goroutines,
// synchronized per address.
package sched

import "fmt"

// Mode selects how admission order translates into scheduling priority.
type Mode uint8

const (
	// ModeReplay replays an existing ledger: the admission index alone
	// decides priority so execution follows ledger order.
	ModeReplay Mode = iota
	// ModeProduce admits streaming traffic for new block production: the
	// fee-derived priority dominates and the admission index only breaks
	// ties.
	ModeProduce
)

// String returns the mode name used in log prefixes.
func (m Mode) String() string {
	switch m {
	case ModeReplay:
		return "replay"
	case ModeProduce:
		return "produce"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Context identifies the execution target of one scheduling session. The
// concrete type is supplied by the orchestration layer; the core only needs
// the mode and slot for weight computation and logging.
type Context interface {
	Mode() Mode
	Slot() uint64
}
