package sched

import (
	"math"

	"github.com/holiman/uint256"
)

// UniqueWeight is the total-order priority key of a task. It packs the
// fee-derived priority above a strictly-decreasing admission component so
// that a higher priority always wins and, among equal priorities, the
// earlier admission wins. The admission component makes every weight unique,
// so ties are impossible by construction and weights can key ordered maps
// directly.
type UniqueWeight struct {
	value uint256.Int
}

// ProduceWeight computes the block-production weight: priority in the high
// 64 bits, inverted admission index in the low 64 bits.
func ProduceWeight(priority, index uint64) UniqueWeight {
	v := new(uint256.Int).SetUint64(priority)
	v.Lsh(v, 64)
	v.Or(v, new(uint256.Int).SetUint64(math.MaxUint64-index))
	return UniqueWeight{value: *v}
}

// ReplayWeight computes the replay weight: the inverted admission index
// alone, so ledger order is execution priority order.
func ReplayWeight(index uint64) UniqueWeight {
	v := new(uint256.Int).SetUint64(math.MaxUint64 - index)
	return UniqueWeight{value: *v}
}

// WeightFor computes the weight for a task admitted at index under mode.
func WeightFor(mode Mode, priority, index uint64) UniqueWeight {
	if mode == ModeProduce {
		return ProduceWeight(priority, index)
	}
	return ReplayWeight(index)
}

// Cmp compares two weights, returning -1, 0 or 1.
func (w UniqueWeight) Cmp(other UniqueWeight) int {
	return w.value.Cmp(&other.value)
}

// Less reports whether w orders strictly below other.
func (w UniqueWeight) Less(other UniqueWeight) bool {
	return w.value.Lt(&other.value)
}

// String returns the weight as a hex string for logging.
func (w UniqueWeight) String() string {
	return w.value.Hex()
}
