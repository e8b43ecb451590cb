package main

import (
	"encoding/binary"
	"math/rand"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/eth2030/unisched/types"
)

// benchBank burns CPU per execution so worker parallelism shows up in the
// numbers. Compute units are derived from the final digest to stay
// deterministic per transaction.
type benchBank struct {
	slot uint64
	spin int
}

func newBenchBank(slot uint64, spin int) *benchBank {
	return &benchBank{slot: slot, spin: spin}
}

func (b *benchBank) Slot() uint64 { return b.slot }

func (b *benchBank) ExecuteTask(tx *types.Transaction) *types.ExecutionOutcome {
	sum := blake2b.Sum256(tx.Payload())
	for i := 1; i < b.spin; i++ {
		sum = blake2b.Sum256(sum[:])
	}
	cu := 5000 + 1200*uint64(tx.AccountCount()) + uint64(sum[0])
	return &types.ExecutionOutcome{ComputeUnits: cu}
}

// ledgerRecorder stands in for the ledger commit path: it only counts what
// got recorded so a run can assert executed == committed.
type ledgerRecorder struct {
	mu           sync.Mutex
	committed    int
	computeUnits uint64
}

func newLedgerRecorder() *ledgerRecorder {
	return &ledgerRecorder{}
}

func (r *ledgerRecorder) Record(_ types.Hash, out *types.ExecutionOutcome) error {
	r.mu.Lock()
	r.committed++
	r.computeUnits += out.ComputeUnits
	r.mu.Unlock()
	return nil
}

func (r *ledgerRecorder) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed
}

// workload generates deterministic pseudorandom transactions. Accounts
// below the hot boundary are drawn with HotFraction probability, which is
// what makes the lock table sweat.
type workload struct {
	rng      *rand.Rand
	accounts int
	hot      int
	hotFrac  float64
}

func newWorkload(cfg benchConfig, seed int64) *workload {
	return &workload{
		rng:      rand.New(rand.NewSource(cfg.Seed ^ seed)),
		accounts: cfg.Accounts,
		hot:      cfg.HotAccounts,
		hotFrac:  cfg.HotFraction,
	}
}

func (w *workload) next() *types.Transaction {
	used := make(map[int]bool, 4)
	writes := make([]types.AccountKey, 0, 2)
	reads := make([]types.AccountKey, 0, 2)
	for i := 1 + w.rng.Intn(2); i > 0; i-- {
		writes = append(writes, accountKey(w.pickIdx(used)))
	}
	for i := w.rng.Intn(3); i > 0; i-- {
		reads = append(reads, accountKey(w.pickIdx(used)))
	}

	payload := make([]byte, 32)
	w.rng.Read(payload)
	priority := uint64(1 + w.rng.Intn(100000))
	return types.NewTransaction(payload, writes, reads, priority)
}

// pickIdx draws an account index not yet used by this transaction. Tiny
// hot spots can exhaust under a transaction's picks, so after a few tries
// the draw widens to the full key space.
func (w *workload) pickIdx(used map[int]bool) int {
	for tries := 0; ; tries++ {
		var idx int
		switch {
		case tries > 16:
			idx = w.rng.Intn(w.accounts)
		case w.hot > 0 && w.rng.Float64() < w.hotFrac:
			idx = w.rng.Intn(w.hot)
		default:
			idx = w.hot + w.rng.Intn(w.accounts-w.hot)
		}
		if !used[idx] {
			used[idx] = true
			return idx
		}
	}
}

func accountKey(i int) types.AccountKey {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(i))
	return types.BytesToAccountKey(b[:])
}
