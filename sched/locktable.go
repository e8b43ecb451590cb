package sched

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/google/btree"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/eth2030/unisched/types"
)

// RequestedUsage is the access a lock attempt asks for.
type RequestedUsage uint8

const (
	// Readonly access may be shared by any number of concurrent readers.
	Readonly RequestedUsage = iota
	// Writable access is exclusive.
	Writable
)

// String returns the usage name.
func (u RequestedUsage) String() string {
	if u == Writable {
		return "writable"
	}
	return "readonly"
}

// LockStatus is the resolution of one lock attempt.
type LockStatus uint8

const (
	// LockSucceeded means the lock was granted immediately.
	LockSucceeded LockStatus = iota
	// LockProvisional means the address's next-usage slot now holds a
	// reservation that materializes once the current holders release.
	LockProvisional
	// LockFailed means the attempt was refused; the task must wait in the
	// contention index. Failed is a routine scheduling outcome, not an
	// error.
	LockFailed
)

// String returns the status name.
func (s LockStatus) String() string {
	switch s {
	case LockSucceeded:
		return "succeeded"
	case LockProvisional:
		return "provisional"
	default:
		return "failed"
	}
}

type usageKind uint8

const (
	usageUnused usageKind = iota
	usageReadonly
	usageWritable
)

// usage is the occupancy of one address: nothing, n concurrent readers, or
// one writer.
type usage struct {
	kind    usageKind
	readers int
}

func usageFor(requested RequestedUsage) usage {
	if requested == Writable {
		return usage{kind: usageWritable}
	}
	return usage{kind: usageReadonly, readers: 1}
}

// page is the lock cell of a single address.
//
// The current/next usage and the tracker list are mutated exclusively by the
// scheduling goroutine; no lock guards them. The contended tree is the one
// exception: indexer goroutines insert into it concurrently, so it sits
// behind its own mutex.
type page struct {
	address types.AccountKey

	current usage
	next    *usage
	tracker *ProvisioningTracker

	mu        sync.Mutex
	contended *btree.BTreeG[*Task]
}

func newPage(address types.AccountKey) *page {
	return &page{
		address: address,
		contended: btree.NewG(8, func(a, b *Task) bool {
			return a.weight.Less(b.weight)
		}),
	}
}

// attemptLock resolves one lock request against the page. A pending
// next-usage reservation refuses every new request, whatever the current
// usage; this is what keeps later arrivals from jumping the queue ahead of
// the reservation. Conflicting requests from first-attempt (runnable) tasks,
// or when the caller prefers immediate resolution, fail instead of
// reserving.
//
// On LockProvisional the second return value is the number of holders the
// reservation waits on (the reader population, or 1 for a writer).
func (p *page) attemptLock(fromRunnable, preferImmediate bool, requested RequestedUsage) (LockStatus, int) {
	if p.next != nil {
		return LockFailed, 0
	}
	switch p.current.kind {
	case usageUnused:
		p.current = usageFor(requested)
		return LockSucceeded, 0
	case usageReadonly:
		if requested == Readonly {
			p.current.readers++
			return LockSucceeded, 0
		}
	}
	// Conflicting combination.
	if fromRunnable || preferImmediate {
		return LockFailed, 0
	}
	reserved := usageFor(requested)
	p.next = &reserved
	holders := 1
	if p.current.kind == usageReadonly {
		holders = p.current.readers
	}
	return LockProvisional, holders
}

// unlock releases one unit of usage and reports whether the page became
// Unused. Releasing a lock that is not held is a protocol violation and
// panics.
func (p *page) unlock(requested RequestedUsage) bool {
	switch {
	case requested == Readonly && p.current.kind == usageReadonly:
		p.current.readers--
		if p.current.readers > 0 {
			return false
		}
	case requested == Writable && p.current.kind == usageWritable:
	default:
		panic(fmt.Sprintf("sched: unlock of %s not held on %s (current %v)",
			requested, p.address, p.current.kind))
	}
	p.current = usage{}
	return true
}

// cancelReservation clears a pending reservation that will never be
// fulfilled. Cancelling an empty slot is a protocol violation and panics.
func (p *page) cancelReservation() {
	if p.next == nil {
		panic("sched: cancel of empty reservation on " + p.address.String())
	}
	p.next = nil
}

// switchToNext promotes the pending reservation into the current usage.
// This is the only way a provisional reservation becomes a real lock. Must
// only be called when the page is Unused and a reservation exists.
func (p *page) switchToNext() {
	if p.current.kind != usageUnused || p.next == nil {
		panic("sched: invalid next-usage promotion on " + p.address.String())
	}
	p.current = *p.next
	p.next = nil
}

// wouldGrantNow reports whether an attempt for requested would succeed
// against the page's present state. Read-only; used by the post-registration
// recheck.
func (p *page) wouldGrantNow(requested RequestedUsage) bool {
	if p.next != nil {
		return false
	}
	if p.current.kind == usageUnused {
		return true
	}
	return p.current.kind == usageReadonly && requested == Readonly
}

// quiescent reports whether the page carries no lock state at all.
func (p *page) quiescent() bool {
	if p.current.kind != usageUnused || p.next != nil || p.tracker != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contended.Len() == 0
}

// AddressLockTable maps account keys to their lock pages, creating pages
// lazily on first access. Pages are never evicted; the table's lifetime
// matches one bounded scheduling session. Page creation is safe from any
// goroutine; page lock state is owned by the scheduling goroutine.
type AddressLockTable struct {
	pages cmap.ConcurrentMap[types.AccountKey, *page]
}

// NewAddressLockTable creates an empty table.
func NewAddressLockTable() *AddressLockTable {
	return &AddressLockTable{
		pages: cmap.NewWithCustomShardingFunction[types.AccountKey, *page](shardAccountKey),
	}
}

func shardAccountKey(key types.AccountKey) uint32 {
	h := fnv.New32a()
	h.Write(key[:])
	return h.Sum32()
}

// load returns the page for address, creating it on first access.
func (t *AddressLockTable) load(address types.AccountKey) *page {
	if p, ok := t.pages.Get(address); ok {
		return p
	}
	p := newPage(address)
	if !t.pages.SetIfAbsent(address, p) {
		p, _ = t.pages.Get(address)
	}
	return p
}

// PageCount returns the number of addresses ever touched.
func (t *AddressLockTable) PageCount() int { return t.pages.Count() }

// AllUnused reports whether no page carries any lock state: no current
// usage, no pending reservation, no trackers, no contended tasks. After a
// session flush this must hold.
func (t *AddressLockTable) AllUnused() bool {
	for tuple := range t.pages.IterBuffered() {
		if !tuple.Val.quiescent() {
			return false
		}
	}
	return true
}

// Preloader hands out lock attempts bound to their pages, creating table
// entries lazily. Safe to use from admission goroutines.
type Preloader struct {
	table *AddressLockTable
}

// NewPreloader returns a Preloader over table.
func NewPreloader(table *AddressLockTable) *Preloader {
	return &Preloader{table: table}
}

// Load builds a lock attempt for one address at the requested usage.
func (pl *Preloader) Load(address types.AccountKey, requested RequestedUsage) *LockAttempt {
	return &LockAttempt{
		address: address,
		usage:   requested,
		page:    pl.table.load(address),
	}
}

// AttemptsForTransaction resolves a transaction's account lists into lock
// attempts, sorted by address. Each account must appear exactly once across
// both lists; admission is responsible for deduplication.
func (pl *Preloader) AttemptsForTransaction(tx *types.Transaction) []*LockAttempt {
	attempts := make([]*LockAttempt, 0, tx.AccountCount())
	for _, address := range tx.WritableAccounts() {
		attempts = append(attempts, pl.Load(address, Writable))
	}
	for _, address := range tx.ReadonlyAccounts() {
		attempts = append(attempts, pl.Load(address, Readonly))
	}
	sortAttempts(attempts)
	return attempts
}
