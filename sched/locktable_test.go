package sched

import (
	"testing"

	"github.com/eth2030/unisched/types"
)

func acct(b byte) types.AccountKey {
	return types.BytesToAccountKey([]byte{b})
}

func TestAttemptLockGrants(t *testing.T) {
	p := newPage(acct(1))

	if st, _ := p.attemptLock(true, false, Readonly); st != LockSucceeded {
		t.Fatalf("readonly on unused = %s, want succeeded", st)
	}
	if st, _ := p.attemptLock(true, false, Readonly); st != LockSucceeded {
		t.Fatalf("second readonly = %s, want succeeded", st)
	}
	if p.current.kind != usageReadonly || p.current.readers != 2 {
		t.Fatalf("current = %+v, want 2 readers", p.current)
	}
	if st, _ := p.attemptLock(true, false, Writable); st != LockFailed {
		t.Fatalf("runnable writable over readers = %s, want failed", st)
	}

	w := newPage(acct(2))
	if st, _ := w.attemptLock(true, false, Writable); st != LockSucceeded {
		t.Fatalf("writable on unused = %s, want succeeded", st)
	}
	if st, _ := w.attemptLock(true, false, Readonly); st != LockFailed {
		t.Fatalf("runnable readonly over writer = %s, want failed", st)
	}
}

func TestAttemptLockReserves(t *testing.T) {
	p := newPage(acct(1))
	p.attemptLock(true, false, Readonly)
	p.attemptLock(true, false, Readonly)
	p.attemptLock(true, false, Readonly)

	st, holders := p.attemptLock(false, false, Writable)
	if st != LockProvisional {
		t.Fatalf("retry writable over readers = %s, want provisional", st)
	}
	if holders != 3 {
		t.Fatalf("holders = %d, want reader population 3", holders)
	}

	w := newPage(acct(2))
	w.attemptLock(true, false, Writable)
	st, holders = w.attemptLock(false, false, Readonly)
	if st != LockProvisional || holders != 1 {
		t.Fatalf("retry readonly over writer = %s/%d, want provisional/1", st, holders)
	}
}

func TestAttemptLockPreferImmediateFails(t *testing.T) {
	p := newPage(acct(1))
	p.attemptLock(true, false, Writable)

	if st, _ := p.attemptLock(false, true, Writable); st != LockFailed {
		t.Fatalf("prefer-immediate conflict = %s, want failed", st)
	}
	if p.next != nil {
		t.Fatal("failed attempt left a reservation behind")
	}
}

func TestReservationBlocksAllAttempts(t *testing.T) {
	p := newPage(acct(1))
	p.attemptLock(true, false, Writable)
	if st, _ := p.attemptLock(false, false, Writable); st != LockProvisional {
		t.Fatal("setup: reservation not granted")
	}

	// Every new attempt must fail while the slot is occupied, whatever it
	// asks for and however it arrives.
	if st, _ := p.attemptLock(true, false, Readonly); st != LockFailed {
		t.Fatalf("readonly behind reservation = %s, want failed", st)
	}
	if st, _ := p.attemptLock(false, false, Readonly); st != LockFailed {
		t.Fatalf("retry readonly behind reservation = %s, want failed", st)
	}

	// Even with the current usage fully released, the pending reservation
	// still refuses newcomers: the reserved task is next, nobody jumps it.
	if !p.unlock(Writable) {
		t.Fatal("unlock did not empty the page")
	}
	if st, _ := p.attemptLock(true, false, Readonly); st != LockFailed {
		t.Fatalf("readonly on unused page with reservation = %s, want failed", st)
	}

	p.switchToNext()
	if p.current.kind != usageWritable || p.next != nil {
		t.Fatalf("promotion left current=%v next=%v", p.current, p.next)
	}
}

func TestUnlockNotHeldPanics(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*page)
		usage RequestedUsage
	}{
		{"unused page", func(*page) {}, Writable},
		{"readonly released as writable", func(p *page) { p.attemptLock(true, false, Readonly) }, Writable},
		{"writable released as readonly", func(p *page) { p.attemptLock(true, false, Writable) }, Readonly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPage(acct(9))
			tt.setup(p)
			defer func() {
				if recover() == nil {
					t.Fatal("mismatched unlock did not panic")
				}
			}()
			p.unlock(tt.usage)
		})
	}
}

func TestInvalidPromotionPanics(t *testing.T) {
	p := newPage(acct(1))
	defer func() {
		if recover() == nil {
			t.Fatal("promotion without reservation did not panic")
		}
	}()
	p.switchToNext()
}

func TestCancelReservation(t *testing.T) {
	p := newPage(acct(1))
	p.attemptLock(true, false, Writable)
	p.attemptLock(false, false, Writable)
	p.cancelReservation()
	if p.next != nil {
		t.Fatal("reservation survived cancel")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("cancel of empty slot did not panic")
		}
	}()
	p.cancelReservation()
}

func TestPreloaderSharesPages(t *testing.T) {
	table := NewAddressLockTable()
	pl := NewPreloader(table)

	a := pl.Load(acct(1), Writable)
	b := pl.Load(acct(1), Readonly)
	if a.page != b.page {
		t.Fatal("same address resolved to different pages")
	}
	if table.PageCount() != 1 {
		t.Fatalf("page count = %d, want 1", table.PageCount())
	}
}

func TestAttemptsForTransactionSorted(t *testing.T) {
	pl := NewPreloader(NewAddressLockTable())
	tx := types.NewTransaction(nil,
		[]types.AccountKey{acct(7), acct(2)},
		[]types.AccountKey{acct(5), acct(1)}, 0)

	attempts := pl.AttemptsForTransaction(tx)
	if len(attempts) != 4 {
		t.Fatalf("attempt count = %d, want 4", len(attempts))
	}
	for i := 1; i < len(attempts); i++ {
		if !attempts[i-1].Address().Less(attempts[i].Address()) {
			t.Fatalf("attempts out of order at %d: %s !< %s",
				i, attempts[i-1].Address(), attempts[i].Address())
		}
	}
	wantUsage := map[byte]RequestedUsage{1: Readonly, 2: Writable, 5: Readonly, 7: Writable}
	for _, a := range attempts {
		addr := a.Address()
		if a.Usage() != wantUsage[addr[31]] {
			t.Errorf("address %s usage = %s", addr, a.Usage())
		}
	}
}

func TestNewTaskDuplicateAccountPanics(t *testing.T) {
	pl := NewPreloader(NewAddressLockTable())
	tx := types.NewTransaction(nil,
		[]types.AccountKey{acct(1)},
		[]types.AccountKey{acct(1)}, 0)
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate account did not panic")
		}
	}()
	NewTask(pl, tx, ReplayWeight(0))
}

func TestAllUnused(t *testing.T) {
	table := NewAddressLockTable()
	pl := NewPreloader(table)

	a := pl.Load(acct(1), Writable)
	if !table.AllUnused() {
		t.Fatal("fresh table not all-unused")
	}
	a.page.attemptLock(true, false, Writable)
	if table.AllUnused() {
		t.Fatal("held lock reported all-unused")
	}
	a.page.unlock(Writable)
	if !table.AllUnused() {
		t.Fatal("released table not all-unused")
	}
}
