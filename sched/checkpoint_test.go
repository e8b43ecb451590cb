package sched

import (
	"testing"
	"time"
)

type testCtx struct {
	mode Mode
	slot uint64
}

func (c testCtx) Mode() Mode   { return c.mode }
func (c testCtx) Slot() uint64 { return c.slot }

type arrival struct {
	ctx Context
	ok  bool
}

func arriveAll(cp *Checkpoint, n int) chan arrival {
	got := make(chan arrival, n)
	for i := 0; i < n; i++ {
		go func() {
			ctx, ok := cp.Arrive()
			got <- arrival{ctx, ok}
		}()
	}
	return got
}

func TestCheckpointRestart(t *testing.T) {
	cp := NewCheckpoint(3)
	got := arriveAll(cp, 3)

	cp.WaitDrained()
	select {
	case <-got:
		t.Fatal("participant released before the restart decision")
	default:
	}

	cp.Restart(testCtx{mode: ModeProduce, slot: 42})
	for i := 0; i < 3; i++ {
		a := <-got
		if !a.ok {
			t.Fatal("restart released a participant with terminate")
		}
		if a.ctx.Slot() != 42 || a.ctx.Mode() != ModeProduce {
			t.Fatalf("participant got context slot=%d mode=%s", a.ctx.Slot(), a.ctx.Mode())
		}
	}
}

func TestCheckpointTerminate(t *testing.T) {
	cp := NewCheckpoint(2)
	got := arriveAll(cp, 2)

	cp.WaitDrained()
	cp.Terminate()
	for i := 0; i < 2; i++ {
		a := <-got
		if a.ok || a.ctx != nil {
			t.Fatalf("terminate released participant with ctx=%v ok=%v", a.ctx, a.ok)
		}
	}
}

func TestCheckpointWaitDrainedBlocks(t *testing.T) {
	cp := NewCheckpoint(1)
	drained := make(chan struct{})
	go func() {
		cp.WaitDrained()
		close(drained)
	}()

	select {
	case <-drained:
		t.Fatal("WaitDrained returned before any arrival")
	case <-time.After(10 * time.Millisecond):
	}

	got := arriveAll(cp, 1)
	<-drained
	cp.Terminate()
	<-got
}

func TestCheckpointCarriesResult(t *testing.T) {
	cp := NewCheckpoint(1)
	stats := SessionStats{Executed: 9, Flushed: 2, ComputeUnits: 77}
	go func() {
		cp.RegisterResult(stats)
		cp.Arrive()
	}()

	cp.WaitDrained()
	if got := cp.TakeResult(); got != stats {
		t.Fatalf("result = %+v, want %+v", got, stats)
	}
	cp.Terminate()
}

func TestCheckpointDoubleDecisionPanics(t *testing.T) {
	cp := NewCheckpoint(1)
	got := arriveAll(cp, 1)
	cp.WaitDrained()
	cp.Terminate()
	<-got

	defer func() {
		if recover() == nil {
			t.Fatal("second decision did not panic")
		}
	}()
	cp.Restart(testCtx{})
}
