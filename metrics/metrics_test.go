package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCounter(t *testing.T) {
	c := newCounter("c")
	c.Inc()
	c.Add(41)
	c.Add(-100)
	if got := c.Value(); got != 42 {
		t.Fatalf("value = %d, want 42 with the negative add dropped", got)
	}
	if c.Name() != "c" {
		t.Fatalf("name = %q", c.Name())
	}
}

func TestCounterConcurrent(t *testing.T) {
	c := newCounter("c")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()
	if got := c.Value(); got != 8000 {
		t.Fatalf("value = %d, want 8000", got)
	}
}

func TestGauge(t *testing.T) {
	g := newGauge("g")
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()
	if got := g.Value(); got != 9 {
		t.Fatalf("value = %d, want 9", got)
	}
	g.Set(-5)
	if got := g.Value(); got != -5 {
		t.Fatalf("value = %d, want -5", got)
	}
}

func TestHistogramSnapshot(t *testing.T) {
	h := newHistogram("h")
	if s := h.Snapshot(); s != (HistogramSnapshot{}) {
		t.Fatalf("empty snapshot = %+v, want zero", s)
	}
	if got := (HistogramSnapshot{}).Mean(); got != 0 {
		t.Fatalf("empty mean = %v, want 0", got)
	}

	for _, v := range []float64{4, -2, 10} {
		h.Observe(v)
	}
	s := h.Snapshot()
	if s.Count != 3 || s.Sum != 12 || s.Min != -2 || s.Max != 10 {
		t.Fatalf("snapshot = %+v", s)
	}
	if s.Mean() != 4 {
		t.Fatalf("mean = %v, want 4", s.Mean())
	}
}

func TestHistogramFirstObservationSetsExtremes(t *testing.T) {
	h := newHistogram("h")
	h.Observe(7)
	s := h.Snapshot()
	if s.Min != 7 || s.Max != 7 {
		t.Fatalf("extremes = %v/%v, want 7/7", s.Min, s.Max)
	}
}

func TestTimerRecordsIntoHistogram(t *testing.T) {
	h := newHistogram("h")
	tm := NewTimer(h)
	time.Sleep(2 * time.Millisecond)
	d := tm.Stop()
	if d < 2*time.Millisecond {
		t.Fatalf("elapsed = %v, want at least the sleep", d)
	}
	s := h.Snapshot()
	if s.Count != 1 {
		t.Fatalf("count = %d, want 1", s.Count)
	}
	if s.Max < 0 {
		t.Fatalf("recorded %v ms, want non-negative", s.Max)
	}
}

func TestTimerNilHistogram(t *testing.T) {
	tm := NewTimer(nil)
	if d := tm.Stop(); d < 0 {
		t.Fatalf("elapsed = %v", d)
	}
}
