// Package metrics implements the scheduling engine's instrumentation
// primitives. Counters, gauges and meters are lock-free; histograms take a
// short mutex per observation. Everything registers by name in a Registry
// and is exported in Prometheus exposition format through the bridge in
// prometheus.go.
package metrics

import (
	"time"

	"go.uber.org/atomic"
)

// Counter accumulates a monotonically increasing count.
type Counter struct {
	name string
	n    atomic.Int64
}

func newCounter(name string) *Counter {
	return &Counter{name: name}
}

// Inc adds one.
func (c *Counter) Inc() { c.n.Inc() }

// Add adds n. Counters never go down; a negative n is dropped.
func (c *Counter) Add(n int64) {
	if n > 0 {
		c.n.Add(n)
	}
}

// Value returns the count so far.
func (c *Counter) Value() int64 { return c.n.Load() }

// Name returns the registered name.
func (c *Counter) Name() string { return c.name }

// Gauge holds an instantaneous value that moves in both directions.
type Gauge struct {
	name string
	v    atomic.Int64
}

func newGauge(name string) *Gauge {
	return &Gauge{name: name}
}

// Set replaces the value.
func (g *Gauge) Set(v int64) { g.v.Store(v) }

// Inc adds one.
func (g *Gauge) Inc() { g.v.Inc() }

// Dec subtracts one.
func (g *Gauge) Dec() { g.v.Dec() }

// Value returns the current value.
func (g *Gauge) Value() int64 { return g.v.Load() }

// Name returns the registered name.
func (g *Gauge) Name() string { return g.name }

// Timer measures one operation and records the elapsed milliseconds into a
// histogram when stopped.
type Timer struct {
	hist  *Histogram
	begin time.Time
}

// NewTimer starts timing against h.
func NewTimer(h *Histogram) *Timer {
	return &Timer{hist: h, begin: time.Now()}
}

// Stop records the elapsed time and returns it. A nil histogram skips the
// recording, so timers can be armed unconditionally.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.begin)
	if t.hist != nil {
		t.hist.Observe(float64(d.Milliseconds()))
	}
	return d
}
