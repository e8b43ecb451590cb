package metrics

import (
	"math"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// meterTick is the averaging interval of the moving-rate windows.
const meterTick = 5 * time.Second

// ewma is one exponentially weighted moving average window. Events arrive
// through record from any goroutine; tick folds them into the rate and must
// be serialized by the caller. Meter ticks all its windows under one mutex.
type ewma struct {
	alpha   float64
	pending atomic.Int64
	rate    atomic.Float64
	primed  bool
}

func newEWMA(window time.Duration) *ewma {
	return &ewma{alpha: 1 - math.Exp(-meterTick.Seconds()/window.Seconds())}
}

func (e *ewma) record(n int64) { e.pending.Add(n) }

// tick folds the pending events of one interval into the rate. The first
// tick seeds the rate with the raw sample instead of averaging against the
// zero start value.
func (e *ewma) tick() {
	sample := float64(e.pending.Swap(0)) / meterTick.Seconds()
	if !e.primed {
		e.primed = true
		e.rate.Store(sample)
		return
	}
	r := e.rate.Load()
	e.rate.Store(r + e.alpha*(sample-r))
}

// perSecond returns the current averaged rate.
func (e *ewma) perSecond() float64 { return e.rate.Load() }

// Meter tracks how often something happens: a total count, a lifetime mean
// rate, and 1/5/15-minute moving averages in the manner of Unix load
// figures.
type Meter struct {
	name  string
	count atomic.Int64
	start time.Time

	mu   sync.Mutex
	last time.Time
	m1   *ewma
	m5   *ewma
	m15  *ewma
}

// NewMeter returns an unregistered meter. Registry.Meter is the usual way
// to obtain one.
func NewMeter() *Meter { return newMeter("") }

func newMeter(name string) *Meter {
	now := time.Now()
	return &Meter{
		name:  name,
		start: now,
		last:  now,
		m1:    newEWMA(1 * time.Minute),
		m5:    newEWMA(5 * time.Minute),
		m15:   newEWMA(15 * time.Minute),
	}
}

// Mark records n events.
func (m *Meter) Mark(n int64) {
	m.count.Add(n)
	m.m1.record(n)
	m.m5.record(n)
	m.m15.record(n)
	m.advance(time.Now())
}

// advance ticks every window once per elapsed interval since the last tick.
func (m *Meter) advance(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for now.Sub(m.last) >= meterTick {
		m.m1.tick()
		m.m5.tick()
		m.m15.tick()
		m.last = m.last.Add(meterTick)
	}
}

// Count returns the total number of events marked.
func (m *Meter) Count() int64 { return m.count.Load() }

// Rate1 returns the 1-minute moving average rate per second.
func (m *Meter) Rate1() float64 {
	m.advance(time.Now())
	return m.m1.perSecond()
}

// Rate5 returns the 5-minute moving average rate per second.
func (m *Meter) Rate5() float64 {
	m.advance(time.Now())
	return m.m5.perSecond()
}

// Rate15 returns the 15-minute moving average rate per second.
func (m *Meter) Rate15() float64 {
	m.advance(time.Now())
	return m.m15.perSecond()
}

// RateMean returns the lifetime mean rate per second.
func (m *Meter) RateMean() float64 {
	elapsed := time.Since(m.start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.count.Load()) / elapsed
}

// Name returns the registered name, empty for standalone meters.
func (m *Meter) Name() string { return m.name }
