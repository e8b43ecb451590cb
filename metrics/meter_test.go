package metrics

import (
	"math"
	"testing"
	"time"
)

func TestEWMAPrimesOnFirstTick(t *testing.T) {
	e := newEWMA(time.Minute)
	e.record(100)
	e.tick()
	want := 100.0 / meterTick.Seconds()
	if got := e.perSecond(); got != want {
		t.Fatalf("first tick rate = %v, want the raw sample %v", got, want)
	}
}

func TestEWMADecaysTowardNewSamples(t *testing.T) {
	e := newEWMA(time.Minute)
	e.record(100)
	e.tick()
	seeded := e.perSecond()

	// An empty interval decays the rate by exactly alpha.
	e.tick()
	want := seeded * (1 - e.alpha)
	if got := e.perSecond(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("decayed rate = %v, want %v", got, want)
	}
	if got := e.perSecond(); got >= seeded {
		t.Fatalf("rate %v did not decay below %v", got, seeded)
	}
}

func TestEWMAWindowAlpha(t *testing.T) {
	if fast, slow := newEWMA(time.Minute), newEWMA(15*time.Minute); fast.alpha <= slow.alpha {
		t.Fatalf("1m alpha %v not greater than 15m alpha %v", fast.alpha, slow.alpha)
	}
}

func TestMeterAdvanceTicksEveryWindow(t *testing.T) {
	m := newMeter("events")
	m.count.Add(50)
	m.m1.record(50)
	m.m5.record(50)
	m.m15.record(50)

	// Drive the clock by hand: one full interval elapses.
	m.advance(m.last.Add(meterTick))
	want := 50.0 / meterTick.Seconds()
	if got := m.m1.perSecond(); got != want {
		t.Fatalf("1m rate = %v, want %v", got, want)
	}
	if got := m.m15.perSecond(); got != want {
		t.Fatalf("15m rate = %v, want %v", got, want)
	}

	// A lagging caller catches up one tick per missed interval.
	m.advance(m.last.Add(3 * meterTick))
	if got := m.m1.perSecond(); got >= want {
		t.Fatalf("rate = %v, want decay below %v after empty intervals", got, want)
	}
}

func TestMeterCountAndMeanRate(t *testing.T) {
	m := NewMeter()
	m.Mark(3)
	m.Mark(2)
	if got := m.Count(); got != 5 {
		t.Fatalf("count = %d, want 5", got)
	}
	if got := m.RateMean(); got <= 0 {
		t.Fatalf("mean rate = %v, want positive", got)
	}
	if m.Name() != "" {
		t.Fatalf("standalone meter name = %q, want empty", m.Name())
	}
}
