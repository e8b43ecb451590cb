package metrics

import "sync"

// Histogram summarizes a stream of observations as count, sum and the
// observed extremes. It stops short of quantiles on purpose: the engine's
// latency distributions are scraped as Prometheus summaries, where count,
// sum and extremes are enough to spot regressions.
type Histogram struct {
	name string

	mu   sync.Mutex
	snap HistogramSnapshot
}

// HistogramSnapshot is a point-in-time copy of a histogram's state. Min and
// Max are zero until the first observation.
type HistogramSnapshot struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
}

// Mean returns the arithmetic mean of the snapshot, 0 when empty.
func (s HistogramSnapshot) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

func newHistogram(name string) *Histogram {
	return &Histogram{name: name}
}

// Observe records one value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	h.snap.Count++
	h.snap.Sum += v
	if h.snap.Count == 1 || v < h.snap.Min {
		h.snap.Min = v
	}
	if h.snap.Count == 1 || v > h.snap.Max {
		h.snap.Max = v
	}
	h.mu.Unlock()
}

// Snapshot returns a consistent copy of the current state.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}

// Name returns the registered name.
func (h *Histogram) Name() string { return h.name }
