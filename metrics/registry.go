package metrics

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is a flat, name-indexed collection of metrics with get-or-create
// semantics: asking for a name hands back the existing metric or makes one,
// so call sites never check for nil. Names share one namespace across all
// kinds; requesting an existing name as a different kind is a programming
// error and panics.
type Registry struct {
	mu      sync.Mutex
	metrics map[string]any
}

// DefaultRegistry holds the process-wide metrics declared in standard.go.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]any)}
}

func lookup[M any](r *Registry, name string, mk func(string) M) M {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.metrics[name]; ok {
		m, ok := existing.(M)
		if !ok {
			panic(fmt.Sprintf("metrics: %q already registered as %T", name, existing))
		}
		return m
	}
	m := mk(name)
	r.metrics[name] = m
	return m
}

// Counter returns the counter registered under name.
func (r *Registry) Counter(name string) *Counter { return lookup(r, name, newCounter) }

// Gauge returns the gauge registered under name.
func (r *Registry) Gauge(name string) *Gauge { return lookup(r, name, newGauge) }

// Histogram returns the histogram registered under name.
func (r *Registry) Histogram(name string) *Histogram { return lookup(r, name, newHistogram) }

// Meter returns the meter registered under name.
func (r *Registry) Meter(name string) *Meter { return lookup(r, name, newMeter) }

// Each calls fn once per registered metric in name order. fn receives the
// concrete *Counter, *Gauge, *Histogram or *Meter and runs outside the
// registry lock, so it may call back into the registry.
func (r *Registry) Each(fn func(name string, metric any)) {
	r.mu.Lock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	found := make([]any, len(names))
	for i, name := range names {
		found[i] = r.metrics[name]
	}
	r.mu.Unlock()

	for i, name := range names {
		fn(name, found[i])
	}
}

// Snapshot flattens every metric into a name-to-value map. Counters and
// gauges appear under their own names; histograms and meters expand into
// dotted sub-keys (count, sum, min, max, mean; count, rate1m).
func (r *Registry) Snapshot() map[string]any {
	out := make(map[string]any)
	r.Each(func(name string, metric any) {
		switch m := metric.(type) {
		case *Counter:
			out[name] = m.Value()
		case *Gauge:
			out[name] = m.Value()
		case *Histogram:
			s := m.Snapshot()
			out[name+".count"] = s.Count
			out[name+".sum"] = s.Sum
			out[name+".min"] = s.Min
			out[name+".max"] = s.Max
			out[name+".mean"] = s.Mean()
		case *Meter:
			out[name+".count"] = m.Count()
			out[name+".rate1m"] = m.Rate1()
		}
	})
	return out
}
