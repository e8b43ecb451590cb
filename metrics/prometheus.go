package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusConfig configures the Prometheus bridge.
type PrometheusConfig struct {
	// Namespace is an optional prefix prepended to all metric names
	// (e.g. "unisched" produces "unisched_sched_tasks_admitted").
	Namespace string
	// EnableRuntime controls whether Go runtime and process collectors are
	// registered alongside the registry bridge.
	EnableRuntime bool
}

// DefaultPrometheusConfig returns a config with sensible defaults.
func DefaultPrometheusConfig() PrometheusConfig {
	return PrometheusConfig{
		Namespace:     "unisched",
		EnableRuntime: true,
	}
}

// bridge adapts a Registry to the prometheus.Collector interface so the
// whole registry can be scraped through promhttp. Metrics are translated on
// every scrape via unchecked const metrics; descriptors are therefore not
// pre-announced in Describe, which prometheus explicitly supports.
type bridge struct {
	namespace string
	registry  *Registry
}

// NewCollector returns a prometheus.Collector view over reg. Metric names
// are sanitized (dots and dashes become underscores) and prefixed with
// namespace when non-empty.
func NewCollector(reg *Registry, namespace string) prometheus.Collector {
	return &bridge{namespace: namespace, registry: reg}
}

// Describe implements prometheus.Collector. Sending no descriptors marks the
// collector as unchecked, which fits a registry whose contents change at
// runtime.
func (b *bridge) Describe(ch chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector. Meters surface twice: their
// event total as a counter and their 1-minute rate as a gauge.
func (b *bridge) Collect(ch chan<- prometheus.Metric) {
	b.registry.Each(func(name string, value any) {
		switch v := value.(type) {
		case *Counter:
			ch <- prometheus.MustNewConstMetric(
				b.desc(name, "counter"), prometheus.CounterValue, float64(v.Value()))
		case *Gauge:
			ch <- prometheus.MustNewConstMetric(
				b.desc(name, "gauge"), prometheus.GaugeValue, float64(v.Value()))
		case *Histogram:
			s := v.Snapshot()
			ch <- prometheus.MustNewConstSummary(
				b.desc(name, "summary"), uint64(s.Count), s.Sum, nil)
		case *Meter:
			ch <- prometheus.MustNewConstMetric(
				b.desc(name, "counter"), prometheus.CounterValue, float64(v.Count()))
			ch <- prometheus.MustNewConstMetric(
				b.desc(name+".rate1m", "gauge"), prometheus.GaugeValue, v.Rate1())
		}
	})
}

func (b *bridge) desc(name, kind string) *prometheus.Desc {
	sanitized := strings.ReplaceAll(name, ".", "_")
	sanitized = strings.ReplaceAll(sanitized, "-", "_")
	if b.namespace != "" {
		sanitized = b.namespace + "_" + sanitized
	}
	return prometheus.NewDesc(sanitized, kind+" "+name, nil, nil)
}

// Handler returns an http.Handler serving the registry (and optionally the
// Go runtime collectors) in Prometheus exposition format.
func Handler(reg *Registry, cfg PrometheusConfig) http.Handler {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(NewCollector(reg, cfg.Namespace))
	if cfg.EnableRuntime {
		promReg.MustRegister(collectors.NewGoCollector())
		promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
}
