package ops

import (
	"beacon/pkg/notify"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics owns the process registry and the counters the rest of the
// daemon increments. A dedicated registry keeps /metrics free of
// whatever default-registry noise linked libraries might add.
type Metrics struct {
	reg *prometheus.Registry

	EmitterRuns      *prometheus.CounterVec
	ListenerFailures *prometheus.CounterVec
	NotifyTotal      prometheus.Counter
}

// NewMetrics builds the registry. The active-listener gauge reads the
// hub directly at scrape time, so it never drifts from reality.
func NewMetrics(hub *notify.Hub[string]) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		EmitterRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "emitter_runs_total",
			Help:      "Scheduled emitter firings by emitter name.",
		}, []string{"emitter"}),
		ListenerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "listener_failures_total",
			Help:      "Listener errors and panics caught during dispatch, by event.",
		}, []string{"event"}),
		NotifyTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "notify_total",
			Help:      "Dispatched notifications.",
		}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EmitterRuns,
		m.ListenerFailures,
		m.NotifyTotal,
	)

	if hub != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "beacon",
			Name:      "listeners_active",
			Help:      "Listeners currently registered across all events.",
		}, func() float64 {
			total := 0
			for _, ev := range hub.EventNames() {
				total += hub.ListenerCount(ev)
			}
			return float64(total)
		}))
	}

	return m
}

// Registry exposes the underlying registry for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
