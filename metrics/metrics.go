// Package metrics exposes Prometheus collectors for the tunnel reducer and
// its effects.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yllada/vpn-client/tunnel"
)

const defaultNamespace = "vpn_client"

// Collector records reducer activity on a private registry.
type Collector struct {
	registry *prometheus.Registry

	actions     *prometheus.CounterVec
	effects     *prometheus.CounterVec
	loadState   *prometheus.GaugeVec
	tunnelState *prometheus.GaugeVec
}

var _ tunnel.Metrics = (*Collector)(nil)

// NewCollector creates a collector. An empty namespace uses "vpn_client".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = defaultNamespace
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tunnel",
				Name:      "actions_total",
				Help:      "Total number of actions handled by the tunnel reducer.",
			},
			[]string{"action"},
		),
		effects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tunnel",
				Name:      "effects_total",
				Help:      "Total number of effects executed.",
			},
			[]string{"effect", "result"},
		),
		loadState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "tunnel",
				Name:      "load_state",
				Help:      "Current provider manager load state (1 for the active state).",
			},
			[]string{"state"},
		),
		tunnelState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "tunnel",
				Name:      "status",
				Help:      "Current tunnel connection status (1 for the active status).",
			},
			[]string{"status"},
		),
	}

	c.registry.MustRegister(
		c.actions,
		c.effects,
		c.loadState,
		c.tunnelState,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return c
}

// ActionHandled counts an action processed by the reducer.
func (c *Collector) ActionHandled(action string) {
	c.actions.WithLabelValues(action).Inc()
}

// EffectExecuted counts an executed effect and whether it failed.
func (c *Collector) EffectExecuted(effect string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	c.effects.WithLabelValues(effect, result).Inc()
}

// StateChanged sets the load-state and status gauges so that exactly one
// label of each is 1. Every status is exported, so a status that was never
// reached reads 0 rather than missing.
func (c *Collector) StateChanged(load, status string) {
	c.loadState.Reset()
	c.loadState.WithLabelValues(load).Set(1)
	for _, st := range tunnel.Statuses() {
		name := st.String()
		v := 0.0
		if name == status {
			v = 1
		}
		c.tunnelState.WithLabelValues(name).Set(v)
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler exposing the collector's metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
