// Package metrics wraps the Prometheus collectors exported by the gateway
// and the reaper.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all collectors. Each Registry carries its own Prometheus
// registry so multiple instances can coexist in one process.
type Registry struct {
	reg *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	UpgradesRejected  prometheus.Counter

	MessagesIncoming prometheus.Counter
	MessagesOutgoing prometheus.Counter
	MessagesDropped  prometheus.Counter

	WebhooksDispatched *prometheus.CounterVec
	WebhooksFailed     *prometheus.CounterVec

	RecordsReaped prometheus.Counter
	NodesChecked  prometheus.Counter
}

// NewRegistry creates and registers all collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "socketless_connections_active",
			Help: "Number of WebSocket connections currently held by this node",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "socketless_connections_total",
			Help: "Total number of accepted WebSocket connections",
		}),
		UpgradesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "socketless_upgrades_rejected_total",
			Help: "Total number of upgrade requests rejected (bad token or plan limit)",
		}),
		MessagesIncoming: factory.NewCounter(prometheus.CounterOpts{
			Name: "socketless_messages_incoming_total",
			Help: "Total number of client messages accepted by the usage gate",
		}),
		MessagesOutgoing: factory.NewCounter(prometheus.CounterOpts{
			Name: "socketless_messages_outgoing_total",
			Help: "Total number of webhook-requested messages published to clients",
		}),
		MessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "socketless_messages_dropped_total",
			Help: "Total number of messages dropped by usage-gate denial",
		}),
		WebhooksDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "socketless_webhooks_dispatched_total",
			Help: "Total number of webhook deliveries attempted, by event action",
		}, []string{"action"}),
		WebhooksFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "socketless_webhooks_failed_total",
			Help: "Total number of webhook deliveries that errored, by event action",
		}, []string{"action"}),
		RecordsReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "socketless_records_reaped_total",
			Help: "Total number of connection records deleted for unresponsive nodes",
		}),
		NodesChecked: factory.NewCounter(prometheus.CounterOpts{
			Name: "socketless_nodes_checked_total",
			Help: "Total number of node liveness checks performed",
		}),
	}
}

// Handler returns the HTTP handler exposing the metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
