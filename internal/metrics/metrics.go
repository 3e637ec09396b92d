package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsPublished counts producer publishes by event kind
	// (message, read_receipt, presence).
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ichat",
		Subsystem: "producer",
		Name:      "events_published_total",
		Help:      "Events published to the broker, by kind.",
	}, []string{"kind"})

	// MessagesConsumed counts settled deliveries by queue and outcome
	// (processed, retried, requeued, dead_lettered).
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ichat",
		Subsystem: "consumer",
		Name:      "messages_consumed_total",
		Help:      "Deliveries settled by consumers, by queue and outcome.",
	}, []string{"queue", "outcome"})

	// GatewayEmits counts realtime events pushed to connected clients.
	GatewayEmits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ichat",
		Subsystem: "gateway",
		Name:      "emits_total",
		Help:      "Realtime events emitted to rooms and users.",
	}, []string{"event"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
