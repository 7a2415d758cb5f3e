package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialstream_bus_events_dispatched_total",
		Help: "Change events fanned out to live subscribers, by collection.",
	}, []string{"collection"})

	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "socialstream_bus_active_subscriptions",
		Help: "Currently registered live subscriptions.",
	})

	DroppedSubscribers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socialstream_bus_dropped_subscribers_total",
		Help: "Subscriptions terminated because the consumer fell behind.",
	})

	EventsArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socialstream_worker_events_archived_total",
		Help: "Change-event envelopes written to the audit table.",
	})

	StoriesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socialstream_worker_stories_swept_total",
		Help: "Expired stories removed by the retention sweep.",
	})
)

// Handler exposes the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
