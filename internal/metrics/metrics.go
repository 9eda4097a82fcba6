package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecordsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutornotify_delivery_records_created_total",
		Help: "Delivery records created, by channel.",
	}, []string{"channel"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutornotify_delivery_transitions_total",
		Help: "Delivery record status transitions, by channel and new status.",
	}, []string{"channel", "status"})

	DispatchRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutornotify_dispatch_rejected_total",
		Help: "Dispatches rejected before any record was created, by reason.",
	}, []string{"reason"})

	UnknownRecipients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutornotify_unknown_recipients_total",
		Help: "Explicitly targeted recipient ids dropped as unknown or inactive.",
	})

	PushDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutornotify_push_events_dropped_total",
		Help: "Push events dropped because a subscriber buffer was full.",
	})
)

// Handler serves the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
