package fetcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Fetcher's Prometheus instrumentation, one counter/gauge
// set per pipeline (thread_list, thread, media).
type metrics struct {
	requestsTotal  *prometheus.CounterVec
	requestErrors  *prometheus.CounterVec
	retriesTotal   *prometheus.CounterVec
	inFlight       *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		requestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ena_fetcher_requests_total",
			Help: "Total number of requests issued per pipeline.",
		}, []string{"pipeline"}),
		requestErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ena_fetcher_request_errors_total",
			Help: "Total number of failed requests per pipeline and error kind.",
		}, []string{"pipeline", "kind"}),
		retriesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ena_fetcher_retries_total",
			Help: "Total number of retry re-enqueues per pipeline.",
		}, []string{"pipeline"}),
		inFlight: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "ena_fetcher_in_flight",
			Help: "Number of requests currently in flight per pipeline.",
		}, []string{"pipeline"}),
	}
}

func kindLabel(k Kind) string {
	switch k {
	case KindNetwork:
		return "network"
	case KindBadStatus:
		return "bad_status"
	case KindNotModified:
		return "not_modified"
	case KindNotFound:
		return "not_found"
	case KindEmptyThread:
		return "empty_thread"
	case KindInvalidReplyTo:
		return "invalid_reply_to"
	case KindJSONParse:
		return "json_parse"
	case KindExistingMedia:
		return "existing_media"
	default:
		return "unknown"
	}
}
