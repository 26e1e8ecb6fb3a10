package ipserver

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons a session was closed, used as metric label values.
const (
	closeReasonPeer        = "peer"
	closeReasonError       = "error"
	closeReasonMalformed   = "malformed"
	closeReasonDecrypt     = "decrypt"
	closeReasonOversized   = "oversized"
	closeReasonEvicted     = "evicted"
	closeReasonIdle        = "idle"
	closeReasonProgression = "progression"
	closeReasonTimedWrite  = "timed_write"
	closeReasonKeyExpired  = "key_expired"
	closeReasonUnpaired    = "unpaired"
	closeReasonStopped     = "stopped"
)

// metrics holds the server's collectors. They are only registered when
// Config.MetricsRegisterer is set.
type metrics struct {
	sessionsActive   prometheus.Gauge
	sessionsAccepted prometheus.Counter
	sessionsRejected prometheus.Counter
	sessionsClosed   *prometheus.CounterVec
	requests         *prometheus.CounterVec
	eventMessages    prometheus.Counter
	eventValues      prometheus.Counter
	bytesRead        prometheus.Counter
	bytesWritten     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "hap_ip_sessions_active",
			Help: "Current number of open controller sessions",
		}),
		sessionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "hap_ip_sessions_accepted_total",
			Help: "Total number of admitted controller connections",
		}),
		sessionsRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "hap_ip_sessions_rejected_total",
			Help: "Total number of connections closed for lack of a free session slot",
		}),
		sessionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hap_ip_sessions_closed_total",
			Help: "Total number of closed sessions",
		}, []string{"reason"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hap_ip_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"path", "code"}),
		eventMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "hap_ip_event_messages_total",
			Help: "Total number of EVENT messages sent",
		}),
		eventValues: f.NewCounter(prometheus.CounterOpts{
			Name: "hap_ip_event_values_total",
			Help: "Total number of characteristic values carried by EVENT messages",
		}),
		bytesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "hap_ip_read_bytes_total",
			Help: "Total number of bytes read from controllers",
		}),
		bytesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "hap_ip_written_bytes_total",
			Help: "Total number of bytes written to controllers",
		}),
	}
}

func (m *metrics) request(path string, code int) {
	m.requests.WithLabelValues(path, strconv.Itoa(code)).Inc()
}
