// Package prometheus provides the Prometheus-backed implementations of the
// metrics interfaces declared in pkg/metrics.
package prometheus

import (
	"strconv"
	"time"

	"github.com/marmos91/dittoftp/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ftpMetrics is the Prometheus implementation of metrics.FTPMetrics.
type ftpMetrics struct {
	commandsTotal          *prometheus.CounterVec
	commandDuration        *prometheus.HistogramVec
	commandsInFlight       *prometheus.GaugeVec
	transfersTotal         *prometheus.CounterVec
	bytesTransferred       *prometheus.CounterVec
	transferSize           *prometheus.HistogramVec
	transferDuration       *prometheus.HistogramVec
	loginsTotal            *prometheus.CounterVec
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsRejected    *prometheus.CounterVec
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
}

// NewFTPMetrics creates a new Prometheus-backed FTPMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewFTPMetrics() metrics.FTPMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopFTPMetrics()
	}
	return newFTPMetrics(metrics.GetRegistry())
}

func newFTPMetrics(reg prometheus.Registerer) *ftpMetrics {
	return &ftpMetrics{
		commandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoftp_ftp_commands_total",
				Help: "Total number of FTP commands by verb and reply code",
			},
			[]string{"verb", "code"},
		),
		commandDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittoftp_ftp_command_duration_milliseconds",
				Help: "Duration of FTP commands in milliseconds",
				Buckets: []float64{
					1,     // 1ms
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s
					60000, // 1min
				},
			},
			[]string{"verb"},
		),
		commandsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittoftp_ftp_commands_in_flight",
				Help: "Current number of FTP commands being processed",
			},
			[]string{"verb"},
		),
		transfersTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoftp_ftp_transfers_total",
				Help: "Total number of data transfers by direction and status",
			},
			[]string{"direction", "status"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoftp_ftp_bytes_transferred_total",
				Help: "Total bytes moved over data connections",
			},
			[]string{"direction"},
		),
		transferSize: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittoftp_ftp_transfer_size_bytes",
				Help: "Distribution of data transfer sizes",
				Buckets: []float64{
					4096,       // 4KB
					65536,      // 64KB
					1048576,    // 1MB
					10485760,   // 10MB
					104857600,  // 100MB
					1073741824, // 1GB
				},
			},
			[]string{"direction"},
		),
		transferDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dittoftp_ftp_transfer_duration_seconds",
				Help:    "Duration of data transfers in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"direction"},
		),
		loginsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoftp_ftp_logins_total",
				Help: "Total number of login attempts by user type and status",
			},
			[]string{"type", "status"},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittoftp_ftp_active_connections",
				Help: "Current number of open control connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoftp_ftp_connections_accepted_total",
				Help: "Total number of accepted control connections",
			},
		),
		connectionsRejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoftp_ftp_connections_rejected_total",
				Help: "Total number of refused control connections by reason",
			},
			[]string{"reason"},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoftp_ftp_connections_closed_total",
				Help: "Total number of closed control connections",
			},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoftp_ftp_connections_force_closed_total",
				Help: "Total number of control connections closed by server shutdown",
			},
		),
	}
}

func (m *ftpMetrics) RecordCommand(verb string, replyCode int, duration time.Duration) {
	m.commandsTotal.WithLabelValues(verb, strconv.Itoa(replyCode)).Inc()
	m.commandDuration.WithLabelValues(verb).Observe(float64(duration.Milliseconds()))
}

func (m *ftpMetrics) RecordCommandStart(verb string) {
	m.commandsInFlight.WithLabelValues(verb).Inc()
}

func (m *ftpMetrics) RecordCommandEnd(verb string) {
	m.commandsInFlight.WithLabelValues(verb).Dec()
}

func (m *ftpMetrics) RecordTransfer(direction string, bytes int64, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.transfersTotal.WithLabelValues(direction, status).Inc()
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
	m.transferSize.WithLabelValues(direction).Observe(float64(bytes))
	m.transferDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

func (m *ftpMetrics) RecordLogin(anonymous bool, success bool) {
	kind := "user"
	if anonymous {
		kind = "anonymous"
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.loginsTotal.WithLabelValues(kind, status).Inc()
}

func (m *ftpMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *ftpMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *ftpMetrics) RecordConnectionRejected(reason string) {
	m.connectionsRejected.WithLabelValues(reason).Inc()
}

func (m *ftpMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *ftpMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}
