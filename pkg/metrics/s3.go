package metrics

import (
	"time"

	"github.com/marmos91/dittoftp/pkg/filesystem/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bucket bounds for S3 round trips, 10ms to 30s.
var s3LatencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// s3Collector records the API calls made by the S3 file system.
type s3Collector struct {
	calls    *prometheus.CounterVec
	failures *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	payload  *prometheus.CounterVec
}

// NewS3Metrics returns nil while metrics are disabled; the S3 backend then
// skips instrumentation altogether.
func NewS3Metrics() s3.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newS3Collector(GetRegistry())
}

func newS3Collector(reg prometheus.Registerer) *s3Collector {
	f := promauto.With(reg)
	return &s3Collector{
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittoftp",
			Subsystem: "s3",
			Name:      "requests_total",
			Help:      "S3 API calls issued by the file system, by operation and outcome.",
		}, []string{"operation", "status"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittoftp",
			Subsystem: "s3",
			Name:      "request_errors_total",
			Help:      "S3 API calls that returned an error, by operation.",
		}, []string{"operation"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dittoftp",
			Subsystem: "s3",
			Name:      "request_duration_seconds",
			Help:      "Round-trip time of S3 API calls.",
			Buckets:   s3LatencyBuckets,
		}, []string{"operation"}),
		payload: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittoftp",
			Subsystem: "s3",
			Name:      "payload_bytes_total",
			Help:      "Object bytes moved to or from S3.",
		}, []string{"operation"}),
	}
}

func (c *s3Collector) ObserveOperation(operation string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		c.failures.WithLabelValues(operation).Inc()
	}
	c.calls.WithLabelValues(operation, outcome).Inc()
	c.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

func (c *s3Collector) RecordBytes(operation string, bytes int64) {
	if bytes <= 0 {
		return
	}
	c.payload.WithLabelValues(operation).Add(float64(bytes))
}
