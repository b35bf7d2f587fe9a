package s3

import (
	"io"
	"time"
)

// Metrics observes S3 requests issued by the backend.
//
// A nil Metrics in Config disables collection. The Prometheus
// implementation lives in pkg/metrics.
type Metrics interface {
	// ObserveOperation records one S3 API call (HeadObject, PutObject, ...).
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records payload bytes moved by an operation ("read" or "write").
	RecordBytes(operation string, bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, int64)                    {}

// observe records an operation started at start.
func observe(m Metrics, operation string, start time.Time, err error) {
	m.ObserveOperation(operation, time.Since(start), err)
}

// countingBody reports the bytes read from a GetObject body when closed.
type countingBody struct {
	io.ReadCloser
	metrics Metrics
	n       int64
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.n += int64(n)
	return n, err
}

func (b *countingBody) Close() error {
	b.metrics.RecordBytes("read", b.n)
	return b.ReadCloser.Close()
}
