package config

import (
	"github.com/marmos91/dittoftp/pkg/filesystem/s3"
	"github.com/marmos91/dittoftp/pkg/ftp"
	"github.com/marmos91/dittoftp/pkg/metrics"
	promMetrics "github.com/marmos91/dittoftp/pkg/metrics/prometheus"
)

// MetricsResult bundles the collectors handed to listeners and backends.
//
// FTPMetrics is never nil. Server and S3Metrics are nil when
// server.metrics.enabled is false.
type MetricsResult struct {
	Server     *metrics.Server
	FTPMetrics metrics.FTPMetrics
	S3Metrics  s3.Metrics
}

// InitializeMetrics turns on the Prometheus registry when the config asks for
// it. With metrics off every collector is a no-op.
func InitializeMetrics(cfg *Config) *MetricsResult {
	m := cfg.Server.Metrics
	if !m.Enabled {
		return &MetricsResult{FTPMetrics: metrics.NewNoopFTPMetrics()}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Address: m.Address,
			Port:    m.Port,
		}),
		FTPMetrics: promMetrics.NewFTPMetrics(),
		S3Metrics:  metrics.NewS3Metrics(),
	}
}

// ExposeStatus publishes the live server statistics on /status.
// Does nothing when the operator endpoint is disabled.
func (r *MetricsResult) ExposeStatus(sc *ftp.ServerContext) {
	if r == nil || r.Server == nil || sc == nil || sc.Stats == nil {
		return
	}
	r.Server.SetStatusProvider(func() any {
		return sc.Stats.Snapshot()
	})
}
