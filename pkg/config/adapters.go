package config

import (
	"fmt"

	"github.com/marmos91/dittoftp/pkg/adapter"
	ftpadapter "github.com/marmos91/dittoftp/pkg/adapter/ftp"
	"github.com/marmos91/dittoftp/pkg/ftp/command"
	"github.com/marmos91/dittoftp/pkg/metrics"
)

// CreateAdapters creates all enabled FTP listeners from the configuration.
//
// Parameters:
//   - cfg: The complete DittoFTP configuration
//   - table: Command table shared by every listener
//   - ftpMetrics: Optional FTP metrics collector (nil = no metrics)
//
// Returns:
//   - []adapter.Adapter: List of enabled adapters ready to be added to the server
//   - error: Any error during adapter creation
func CreateAdapters(cfg *Config, table *command.Table, ftpMetrics metrics.FTPMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	for i, l := range cfg.Adapters.FTP {
		if !l.Enabled {
			continue
		}
		// ftpadapter.New panics on invalid settings
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("adapters.ftp[%d]: %w", i, err)
		}
		adapters = append(adapters, ftpadapter.New(l, table, ftpMetrics))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
