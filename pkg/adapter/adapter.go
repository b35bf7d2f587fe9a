package adapter

import (
	"context"

	"github.com/marmos91/dittoftp/pkg/ftp"
)

// Adapter is a listener managed by DittoServer.
//
// Every adapter of a server shares one ftp.ServerContext, so users, the file
// system backend, hooks and statistics are common to all listeners.
//
// Lifecycle:
//  1. Creation: the adapter is created with its listener configuration
//  2. Context injection: SetServerContext() provides the shared state
//  3. Startup: Serve() accepts connections and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// SetServerContext() is called once before Serve(), but Stop() may be called
// concurrently with Serve().
type Adapter interface {
	// Serve starts the listener and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve stops accepting connections,
	// asks open sessions to close, waits for them up to its shutdown timeout
	// and returns. If Serve returns before cancellation, DittoServer treats it
	// as fatal and stops all other adapters.
	Serve(ctx context.Context) error

	// SetServerContext injects the state shared by all listeners.
	SetServerContext(sc *ftp.ServerContext)

	// Stop initiates graceful shutdown. It must be idempotent and safe to
	// call concurrently with Serve. ctx bounds the wait for open sessions.
	Stop(ctx context.Context) error

	// Protocol returns the protocol name for logging and metrics.
	Protocol() string

	// Port returns the TCP port the adapter listens on. Before Serve has
	// bound the listener it returns the configured port.
	Port() int
}
