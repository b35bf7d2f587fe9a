package e2e

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jlaffaye/ftp"
	ftpadapter "github.com/marmos91/dittoftp/pkg/adapter/ftp"
	"github.com/marmos91/dittoftp/pkg/config"
	"github.com/marmos91/dittoftp/pkg/server"
)

// TestContext provides a running DittoFTP server built from a TestConfig,
// plus FTP clients connected to its listeners.
type TestContext struct {
	T            testing.TB
	Config       *TestConfig
	ServerConfig *config.Config
	Server       *server.DittoServer
	Components   *config.Components
	Listeners    []*ftpadapter.FTPAdapter
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	tempDirs     []string
	clients      []*ftp.ServerConn
}

// NewTestContext creates a new test environment and starts the server
func NewTestContext(t testing.TB, cfg *TestConfig) *TestContext {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	tc := &TestContext{
		T:      t,
		Config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	tc.startServer()

	return tc
}

// startServer wires the server exactly like the start command does
func (tc *TestContext) startServer() {
	tc.T.Helper()

	cfg, err := tc.Config.BuildConfig(tc)
	if err != nil {
		tc.T.Fatalf("Failed to build configuration: %v", err)
	}
	tc.ServerConfig = cfg

	if err := config.ApplyLogging(&cfg.Logging); err != nil {
		tc.T.Fatalf("Failed to configure logging: %v", err)
	}

	comp, err := config.InitializeServerContext(tc.ctx, cfg, config.InitializeMetrics(cfg))
	if err != nil {
		tc.T.Fatalf("Failed to initialize server context: %v", err)
	}
	tc.Components = comp

	adapters, err := config.CreateAdapters(cfg, comp.Commands, comp.ServerContext.Metrics)
	if err != nil {
		tc.T.Fatalf("Failed to create adapters: %v", err)
	}

	tc.Server = server.New(comp.ServerContext)
	tc.Server.StopTimeout = cfg.Server.ShutdownTimeout

	for _, a := range adapters {
		if err := tc.Server.AddAdapter(a); err != nil {
			tc.T.Fatalf("Failed to add adapter: %v", err)
		}
		listener, ok := a.(*ftpadapter.FTPAdapter)
		if !ok {
			tc.T.Fatalf("Unexpected adapter type %T", a)
		}
		tc.Listeners = append(tc.Listeners, listener)
	}

	// Start server in background
	tc.wg.Add(1)
	go func() {
		defer tc.wg.Done()
		if err := tc.Server.Serve(tc.ctx); err != nil && !errors.Is(err, context.Canceled) {
			tc.T.Logf("Server error: %v", err)
		}
	}()

	tc.waitForServer()
}

// waitForServer waits until every listener accepts connections
func (tc *TestContext) waitForServer() {
	tc.T.Helper()

	timeout := time.After(10 * time.Second)
	for _, l := range tc.Listeners {
		select {
		case <-l.Ready():
		case <-timeout:
			tc.T.Fatalf("Timeout waiting for listener %s to start", l.Name())
		}
	}
}

// Addr returns the control address of the i-th listener
func (tc *TestContext) Addr(listener int) string {
	tc.T.Helper()

	if listener < 0 || listener >= len(tc.Listeners) {
		tc.T.Fatalf("No listener %d (have %d)", listener, len(tc.Listeners))
	}
	return tc.Listeners[listener].Addr().String()
}

// Dial opens an unauthenticated client on the i-th listener. The connection
// is closed by Cleanup.
func (tc *TestContext) Dial(listener int) *ftp.ServerConn {
	tc.T.Helper()

	conn, err := ftp.Dial(tc.Addr(listener), ftp.DialWithTimeout(5*time.Second))
	if err != nil {
		tc.T.Fatalf("Failed to connect to %s: %v", tc.Addr(listener), err)
	}
	tc.clients = append(tc.clients, conn)
	return conn
}

// Login connects to the first listener and authenticates
func (tc *TestContext) Login(user, password string) *ftp.ServerConn {
	tc.T.Helper()
	return tc.LoginOn(0, user, password)
}

// LoginOn connects to the given listener and authenticates
func (tc *TestContext) LoginOn(listener int, user, password string) *ftp.ServerConn {
	tc.T.Helper()

	conn := tc.Dial(listener)
	if err := conn.Login(user, password); err != nil {
		tc.T.Fatalf("Login as %s failed: %v", user, err)
	}
	return conn
}

// Admin returns a client logged in with write permission
func (tc *TestContext) Admin() *ftp.ServerConn {
	tc.T.Helper()
	return tc.Login(AdminUser, AdminPassword)
}

// Cleanup closes clients, stops the server, and removes temporary files
func (tc *TestContext) Cleanup() {
	tc.T.Helper()

	for _, c := range tc.clients {
		_ = c.Quit()
	}
	tc.clients = nil

	// Stop server
	if tc.cancel != nil {
		tc.cancel()
	}

	// Wait for server to stop
	tc.wg.Wait()

	if tc.Components != nil {
		if err := tc.Components.Close(); err != nil {
			tc.T.Logf("Failed to close components: %v", err)
		}
	}

	// Remove temporary directories
	for _, dir := range tc.tempDirs {
		_ = os.RemoveAll(dir)
	}
}

// CreateTempDir creates a temporary directory and registers it for cleanup
func (tc *TestContext) CreateTempDir(prefix string) string {
	tc.T.Helper()

	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		tc.T.Fatalf("Failed to create temp directory: %v", err)
	}
	tc.tempDirs = append(tc.tempDirs, dir)
	return dir
}

// GetConfig returns the test configuration
func (tc *TestContext) GetConfig() *TestConfig {
	return tc.Config
}
