package ftp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/ftp"
	"github.com/marmos91/dittoftp/pkg/ftp/command"
	"github.com/marmos91/dittoftp/pkg/ftp/dataconn"
	"github.com/marmos91/dittoftp/pkg/ftp/passive"
	"github.com/marmos91/dittoftp/pkg/metrics"
)

// FTPAdapter implements the adapter.Adapter interface for one FTP listener.
//
// FTPAdapter manages the TCP listener and connection lifecycle. Each accepted
// connection is served by an FTPConnection that runs the command loop. All
// listeners of a server share one ftp.ServerContext; the passive port pool and
// data connection settings belong to the listener.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled (sessions reply 421 and abort transfers)
//  4. Wait for active connections to complete (up to ShutdownTimeout)
//  5. Force-close any remaining connections after timeout
//
// Thread safety:
// All methods are safe for concurrent use. The shutdown mechanism uses
// sync.Once so Stop() may be called multiple times.
type FTPAdapter struct {
	config FTPConfig

	// listenerMu guards listener, which is set by Serve and read by Port,
	// Addr and initiateShutdown.
	listenerMu sync.Mutex
	listener   net.Listener
	ready      chan struct{}

	serverContext *ftp.ServerContext
	commands      *command.Table
	metrics       metrics.FTPMetrics

	// tlsConfig is used for implicit SSL, AUTH TLS and PROT P. nil when
	// no certificate is configured.
	tlsConfig *tls.Config

	// dataConfig is shared by every session of this listener.
	dataConfig dataconn.Config

	allowed []*net.IPNet
	denied  []*net.IPNet

	activeConns  sync.WaitGroup
	shutdownOnce sync.Once
	shutdown     chan struct{}
	connCount    atomic.Int32

	// connSemaphore limits concurrent connections if MaxConnections > 0.
	// Unlike a blocking accept, a full semaphore rejects the client with 421.
	connSemaphore chan struct{}

	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps remote address to net.Conn for forced closure.
	activeConnections sync.Map
}

// FTPConfig holds the configuration of one FTP listener.
//
// Default values (applied by New if zero):
//   - Name: "default"
//   - Port: 21 (0 with Ephemeral for tests)
//   - MaxConnections: 0 (unlimited)
//   - IdleTimeout: 5m
//   - WriteTimeout: 30s
//   - ShutdownTimeout: 30s
//   - MetricsLogInterval: 5m (0 disables)
//   - DataConnection.PassivePorts: "0" (any free port)
type FTPConfig struct {
	// Name identifies the listener in logs and SITE WHO.
	Name string `mapstructure:"name" yaml:"name"`

	// Enabled controls whether the listener is started.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Address is the IP to bind. Empty binds all interfaces.
	Address string `mapstructure:"address" yaml:"address" validate:"omitempty,ip"`

	// Port is the TCP port of the control connection. 0 means 21 unless
	// Ephemeral is set.
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`

	// Ephemeral binds an OS-assigned port when Port is 0.
	Ephemeral bool `mapstructure:"-" yaml:"-" json:"-"`

	// MaxConnections limits concurrent control connections. Clients above
	// the limit receive 421 and are disconnected. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`

	// IdleTimeout closes sessions idle between commands. A user's own
	// max idle time overrides it after login. 0 disables.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"min=0"`

	// WriteTimeout bounds each reply write.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"min=0"`

	// ShutdownTimeout is the maximum wait for sessions during shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=0"`

	// MetricsLogInterval is the interval of the periodic status log line.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" yaml:"metrics_log_interval" validate:"min=0"`

	// ImplicitSSL starts TLS right after accept (FTPS, usually port 990).
	ImplicitSSL bool `mapstructure:"implicit_ssl" yaml:"implicit_ssl"`

	TLS TLSConfig `mapstructure:"tls" yaml:"tls"`

	// AllowedClients and DeniedClients hold IPs or CIDR blocks. A non-empty
	// allow list admits only matching clients; the deny list always wins.
	AllowedClients []string `mapstructure:"allowed_clients" yaml:"allowed_clients"`
	DeniedClients  []string `mapstructure:"denied_clients" yaml:"denied_clients"`

	DataConnection DataConnectionConfig `mapstructure:"data_connection" yaml:"data_connection"`
}

// TLSConfig points at the listener certificate.
type TLSConfig struct {
	CertFile string `mapstructure:"cert_file" yaml:"cert_file" validate:"required_with=KeyFile"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file" validate:"required_with=CertFile"`

	// ClientAuth is "none", "request" or "require".
	ClientAuth string `mapstructure:"client_auth" yaml:"client_auth" validate:"omitempty,oneof=none request require"`

	// Config overrides the files above (tests, embedding).
	Config *tls.Config `mapstructure:"-" yaml:"-" json:"-"`
}

// DataConnectionConfig configures active and passive data connections.
type DataConnectionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"min=0"`
	AcceptTimeout time.Duration `mapstructure:"accept_timeout" yaml:"accept_timeout" validate:"min=0"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" validate:"min=0"`

	ActiveEnabled      bool   `mapstructure:"active_enabled" yaml:"active_enabled"`
	ActiveLocalAddress string `mapstructure:"active_local_address" yaml:"active_local_address" validate:"omitempty,ip"`
	ActiveLocalPort    int    `mapstructure:"active_local_port" yaml:"active_local_port" validate:"min=0,max=65535"`
	ActiveIPCheck      bool   `mapstructure:"active_ip_check" yaml:"active_ip_check"`

	PassiveAddress         string `mapstructure:"passive_address" yaml:"passive_address" validate:"omitempty,ip"`
	PassiveExternalAddress string `mapstructure:"passive_external_address" yaml:"passive_external_address"`

	// PassivePorts uses the "lo-hi, port, lo-" grammar. "0" means any.
	PassivePorts     string `mapstructure:"passive_ports" yaml:"passive_ports"`
	PassiveIPCheck   bool   `mapstructure:"passive_ip_check" yaml:"passive_ip_check"`
	PassiveBindProbe bool   `mapstructure:"passive_bind_probe" yaml:"passive_bind_probe"`

	ImplicitSSL bool `mapstructure:"implicit_ssl" yaml:"implicit_ssl"`
}

func (c *FTPConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Port == 0 && !c.Ephemeral {
		c.Port = 21
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
	if strings.TrimSpace(c.DataConnection.PassivePorts) == "" {
		c.DataConnection.PassivePorts = "0"
	}
}

// Validate reports the first invalid setting of c once defaults are
// applied. New panics on the same errors.
func (c FTPConfig) Validate() error {
	c.applyDefaults()
	return c.validate()
}

func (c *FTPConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("invalid IdleTimeout %v: must be >= 0", c.IdleTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("tls cert_file and key_file must be set together")
	}
	if c.ImplicitSSL && c.TLS.CertFile == "" && c.TLS.Config == nil {
		return fmt.Errorf("implicit_ssl requires a TLS certificate")
	}
	if _, err := passive.Parse(c.DataConnection.PassivePorts); err != nil {
		return err
	}
	if _, err := parseNetworks(c.AllowedClients); err != nil {
		return fmt.Errorf("allowed_clients: %w", err)
	}
	if _, err := parseNetworks(c.DeniedClients); err != nil {
		return fmt.Errorf("denied_clients: %w", err)
	}
	return nil
}

// New creates a stopped FTPAdapter. table dispatches commands; m may be nil.
//
// Panics if config validation fails or the certificate cannot be loaded.
func New(config FTPConfig, table *command.Table, m metrics.FTPMetrics) *FTPAdapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid FTP config %q: %v", config.Name, err))
	}

	tlsConfig, err := buildTLSConfig(config.TLS)
	if err != nil {
		panic(fmt.Sprintf("invalid FTP config %q: %v", config.Name, err))
	}

	dc := config.DataConnection
	var poolOpts []passive.Option
	if dc.PassiveBindProbe {
		poolOpts = append(poolOpts, passive.WithBindProbe(dc.PassiveAddress))
	}
	pool, err := passive.New(dc.PassivePorts, poolOpts...)
	if err != nil {
		panic(fmt.Sprintf("invalid FTP config %q: %v", config.Name, err))
	}

	dataConfig := dataconn.Config{
		IdleTimeout:            dc.IdleTimeout,
		AcceptTimeout:          dc.AcceptTimeout,
		DialTimeout:            dc.DialTimeout,
		ActiveEnabled:          dc.ActiveEnabled,
		ActiveLocalAddress:     dc.ActiveLocalAddress,
		ActiveLocalPort:        dc.ActiveLocalPort,
		ActiveIPCheck:          dc.ActiveIPCheck,
		PassiveAddress:         dc.PassiveAddress,
		PassiveExternalAddress: dc.PassiveExternalAddress,
		PassiveIPCheck:         dc.PassiveIPCheck,
		ImplicitSSL:            dc.ImplicitSSL,
		TLS:                    tlsConfig,
		Pool:                   pool,
	}
	dataConfig.ApplyDefaults()

	// Both lists were checked by validate.
	allowed, _ := parseNetworks(config.AllowedClients)
	denied, _ := parseNetworks(config.DeniedClients)

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("FTP %s connection limit: %d", config.Name, config.MaxConnections)
	} else {
		logger.Debug("FTP %s connection limit: unlimited", config.Name)
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	if m == nil {
		m = metrics.NewNoopFTPMetrics()
	}

	return &FTPAdapter{
		config:         config,
		ready:          make(chan struct{}),
		commands:       table,
		metrics:        m,
		tlsConfig:      tlsConfig,
		dataConfig:     dataConfig,
		allowed:        allowed,
		denied:         denied,
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

func buildTLSConfig(c TLSConfig) (*tls.Config, error) {
	if c.Config != nil {
		return c.Config, nil
	}
	if c.CertFile == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate %s: %w", c.CertFile, err)
	}

	conf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	switch c.ClientAuth {
	case "request":
		conf.ClientAuth = tls.RequestClientCert
	case "require":
		conf.ClientAuth = tls.RequireAnyClientCert
	}
	return conf, nil
}

// parseNetworks accepts plain IPs and CIDR blocks.
func parseNetworks(entries []string) ([]*net.IPNet, error) {
	var out []*net.IPNet
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("invalid address %q", e)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("invalid network %q: %w", e, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func containsIP(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientAllowed applies the allow and deny lists to a remote address.
func (s *FTPAdapter) clientAllowed(addr net.Addr) bool {
	if len(s.allowed) == 0 && len(s.denied) == 0 {
		return true
	}
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return false
	}
	if containsIP(s.denied, tcpAddr.IP) {
		return false
	}
	return len(s.allowed) == 0 || containsIP(s.allowed, tcpAddr.IP)
}

// SetServerContext injects the state shared by all listeners.
//
// Called exactly once before Serve(), no synchronization needed.
func (s *FTPAdapter) SetServerContext(sc *ftp.ServerContext) {
	s.serverContext = sc
	if sc.Metrics == nil {
		sc.Metrics = s.metrics
	}
	logger.Debug("FTP %s server context configured", s.config.Name)
}

// Serve starts the listener and blocks until the context is cancelled or an
// unrecoverable error occurs.
//
// Each accepted connection is served on its own goroutine with shutdownCtx,
// so cancelling ctx makes every session reply 421, abort its transfer and
// close.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the listener fails to start or shutdown is not graceful
func (s *FTPAdapter) Serve(ctx context.Context) error {
	if s.serverContext == nil {
		return fmt.Errorf("FTP %s: server context not set", s.config.Name)
	}
	if s.commands == nil {
		s.commands = command.NewBuilder().Build()
	}

	addr := net.JoinHostPort(s.config.Address, fmt.Sprintf("%d", s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create FTP listener on %s: %w", addr, err)
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()
	close(s.ready)

	logger.Info("FTP server %s listening on %s (implicit_ssl=%v, passive_ports=%s)",
		s.config.Name, listener.Addr(), s.config.ImplicitSSL, s.config.DataConnection.PassivePorts)
	logger.Debug("FTP %s config: max_connections=%d idle_timeout=%v write_timeout=%v active_enabled=%v",
		s.config.Name, s.config.MaxConnections, s.config.IdleTimeout, s.config.WriteTimeout,
		s.config.DataConnection.ActiveEnabled)

	// Stop may have run before the listener existed.
	select {
	case <-s.shutdown:
		_ = listener.Close()
		return s.gracefulShutdown()
	default:
	}

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("FTP %s shutdown signal received: %v", s.config.Name, ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(ctx)
	}

	for {
		tcpConn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting FTP connection on %s: %v", s.config.Name, err)
				continue
			}
		}

		if !s.clientAllowed(tcpConn.RemoteAddr()) {
			logger.Warn("FTP %s: connection from %s refused by IP filter", s.config.Name, tcpConn.RemoteAddr())
			s.metrics.RecordConnectionRejected("ip_filter")
			_ = tcpConn.Close()
			continue
		}

		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			default:
				logger.Warn("FTP %s: connection limit %d reached, rejecting %s",
					s.config.Name, s.config.MaxConnections, tcpConn.RemoteAddr())
				s.metrics.RecordConnectionRejected("max_connections")
				s.rejectBusy(tcpConn)
				continue
			}
		}

		s.activeConns.Add(1)
		s.connCount.Add(1)

		connAddr := tcpConn.RemoteAddr().String()
		s.activeConnections.Store(connAddr, tcpConn)

		s.metrics.RecordConnectionAccepted()
		currentConns := s.connCount.Load()
		s.metrics.SetActiveConnections(currentConns)

		logger.Debug("FTP connection accepted from %s on %s (active: %d)",
			tcpConn.RemoteAddr(), s.config.Name, currentConns)

		conn := s.newConn(tcpConn)
		go func(addr string, tcp net.Conn) {
			defer func() {
				s.activeConnections.Delete(addr)

				s.activeConns.Done()
				s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}

				s.metrics.RecordConnectionClosed()
				currentConns := s.connCount.Load()
				s.metrics.SetActiveConnections(currentConns)

				logger.Debug("FTP connection closed from %s (active: %d)", addr, currentConns)
			}()

			conn.Serve(s.shutdownCtx)
		}(connAddr, tcpConn)
	}
}

// rejectBusy answers a connection over the limit and closes it.
func (s *FTPAdapter) rejectBusy(conn net.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if !s.config.ImplicitSSL {
		_, _ = conn.Write([]byte("421 Too many users, try again later.\r\n"))
	}
	_ = conn.Close()
}

// initiateShutdown closes the listener and cancels every session. Safe to
// call multiple times.
func (s *FTPAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("FTP %s shutdown initiated", s.config.Name)

		close(s.shutdown)

		s.listenerMu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing FTP listener: %v", err)
			}
		}
		s.listenerMu.Unlock()

		s.cancelRequests()
	})
}

// gracefulShutdown waits for active connections to complete or for
// ShutdownTimeout, then force-closes what is left.
func (s *FTPAdapter) gracefulShutdown() error {
	activeCount := s.connCount.Load()
	logger.Info("FTP %s graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		s.config.Name, activeCount, s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("FTP %s graceful shutdown complete: all connections closed", s.config.Name)
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("FTP %s shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			s.config.Name, remaining, s.config.ShutdownTimeout)

		s.forceCloseConnections()

		return fmt.Errorf("FTP shutdown timeout: %d connections force-closed", remaining)
	}
}

// forceCloseConnections closes every tracked socket. Blocked reads and
// writes fail and the connection goroutines exit.
func (s *FTPAdapter) forceCloseConnections() {
	logger.Info("Force-closing active FTP connections on %s", s.config.Name)

	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		addr := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", addr, err)
		} else {
			closedCount++
			s.metrics.RecordConnectionForceClosed()
			logger.Debug("Force-closed connection to %s", addr)
		}
		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed %d connection(s)", closedCount)
	}
}

// Stop initiates graceful shutdown and waits for open sessions until ctx is
// done. With a nil ctx the configured ShutdownTimeout applies.
func (s *FTPAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	logger.Info("FTP %s graceful shutdown: waiting for %d active connection(s) (context timeout)",
		s.config.Name, s.connCount.Load())

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("FTP %s graceful shutdown complete: all connections closed", s.config.Name)
		return nil

	case <-ctx.Done():
		remaining := s.connCount.Load()
		logger.Warn("FTP %s shutdown context cancelled: %d connection(s) still active: %v",
			s.config.Name, remaining, ctx.Err())
		s.forceCloseConnections()
		return ctx.Err()
	}
}

// logMetrics periodically logs connection and transfer counters.
func (s *FTPAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			st := s.serverContext.Stats.Snapshot()
			logger.Info("FTP %s metrics: active_connections=%d logins=%d uploads=%d downloads=%d passive_ports_free=%d",
				s.config.Name, s.connCount.Load(), st.CurrentLogins, st.Uploads, st.Downloads,
				s.dataConfig.Pool.Free())
		}
	}
}

// GetActiveConnections returns the current number of control connections.
func (s *FTPAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

func (s *FTPAdapter) newConn(tcpConn net.Conn) *FTPConnection {
	return NewFTPConnection(s, newControlConn(tcpConn, s.tlsConfig, s.config.ImplicitSSL, s.config.WriteTimeout))
}

// Ready is closed once the listener is bound.
func (s *FTPAdapter) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listener address, or nil before Serve binds it.
func (s *FTPAdapter) Addr() net.Addr {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound TCP port, or the configured port before Serve.
func (s *FTPAdapter) Port() int {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return s.config.Port
}

// Name returns the listener name.
func (s *FTPAdapter) Name() string {
	return s.config.Name
}

// Protocol returns "FTP", or "FTPS" for implicit SSL listeners.
func (s *FTPAdapter) Protocol() string {
	if s.config.ImplicitSSL {
		return "FTPS"
	}
	return "FTP"
}
