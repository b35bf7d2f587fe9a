// Package dataconn negotiates, opens and tears down FTP data connections.
//
// One Factory belongs to one session. PORT/EPRT call InitActive, PASV/EPSV
// call InitPassive, transfer commands call Open and must always call Close
// when they are done, whatever happened in between. Close releases the
// passive port back to the shared pool on every path.
//
// Thread safety:
// Open, Close, Abort and the accessors are safe to call from different
// goroutines. The session's command goroutine drives negotiation and
// transfers while the connection loop may call Abort (ABOR) or Close
// (session teardown) at any time.
package dataconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoftp/internal/logger"
)

// Mode is the negotiated data connection mode.
type Mode int

const (
	ModeNone Mode = iota
	ModeActive
	ModePassive
)

func (m Mode) String() string {
	switch m {
	case ModeActive:
		return "active"
	case ModePassive:
		return "passive"
	default:
		return "none"
	}
}

// Factory owns the data connection state of one session.
type Factory struct {
	cfg Config

	controlLocal  net.IP
	controlRemote net.IP

	// onActivity is called for every chunk moved on the data connection.
	onActivity func()

	// lastActivity is the unix-nano timestamp of the last data I/O.
	lastActivity atomic.Int64

	mu       sync.Mutex
	gen      uint64
	mode     Mode
	active   *net.TCPAddr
	listener net.Listener
	port     int
	reserved bool
	secure   bool
	conn     *Conn
	aborted  bool
}

// NewFactory creates the factory for a session whose control connection has
// the given local and remote addresses.
func NewFactory(cfg Config, controlLocal, controlRemote net.Addr) *Factory {
	cfg.ApplyDefaults()
	return &Factory{
		cfg:           cfg,
		controlLocal:  addrIP(controlLocal),
		controlRemote: addrIP(controlRemote),
		secure:        cfg.ImplicitSSL,
	}
}

// SetActivityFunc registers a callback invoked whenever bytes move.
func (f *Factory) SetActivityFunc(fn func()) {
	f.mu.Lock()
	f.onActivity = fn
	f.mu.Unlock()
}

// SetSecure toggles TLS for subsequent data connections (PROT P / PROT C).
// Implicit SSL listeners stay secure.
func (f *Factory) SetSecure(secure bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secure = secure || f.cfg.ImplicitSSL
}

// IsSecure reports whether data connections will be TLS protected.
func (f *Factory) IsSecure() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.secure
}

// Mode returns the negotiated mode.
func (f *Factory) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// PassivePort returns the port currently bound for passive mode, or 0.
func (f *Factory) PassivePort() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mode != ModePassive {
		return 0
	}
	return f.port
}

// IsTransferring reports whether a data connection is open.
func (f *Factory) IsTransferring() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn != nil
}

// LastActivity returns the time of the last data I/O, zero if none yet.
func (f *Factory) LastActivity() time.Time {
	ns := f.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// TLSConfigured reports whether secure data connections can be offered.
func (f *Factory) TLSConfigured() bool {
	return f.cfg.TLS != nil
}

// ActiveEnabled reports whether PORT/EPRT are allowed.
func (f *Factory) ActiveEnabled() bool {
	return f.cfg.ActiveEnabled
}

// CheckActiveTarget validates an active-mode target against the bounce
// protection policy without changing any state.
func (f *Factory) CheckActiveTarget(ip net.IP) error {
	if !f.cfg.ActiveEnabled {
		return ErrActiveDisabled
	}
	if f.cfg.ActiveIPCheck && !sameIP(ip, f.controlRemote) {
		return fmt.Errorf("%w: %s is not %s", ErrPeerMismatch, ip, f.controlRemote)
	}
	return nil
}

// InitActive records the client's address for an active-mode transfer.
// The connection is dialed lazily by Open. Any previous negotiation is
// discarded and its passive port released.
func (f *Factory) InitActive(addr *net.TCPAddr) error {
	if err := f.CheckActiveTarget(addr.IP); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.closeLocked()
	f.mode = ModeActive
	f.active = addr
	logger.Debug("Data connection: active mode to %s", addr)
	return nil
}

// InitPassive reserves a port, starts listening on it and returns the
// address to advertise to the client.
//
// On listen failure the port is released and ErrPassiveBind is returned, so
// a failed PASV never holds pool resources.
func (f *Factory) InitPassive() (*net.TCPAddr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closeLocked()

	port, err := f.cfg.Pool.Reserve()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPassiveBind, err)
	}

	bindIP := f.bindIP()
	listener, err := net.Listen("tcp", net.JoinHostPort(ipString(bindIP), strconv.Itoa(port)))
	if err != nil {
		f.cfg.Pool.Release(port)
		return nil, fmt.Errorf("%w: port %d: %w", ErrPassiveBind, port, err)
	}

	f.mode = ModePassive
	f.listener = listener
	f.port = listener.Addr().(*net.TCPAddr).Port
	// Port 0 candidates are never reserved in the pool, so only
	// statically chosen ports are released on Close.
	f.reserved = port != 0

	advertised, err := f.advertisedIP(bindIP)
	if err != nil {
		f.closeLocked()
		return nil, fmt.Errorf("%w: %w", ErrPassiveBind, err)
	}

	logger.Debug("Data connection: passive listener on %s (advertised %s:%d)",
		listener.Addr(), advertised, f.port)

	return &net.TCPAddr{IP: advertised, Port: f.port}, nil
}

// Open establishes the negotiated data connection: it accepts the pending
// passive connection (bounded by AcceptTimeout) or dials the active target,
// and performs the TLS handshake when the factory is secure.
func (f *Factory) Open(ctx context.Context) (*Conn, error) {
	f.mu.Lock()
	if f.conn != nil {
		f.mu.Unlock()
		return nil, ErrTransferInProgress
	}
	gen := f.gen
	mode := f.mode
	listener := f.listener
	active := f.active
	secure := f.secure
	f.aborted = false
	f.mu.Unlock()

	var (
		raw net.Conn
		err error
	)

	switch mode {
	case ModePassive:
		if listener == nil {
			return nil, ErrNotNegotiated
		}
		raw, err = f.accept(ctx, listener)
	case ModeActive:
		raw, err = f.dial(ctx, active)
	default:
		return nil, ErrNotNegotiated
	}
	if err != nil {
		return nil, err
	}

	if secure {
		raw, err = f.handshake(ctx, raw)
		if err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Close or Abort may have run while we were blocked.
	if f.gen != gen || f.aborted {
		_ = raw.Close()
		return nil, ErrAborted
	}

	f.conn = newConn(raw, f)
	return f.conn, nil
}

func (f *Factory) accept(ctx context.Context, listener net.Listener) (net.Conn, error) {
	if tl, ok := listener.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(f.cfg.AcceptTimeout))
	}

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	raw, err := listener.Accept()

	// One connection per PASV. The port stays reserved until Close.
	f.mu.Lock()
	if f.listener == listener {
		_ = listener.Close()
		f.listener = nil
	}
	f.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept passive data connection: %w", err)
	}

	if f.cfg.PassiveIPCheck && !sameIP(addrIP(raw.RemoteAddr()), f.controlRemote) {
		logger.Warn("Data connection: rejected passive peer %s (control peer %s)",
			raw.RemoteAddr(), f.controlRemote)
		_ = raw.Close()
		return nil, ErrPeerMismatch
	}

	return raw, nil
}

func (f *Factory) dial(ctx context.Context, target *net.TCPAddr) (net.Conn, error) {
	if target == nil {
		return nil, ErrNotNegotiated
	}
	if err := f.CheckActiveTarget(target.IP); err != nil {
		return nil, err
	}

	localIP := f.controlLocal
	if f.cfg.ActiveLocalAddress != "" {
		if ip := net.ParseIP(f.cfg.ActiveLocalAddress); ip != nil {
			localIP = ip
		}
	}

	dialer := net.Dialer{
		Timeout:   f.cfg.DialTimeout,
		LocalAddr: &net.TCPAddr{IP: localIP, Port: f.cfg.ActiveLocalPort},
	}

	raw, err := dialer.DialContext(ctx, "tcp", target.String())
	if err != nil {
		return nil, fmt.Errorf("dial active data connection %s: %w", target, err)
	}
	return raw, nil
}

func (f *Factory) handshake(ctx context.Context, raw net.Conn) (net.Conn, error) {
	if f.cfg.TLS == nil {
		_ = raw.Close()
		return nil, ErrTLSNotConfigured
	}

	hsCtx, cancel := context.WithTimeout(ctx, f.cfg.AcceptTimeout)
	defer cancel()

	// The FTP server is always the TLS server, even for active mode.
	tlsConn := tls.Server(raw, f.cfg.TLS)
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("data connection TLS handshake: %w", err)
	}
	return tlsConn, nil
}

// Abort interrupts the open transfer or pending accept. The transfer method
// in progress returns ErrAborted with the bytes moved so far. Close must
// still be called by the transfer owner.
func (f *Factory) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.aborted = true
	if f.conn != nil {
		f.conn.abort()
	}
	if f.listener != nil {
		_ = f.listener.Close()
		f.listener = nil
	}
}

// Close closes the data connection and the passive listener, releases the
// reserved passive port and resets the mode. It is safe to call at any time
// and any number of times.
func (f *Factory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
}

func (f *Factory) closeLocked() {
	f.gen++

	if f.conn != nil {
		_ = f.conn.raw.Close()
		f.conn = nil
	}
	if f.listener != nil {
		_ = f.listener.Close()
		f.listener = nil
	}
	if f.reserved {
		f.cfg.Pool.Release(f.port)
		f.reserved = false
	}
	f.port = 0
	f.active = nil
	f.mode = ModeNone
}

// release is called by Conn.Close to detach a finished connection.
func (f *Factory) release(c *Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == c {
		f.conn = nil
	}
}

func (f *Factory) touch() {
	f.lastActivity.Store(time.Now().UnixNano())

	f.mu.Lock()
	fn := f.onActivity
	f.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (f *Factory) bindIP() net.IP {
	if f.cfg.PassiveAddress != "" {
		if ip := net.ParseIP(f.cfg.PassiveAddress); ip != nil {
			return ip
		}
	}
	return f.controlLocal
}

func (f *Factory) advertisedIP(bindIP net.IP) (net.IP, error) {
	if ext := f.cfg.PassiveExternalAddress; ext != "" {
		if ip := net.ParseIP(ext); ip != nil {
			return ip, nil
		}
		ips, err := net.LookupIP(ext)
		if err != nil {
			return nil, fmt.Errorf("resolve passive external address %q: %w", ext, err)
		}
		for _, ip := range ips {
			if v4 := ip.To4(); v4 != nil {
				return v4, nil
			}
		}
		if len(ips) > 0 {
			return ips[0], nil
		}
		return nil, fmt.Errorf("passive external address %q has no addresses", ext)
	}

	if bindIP == nil || bindIP.IsUnspecified() {
		return f.controlLocal, nil
	}
	return bindIP, nil
}

func addrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case nil:
		return nil
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return net.ParseIP(addr.String())
		}
		return net.ParseIP(host)
	}
}

func sameIP(a, b net.IP) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Equal(b)
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
