package dataconn

import (
	"crypto/tls"
	"errors"
	"time"

	"github.com/marmos91/dittoftp/pkg/ftp/passive"
)

// Errors returned by the factory. Command handlers map them to replies.
var (
	// ErrNotNegotiated means no PORT/EPRT/PASV/EPSV preceded the transfer.
	ErrNotNegotiated = errors.New("data connection not negotiated")

	// ErrActiveDisabled means active mode is turned off for the listener.
	ErrActiveDisabled = errors.New("active mode data connections are disabled")

	// ErrPeerMismatch means the data peer is not the control peer.
	ErrPeerMismatch = errors.New("data connection peer does not match control connection peer")

	// ErrPassiveBind means no passive listener could be opened.
	ErrPassiveBind = errors.New("cannot open passive listener")

	// ErrTransferInProgress means a data connection is already open.
	ErrTransferInProgress = errors.New("a data transfer is already in progress")

	// ErrAborted means the transfer was interrupted by ABOR or session close.
	ErrAborted = errors.New("data transfer aborted")

	// ErrTLSNotConfigured means PROT P was requested without TLS material.
	ErrTLSNotConfigured = errors.New("TLS is not configured for data connections")
)

// Config holds the per-listener data connection settings shared by every
// session of that listener.
type Config struct {
	// IdleTimeout bounds every single read or write on an open data
	// connection. Zero disables the deadline.
	IdleTimeout time.Duration

	// AcceptTimeout bounds how long a passive listener waits for the client
	// and how long a TLS handshake may take.
	AcceptTimeout time.Duration

	// DialTimeout bounds active-mode connection setup.
	DialTimeout time.Duration

	// ActiveEnabled allows PORT/EPRT.
	ActiveEnabled bool

	// ActiveLocalAddress and ActiveLocalPort override the source address
	// of active-mode connections. Defaults: control-connection local IP and
	// an ephemeral port.
	ActiveLocalAddress string
	ActiveLocalPort    int

	// ActiveIPCheck rejects PORT/EPRT targets whose IP differs from the
	// control connection's peer (FTP bounce protection).
	ActiveIPCheck bool

	// PassiveAddress is the address passive listeners bind to. Empty means
	// the control connection's local IP.
	PassiveAddress string

	// PassiveExternalAddress is advertised in PASV replies instead of the
	// bind address (NAT setups). Host names are resolved to IPv4.
	PassiveExternalAddress string

	// PassiveIPCheck rejects passive connections from a peer other than the
	// control connection's peer.
	PassiveIPCheck bool

	// ImplicitSSL makes every data connection TLS regardless of PROT.
	ImplicitSSL bool

	// TLS is used for PROT P and implicit SSL data connections.
	TLS *tls.Config

	// Pool allocates passive ports. Required for passive mode.
	Pool *passive.Pool
}

// ApplyDefaults fills zero timeouts and a missing pool.
func (c *Config) ApplyDefaults() {
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = 30 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.Pool == nil {
		// "0" cannot fail to parse.
		c.Pool, _ = passive.New("0")
	}
}
