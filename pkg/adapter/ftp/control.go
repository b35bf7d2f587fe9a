package ftp

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// maxLineLength bounds a single command line. Longer lines end the session.
const maxLineLength = 4096

// Telnet control bytes that may appear on an FTP control connection.
const (
	telnetIAC  = 255
	telnetDONT = 254
	telnetDO   = 253
	telnetWONT = 252
	telnetWILL = 251
	telnetSB   = 250
	telnetSE   = 240
)

var errLineTooLong = errors.New("command line too long")

// controlConn is the control connection of one session. Reads happen on the
// connection's reader goroutine; writes may come from any goroutine.
type controlConn struct {
	mu      sync.Mutex // guards conn, reader and secure during TLS upgrade
	conn    net.Conn
	reader  *bufio.Reader
	secure  bool
	tlsConf *tls.Config

	writeMu      sync.Mutex
	writeTimeout time.Duration
}

func newControlConn(conn net.Conn, tlsConf *tls.Config, implicit bool, writeTimeout time.Duration) *controlConn {
	c := &controlConn{
		conn:         conn,
		tlsConf:      tlsConf,
		writeTimeout: writeTimeout,
	}
	if implicit && tlsConf != nil {
		c.conn = tls.Server(conn, tlsConf)
		c.secure = true
	}
	c.reader = bufio.NewReaderSize(c.conn, maxLineLength)
	return c
}

// ReadLine returns the next command line without its terminator and with
// Telnet negotiation sequences removed.
func (c *controlConn) ReadLine() (string, error) {
	c.mu.Lock()
	r := c.reader
	c.mu.Unlock()

	line, err := r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return "", errLineTooLong
	}
	if err != nil {
		if len(line) > 0 && errors.Is(err, io.EOF) {
			return string(stripTelnet(bytes.TrimRight(line, "\r\n"))), nil
		}
		return "", err
	}
	return string(stripTelnet(bytes.TrimRight(line, "\r\n"))), nil
}

// stripTelnet removes IAC command sequences. An escaped IAC (IAC IAC) is
// kept as a single 0xFF byte.
func stripTelnet(b []byte) []byte {
	if bytes.IndexByte(b, telnetIAC) < 0 {
		return b
	}

	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != telnetIAC {
			out = append(out, b[i])
			continue
		}
		if i+1 >= len(b) {
			break
		}
		switch cmd := b[i+1]; {
		case cmd == telnetIAC:
			out = append(out, telnetIAC)
			i++
		case cmd >= telnetWILL && cmd <= telnetDONT:
			// WILL/WONT/DO/DONT carry one option byte.
			i += 2
		case cmd == telnetSB:
			end := bytes.Index(b[i:], []byte{telnetIAC, telnetSE})
			if end < 0 {
				return out
			}
			i += end + 1
		default:
			i++
		}
	}
	return out
}

// Write implements ftp.ControlConn.
func (c *controlConn) Write(s string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := io.WriteString(conn, s)
	return err
}

func (c *controlConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c *controlConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }

// TLSAvailable implements ftp.ControlConn.
func (c *controlConn) TLSAvailable() bool {
	return c.tlsConf != nil
}

// IsSecure implements ftp.ControlConn.
func (c *controlConn) IsSecure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secure
}

// UpgradeTLS runs the server side of an AUTH handshake. The reader goroutine
// must be idle, which the connection loop guarantees by not prefetching
// while AUTH runs.
func (c *controlConn) UpgradeTLS() error {
	if c.tlsConf == nil {
		return errors.New("TLS is not configured")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.secure {
		return errors.New("connection is already secure")
	}

	raw := c.conn
	// Bytes the client sent after AUTH (an eager ClientHello) are already
	// in the reader's buffer and must reach the TLS layer.
	if n := c.reader.Buffered(); n > 0 {
		buffered, _ := c.reader.Peek(n)
		raw = &prefixedConn{Conn: raw, r: io.MultiReader(bytes.NewReader(append([]byte(nil), buffered...)), raw)}
	}

	tlsConn := tls.Server(raw, c.tlsConf)
	_ = tlsConn.SetDeadline(time.Now().Add(30 * time.Second))
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("TLS handshake: %w", err)
	}
	_ = tlsConn.SetDeadline(time.Time{})

	c.conn = tlsConn
	c.reader = bufio.NewReaderSize(tlsConn, maxLineLength)
	c.secure = true
	return nil
}

// Close implements ftp.ControlConn.
func (c *controlConn) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	return conn.Close()
}

// prefixedConn replays already buffered bytes before reading the socket.
type prefixedConn struct {
	net.Conn
	r io.Reader
}

func (p *prefixedConn) Read(b []byte) (int, error) {
	return p.r.Read(b)
}
