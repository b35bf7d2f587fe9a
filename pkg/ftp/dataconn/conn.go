package dataconn

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoftp/internal/ratelimiter"
)

// Conn is an open data connection. It is created by Factory.Open and torn
// down by Factory.Close.
type Conn struct {
	raw     net.Conn
	factory *Factory

	ascii   bool
	limiter *ratelimiter.RateLimiter

	aborted atomic.Bool
}

func newConn(raw net.Conn, f *Factory) *Conn {
	return &Conn{raw: raw, factory: f}
}

// SetASCII enables line ending conversion.
func (c *Conn) SetASCII(ascii bool) {
	c.ascii = ascii
}

// SetRateLimit caps the transfer at bytesPerSecond. Zero means unlimited.
func (c *Conn) SetRateLimit(bytesPerSecond int) {
	c.limiter = ratelimiter.New(bytesPerSecond)
}

// RemoteAddr returns the data peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Close closes the socket and detaches it from the factory so another Open
// can follow on the same negotiation.
func (c *Conn) Close() error {
	c.factory.release(c)
	return c.raw.Close()
}

func (c *Conn) abort() {
	c.aborted.Store(true)
	_ = c.raw.Close()
}

// TransferFromClient copies the client's upload into w and returns the
// number of bytes received from the socket.
func (c *Conn) TransferFromClient(ctx context.Context, w io.Writer) (int64, error) {
	dst := w
	var fixer *crlfToLF
	if c.ascii {
		fixer = &crlfToLF{w: w}
		dst = fixer
	}

	n, err := c.copy(ctx, dst, c.raw)
	if err == nil && fixer != nil {
		err = fixer.Flush()
	}
	return n, err
}

// TransferToClient copies r to the client and returns the number of bytes
// read from r.
func (c *Conn) TransferToClient(ctx context.Context, r io.Reader) (int64, error) {
	var dst io.Writer = c.raw
	if c.ascii {
		dst = &lfToCRLF{w: c.raw}
	}
	return c.copy(ctx, dst, r)
}

// TransferText sends a listing or other generated text. Text always uses
// CRLF line endings regardless of the TYPE setting.
func (c *Conn) TransferText(ctx context.Context, s string) (int64, error) {
	return c.copy(ctx, &lfToCRLF{w: c.raw}, strings.NewReader(s))
}

// copy moves bytes from src to dst. Every socket operation gets a fresh idle
// deadline. The returned count is what was read from src.
func (c *Conn) copy(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.raw.Close() })
	defer stop()

	// nil limiter passes src through
	src = c.limiter.Reader(ctx, src)

	idle := c.factory.cfg.IdleTimeout
	buf := getBuffer(c.bufferSize())
	defer putBuffer(buf)
	var total int64

	for {
		if c.aborted.Load() {
			return total, ErrAborted
		}

		if idle > 0 {
			_ = c.raw.SetDeadline(time.Now().Add(idle))
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			total += int64(nr)
			c.factory.touch()

			if _, werr := dst.Write(buf[:nr]); werr != nil {
				return total, c.interrupted(ctx, werr)
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return total, nil
			}
			return total, c.interrupted(ctx, rerr)
		}
	}
}

// interrupted maps errors caused by Abort or ctx cancellation (which close
// the socket under the copy loop) to ErrAborted.
func (c *Conn) interrupted(ctx context.Context, err error) error {
	if c.aborted.Load() || ctx.Err() != nil {
		return ErrAborted
	}
	return err
}

// lfToCRLF converts bare LF to CRLF. A CR already preceding an LF is kept.
type lfToCRLF struct {
	w      io.Writer
	lastCR bool
}

func (a *lfToCRLF) Write(p []byte) (int, error) {
	out := make([]byte, 0, len(p)+len(p)/16)
	for _, b := range p {
		if b == '\n' && !a.lastCR {
			out = append(out, '\r')
		}
		out = append(out, b)
		a.lastCR = b == '\r'
	}
	if _, err := a.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// crlfToLF converts CRLF to LF. A CR at the end of a chunk is held back until
// the next byte is known; Flush emits it at end of stream.
type crlfToLF struct {
	w         io.Writer
	pendingCR bool
}

func (a *crlfToLF) Write(p []byte) (int, error) {
	out := make([]byte, 0, len(p)+1)
	for _, b := range p {
		if a.pendingCR {
			a.pendingCR = false
			if b != '\n' {
				out = append(out, '\r')
			}
		}
		if b == '\r' {
			a.pendingCR = true
			continue
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return len(p), nil
	}
	if _, err := a.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush writes a trailing CR held back by the last Write.
func (a *crlfToLF) Flush() error {
	if !a.pendingCR {
		return nil
	}
	a.pendingCR = false
	_, err := a.w.Write([]byte{'\r'})
	return err
}
