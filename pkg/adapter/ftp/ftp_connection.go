package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"time"

	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/ftp"
	"github.com/marmos91/dittoftp/pkg/ftp/command"
	"github.com/marmos91/dittoftp/pkg/metrics"
)

// FTPConnection runs the protocol loop of one control connection.
//
// Three goroutines cooperate: the loop in Serve owns the session, a reader
// goroutine reads one line each time the loop asks for one, and each command
// runs on its own worker goroutine. While a command runs the loop keeps
// reading, so an ABOR can interrupt a transfer. Prefetching is skipped for
// AUTH because the TLS handshake needs the socket to itself.
type FTPConnection struct {
	server *FTPAdapter
	conn   *controlConn
	sess   *ftp.Session

	want  chan struct{}
	lines chan lineResult
	quit  chan struct{}

	// outstanding is true while the reader owes the loop a line.
	outstanding bool
}

// transferVerbs are the commands an ABOR received mid-command interrupts.
var transferVerbs = map[string]bool{
	"RETR": true, "STOR": true, "STOU": true, "APPE": true,
	"LIST": true, "NLST": true, "MLSD": true,
}

type lineResult struct {
	line string
	err  error
}

func NewFTPConnection(server *FTPAdapter, conn *controlConn) *FTPConnection {
	return &FTPConnection{
		server: server,
		conn:   conn,
		want:   make(chan struct{}, 1),
		lines:  make(chan lineResult, 1),
		quit:   make(chan struct{}),
	}
}

// Serve handles the session until the client leaves, a policy closes it or
// ctx is cancelled (server shutdown).
func (c *FTPConnection) Serve(ctx context.Context) {
	sc := c.server.serverContext
	clientAddr := c.conn.RemoteAddr().String()

	c.sess = ftp.NewSession(sc, c.conn, c.server.config.Name, c.server.dataConfig, c.server.config.IdleTimeout)
	sc.Register(c.sess)
	sc.Stats.ConnectionOpened()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in FTP connection handler from %s: %v\n%s", clientAddr, r, debug.Stack())
		}
		c.close()
	}()

	logger.Debug("FTP session %s: connection from %s on %s", c.sess.ID, clientAddr, c.server.config.Name)

	go c.readLoop()

	if err := c.sess.Reply(nil, 220, "", "DittoFTP server ready."); err != nil {
		return
	}

	res, err := sc.Hooks.Fire(ctx, ftp.EventConnect, c.sess, nil)
	if err != nil || res == ftp.ResultDisconnect {
		logger.Debug("FTP session %s: disconnected by connect hook (err=%v)", c.sess.ID, err)
		return
	}

	var queued *lineResult
	for {
		var next lineResult
		if queued != nil {
			next, queued = *queued, nil
		} else {
			var ok bool
			next, ok = c.awaitLine(ctx)
			if !ok {
				return
			}
		}

		if next.err != nil {
			c.logReadError(next.err)
			return
		}
		c.sess.Touch()
		if next.line == "" {
			continue
		}

		req := ftp.ParseRequest(next.line)
		queued, err = c.run(ctx, req)
		if err != nil {
			if !errors.Is(err, ftp.ErrCloseSession) {
				logger.Debug("FTP session %s: closing after %s: %v", c.sess.ID, req.Command, err)
			}
			return
		}

		if limit := sc.Connection.MaxLoginFailures; limit > 0 && c.sess.FailedLogins() >= limit {
			logger.Warn("FTP session %s: %d failed logins from %s, closing", c.sess.ID, c.sess.FailedLogins(), c.sess.ClientIP())
			_ = c.sess.Reply(req, 421, "login", "Too many failed login attempts, closing control connection.")
			return
		}
	}
}

// readLoop serves line requests until the connection goes away.
func (c *FTPConnection) readLoop() {
	for {
		select {
		case <-c.want:
		case <-c.quit:
			return
		}

		line, err := c.conn.ReadLine()
		select {
		case c.lines <- lineResult{line: line, err: err}:
		case <-c.quit:
			return
		}
		if err != nil {
			return
		}
	}
}

// requestLine asks the reader for the next line unless one is owed already.
func (c *FTPConnection) requestLine() {
	if c.outstanding {
		return
	}
	c.outstanding = true
	c.want <- struct{}{}
}

// awaitLine waits for the next command line, enforcing the idle timeout.
func (c *FTPConnection) awaitLine(ctx context.Context) (lineResult, bool) {
	c.requestLine()

	for {
		var timeout <-chan time.Time
		var timer *time.Timer
		if idle := c.sess.MaxIdleTime(); idle > 0 {
			wait := idle - time.Since(c.sess.LastAccess())
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
			timeout = timer.C
		}

		select {
		case res := <-c.lines:
			stopTimer(timer)
			c.outstanding = false
			return res, true

		case <-ctx.Done():
			stopTimer(timer)
			_ = c.sess.Reply(nil, 421, "shutdown", "Server is shutting down, closing control connection.")
			return lineResult{}, false

		case <-timeout:
			idle := c.sess.MaxIdleTime()
			if c.sess.IsTransferring() || time.Since(c.sess.LastAccess()) < idle {
				continue
			}
			logger.Info("FTP session %s: idle for more than %v, closing", c.sess.ID, idle)
			_ = c.sess.Reply(nil, 421, "idle", "No activity for too long, closing control connection.")
			return lineResult{}, false
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// run executes one command on a worker goroutine while watching for ABOR.
// It returns a line read during the command, to be processed next.
func (c *FTPConnection) run(ctx context.Context, req *ftp.Request) (*lineResult, error) {
	cmdCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic in FTP command %s (session %s): %v\n%s", req.Command, c.sess.ID, r, debug.Stack())
				done <- fmt.Errorf("panic in %s: %v", req.Command, r)
			}
		}()
		done <- c.execute(cmdCtx, req)
	}()

	prefetch := req.Command != "AUTH"
	if prefetch {
		c.requestLine()
	}

	var queued *lineResult
	for {
		var lines <-chan lineResult
		if prefetch && queued == nil {
			lines = c.lines
		}

		select {
		case err := <-done:
			return queued, err

		case res := <-lines:
			c.outstanding = false
			queued = &res
			if res.err != nil {
				// Client went away mid-command.
				c.abortTransfer()
				cancel()
				continue
			}
			c.sess.Touch()
			if next := ftp.ParseRequest(res.line); next.Command == "ABOR" && transferVerbs[req.Command] {
				logger.Debug("FTP session %s: ABOR received during %s", c.sess.ID, req.Command)
				c.abortTransfer()
			}

		case <-ctx.Done():
			c.abortTransfer()
			cancel()
			err := <-done
			_ = c.sess.Reply(nil, 421, "shutdown", "Server is shutting down, closing control connection.")
			if err == nil {
				err = ctx.Err()
			}
			return nil, err
		}
	}
}

func (c *FTPConnection) abortTransfer() {
	if f := c.sess.CurrentDataConnection(); f != nil {
		f.Abort()
	}
}

// execute resolves and runs one command, firing hook events around it.
func (c *FTPConnection) execute(ctx context.Context, req *ftp.Request) error {
	sc := c.server.serverContext
	sess := c.sess
	m := sc.Metric()

	logger.Debug("FTP session %s: command %s", sess.ID, req)

	verb, handler, ok := c.server.commands.Resolve(req.Command)
	if !ok {
		m.RecordCommand(metrics.UnknownVerb, 502, 0)
		return sess.Reply(req, 502, "unknown", "Command "+req.Command+" not implemented.")
	}
	req.Command = verb

	if !sess.IsLoggedIn() && !command.AllowedBeforeLogin(verb) {
		m.RecordCommand(verb, 530, 0)
		return sess.Reply(req, 530, "login", "Please login with USER and PASS.")
	}

	start, end, hasEnd, hasEvents := ftp.CommandEvents(verb)
	if hasEvents {
		before := sess.ReplyCount()
		res, err := sc.Hooks.Fire(ctx, start, sess, req)
		if err != nil {
			return err
		}
		switch res {
		case ftp.ResultDisconnect:
			return ftp.ErrCloseSession
		case ftp.ResultSkip:
			if sess.ReplyCount() == before {
				return sess.Reply(req, 550, "skip", "Command skipped by server hook.")
			}
			return nil
		}
	}

	m.RecordCommandStart(verb)
	started := time.Now()
	err := handler.Execute(ctx, sess, req)
	m.RecordCommandEnd(verb)
	m.RecordCommand(verb, sess.LastReply().Code, time.Since(started))

	if err != nil || !hasEnd {
		return err
	}

	res, err := sc.Hooks.Fire(ctx, end, sess, req)
	if err != nil {
		return err
	}
	if res == ftp.ResultDisconnect {
		return ftp.ErrCloseSession
	}
	return nil
}

func (c *FTPConnection) logReadError(err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("FTP session %s: closed by client", c.sess.ID)
	case errors.Is(err, errLineTooLong):
		logger.Warn("FTP session %s: command line longer than %d bytes from %s", c.sess.ID, maxLineLength, c.sess.ClientIP())
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("FTP session %s: read timed out: %v", c.sess.ID, err)
	default:
		logger.Debug("FTP session %s: read error: %v", c.sess.ID, err)
	}
}

// close releases the session: Disconnect event, data connection, view and
// statistics.
func (c *FTPConnection) close() {
	sc := c.server.serverContext
	close(c.quit)

	if c.sess == nil {
		_ = c.conn.Close()
		return
	}

	if _, err := sc.Hooks.Fire(context.Background(), ftp.EventDisconnect, c.sess, nil); err != nil {
		logger.Debug("FTP session %s: disconnect hook: %v", c.sess.ID, err)
	}
	c.sess.Close()
	_ = c.conn.Close()
	sc.Unregister(c.sess)
	sc.Stats.ConnectionClosed()
	logger.Debug("FTP session %s: connection closed (%d replies)", c.sess.ID, c.sess.ReplyCount())
}
