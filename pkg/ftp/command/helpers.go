package command

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/filesystem"
	"github.com/marmos91/dittoftp/pkg/ftp"
	"github.com/marmos91/dittoftp/pkg/ftp/dataconn"
)

// ftpTimeLayout is the RFC 3659 time-val format (always UTC).
const ftpTimeLayout = "20060102150405"

// canWrite reports whether the logged-in user may modify virtual.
func canWrite(sess *ftp.Session, virtual string) bool {
	u := sess.User()
	return u != nil && u.CanWrite(virtual)
}

// resolve turns a client argument into a virtual path.
func resolve(sess *ftp.Session, arg string) string {
	return filesystem.Resolve(sess.View.WorkingDir(), arg)
}

// quote formats a path for a 257 reply, doubling embedded quotes.
func quote(p string) string {
	return `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
}

// withDataConnection runs a transfer command. The session's data connection
// factory is closed when fn returns, whatever happened, so the passive port
// reserved by PASV/EPSV is released on every path.
func withDataConnection(sess *ftp.Session, fn func(f *dataconn.Factory) error) error {
	f := sess.DataConnection()
	defer f.Close()
	return fn(f)
}

// openData sends the 150 reply and opens the negotiated data connection.
// When it returns a nil Conn and a nil error the failure reply has already
// been written.
func openData(ctx context.Context, sess *ftp.Session, req *ftp.Request, f *dataconn.Factory, subID, basic string) (*dataconn.Conn, error) {
	if f.Mode() == dataconn.ModeNone {
		return nil, sess.Reply(req, 425, subID, "Can't open data connection, use PORT or PASV first.")
	}

	if err := sess.Reply(req, 150, subID, basic); err != nil {
		return nil, err
	}

	conn, err := f.Open(ctx)
	if err != nil {
		logger.Debug("FTP session %s: %s: cannot open data connection: %v", sess.ID, req.Command, err)
		return nil, sess.Reply(req, 425, subID, "Can't open data connection.")
	}
	conn.SetASCII(sess.DataType == ftp.TypeASCII)
	return conn, nil
}

// recordTransfer updates metrics for a finished transfer.
func recordTransfer(sess *ftp.Session, direction string, n int64, started time.Time, err error) {
	sess.Server().Metric().RecordTransfer(direction, n, time.Since(started), err)
}

// transferFailed writes the reply for a data transfer that did not complete.
func transferFailed(sess *ftp.Session, req *ftp.Request, err error) error {
	if errors.Is(err, dataconn.ErrAborted) {
		return sess.Reply(req, 426, req.Command, "Data connection closed; transfer aborted.")
	}
	logger.Debug("FTP session %s: %s transfer failed: %v", sess.ID, req.Command, err)
	return sess.Reply(req, 426, req.Command, "Data connection error; transfer aborted.")
}

// errorWriter remembers the first write error of the wrapped writer so
// local failures can be told apart from socket failures.
type errorWriter struct {
	w   io.Writer
	err error
}

func (e *errorWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil && e.err == nil {
		e.err = err
	}
	return n, err
}

// errorReader is errorWriter for reads.
type errorReader struct {
	r   io.Reader
	err error
}

func (e *errorReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && e.err == nil && !errors.Is(err, io.EOF) {
		e.err = err
	}
	return n, err
}
