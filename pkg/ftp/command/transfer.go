package command

import (
	"context"
	"errors"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/ftp"
	"github.com/marmos91/dittoftp/pkg/ftp/dataconn"
)

// RETR, STOR and APPE consume the REST offset, so they read it before
// resetting the session state.

func handleRETR(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	offset := sess.Offset
	defer sess.ResetState()

	return withDataConnection(sess, func(f *dataconn.Factory) error {
		if !req.HasArgument() {
			return sess.Reply(req, 501, "RETR", "Syntax error in parameters or arguments.")
		}
		virtual := resolve(sess, req.Argument)

		file, err := sess.View.Stat(ctx, virtual)
		if err != nil {
			return replyFSError(sess, req, "RETR", err)
		}
		if !file.Exists {
			return sess.Reply(req, 550, "RETR.missing", "No such file.")
		}
		if file.IsDir {
			return sess.Reply(req, 550, "RETR.invalid", "Not a plain file.")
		}

		conn, err := openData(ctx, sess, req, f, "RETR", "Opening data connection for "+file.Name()+".")
		if conn == nil {
			return err
		}
		defer conn.Close()
		conn.SetRateLimit(sess.User().MaxDownloadRate)

		r, err := sess.View.Open(ctx, virtual, offset)
		if err != nil {
			logger.Debug("FTP session %s: RETR open %s: %v", sess.ID, virtual, err)
			return sess.Reply(req, 551, "RETR.error", "Error on input file.")
		}
		defer r.Close()

		src := &errorReader{r: r}
		started := time.Now()
		n, err := conn.TransferToClient(ctx, src)
		sess.Server().Stats.Downloaded(n)
		recordTransfer(sess, "download", n, started, err)

		if err != nil {
			if src.err != nil && !errors.Is(err, dataconn.ErrAborted) {
				logger.Error("FTP session %s: RETR reading %s: %v", sess.ID, virtual, src.err)
				return sess.Reply(req, 551, "RETR.error", "Error on input file.")
			}
			return transferFailed(sess, req, err)
		}

		logger.Info("FTP session %s: %s downloaded %s (%d bytes)", sess.ID, sess.User().Name, virtual, n)
		return sess.Reply(req, 226, "RETR", "Transfer complete.")
	})
}

func handleSTOR(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	offset := sess.Offset
	defer sess.ResetState()

	if !req.HasArgument() {
		return withDataConnection(sess, func(*dataconn.Factory) error {
			return sess.Reply(req, 501, "STOR", "Syntax error in parameters or arguments.")
		})
	}
	return upload(ctx, sess, req, resolve(sess, req.Argument), offset, false, "STOR")
}

func handleAPPE(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	defer sess.ResetState()

	if !req.HasArgument() {
		return withDataConnection(sess, func(*dataconn.Factory) error {
			return sess.Reply(req, 501, "APPE", "Syntax error in parameters or arguments.")
		})
	}
	return upload(ctx, sess, req, resolve(sess, req.Argument), 0, true, "APPE")
}

// handleSTOU stores under a generated name. An argument that names a
// directory places the file there; any other argument is used as a prefix.
func handleSTOU(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	dir := sess.View.WorkingDir()
	prefix := ""
	if req.HasArgument() {
		arg := resolve(sess, req.Argument)
		f, err := sess.View.Stat(ctx, arg)
		if err == nil && f.Exists && f.IsDir {
			dir = arg
		} else {
			dir, prefix = path.Dir(arg), path.Base(arg)+"."
		}
	}

	return upload(ctx, sess, req, path.Join(dir, prefix+uuid.NewString()), 0, false, "STOU")
}

// upload receives a file from the client into virtual.
func upload(ctx context.Context, sess *ftp.Session, req *ftp.Request, virtual string, offset int64, appendMode bool, subID string) error {
	return withDataConnection(sess, func(f *dataconn.Factory) error {
		if !canWrite(sess, virtual) {
			return sess.Reply(req, 550, subID+".permission", "Permission denied.")
		}

		file, err := sess.View.Stat(ctx, virtual)
		if err != nil {
			return replyFSError(sess, req, subID, err)
		}
		if file.IsDir {
			return sess.Reply(req, 550, subID+".invalid", "Not a plain file.")
		}
		if f.Mode() == dataconn.ModeNone {
			return sess.Reply(req, 425, subID, "Can't open data connection, use PORT or PASV first.")
		}

		// The target is only touched once the client has connected, so a
		// failed data connection leaves existing content intact.
		opening := "Opening data connection for " + path.Base(virtual) + "."
		if subID == "STOU" {
			opening = "FILE: " + path.Base(virtual)
		}
		conn, err := openData(ctx, sess, req, f, subID, opening)
		if conn == nil {
			return err
		}
		defer conn.Close()
		conn.SetRateLimit(sess.User().MaxUploadRate)

		w, err := sess.View.Create(ctx, virtual, offset, appendMode)
		if err != nil {
			logger.Debug("FTP session %s: %s create %s: %v", sess.ID, req.Command, virtual, err)
			_ = conn.Close()
			return sess.Reply(req, 551, subID+".error", "Error on output file.")
		}
		dst := &errorWriter{w: w}

		started := time.Now()
		n, err := conn.TransferFromClient(ctx, dst)
		closeErr := w.Close()
		sess.Server().Stats.Uploaded(n)
		if err == nil {
			err = closeErr
		}
		recordTransfer(sess, "upload", n, started, err)

		if err != nil {
			if dst.err != nil || (closeErr != nil && errors.Is(err, closeErr)) {
				logger.Error("FTP session %s: %s writing %s: %v", sess.ID, req.Command, virtual, err)
				return sess.Reply(req, 551, subID+".error", "Error on output file.")
			}
			return transferFailed(sess, req, err)
		}

		logger.Info("FTP session %s: %s uploaded %s (%d bytes)", sess.ID, sess.User().Name, virtual, n)
		if subID == "STOU" {
			return sess.Reply(req, 226, "STOU", "Transfer complete (unique file name: "+path.Base(virtual)+").")
		}
		return sess.Reply(req, 226, subID, "Transfer complete.")
	})
}
