package command

import (
	"context"
	"errors"

	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/filesystem"
	"github.com/marmos91/dittoftp/pkg/ftp"
)

// replyFSError maps a file system error to a reply. Permanent conditions get
// 5xx codes, anything unexpected 450 so the client may retry.
func replyFSError(sess *ftp.Session, req *ftp.Request, subID string, err error) error {
	code, msg := 450, "Requested file action not taken."
	switch {
	case errors.Is(err, filesystem.ErrNotFound):
		code, msg = 550, "No such file or directory."
	case errors.Is(err, filesystem.ErrPermission):
		code, msg = 550, "Permission denied."
	case errors.Is(err, filesystem.ErrAlreadyExists):
		code, msg = 550, "File exists."
	case errors.Is(err, filesystem.ErrNotEmpty):
		code, msg = 550, "Directory not empty."
	case errors.Is(err, filesystem.ErrIsDirectory):
		code, msg = 550, "Is a directory."
	case errors.Is(err, filesystem.ErrNotDirectory):
		code, msg = 550, "Not a directory."
	case errors.Is(err, filesystem.ErrInvalidPath):
		code, msg = 553, "File name not allowed."
	case errors.Is(err, filesystem.ErrNotSupported):
		code, msg = 504, "Operation not supported by the file system."
	default:
		logger.Error("FTP session %s: %s %q: %v", sess.ID, req.Command, req.Argument, err)
	}
	return sess.Reply(req, code, subID, msg)
}

func handleCWD(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	dir := req.Argument
	if dir == "" {
		dir = "/"
	}
	if err := sess.View.ChangeDir(ctx, dir); err != nil {
		return replyFSError(sess, req, "CWD", err)
	}
	return sess.Reply(req, 250, "CWD", "Directory changed to "+sess.View.WorkingDir())
}

func handleCDUP(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if err := sess.View.ChangeDir(ctx, ".."); err != nil {
		return replyFSError(sess, req, "CDUP", err)
	}
	return sess.Reply(req, 250, "CDUP", "Directory changed to "+sess.View.WorkingDir())
}

func handlePWD(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()
	return sess.Reply(req, 257, "PWD", quote(sess.View.WorkingDir())+" is current directory.")
}

func handleMKD(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if !req.HasArgument() {
		return sess.Reply(req, 501, "MKD", "Syntax error in parameters or arguments.")
	}
	virtual := resolve(sess, req.Argument)
	if !canWrite(sess, virtual) {
		return sess.Reply(req, 550, "MKD.permission", "Permission denied.")
	}

	f, err := sess.View.Stat(ctx, virtual)
	if err != nil {
		return replyFSError(sess, req, "MKD", err)
	}
	if f.Exists {
		return sess.Reply(req, 550, "MKD.exists", quote(virtual)+" already exists.")
	}

	if err := sess.View.Mkdir(ctx, virtual); err != nil {
		return replyFSError(sess, req, "MKD", err)
	}
	sess.Server().Stats.DirCreated()
	logger.Info("FTP session %s: directory %s created by %s", sess.ID, virtual, sess.User().Name)
	return sess.Reply(req, 257, "MKD", quote(virtual)+" created.")
}

func handleRMD(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if !req.HasArgument() {
		return sess.Reply(req, 501, "RMD", "Syntax error in parameters or arguments.")
	}
	virtual := resolve(sess, req.Argument)
	if virtual == "/" || virtual == sess.View.WorkingDir() {
		return sess.Reply(req, 450, "RMD.busy", "Can't remove the current directory.")
	}
	if !canWrite(sess, virtual) {
		return sess.Reply(req, 550, "RMD.permission", "Permission denied.")
	}

	f, err := sess.View.Stat(ctx, virtual)
	if err != nil {
		return replyFSError(sess, req, "RMD", err)
	}
	if !f.Exists || !f.IsDir {
		return sess.Reply(req, 550, "RMD.invalid", "Not a valid directory.")
	}

	if err := sess.View.RemoveDir(ctx, virtual); err != nil {
		return replyFSError(sess, req, "RMD", err)
	}
	sess.Server().Stats.DirRemoved()
	logger.Info("FTP session %s: directory %s removed by %s", sess.ID, virtual, sess.User().Name)
	return sess.Reply(req, 250, "RMD", "Directory removed.")
}
