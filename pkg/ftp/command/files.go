package command

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/ftp"
)

func handleDELE(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if !req.HasArgument() {
		return sess.Reply(req, 501, "DELE", "Syntax error in parameters or arguments.")
	}
	virtual := resolve(sess, req.Argument)
	if !canWrite(sess, virtual) {
		return sess.Reply(req, 550, "DELE.permission", "Permission denied.")
	}

	f, err := sess.View.Stat(ctx, virtual)
	if err != nil {
		return replyFSError(sess, req, "DELE", err)
	}
	if !f.Exists || f.IsDir {
		return sess.Reply(req, 550, "DELE.invalid", "Not a valid file.")
	}

	if err := sess.View.Remove(ctx, virtual); err != nil {
		return replyFSError(sess, req, "DELE", err)
	}
	sess.Server().Stats.Deleted()
	logger.Info("FTP session %s: file %s deleted by %s", sess.ID, virtual, sess.User().Name)
	return sess.Reply(req, 250, "DELE", "Requested file action okay, file deleted.")
}

func handleRNFR(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if !req.HasArgument() {
		return sess.Reply(req, 501, "RNFR", "Syntax error in parameters or arguments.")
	}
	f, err := sess.View.Stat(ctx, req.Argument)
	if err != nil {
		return replyFSError(sess, req, "RNFR", err)
	}
	if !f.Exists {
		return sess.Reply(req, 550, "RNFR", "No such file or directory.")
	}

	sess.RenameFrom = &f
	return sess.Reply(req, 350, "RNFR", "Requested file action pending further information.")
}

func handleRNTO(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	from := sess.RenameFrom
	defer sess.ResetState()

	if !req.HasArgument() {
		return sess.Reply(req, 501, "RNTO", "Syntax error in parameters or arguments.")
	}
	if from == nil {
		return sess.Reply(req, 503, "RNTO", "Can't find the file which has to be renamed.")
	}

	to := resolve(sess, req.Argument)
	if !canWrite(sess, from.Path) || !canWrite(sess, to) {
		return sess.Reply(req, 553, "RNTO.permission", "Permission denied.")
	}

	if err := sess.View.Rename(ctx, from.Path, to); err != nil {
		logger.Debug("FTP session %s: rename %s -> %s: %v", sess.ID, from.Path, to, err)
		return sess.Reply(req, 553, "RNTO", "Requested action not taken.")
	}
	logger.Info("FTP session %s: %s renamed to %s by %s", sess.ID, from.Path, to, sess.User().Name)
	return sess.Reply(req, 250, "RNTO", "Requested file action okay, file renamed.")
}

func handleSIZE(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if !req.HasArgument() {
		return sess.Reply(req, 501, "SIZE", "Syntax error in parameters or arguments.")
	}
	f, err := sess.View.Stat(ctx, req.Argument)
	if err != nil {
		return replyFSError(sess, req, "SIZE", err)
	}
	if !f.Exists {
		return sess.Reply(req, 550, "SIZE.missing", "No such file.")
	}
	if f.IsDir {
		return sess.Reply(req, 550, "SIZE.invalid", "Not a plain file.")
	}
	return sess.Reply(req, 213, "SIZE", strconv.FormatInt(f.Size, 10))
}

func handleMDTM(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if !req.HasArgument() {
		return sess.Reply(req, 501, "MDTM", "Syntax error in parameters or arguments.")
	}
	f, err := sess.View.Stat(ctx, req.Argument)
	if err != nil {
		return replyFSError(sess, req, "MDTM", err)
	}
	if !f.Exists {
		return sess.Reply(req, 550, "MDTM", "No such file or directory.")
	}
	return sess.Reply(req, 213, "MDTM", f.ModTime.UTC().Format(ftpTimeLayout))
}

// handleMFMT sets a file's modification time:
// "MFMT YYYYMMDDHHMMSS[.sss] path".
func handleMFMT(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	stamp, name, ok := strings.Cut(req.Argument, " ")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return sess.Reply(req, 501, "MFMT.invalid", "Syntax error in parameters or arguments.")
	}
	t, err := parseFTPTime(stamp)
	if err != nil {
		return sess.Reply(req, 501, "MFMT.invalid", "Invalid time value.")
	}

	virtual := resolve(sess, name)
	f, err := sess.View.Stat(ctx, virtual)
	if err != nil {
		return replyFSError(sess, req, "MFMT", err)
	}
	if !f.Exists {
		return sess.Reply(req, 550, "MFMT.filemissing", "No such file.")
	}
	if f.IsDir {
		return sess.Reply(req, 501, "MFMT.dir", "Not a plain file.")
	}
	if !canWrite(sess, virtual) {
		return sess.Reply(req, 550, "MFMT.permission", "Permission denied.")
	}

	if err := sess.View.SetModTime(ctx, virtual, t); err != nil {
		return replyFSError(sess, req, "MFMT", err)
	}
	return sess.Reply(req, 213, "MFMT", fmt.Sprintf("Modify=%s; %s", t.Format(ftpTimeLayout), name))
}

func parseFTPTime(s string) (time.Time, error) {
	base, frac, _ := strings.Cut(s, ".")
	if len(base) != len(ftpTimeLayout) {
		return time.Time{}, fmt.Errorf("invalid time value %q", s)
	}
	t, err := time.ParseInLocation(ftpTimeLayout, base, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	if frac != "" {
		ms, err := strconv.Atoi(frac)
		if err != nil || len(frac) > 3 {
			return time.Time{}, fmt.Errorf("invalid time value %q", s)
		}
		for i := len(frac); i < 3; i++ {
			ms *= 10
		}
		t = t.Add(time.Duration(ms) * time.Millisecond)
	}
	return t, nil
}

func handleMD5(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if !req.HasArgument() {
		return sess.Reply(req, 504, "MD5", "Syntax error in parameters or arguments.")
	}
	name := unquote(req.Argument)
	sum, code, err := md5File(ctx, sess, name)
	if err != nil {
		return err
	}
	if code != 0 {
		return sess.Reply(req, code, "MD5.invalid", "Not a valid file: "+name)
	}
	return sess.Reply(req, 251, "MD5", name+" "+sum)
}

// handleMMD5 hashes a comma separated list of files.
func handleMMD5(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if !req.HasArgument() {
		return sess.Reply(req, 504, "MMD5", "Syntax error in parameters or arguments.")
	}

	var parts []string
	for _, name := range strings.Split(req.Argument, ",") {
		name = unquote(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		sum, code, err := md5File(ctx, sess, name)
		if err != nil {
			return err
		}
		if code != 0 {
			return sess.Reply(req, code, "MMD5.invalid", "Not a valid file: "+name)
		}
		parts = append(parts, name+" "+sum)
	}
	if len(parts) == 0 {
		return sess.Reply(req, 504, "MMD5", "Syntax error in parameters or arguments.")
	}
	return sess.Reply(req, 252, "MMD5", strings.Join(parts, ","))
}

// md5File returns the upper-case hex digest of a file. A non-zero code means
// the file cannot be hashed; err is reserved for context cancellation.
func md5File(ctx context.Context, sess *ftp.Session, name string) (string, int, error) {
	f, err := sess.View.Stat(ctx, name)
	if err != nil || !f.Exists || f.IsDir {
		return "", 504, nil
	}

	r, err := sess.View.Open(ctx, name, 0)
	if err != nil {
		return "", 504, nil
	}
	defer r.Close()

	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		logger.Debug("FTP session %s: MD5 %s: %v", sess.ID, name, err)
		return "", 504, nil
	}
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), 0, nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
