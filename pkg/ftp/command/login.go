package command

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/ftp"
	"github.com/marmos91/dittoftp/pkg/usermanager"
)

var errLoginSkipped = errors.New("login skipped by hook")

// closeAfter ends the session once a reply has been written.
func closeAfter(writeErr error) error {
	if writeErr != nil {
		return writeErr
	}
	return ftp.ErrCloseSession
}

func handleUSER(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if !req.HasArgument() {
		return sess.Reply(req, 501, "USER", "Syntax error in parameters or arguments.")
	}
	name := req.Argument
	sc := sess.Server()
	cfg := sc.Connection

	if u := sess.User(); u != nil {
		if u.Name == name {
			return sess.Reply(req, 230, "USER", "User already logged in.")
		}
		return sess.Reply(req, 530, "USER.invalid", "Can't change to another user.")
	}

	anonymous := name == usermanager.AnonymousName
	if anonymous {
		if !cfg.AnonymousLoginEnabled {
			return sess.Reply(req, 530, "USER.anonymous", "Anonymous connection is not allowed.")
		}
		if cfg.MaxAnonymousLogins > 0 && sc.Stats.CurrentAnonymousLogins() >= int64(cfg.MaxAnonymousLogins) {
			logger.Warn("FTP session %s: anonymous login limit (%d) reached", sess.ID, cfg.MaxAnonymousLogins)
			return closeAfter(sess.Reply(req, 421, "USER.anonymous", "Maximum anonymous login limit has been reached."))
		}
	}

	if cfg.MaxLogins > 0 && sc.Stats.CurrentLogins() >= int64(cfg.MaxLogins) {
		logger.Warn("FTP session %s: login limit (%d) reached", sess.ID, cfg.MaxLogins)
		return closeAfter(sess.Reply(req, 421, "USER.login", "Maximum login limit has been reached."))
	}

	sess.SetPendingUser(name)
	if anonymous {
		return sess.Reply(req, 331, "USER.anonymous", "Guest login okay, send your complete e-mail address as password.")
	}
	return sess.Reply(req, 331, "USER", "User name okay, need password for "+name+".")
}

func handlePASS(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if sess.IsLoggedIn() {
		return sess.Reply(req, 202, "PASS", "User already logged in.")
	}
	name := sess.PendingUser()
	if name == "" {
		return sess.Reply(req, 503, "PASS", "Login with USER first.")
	}

	sc := sess.Server()
	creds := usermanager.Credentials{
		Username:   name,
		Password:   req.Argument,
		RemoteAddr: sess.Conn.RemoteAddr(),
	}
	anonymous := creds.IsAnonymous()
	if anonymous && !sc.Connection.AnonymousLoginEnabled {
		return sess.Reply(req, 530, "PASS.anonymous", "Anonymous connection is not allowed.")
	}

	user, err := sc.Users.Authenticate(ctx, creds)
	if err != nil && !errors.Is(err, usermanager.ErrAuthenticationFailed) {
		logger.Error("FTP session %s: authenticating %q: %v", sess.ID, name, err)
	}

	repliesBefore := sess.ReplyCount()
	if err == nil {
		total, fromIP := sc.Stats.UserLogins(user.Name, sess.ClientIP())
		if (user.MaxLogins > 0 && total >= user.MaxLogins) || (user.MaxLoginsPerIP > 0 && fromIP >= user.MaxLoginsPerIP) {
			logger.Warn("FTP session %s: too many concurrent logins for %q", sess.ID, user.Name)
			sc.Metric().RecordLogin(anonymous, false)
			return closeAfter(sess.Reply(req, 421, "PASS.login", "Maximum login limit for this user has been reached."))
		}

		res, herr := sc.Hooks.Fire(ctx, ftp.EventLogin, sess, req)
		if herr != nil {
			return herr
		}
		switch res {
		case ftp.ResultDisconnect:
			logger.Info("FTP session %s: login of %q disconnected by hook", sess.ID, user.Name)
			return ftp.ErrCloseSession
		case ftp.ResultSkip:
			err = errLoginSkipped
		}
	}

	if err == nil {
		view, verr := sc.FileSystem.CreateView(ctx, user.HomeDir)
		if verr == nil {
			sess.Login(user, view)
			sc.Metric().RecordLogin(anonymous, true)
			logger.Info("FTP session %s: user %q logged in from %s", sess.ID, user.Name, sess.ClientIP())
			if anonymous {
				return sess.Reply(req, 230, "PASS.anonymous", "Anonymous access granted, restrictions apply.")
			}
			return sess.Reply(req, 230, "PASS", "User logged in, proceed.")
		}
		logger.Error("FTP session %s: cannot create file system view for %q: %v", sess.ID, user.Name, verr)
		err = verr
	}

	sess.SetPendingUser("")
	failures := sess.LoginFailed()
	sc.Stats.LoginFailed()
	sc.Metric().RecordLogin(anonymous, false)
	logger.Warn("FTP session %s: login failed for %q from %s (%d failures): %v", sess.ID, name, sess.ClientIP(), failures, err)

	if delay := sc.Connection.LoginFailureDelay; delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}

	if errors.Is(err, errLoginSkipped) && sess.ReplyCount() != repliesBefore {
		return nil
	}
	return sess.Reply(req, 530, "PASS", "Authentication failed.")
}

func handleACCT(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()
	return sess.Reply(req, 202, "ACCT", "Command not implemented, superfluous at this site.")
}

func handleREIN(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.Reinitialize()
	return sess.Reply(req, 220, "REIN", "Service ready for new user.")
}

func handleQUIT(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()
	return closeAfter(sess.Reply(req, 221, "QUIT", "Goodbye."))
}
