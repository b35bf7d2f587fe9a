// Package ftplet contains stock hooks for the FTP event chain.
package ftplet

import (
	"context"
	"path"
	"strings"

	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/ftp"
)

// AuditHook logs every event with the session, user and command involved.
type AuditHook struct{}

func (AuditHook) OnEvent(ctx context.Context, ev ftp.Event, sess *ftp.Session, req *ftp.Request) (ftp.Result, error) {
	user := "-"
	if u := sess.User(); u != nil {
		user = u.Name
	}
	line := ""
	if req != nil {
		line = req.String()
	}
	logger.Info("FTP audit: event=%s session=%s user=%s client=%s request=%q",
		ev, sess.ID, user, sess.ClientIP(), line)
	return ftp.ResultDefault, nil
}

// DenyExtensionsHook refuses uploads and renames to files with one of the
// configured extensions.
type DenyExtensionsHook struct {
	extensions map[string]bool
}

// NewDenyExtensionsHook accepts extensions with or without the leading dot.
// Matching is case-insensitive.
func NewDenyExtensionsHook(extensions ...string) *DenyExtensionsHook {
	h := &DenyExtensionsHook{extensions: make(map[string]bool, len(extensions))}
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		h.extensions[e] = true
	}
	return h
}

func (h *DenyExtensionsHook) OnEvent(ctx context.Context, ev ftp.Event, sess *ftp.Session, req *ftp.Request) (ftp.Result, error) {
	switch ev {
	case ftp.EventUploadStart, ftp.EventAppendStart, ftp.EventRenameStart:
	default:
		return ftp.ResultDefault, nil
	}
	if req == nil || !h.extensions[strings.ToLower(path.Ext(req.Argument))] {
		return ftp.ResultDefault, nil
	}

	logger.Warn("FTP session %s: %s of %q refused by extension policy", sess.ID, req.Command, req.Argument)
	return ftp.ResultSkip, sess.Reply(req, 553, "deny.extension", "File name not allowed.")
}

// MaxSessionsPerIPHook disconnects clients that open more than Max control
// connections from one address.
type MaxSessionsPerIPHook struct {
	Max int

	server *ftp.ServerContext
}

// Init implements ftp.Initializer.
func (h *MaxSessionsPerIPHook) Init(sc *ftp.ServerContext) error {
	h.server = sc
	return nil
}

func (h *MaxSessionsPerIPHook) OnEvent(ctx context.Context, ev ftp.Event, sess *ftp.Session, req *ftp.Request) (ftp.Result, error) {
	if ev != ftp.EventConnect || h.Max <= 0 || h.server == nil {
		return ftp.ResultDefault, nil
	}

	ip := sess.ClientIP()
	count := 0
	for _, s := range h.server.Sessions() {
		if s.ClientIP() == ip {
			count++
		}
	}
	if count <= h.Max {
		return ftp.ResultDefault, nil
	}

	logger.Warn("FTP session %s: %d sessions from %s exceed the limit of %d", sess.ID, count, ip, h.Max)
	return ftp.ResultDisconnect, sess.Reply(req, 421, "deny.sessions", "Too many connections from your address.")
}
