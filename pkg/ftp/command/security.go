package command

import (
	"context"
	"strconv"
	"strings"

	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/ftp"
)

// handleAUTH upgrades the control connection to TLS (RFC 4217). The 234
// reply is sent in clear text before the handshake.
func handleAUTH(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if !req.HasArgument() {
		return sess.Reply(req, 501, "AUTH", "Syntax error in parameters or arguments.")
	}
	if !sess.Conn.TLSAvailable() {
		return sess.Reply(req, 431, "AUTH", "Service is unavailable.")
	}
	if sess.Conn.IsSecure() {
		return sess.Reply(req, 503, "AUTH", "Already using TLS.")
	}

	mech := strings.ToUpper(req.Argument)
	switch mech {
	case "TLS", "TLS-C", "SSL", "TLS-P":
	default:
		return sess.Reply(req, 502, "AUTH", "Command AUTH not implemented for the parameter.")
	}

	if err := sess.Reply(req, 234, "AUTH."+mech, "Command AUTH okay; starting TLS connection."); err != nil {
		return err
	}
	if err := sess.Conn.UpgradeTLS(); err != nil {
		logger.Warn("FTP session %s: TLS handshake failed: %v", sess.ID, err)
		return err
	}

	// SSL and TLS-P imply a protected data channel.
	if mech == "SSL" || mech == "TLS-P" {
		sess.DataConnection().SetSecure(true)
	}
	logger.Debug("FTP session %s: control connection secured (%s)", sess.ID, mech)
	return nil
}

func handlePBSZ(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if !req.HasArgument() {
		return sess.Reply(req, 501, "PBSZ", "Syntax error in parameters or arguments.")
	}
	if _, err := strconv.ParseUint(req.Argument, 10, 32); err != nil {
		return sess.Reply(req, 501, "PBSZ", "Syntax error in parameters or arguments.")
	}
	if !sess.Conn.IsSecure() {
		return sess.Reply(req, 503, "PBSZ", "PBSZ requires a secured control connection.")
	}

	sess.PBSZReceived = true
	return sess.Reply(req, 200, "PBSZ", "PBSZ=0")
}

func handlePROT(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if !req.HasArgument() {
		return sess.Reply(req, 501, "PROT", "Syntax error in parameters or arguments.")
	}
	if !sess.Conn.IsSecure() {
		return sess.Reply(req, 503, "PROT", "PROT requires a secured control connection.")
	}

	f := sess.DataConnection()
	switch strings.ToUpper(req.Argument) {
	case "C":
		f.SetSecure(false)
		return sess.Reply(req, 200, "PROT", "Command PROT okay.")
	case "P":
		if !f.TLSConfigured() {
			return sess.Reply(req, 431, "PROT", "Security is disabled.")
		}
		f.SetSecure(true)
		return sess.Reply(req, 200, "PROT", "Command PROT okay.")
	case "S", "E":
		return sess.Reply(req, 536, "PROT", "Command PROT not implemented for that level.")
	default:
		return sess.Reply(req, 504, "PROT", "Command not implemented for that parameter.")
	}
}
