package command

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/ftp"
	"github.com/marmos91/dittoftp/pkg/ftp/dataconn"
)

// parsePortArgument decodes the h1,h2,h3,h4,p1,p2 form used by PORT.
func parsePortArgument(arg string) (*net.TCPAddr, error) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		return nil, fmt.Errorf("expected 6 fields, got %d", len(parts))
	}

	var b [6]byte
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return nil, fmt.Errorf("invalid field %q", p)
		}
		b[i] = byte(n)
	}

	return &net.TCPAddr{
		IP:   net.IPv4(b[0], b[1], b[2], b[3]),
		Port: int(b[4])<<8 | int(b[5]),
	}, nil
}

// errUnsupportedProtocol marks an EPRT network protocol other than 1 or 2.
var errUnsupportedProtocol = errors.New("unsupported network protocol")

// parseEPRTArgument decodes <d>proto<d>addr<d>port<d> (RFC 2428). The
// delimiter is whatever the first character is.
func parseEPRTArgument(arg string) (*net.TCPAddr, error) {
	if len(arg) < 2 {
		return nil, errors.New("argument too short")
	}
	parts := strings.Split(arg[1:], arg[:1])
	if len(parts) != 4 || parts[3] != "" {
		return nil, errors.New("malformed argument")
	}

	ip := net.ParseIP(parts[1])
	switch parts[0] {
	case "1":
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("invalid IPv4 address %q", parts[1])
		}
	case "2":
		if ip == nil || ip.To4() != nil {
			return nil, fmt.Errorf("invalid IPv6 address %q", parts[1])
		}
	default:
		return nil, errUnsupportedProtocol
	}

	port, err := strconv.Atoi(parts[2])
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid port %q", parts[2])
	}
	return &net.TCPAddr{IP: ip, Port: port}, nil
}

func handlePORT(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if !req.HasArgument() {
		return sess.Reply(req, 501, "PORT", "Syntax error in parameters or arguments.")
	}
	addr, err := parsePortArgument(req.Argument)
	if err != nil {
		logger.Debug("FTP session %s: bad PORT argument %q: %v", sess.ID, req.Argument, err)
		return sess.Reply(req, 501, "PORT", "Syntax error in IP address or port number.")
	}
	return initActive(sess, req, addr, "PORT")
}

func handleEPRT(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if !req.HasArgument() {
		return sess.Reply(req, 501, "EPRT", "Syntax error in parameters or arguments.")
	}
	addr, err := parseEPRTArgument(req.Argument)
	if errors.Is(err, errUnsupportedProtocol) {
		return sess.Reply(req, 522, "EPRT", "Network protocol not supported, use (1,2)")
	}
	if err != nil {
		logger.Debug("FTP session %s: bad EPRT argument %q: %v", sess.ID, req.Argument, err)
		return sess.Reply(req, 501, "EPRT", "Syntax error in parameters or arguments.")
	}
	return initActive(sess, req, addr, "EPRT")
}

func initActive(sess *ftp.Session, req *ftp.Request, addr *net.TCPAddr, subID string) error {
	err := sess.DataConnection().InitActive(addr)
	switch {
	case err == nil:
		return sess.Reply(req, 200, subID, "Command "+subID+" okay.")
	case errors.Is(err, dataconn.ErrActiveDisabled):
		return sess.Reply(req, 502, subID+".disabled", "Active mode is disabled.")
	case errors.Is(err, dataconn.ErrPeerMismatch):
		logger.Warn("FTP session %s: rejected %s to %s: %v", sess.ID, subID, addr, err)
		return sess.Reply(req, 504, subID+".mismatch", "Data connection address must match the control connection.")
	default:
		return sess.Reply(req, 504, subID, "Command not implemented for that parameter.")
	}
}

func handlePASV(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	f := sess.DataConnection()
	addr, err := f.InitPassive()
	if err != nil {
		logger.Warn("FTP session %s: PASV failed: %v", sess.ID, err)
		return sess.Reply(req, 425, "PASV", "Can't open passive connection.")
	}

	ip4 := addr.IP.To4()
	if ip4 == nil {
		f.Close()
		return sess.Reply(req, 425, "PASV", "Passive address is not IPv4, use EPSV.")
	}

	hostPort := fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip4[0], ip4[1], ip4[2], ip4[3], addr.Port>>8, addr.Port&0xff)
	return sess.Reply(req, 227, "PASV", "Entering Passive Mode ("+hostPort+").")
}

func handleEPSV(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	switch strings.ToUpper(req.Argument) {
	case "", "1", "2":
	case "ALL":
		return sess.Reply(req, 200, "EPSV", "EPSV ALL command successful.")
	default:
		return sess.Reply(req, 522, "EPSV", "Network protocol not supported, use (1,2)")
	}

	addr, err := sess.DataConnection().InitPassive()
	if err != nil {
		logger.Warn("FTP session %s: EPSV failed: %v", sess.ID, err)
		return sess.Reply(req, 425, "EPSV", "Can't open passive connection.")
	}
	return sess.Reply(req, 229, "EPSV", fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", addr.Port))
}

// handleABOR runs after the connection loop has already aborted any
// transfer in flight; it only has to drop the negotiated data connection.
func handleABOR(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if f := sess.CurrentDataConnection(); f != nil {
		f.Close()
	}
	return sess.Reply(req, 226, "ABOR", "ABOR command successful.")
}
