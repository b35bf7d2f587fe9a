package command

import (
	"context"
	"strconv"
	"strings"

	"github.com/marmos91/dittoftp/pkg/ftp"
)

func handleTYPE(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	switch strings.ToUpper(strings.Join(strings.Fields(req.Argument), " ")) {
	case "A", "A N":
		sess.DataType = ftp.TypeASCII
		return sess.Reply(req, 200, "TYPE", "Type set to A.")
	case "I", "L 8":
		sess.DataType = ftp.TypeBinary
		return sess.Reply(req, 200, "TYPE", "Type set to I.")
	case "":
		return sess.Reply(req, 501, "TYPE", "Syntax error in parameters or arguments.")
	default:
		return sess.Reply(req, 504, "TYPE", "Command not implemented for that parameter.")
	}
}

// handleSTRU accepts only the file structure; record and page structures
// are acknowledged as not implemented.
func handleSTRU(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	switch strings.ToUpper(req.Argument) {
	case "F":
		sess.Structure = ftp.StructureFile
		return sess.Reply(req, 200, "STRU", "Structure set to F.")
	case "R", "P":
		return sess.Reply(req, 504, "STRU", "Command not implemented for that parameter.")
	case "":
		return sess.Reply(req, 501, "STRU", "Syntax error in parameters or arguments.")
	default:
		return sess.Reply(req, 501, "STRU", "Unrecognized structure type.")
	}
}

func handleMODE(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	switch strings.ToUpper(req.Argument) {
	case "S":
		return sess.Reply(req, 200, "MODE", "Mode set to S.")
	case "B", "C", "Z":
		return sess.Reply(req, 504, "MODE", "Command not implemented for that parameter.")
	case "":
		return sess.Reply(req, 501, "MODE", "Syntax error in parameters or arguments.")
	default:
		return sess.Reply(req, 501, "MODE", "Unrecognized transfer mode.")
	}
}

// handleREST sets the offset for the next RETR or STOR. A pending RNFR is
// dropped; the new offset survives until the next command.
func handleREST(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.RenameFrom = nil
	if !req.HasArgument() {
		return sess.Reply(req, 501, "REST", "Syntax error in parameters or arguments.")
	}

	offset, err := strconv.ParseInt(req.Argument, 10, 64)
	if err != nil || offset < 0 {
		sess.ResetState()
		return sess.Reply(req, 501, "REST.invalid", "Not a valid number.")
	}
	if offset > 0 && !sess.View.IsRandomAccessible() {
		sess.ResetState()
		return sess.Reply(req, 504, "REST", "Restart is not supported by this file system.")
	}

	sess.Offset = offset
	return sess.Reply(req, 350, "REST", "Restarting at "+req.Argument+". Send STORE or RETRIEVE.")
}

func handleALLO(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()
	return sess.Reply(req, 200, "ALLO", "Command ALLO okay.")
}
