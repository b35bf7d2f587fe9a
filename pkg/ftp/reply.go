// Package ftp contains the protocol core shared by the FTP listener and the
// command handlers: replies and their localisation, request parsing, the
// per-connection session, the event hook chain and server statistics.
package ftp

import (
	"strconv"
	"strings"
)

// Reply is an FTP server response.
type Reply struct {
	Code    int
	Message string
}

// NewReply builds a reply.
func NewReply(code int, message string) Reply {
	return Reply{Code: code, Message: message}
}

// String renders the reply in wire format.
//
// A single-line message renders as "<code> <message>\r\n". A multi-line
// message renders as "<code>-<first>\r\n", the middle lines verbatim and
// "<code> <last>\r\n". Middle lines that begin with a three-digit number are
// indented by two spaces so that clients do not take them for the final line.
// Carriage returns and one trailing line feed in the message are dropped.
func (r Reply) String() string {
	msg := strings.ReplaceAll(r.Message, "\r", "")
	msg = strings.TrimSuffix(msg, "\n")

	code := strconv.Itoa(r.Code)
	lines := strings.Split(msg, "\n")
	for len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var sb strings.Builder
	if len(lines) == 1 {
		sb.WriteString(code)
		sb.WriteByte(' ')
		sb.WriteString(lines[0])
		sb.WriteString("\r\n")
		return sb.String()
	}

	last := len(lines) - 1
	sb.WriteString(code)
	sb.WriteByte('-')
	for i, line := range lines {
		if i == last {
			sb.WriteString(code)
			sb.WriteByte(' ')
		} else if i > 0 && startsWithCode(line) {
			sb.WriteString("  ")
		}
		sb.WriteString(line)
		sb.WriteString("\r\n")
	}
	return sb.String()
}

// IsPositive reports whether the code is in the 1xx-3xx range.
func (r Reply) IsPositive() bool {
	return r.Code >= 100 && r.Code < 400
}

func startsWithCode(line string) bool {
	if len(line) < 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if line[i] < '0' || line[i] > '9' {
			return false
		}
	}
	return true
}
