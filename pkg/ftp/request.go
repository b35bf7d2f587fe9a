package ftp

import (
	"strings"
	"time"
)

// Request is one command line received on the control connection.
type Request struct {
	// Line is the raw line without its terminator.
	Line string

	// Command is the upper-cased verb with a stray leading X dropped
	// (XMKD arrives as MKD).
	Command string

	// Argument is the trimmed remainder after the verb, "" if none.
	Argument string

	// ReceivedAt is when the line was read.
	ReceivedAt time.Time
}

// ParseRequest splits a command line into verb and argument.
//
// The verb is everything before the first space, upper-cased. Verbs longer
// than three characters lose a leading X, the old experimental spelling of
// MKD, RMD, PWD, CWD and CUP. The argument is the remainder with surrounding
// whitespace removed. Trailing CR/LF are ignored.
func ParseRequest(line string) *Request {
	line = strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimSpace(line)

	req := &Request{Line: line, ReceivedAt: time.Now()}

	verb, arg, found := strings.Cut(trimmed, " ")
	req.Command = strings.ToUpper(verb)
	if len(req.Command) > 3 && req.Command[0] == 'X' {
		req.Command = req.Command[1:]
	}
	if found {
		req.Argument = strings.TrimSpace(arg)
	}
	return req
}

// HasArgument reports whether the request carries a non-empty argument.
func (r *Request) HasArgument() bool {
	return r.Argument != ""
}

// String returns the line with PASS arguments masked, for logging.
func (r *Request) String() string {
	if r.Command == "PASS" {
		return "PASS *****"
	}
	return r.Line
}
