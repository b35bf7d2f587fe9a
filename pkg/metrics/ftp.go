package metrics

import "time"

// UnknownVerb is the verb label for commands the server does not implement.
// Client-supplied verbs never become label values.
const UnknownVerb = "UNKNOWN"

// FTPMetrics provides observability for FTP adapter operations.
//
// Implementations collect metrics about commands, logins, data transfers
// and the connection lifecycle. When metrics are disabled the adapter uses
// the no-op implementation returned by NewNoopFTPMetrics.
type FTPMetrics interface {
	// RecordCommand records a completed command with its verb, the reply
	// code sent for it and how long it took.
	RecordCommand(verb string, replyCode int, duration time.Duration)

	// RecordCommandStart increments the in-flight command gauge.
	RecordCommandStart(verb string)

	// RecordCommandEnd decrements the in-flight command gauge.
	RecordCommandEnd(verb string)

	// RecordTransfer records a finished data transfer.
	//
	// Parameters:
	//   - direction: "upload", "download" or "listing"
	//   - bytes: Number of bytes moved over the data connection
	//   - duration: Time the data connection was open
	//   - err: Error if the transfer failed or was aborted
	RecordTransfer(direction string, bytes int64, duration time.Duration, err error)

	// RecordLogin records a login attempt.
	RecordLogin(anonymous bool, success bool)

	// SetActiveConnections updates the current control connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionRejected increments the counter of connections refused
	// before a session started (IP filter, connection limit).
	RecordConnectionRejected(reason string)

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed increments the counter of connections
	// closed by the server during shutdown.
	RecordConnectionForceClosed()
}

// noopFTPMetrics is a no-op implementation of FTPMetrics.
type noopFTPMetrics struct{}

// NewNoopFTPMetrics returns an FTPMetrics that discards everything.
func NewNoopFTPMetrics() FTPMetrics {
	return noopFTPMetrics{}
}

func (noopFTPMetrics) RecordCommand(string, int, time.Duration)           {}
func (noopFTPMetrics) RecordCommandStart(string)                          {}
func (noopFTPMetrics) RecordCommandEnd(string)                            {}
func (noopFTPMetrics) RecordTransfer(string, int64, time.Duration, error) {}
func (noopFTPMetrics) RecordLogin(bool, bool)                             {}
func (noopFTPMetrics) SetActiveConnections(int32)                         {}
func (noopFTPMetrics) RecordConnectionAccepted()                          {}
func (noopFTPMetrics) RecordConnectionRejected(string)                    {}
func (noopFTPMetrics) RecordConnectionClosed()                            {}
func (noopFTPMetrics) RecordConnectionForceClosed()                       {}
