package ftp

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Event identifies a point in the session lifecycle where hooks run.
type Event int

const (
	EventConnect Event = iota
	EventDisconnect
	EventLogin
	EventDeleteStart
	EventDeleteEnd
	EventUploadStart
	EventUploadEnd
	EventDownloadStart
	EventDownloadEnd
	EventRmdirStart
	EventRmdirEnd
	EventMkdirStart
	EventMkdirEnd
	EventAppendStart
	EventAppendEnd
	EventUploadUniqueStart
	EventUploadUniqueEnd
	EventRenameStart
	EventRenameEnd
	EventSite
)

var eventNames = [...]string{
	EventConnect:           "connect",
	EventDisconnect:        "disconnect",
	EventLogin:             "login",
	EventDeleteStart:       "delete_start",
	EventDeleteEnd:         "delete_end",
	EventUploadStart:       "upload_start",
	EventUploadEnd:         "upload_end",
	EventDownloadStart:     "download_start",
	EventDownloadEnd:       "download_end",
	EventRmdirStart:        "rmdir_start",
	EventRmdirEnd:          "rmdir_end",
	EventMkdirStart:        "mkdir_start",
	EventMkdirEnd:          "mkdir_end",
	EventAppendStart:       "append_start",
	EventAppendEnd:         "append_end",
	EventUploadUniqueStart: "upload_unique_start",
	EventUploadUniqueEnd:   "upload_unique_end",
	EventRenameStart:       "rename_start",
	EventRenameEnd:         "rename_end",
	EventSite:              "site",
}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// CommandEvents returns the events fired around a verb. hasEnd is false for
// verbs that only fire a start event (SITE). ok is false for verbs without
// events.
func CommandEvents(verb string) (start, end Event, hasEnd, ok bool) {
	switch verb {
	case "DELE":
		return EventDeleteStart, EventDeleteEnd, true, true
	case "STOR":
		return EventUploadStart, EventUploadEnd, true, true
	case "RETR":
		return EventDownloadStart, EventDownloadEnd, true, true
	case "RMD":
		return EventRmdirStart, EventRmdirEnd, true, true
	case "MKD":
		return EventMkdirStart, EventMkdirEnd, true, true
	case "APPE":
		return EventAppendStart, EventAppendEnd, true, true
	case "STOU":
		return EventUploadUniqueStart, EventUploadUniqueEnd, true, true
	case "RNTO":
		return EventRenameStart, EventRenameEnd, true, true
	case "SITE":
		return EventSite, 0, false, true
	}
	return 0, 0, false, false
}

// Result tells the connection loop how to continue after a hook ran.
type Result int

const (
	// ResultDefault continues normally and runs the next hook.
	ResultDefault Result = iota

	// ResultNoFurtherHooks runs the command but no more hooks for this event.
	ResultNoFurtherHooks

	// ResultSkip aborts the command. The hook may have written its own reply.
	ResultSkip

	// ResultDisconnect aborts the command and closes the session.
	ResultDisconnect
)

func (r Result) String() string {
	switch r {
	case ResultDefault:
		return "DEFAULT"
	case ResultNoFurtherHooks:
		return "NO_FURTHER_HOOKS"
	case ResultSkip:
		return "SKIP"
	case ResultDisconnect:
		return "DISCONNECT"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Hook observes session events and may alter the command flow.
//
// req is nil for Connect and Disconnect. An error closes the session.
type Hook interface {
	OnEvent(ctx context.Context, ev Event, sess *Session, req *Request) (Result, error)
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, ev Event, sess *Session, req *Request) (Result, error)

func (f HookFunc) OnEvent(ctx context.Context, ev Event, sess *Session, req *Request) (Result, error) {
	return f(ctx, ev, sess, req)
}

// Initializer is implemented by hooks that need the server context before
// the first session starts.
type Initializer interface {
	Init(sc *ServerContext) error
}

// Destroyer is implemented by hooks holding resources released at shutdown.
type Destroyer interface {
	Destroy() error
}

// HookChain runs hooks in registration order.
//
// The chain is built before the server starts and is read-only afterwards.
type HookChain struct {
	hooks []Hook
}

// NewHookChain returns a chain of the given hooks.
func NewHookChain(hooks ...Hook) *HookChain {
	return &HookChain{hooks: append([]Hook(nil), hooks...)}
}

// Add appends a hook. Not safe once the server is running.
func (c *HookChain) Add(h Hook) {
	c.hooks = append(c.hooks, h)
}

// Len returns the number of hooks.
func (c *HookChain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.hooks)
}

// Init calls Init on every hook implementing Initializer and stops at the
// first failure.
func (c *HookChain) Init(sc *ServerContext) error {
	if c == nil {
		return nil
	}
	for i, h := range c.hooks {
		if in, ok := h.(Initializer); ok {
			if err := in.Init(sc); err != nil {
				return fmt.Errorf("init hook %d (%T): %w", i, h, err)
			}
		}
	}
	return nil
}

// Destroy calls Destroy on every hook implementing Destroyer, in reverse
// order, and returns all failures.
func (c *HookChain) Destroy() error {
	if c == nil {
		return nil
	}
	var result error
	for i := len(c.hooks) - 1; i >= 0; i-- {
		if d, ok := c.hooks[i].(Destroyer); ok {
			if err := d.Destroy(); err != nil {
				result = multierror.Append(result, fmt.Errorf("destroy hook %d (%T): %w", i, c.hooks[i], err))
			}
		}
	}
	return result
}

// Fire delivers ev to the hooks and returns the first non-default result.
//
// A hook error stops the chain and is returned with ResultDisconnect.
func (c *HookChain) Fire(ctx context.Context, ev Event, sess *Session, req *Request) (Result, error) {
	if c == nil {
		return ResultDefault, nil
	}
	for _, h := range c.hooks {
		res, err := h.OnEvent(ctx, ev, sess, req)
		if err != nil {
			return ResultDisconnect, fmt.Errorf("hook %T on %s: %w", h, ev, err)
		}
		if res != ResultDefault {
			return res, nil
		}
	}
	return ResultDefault, nil
}
