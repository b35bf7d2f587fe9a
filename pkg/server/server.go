// Package server runs the listeners of one DittoFTP instance around a single
// shared ftp.ServerContext.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/adapter"
	"github.com/marmos91/dittoftp/pkg/ftp"
)

// errStoppedEarly is reported for a listener whose Serve returned nil before
// shutdown was requested.
var errStoppedEarly = errors.New("listener exited before shutdown")

// DittoServer owns the listeners of one server. Every listener sees the same
// users, file system, hooks, statistics and session registry, so a client
// may log in on any port and observe the same state.
//
//	srv := server.New(sc)
//	_ = srv.AddAdapter(ftpadapter.New(cfg, table, m))
//	err := srv.Serve(ctx) // returns ctx.Err() after a clean shutdown
type DittoServer struct {
	sc *ftp.ServerContext

	mu       sync.RWMutex
	adapters []adapter.Adapter
	started  bool

	// StopTimeout bounds the listener Stop calls made during shutdown.
	StopTimeout time.Duration
}

// New panics when sc lacks a user manager or file system.
func New(sc *ftp.ServerContext) *DittoServer {
	switch {
	case sc == nil:
		panic("server: nil server context")
	case sc.Users == nil:
		panic("server: server context has no user manager")
	case sc.FileSystem == nil:
		panic("server: server context has no file system")
	}
	if sc.Stats == nil {
		sc.Stats = ftp.NewStats()
	}
	return &DittoServer{sc: sc, StopTimeout: 30 * time.Second}
}

func (s *DittoServer) ServerContext() *ftp.ServerContext {
	return s.sc
}

// AddAdapter attaches a listener to the shared context. Two listeners may
// not claim the same fixed port; port 0 (OS-assigned) never conflicts.
// Adding after Serve panics.
func (s *DittoServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("server: nil adapter")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		panic("server: AddAdapter called after Serve")
	}
	if p := a.Port(); p != 0 {
		for _, other := range s.adapters {
			if other.Port() == p {
				return fmt.Errorf("port %d is already taken by the %s listener", p, other.Protocol())
			}
		}
	}

	a.SetServerContext(s.sc)
	s.adapters = append(s.adapters, a)
	logger.Debug("Listener %s attached", label(a))
	return nil
}

// Adapters returns a copy of the attached listeners.
func (s *DittoServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]adapter.Adapter(nil), s.adapters...)
}

// Serve runs hook initialization, then every listener, until ctx ends or a
// listener fails. Shutdown stops listeners in reverse order and destroys the
// hooks; their errors are joined onto the returned one.
func (s *DittoServer) Serve(ctx context.Context) error {
	adapters, err := s.claim()
	if err != nil {
		return err
	}

	if err := s.sc.Hooks.Init(s.sc); err != nil {
		return fmt.Errorf("hook init: %w", err)
	}

	logger.Info("DittoFTP serving on %d listener(s)", len(adapters))

	failures := make(chan error, len(adapters))
	var running sync.WaitGroup
	for _, a := range adapters {
		running.Add(1)
		go func(a adapter.Adapter) {
			defer running.Done()
			if err := s.run(ctx, a); err != nil {
				failures <- err
			}
		}(a)
	}

	var result error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down: %v", ctx.Err())
		result = ctx.Err()
	case result = <-failures:
		logger.Error("Shutting down all listeners: %v", result)
	}

	if err := s.stopAll(adapters); err != nil {
		result = multierror.Append(result, err)
	}
	running.Wait()

	if err := s.sc.Hooks.Destroy(); err != nil {
		logger.Error("Hook destroy: %v", err)
		result = multierror.Append(result, err)
	}

	st := s.sc.Stats.Snapshot()
	logger.Info("DittoFTP stopped after %d connection(s), %d login(s), %d upload(s), %d download(s)",
		st.TotalConnections, st.TotalLogins, st.Uploads, st.Downloads)
	return result
}

// claim marks the server started and snapshots its listeners.
func (s *DittoServer) claim() ([]adapter.Adapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil, errors.New("server: Serve called twice")
	}
	s.started = true
	if len(s.adapters) == 0 {
		return nil, errors.New("server: no listeners attached")
	}
	return append([]adapter.Adapter(nil), s.adapters...), nil
}

// run serves one listener. It returns nil when the listener ended because
// ctx was cancelled.
func (s *DittoServer) run(ctx context.Context, a adapter.Adapter) error {
	err := a.Serve(ctx)
	if ctx.Err() != nil {
		logger.Debug("Listener %s stopped", label(a))
		return nil
	}
	if err == nil {
		err = errStoppedEarly
	} else if errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("listener %s: %w", label(a), err)
}

func (s *DittoServer) stopAll(adapters []adapter.Adapter) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.StopTimeout)
	defer cancel()

	var errs *multierror.Error
	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Stopping listener %s: %v", label(a), err)
			errs = multierror.Append(errs, fmt.Errorf("stop %s: %w", label(a), err))
		}
	}
	return errs.ErrorOrNil()
}

func label(a adapter.Adapter) string {
	return fmt.Sprintf("%s:%d", a.Protocol(), a.Port())
}
