package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittoftp/pkg/filesystem/memory"
	"github.com/marmos91/dittoftp/pkg/ftp"
	"github.com/marmos91/dittoftp/pkg/usermanager"
	ummemory "github.com/marmos91/dittoftp/pkg/usermanager/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter blocks in Serve until its context is cancelled, Stop is
// called or failWith is sent.
type fakeAdapter struct {
	port     int
	failWith chan error
	stopErr  error
	stopCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	sc      *ftp.ServerContext
	stopped bool
	order   *[]int
}

func newFakeAdapter(port int, order *[]int) *fakeAdapter {
	return &fakeAdapter{port: port, failWith: make(chan error, 1), stopCh: make(chan struct{}), order: order}
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-f.stopCh:
		return nil
	case err := <-f.failWith:
		return err
	}
}

func (f *fakeAdapter) SetServerContext(sc *ftp.ServerContext) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sc = sc
}

func (f *fakeAdapter) Stop(ctx context.Context) error {
	f.stopOnce.Do(func() { close(f.stopCh) })
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	if f.order != nil {
		*f.order = append(*f.order, f.port)
	}
	return f.stopErr
}

func (f *fakeAdapter) Protocol() string { return "FAKE" }
func (f *fakeAdapter) Port() int        { return f.port }

type lifecycleHook struct {
	initErr    error
	destroyErr error
	inited     bool
	destroyed  bool
}

func (h *lifecycleHook) OnEvent(context.Context, ftp.Event, *ftp.Session, *ftp.Request) (ftp.Result, error) {
	return ftp.ResultDefault, nil
}

func (h *lifecycleHook) Init(*ftp.ServerContext) error {
	h.inited = true
	return h.initErr
}

func (h *lifecycleHook) Destroy() error {
	h.destroyed = true
	return h.destroyErr
}

func newContext(hooks ...ftp.Hook) *ftp.ServerContext {
	return &ftp.ServerContext{
		Users:      usermanager.New(ummemory.New(), usermanager.Config{}),
		FileSystem: memory.New(),
		Hooks:      ftp.NewHookChain(hooks...),
	}
}

func TestNewPanicsWithoutCollaborators(t *testing.T) {
	assert.Panics(t, func() { New(nil) })
	assert.Panics(t, func() { New(&ftp.ServerContext{FileSystem: memory.New()}) })
	assert.NotPanics(t, func() { New(newContext()) })
}

func TestAddAdapterInjectsContextAndRejectsPortConflicts(t *testing.T) {
	sc := newContext()
	srv := New(sc)

	a := newFakeAdapter(2121, nil)
	require.NoError(t, srv.AddAdapter(a))
	assert.Same(t, sc, a.sc)

	assert.Error(t, srv.AddAdapter(newFakeAdapter(2121, nil)))

	// Ephemeral ports never conflict.
	require.NoError(t, srv.AddAdapter(newFakeAdapter(0, nil)))
	require.NoError(t, srv.AddAdapter(newFakeAdapter(0, nil)))
	assert.Len(t, srv.Adapters(), 3)
}

func TestServeWithoutAdapters(t *testing.T) {
	srv := New(newContext())
	assert.Error(t, srv.Serve(context.Background()))
}

func TestServeStopsAdaptersInReverseOrder(t *testing.T) {
	hook := &lifecycleHook{}
	srv := New(newContext(hook))

	var order []int
	first := newFakeAdapter(2121, &order)
	second := newFakeAdapter(2122, &order)
	require.NoError(t, srv.AddAdapter(first))
	require.NoError(t, srv.AddAdapter(second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}

	assert.Equal(t, []int{2122, 2121}, order)
	assert.True(t, hook.inited)
	assert.True(t, hook.destroyed)

	assert.Error(t, srv.Serve(context.Background()), "second Serve must fail")
	assert.Panics(t, func() { _ = srv.AddAdapter(newFakeAdapter(2123, nil)) })
}

func TestServeShutsDownWhenAdapterFails(t *testing.T) {
	srv := New(newContext())

	failing := newFakeAdapter(2121, nil)
	healthy := newFakeAdapter(2122, nil)
	require.NoError(t, srv.AddAdapter(failing))
	require.NoError(t, srv.AddAdapter(healthy))

	boom := errors.New("boom")
	failing.failWith <- boom

	err := srv.Serve(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, healthy.stopped)
}

func TestServeAggregatesShutdownErrors(t *testing.T) {
	hook := &lifecycleHook{destroyErr: errors.New("destroy failed")}
	srv := New(newContext(hook))

	stopErr := errors.New("stop failed")
	a := newFakeAdapter(2121, nil)
	a.stopErr = stopErr
	require.NoError(t, srv.AddAdapter(a))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := srv.Serve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, stopErr)
	assert.ErrorIs(t, err, hook.destroyErr)
}

func TestServeFailsWhenHookInitFails(t *testing.T) {
	hook := &lifecycleHook{initErr: errors.New("no init")}
	srv := New(newContext(hook))
	require.NoError(t, srv.AddAdapter(newFakeAdapter(2121, nil)))

	err := srv.Serve(context.Background())
	assert.ErrorIs(t, err, hook.initErr)
}

func TestServeTreatsEarlyExitAsFailure(t *testing.T) {
	srv := New(newContext())

	quitter := newFakeAdapter(2121, nil)
	other := newFakeAdapter(2122, nil)
	require.NoError(t, srv.AddAdapter(quitter))
	require.NoError(t, srv.AddAdapter(other))

	// Serve returns nil without any cancellation
	quitter.stopOnce.Do(func() { close(quitter.stopCh) })

	err := srv.Serve(context.Background())
	assert.ErrorIs(t, err, errStoppedEarly)
	assert.True(t, other.stopped)
}
