package dataconn

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittoftp/pkg/ftp/passive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	controlLocal  = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2121}
	controlRemote = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func newTestFactory(t *testing.T, mutate func(*Config)) (*Factory, *passive.Pool, int) {
	t.Helper()
	port := freePort(t)
	pool, err := passive.New(strconv.Itoa(port))
	require.NoError(t, err)

	cfg := Config{
		AcceptTimeout: 2 * time.Second,
		DialTimeout:   2 * time.Second,
		IdleTimeout:   2 * time.Second,
		ActiveEnabled: true,
		ActiveIPCheck: true,
		Pool:          pool,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewFactory(cfg, controlLocal, controlRemote), pool, port
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

// ============================================================================
// Passive mode
// ============================================================================

func TestPassiveUploadReleasesPort(t *testing.T) {
	f, pool, port := newTestFactory(t, nil)

	addr, err := f.InitPassive()
	require.NoError(t, err)
	assert.Equal(t, port, addr.Port)
	assert.True(t, addr.IP.Equal(controlLocal.IP))
	assert.True(t, pool.IsReserved(port))
	assert.Equal(t, ModePassive, f.Mode())

	go func() {
		c, err := net.Dial("tcp", addr.String())
		if err != nil {
			return
		}
		_, _ = c.Write([]byte("hello world"))
		_ = c.Close()
	}()

	conn, err := f.Open(context.Background())
	require.NoError(t, err)
	assert.True(t, f.IsTransferring())

	var buf bytes.Buffer
	n, err := conn.TransferFromClient(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	assert.Equal(t, "hello world", buf.String())
	assert.False(t, f.LastActivity().IsZero())

	f.Close()
	assert.False(t, pool.IsReserved(port))
	assert.False(t, f.IsTransferring())
	assert.Equal(t, ModeNone, f.Mode())
}

func TestPassiveNeverOpenedReleasesPort(t *testing.T) {
	f, pool, port := newTestFactory(t, nil)

	_, err := f.InitPassive()
	require.NoError(t, err)
	require.True(t, pool.IsReserved(port))

	f.Close()
	assert.False(t, pool.IsReserved(port))

	// Close is idempotent.
	f.Close()
	assert.False(t, pool.IsReserved(port))
}

func TestPassiveAcceptTimeoutReleasesPort(t *testing.T) {
	f, pool, port := newTestFactory(t, func(c *Config) {
		c.AcceptTimeout = 100 * time.Millisecond
	})

	_, err := f.InitPassive()
	require.NoError(t, err)

	_, err = f.Open(context.Background())
	require.Error(t, err)
	assert.True(t, pool.IsReserved(port), "port stays reserved until Close")

	f.Close()
	assert.False(t, pool.IsReserved(port))
}

func TestPassiveMidTransferErrorReleasesPort(t *testing.T) {
	f, pool, port := newTestFactory(t, nil)

	addr, err := f.InitPassive()
	require.NoError(t, err)

	go func() {
		c, err := net.Dial("tcp", addr.String())
		if err != nil {
			return
		}
		_, _ = c.Write([]byte("payload"))
		_ = c.Close()
	}()

	conn, err := f.Open(context.Background())
	require.NoError(t, err)

	_, err = conn.TransferFromClient(context.Background(), failingWriter{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAborted)

	f.Close()
	assert.False(t, pool.IsReserved(port))
}

func TestPassiveAbortMidTransfer(t *testing.T) {
	f, pool, port := newTestFactory(t, nil)

	addr, err := f.InitPassive()
	require.NoError(t, err)

	client := make(chan net.Conn, 1)
	go func() {
		c, err := net.Dial("tcp", addr.String())
		if err != nil {
			close(client)
			return
		}
		_, _ = c.Write([]byte("partial"))
		client <- c
	}()

	conn, err := f.Open(context.Background())
	require.NoError(t, err)

	c := <-client
	require.NotNil(t, c)
	defer c.Close()

	done := make(chan struct{})
	var (
		n        int64
		transErr error
	)
	go func() {
		defer close(done)
		n, transErr = conn.TransferFromClient(context.Background(), io.Discard)
	}()

	require.Eventually(t, func() bool {
		return !f.LastActivity().IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	f.Abort()
	<-done

	assert.ErrorIs(t, transErr, ErrAborted)
	assert.Equal(t, int64(7), n)

	f.Close()
	assert.False(t, pool.IsReserved(port))
}

func TestPassiveAbortBeforeAccept(t *testing.T) {
	f, pool, port := newTestFactory(t, nil)

	_, err := f.InitPassive()
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		f.Abort()
	}()

	_, err = f.Open(context.Background())
	require.Error(t, err)

	f.Close()
	assert.False(t, pool.IsReserved(port))
}

func TestPassiveContextCancelled(t *testing.T) {
	f, pool, port := newTestFactory(t, nil)

	_, err := f.InitPassive()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = f.Open(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	f.Close()
	assert.False(t, pool.IsReserved(port))
}

func TestPassiveBindFailureReleasesPort(t *testing.T) {
	f, pool, port := newTestFactory(t, nil)

	busy, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer busy.Close()

	_, err = f.InitPassive()
	assert.ErrorIs(t, err, ErrPassiveBind)
	assert.False(t, pool.IsReserved(port))
	assert.Equal(t, ModeNone, f.Mode())
}

func TestPassiveExhaustedPool(t *testing.T) {
	f, pool, port := newTestFactory(t, nil)
	_, err := pool.Reserve()
	require.NoError(t, err)

	_, err = f.InitPassive()
	assert.ErrorIs(t, err, ErrPassiveBind)
	assert.ErrorIs(t, err, passive.ErrNoPortAvailable)
	assert.True(t, pool.IsReserved(port))
}

func TestPassiveRenegotiationReleasesPreviousPort(t *testing.T) {
	p1, p2 := freePort(t), freePort(t)
	pool, err := passive.New(strconv.Itoa(p1) + "," + strconv.Itoa(p2))
	require.NoError(t, err)

	f := NewFactory(Config{Pool: pool}, controlLocal, controlRemote)

	first, err := f.InitPassive()
	require.NoError(t, err)
	require.Equal(t, p1, first.Port)

	// A second PASV drops the first listener and its port.
	second, err := f.InitPassive()
	require.NoError(t, err)
	assert.Equal(t, p1, second.Port)
	assert.Equal(t, 1, pool.Free())

	f.Close()
	assert.Equal(t, 2, pool.Free())
}

func TestPassiveExternalAddressAdvertised(t *testing.T) {
	f, _, port := newTestFactory(t, func(c *Config) {
		c.PassiveExternalAddress = "203.0.113.7"
	})
	defer f.Close()

	addr, err := f.InitPassive()
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", addr.IP.String())
	assert.Equal(t, port, addr.Port)
}

func TestOpenWithoutNegotiation(t *testing.T) {
	f, _, _ := newTestFactory(t, nil)

	_, err := f.Open(context.Background())
	assert.ErrorIs(t, err, ErrNotNegotiated)
}

// ============================================================================
// Active mode
// ============================================================================

func TestActiveDownload(t *testing.T) {
	f, _, _ := newTestFactory(t, nil)

	client, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	received := make(chan string, 1)
	go func() {
		c, err := client.Accept()
		if err != nil {
			received <- ""
			return
		}
		data, _ := io.ReadAll(c)
		_ = c.Close()
		received <- string(data)
	}()

	require.NoError(t, f.InitActive(client.Addr().(*net.TCPAddr)))
	assert.Equal(t, ModeActive, f.Mode())

	conn, err := f.Open(context.Background())
	require.NoError(t, err)

	n, err := conn.TransferToClient(context.Background(), strings.NewReader("line1\nline2\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	f.Close()

	assert.Equal(t, "line1\nline2\n", <-received)
}

func TestActiveASCIIDownload(t *testing.T) {
	f, _, _ := newTestFactory(t, nil)

	client, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	received := make(chan string, 1)
	go func() {
		c, err := client.Accept()
		if err != nil {
			received <- ""
			return
		}
		data, _ := io.ReadAll(c)
		_ = c.Close()
		received <- string(data)
	}()

	require.NoError(t, f.InitActive(client.Addr().(*net.TCPAddr)))
	conn, err := f.Open(context.Background())
	require.NoError(t, err)
	conn.SetASCII(true)

	_, err = conn.TransferToClient(context.Background(), strings.NewReader("a\nb\r\nc"))
	require.NoError(t, err)
	f.Close()

	assert.Equal(t, "a\r\nb\r\nc", <-received)
}

func TestActivePeerMismatch(t *testing.T) {
	f, _, _ := newTestFactory(t, nil)

	err := f.InitActive(&net.TCPAddr{IP: net.IPv4(10, 1, 2, 3), Port: 2000})
	assert.ErrorIs(t, err, ErrPeerMismatch)
	assert.Equal(t, ModeNone, f.Mode())
}

func TestActivePeerCheckDisabled(t *testing.T) {
	f, _, _ := newTestFactory(t, func(c *Config) { c.ActiveIPCheck = false })

	err := f.InitActive(&net.TCPAddr{IP: net.IPv4(10, 1, 2, 3), Port: 2000})
	assert.NoError(t, err)
	f.Close()
}

func TestActiveDisabled(t *testing.T) {
	f, _, _ := newTestFactory(t, func(c *Config) { c.ActiveEnabled = false })

	err := f.InitActive(&net.TCPAddr{IP: controlRemote.IP, Port: 2000})
	assert.ErrorIs(t, err, ErrActiveDisabled)
}

func TestActiveAfterPassiveReleasesPort(t *testing.T) {
	f, pool, port := newTestFactory(t, nil)

	_, err := f.InitPassive()
	require.NoError(t, err)
	require.True(t, pool.IsReserved(port))

	require.NoError(t, f.InitActive(&net.TCPAddr{IP: controlRemote.IP, Port: 2000}))
	assert.False(t, pool.IsReserved(port))
}

func TestSecureWithoutTLSConfig(t *testing.T) {
	f, pool, port := newTestFactory(t, nil)
	f.SetSecure(true)
	assert.True(t, f.IsSecure())

	addr, err := f.InitPassive()
	require.NoError(t, err)

	go func() {
		c, err := net.Dial("tcp", addr.String())
		if err == nil {
			_ = c.Close()
		}
	}()

	_, err = f.Open(context.Background())
	assert.ErrorIs(t, err, ErrTLSNotConfigured)

	f.Close()
	assert.False(t, pool.IsReserved(port))
}

func TestImplicitSSLStaysSecure(t *testing.T) {
	f, _, _ := newTestFactory(t, func(c *Config) { c.ImplicitSSL = true })
	assert.True(t, f.IsSecure())
	f.SetSecure(false)
	assert.True(t, f.IsSecure())
}

// ============================================================================
// Line ending conversion
// ============================================================================

func TestCRLFToLF(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   string
	}{
		{name: "plain", chunks: []string{"a\r\nb\r\n"}, want: "a\nb\n"},
		{name: "split across chunks", chunks: []string{"a\r", "\nb"}, want: "a\nb"},
		{name: "lone CR kept", chunks: []string{"a\rb"}, want: "a\rb"},
		{name: "trailing CR flushed", chunks: []string{"a\r"}, want: "a\r"},
		{name: "bare LF kept", chunks: []string{"a\nb"}, want: "a\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			w := &crlfToLF{w: &out}
			for _, c := range tt.chunks {
				n, err := w.Write([]byte(c))
				require.NoError(t, err)
				assert.Equal(t, len(c), n)
			}
			require.NoError(t, w.Flush())
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestLFToCRLF(t *testing.T) {
	var out bytes.Buffer
	w := &lfToCRLF{w: &out}

	_, err := w.Write([]byte("a\nb\r"))
	require.NoError(t, err)
	_, err = w.Write([]byte("\nc\n"))
	require.NoError(t, err)

	assert.Equal(t, "a\r\nb\r\nc\r\n", out.String())
}
