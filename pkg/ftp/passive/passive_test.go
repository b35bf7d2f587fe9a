package passive

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Parse
// ============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want []int
	}{
		{name: "single", spec: "2121", want: []int{2121}},
		{name: "closed ranges", spec: "123-125, 127-128, 130-132", want: []int{123, 124, 125, 127, 128, 130, 131, 132}},
		{name: "semicolon separator", spec: "10;12", want: []int{10, 12}},
		{name: "duplicates keep first mention", spec: "5,3-6,4", want: []int{5, 3, 4, 6}},
		{name: "open low", spec: "-3", want: []int{1, 2, 3}},
		{name: "zero", spec: "0", want: []int{0}},
		{name: "empty means any", spec: "", want: []int{0}},
		{name: "blank tokens skipped", spec: " 7 ,, 8 ,", want: []int{7, 8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOpenHigh(t *testing.T) {
	got, err := Parse("65530-")
	require.NoError(t, err)
	assert.Equal(t, []int{65530, 65531, 65532, 65533, 65534, 65535}, got)
}

func TestParseInvalid(t *testing.T) {
	for _, spec := range []string{"65536", "foo", "1-foo", "10-5", "-", "100,70000", "-0"} {
		t.Run(spec, func(t *testing.T) {
			_, err := Parse(spec)
			require.Error(t, err)

			var perr *ParseError
			assert.True(t, errors.As(err, &perr), "expected *ParseError, got %T", err)
		})
	}
}

// ============================================================================
// Reserve / Release
// ============================================================================

func TestReserveSequential(t *testing.T) {
	pool, err := New("123-125, 127-128, 130-132")
	require.NoError(t, err)

	var got []int
	for i := 0; i < 8; i++ {
		port, err := pool.Reserve()
		require.NoError(t, err)
		got = append(got, port)
	}
	assert.Equal(t, []int{123, 124, 125, 127, 128, 130, 131, 132}, got)

	port, err := pool.Reserve()
	assert.ErrorIs(t, err, ErrNoPortAvailable)
	assert.Equal(t, -1, port)
}

func TestReserveZeroIsUnlimited(t *testing.T) {
	pool, err := New("0")
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		port, err := pool.Reserve()
		require.NoError(t, err)
		assert.Equal(t, 0, port)
	}
	assert.False(t, pool.IsReserved(0))
}

func TestReserveFallsThroughToZero(t *testing.T) {
	pool, err := New("4000,0")
	require.NoError(t, err)

	first, err := pool.Reserve()
	require.NoError(t, err)
	assert.Equal(t, 4000, first)

	for i := 0; i < 3; i++ {
		port, err := pool.Reserve()
		require.NoError(t, err)
		assert.Equal(t, 0, port)
	}
}

func TestReleaseAndReacquire(t *testing.T) {
	pool, err := New("123,456,789")
	require.NoError(t, err)

	p1, _ := pool.Reserve()
	p2, _ := pool.Reserve()
	require.Equal(t, 123, p1)
	require.Equal(t, 456, p2)

	pool.Release(456)

	next, err := pool.Reserve()
	require.NoError(t, err)
	assert.Equal(t, 456, next)

	next, err = pool.Reserve()
	require.NoError(t, err)
	assert.Equal(t, 789, next)
}

func TestReleaseUnknownIsNoop(t *testing.T) {
	pool, err := New("1000-1001")
	require.NoError(t, err)

	pool.Release(0)
	pool.Release(9999)
	pool.Release(1000)
	assert.Equal(t, 2, pool.Free())

	_, _ = pool.Reserve()
	pool.Release(1000)
	pool.Release(1000)
	assert.Equal(t, 2, pool.Free())
}

func TestBindProbeSkipsBusyPorts(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	busyPort := busy.Addr().(*net.TCPAddr).Port

	free, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	freePort := free.Addr().(*net.TCPAddr).Port
	require.NoError(t, free.Close())

	pool, err := New(strconv.Itoa(busyPort)+","+strconv.Itoa(freePort), WithBindProbe("127.0.0.1"))
	require.NoError(t, err)

	port, err := pool.Reserve()
	require.NoError(t, err)
	assert.Equal(t, freePort, port)
	assert.False(t, pool.IsReserved(busyPort))
}

func TestBindProbeInjected(t *testing.T) {
	pool, err := New("10-12", WithBindProbe("127.0.0.1"))
	require.NoError(t, err)
	pool.probe = func(_ string, port int) bool { return port != 10 }

	port, err := pool.Reserve()
	require.NoError(t, err)
	assert.Equal(t, 11, port)
}

func TestConcurrentReserveRelease(t *testing.T) {
	pool, err := New("20000-20049")
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		held = make(map[int]int)
	)

	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				port, err := pool.Reserve()
				if err != nil {
					continue
				}
				mu.Lock()
				held[port]++
				dup := held[port] > 1
				mu.Unlock()
				assert.False(t, dup, "port %d handed out twice", port)

				mu.Lock()
				held[port]--
				mu.Unlock()
				pool.Release(port)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, pool.Free())
}
