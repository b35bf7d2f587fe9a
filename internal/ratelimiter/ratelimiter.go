package ratelimiter

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// RateLimiter throttles a byte stream using the token bucket algorithm.
//
// One token is one byte. The bucket holds at most one second worth of bytes
// (and never less than a single transfer buffer), so short bursts are served
// immediately while the sustained rate stays at the configured limit.
//
// A nil *RateLimiter is valid and never blocks, which lets callers wrap
// streams unconditionally.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
	burst   int
}

// minBurst keeps WaitN workable for the largest chunk a transfer loop moves.
const minBurst = 64 * 1024

// New creates a limiter that admits bytesPerSecond bytes per second.
//
// Returns nil when bytesPerSecond is 0 (unlimited).
func New(bytesPerSecond int) *RateLimiter {
	if bytesPerSecond <= 0 {
		return nil
	}

	burst := bytesPerSecond
	if burst < minBurst {
		burst = minBurst
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
		burst:   burst,
	}
}

// WaitN blocks until n bytes may pass or the context is cancelled.
//
// Requests larger than the bucket are split so they can never fail with
// rate.Limiter's "exceeds burst" error.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	if r == nil {
		return ctx.Err()
	}

	for n > 0 {
		chunk := n
		if chunk > r.burst {
			chunk = r.burst
		}
		if err := r.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Limit returns the configured rate in bytes per second, 0 when unlimited.
func (r *RateLimiter) Limit() int {
	if r == nil {
		return 0
	}
	return int(r.limiter.Limit())
}

// Reader wraps src so that reads are throttled by the limiter. A read that
// would exceed the rate returns its bytes together with the wait error when
// ctx ends first.
func (r *RateLimiter) Reader(ctx context.Context, src io.Reader) io.Reader {
	if r == nil {
		return src
	}
	return &limitedReader{ctx: ctx, src: src, limiter: r}
}

type limitedReader struct {
	ctx     context.Context
	src     io.Reader
	limiter *RateLimiter
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.src.Read(p)
	if n > 0 {
		if werr := l.limiter.WaitN(l.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
