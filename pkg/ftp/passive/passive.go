// Package passive implements the process-wide pool of passive-mode data ports.
//
// A Pool is built from a range specification such as "2121-2130, 3000, 4000-"
// and hands out ports to data connection factories. Every session shares one
// pool per listener, so Reserve and Release are safe for concurrent use.
//
// Port 0 is special: it stands for "let the OS pick an ephemeral port" and is
// never marked reserved, so it can be handed out any number of times.
package passive

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
)

// MaxPort is the highest valid TCP port.
const MaxPort = 65535

// ErrNoPortAvailable is returned by Reserve when every candidate is taken.
var ErrNoPortAvailable = errors.New("no passive port available")

// ParseError reports an invalid token in a passive port specification.
type ParseError struct {
	Spec   string
	Token  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid passive port range %q: token %q: %s", e.Spec, e.Token, e.Reason)
}

// Parse expands a range specification into the ordered list of candidate
// ports.
//
// Grammar: tokens separated by ',' or ';'. Each token is a single port
// ("2121"), a closed range ("2121-2130"), an open-low range ("-2130", meaning
// 1..2130) or an open-high range ("2121-", meaning 2121..65535). Duplicates
// are dropped, keeping the position of their first mention. An empty
// specification yields the single candidate 0.
//
// Any malformed or out-of-range token rejects the whole specification.
func Parse(spec string) ([]int, error) {
	tokens := strings.FieldsFunc(spec, func(r rune) bool {
		return r == ',' || r == ';'
	})

	seen := make(map[int]struct{})
	var ports []int

	add := func(p int) {
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		ports = append(ports, p)
	}

	for _, raw := range tokens {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}

		low, high, err := parseToken(token)
		if err != nil {
			return nil, &ParseError{Spec: spec, Token: token, Reason: err.Error()}
		}
		for p := low; p <= high; p++ {
			add(p)
		}
	}

	if len(ports) == 0 {
		return []int{0}, nil
	}
	return ports, nil
}

func parseToken(token string) (int, int, error) {
	dash := strings.IndexByte(token, '-')
	if dash < 0 {
		p, err := parsePort(token)
		return p, p, err
	}

	lowStr := strings.TrimSpace(token[:dash])
	highStr := strings.TrimSpace(token[dash+1:])

	if lowStr == "" && highStr == "" {
		return 0, 0, errors.New("empty range")
	}

	low, high := 1, MaxPort
	var err error
	if lowStr != "" {
		if low, err = parsePort(lowStr); err != nil {
			return 0, 0, err
		}
	}
	if highStr != "" {
		if high, err = parsePort(highStr); err != nil {
			return 0, 0, err
		}
	}
	if low > high {
		return 0, 0, fmt.Errorf("range start %d is greater than end %d", low, high)
	}
	return low, high, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if p < 0 || p > MaxPort {
		return 0, fmt.Errorf("port %d outside 0-%d", p, MaxPort)
	}
	return p, nil
}

type candidate struct {
	port     int
	reserved bool
}

// Pool is a thread-safe allocator over a fixed list of candidate ports.
type Pool struct {
	mu         sync.Mutex
	spec       string
	candidates []candidate

	// probeHost enables the pre-bind probe when non-empty. The probe is
	// best effort: another process can still grab the port before the real
	// listen call.
	probeHost string
	probe     func(host string, port int) bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithBindProbe makes Reserve skip ports that cannot currently be bound on
// host.
func WithBindProbe(host string) Option {
	return func(p *Pool) {
		if host == "" {
			host = "0.0.0.0"
		}
		p.probeHost = host
	}
}

// New parses spec and builds a pool.
func New(spec string, opts ...Option) (*Pool, error) {
	ports, err := Parse(spec)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		spec:       spec,
		candidates: make([]candidate, len(ports)),
		probe:      canBind,
	}
	for i, port := range ports {
		p.candidates[i] = candidate{port: port}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Reserve returns the first free candidate in specification order and marks
// it reserved. A candidate of 0 is returned as-is without being reserved.
//
// Returns -1 and ErrNoPortAvailable when nothing is free.
func (p *Pool) Reserve() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.candidates {
		c := &p.candidates[i]
		if c.port == 0 {
			return 0, nil
		}
		if c.reserved {
			continue
		}
		if p.probeHost != "" && !p.probe(p.probeHost, c.port) {
			continue
		}
		c.reserved = true
		return c.port, nil
	}

	return -1, ErrNoPortAvailable
}

// Release returns port to the pool. Releasing 0, an unknown port or a port
// that is not reserved does nothing.
func (p *Pool) Release(port int) {
	if port == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.candidates {
		if p.candidates[i].port == port {
			p.candidates[i].reserved = false
			return
		}
	}
}

// IsReserved reports whether port is currently held by a data connection.
func (p *Pool) IsReserved(port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.candidates {
		if c.port == port {
			return c.reserved
		}
	}
	return false
}

// Free returns the number of unreserved non-zero candidates.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	free := 0
	for _, c := range p.candidates {
		if c.port != 0 && !c.reserved {
			free++
		}
	}
	return free
}

// String returns the specification the pool was built from.
func (p *Pool) String() string {
	return p.spec
}

func canBind(host string, port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
