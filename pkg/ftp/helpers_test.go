package ftp

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittoftp/pkg/ftp/dataconn"
)

type fakeConn struct {
	mu     sync.Mutex
	out    strings.Builder
	closed bool
}

func (c *fakeConn) Write(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.WriteString(s)
	return nil
}

func (c *fakeConn) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(192, 0, 2, 10), Port: 50000}
}

func (c *fakeConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2121}
}

func (c *fakeConn) TLSAvailable() bool { return false }
func (c *fakeConn) UpgradeTLS() error  { return nil }
func (c *fakeConn) IsSecure() bool     { return false }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// mapResource serves templates keyed "code" or "code.subID".
type mapResource map[string]string

func (m mapResource) Message(code int, subID, lang string) (string, bool) {
	key := strconv.Itoa(code)
	if subID != "" {
		key += "." + subID
	}
	if lang != "" {
		if v, ok := m[lang+":"+key]; ok {
			return v, true
		}
	}
	v, ok := m[key]
	return v, ok
}

func (m mapResource) Languages() []string { return []string{"en"} }

func newTestSession(t *testing.T, res MessageResource) (*Session, *fakeConn) {
	t.Helper()
	sc := &ServerContext{Messages: res, Stats: NewStats()}
	conn := &fakeConn{}
	return NewSession(sc, conn, "test", dataconn.Config{}, time.Minute), conn
}
