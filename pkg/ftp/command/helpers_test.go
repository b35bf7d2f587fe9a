package command

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittoftp/pkg/filesystem/memory"
	"github.com/marmos91/dittoftp/pkg/ftp"
	"github.com/marmos91/dittoftp/pkg/ftp/dataconn"
	"github.com/marmos91/dittoftp/pkg/ftp/passive"
	"github.com/marmos91/dittoftp/pkg/usermanager"
	ummemory "github.com/marmos91/dittoftp/pkg/usermanager/memory"
	"github.com/stretchr/testify/require"
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

// Take returns everything written so far and clears the buffer.
func (c *fakeConn) Take() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.out.String()
	c.out.Reset()
	return s
}

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}
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

type harness struct {
	t     *testing.T
	sess  *ftp.Session
	conn  *fakeConn
	table *Table
	pool  *passive.Pool
	port  int
	users *usermanager.Manager
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// newHarness returns a session with users "alice" (read-write), "bob"
// (read-only) and "admin", backed by an in-memory file system.
func newHarness(t *testing.T, table *Table) *harness {
	t.Helper()
	ctx := context.Background()

	users := usermanager.New(ummemory.New(), usermanager.Config{Encryptor: usermanager.ClearTextEncryptor{}})
	require.NoError(t, users.Save(ctx, &usermanager.User{Name: "alice", Password: "secret", Enabled: true, WritePermission: true}))
	require.NoError(t, users.Save(ctx, &usermanager.User{Name: "bob", Password: "secret", Enabled: true}))
	require.NoError(t, users.Save(ctx, &usermanager.User{Name: "admin", Password: "admin", Enabled: true, WritePermission: true}))

	if table == nil {
		table = NewBuilder().Build()
	}

	port := freePort(t)
	pool, err := passive.New(strconv.Itoa(port))
	require.NoError(t, err)

	sc := &ftp.ServerContext{
		Users:      users,
		FileSystem: memory.New(),
		Stats:      ftp.NewStats(),
		Commands:   table,
		Hooks:      ftp.NewHookChain(),
	}
	conn := &fakeConn{}
	sess := ftp.NewSession(sc, conn, "test", dataconn.Config{
		AcceptTimeout: 2 * time.Second,
		IdleTimeout:   2 * time.Second,
		ActiveEnabled: true,
		ActiveIPCheck: true,
		Pool:          pool,
	}, time.Minute)
	t.Cleanup(sess.Close)

	return &harness{t: t, sess: sess, conn: conn, table: table, pool: pool, port: port, users: users}
}

// run executes one command line and returns the replies it produced.
func (h *harness) run(line string) string {
	h.t.Helper()
	err := h.exec(line)
	require.NoError(h.t, err, line)
	return h.conn.Take()
}

// exec executes one command line and returns the handler error.
func (h *harness) exec(line string) error {
	h.t.Helper()
	req := ftp.ParseRequest(line)
	verb, handler, ok := h.table.Resolve(req.Command)
	require.True(h.t, ok, "unknown verb %s", req.Command)
	req.Command = verb
	return handler.Execute(context.Background(), h.sess, req)
}

func (h *harness) login(name, password string) {
	h.t.Helper()
	h.run("USER " + name)
	require.Equal(h.t, "230 User logged in, proceed.\r\n", h.run("PASS "+password))
}
