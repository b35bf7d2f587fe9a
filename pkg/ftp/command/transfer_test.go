package command

import (
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pasvReply = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)

// pasv negotiates passive mode and returns the data address.
func (h *harness) pasv() string {
	h.t.Helper()
	reply := h.run("PASV")
	m := pasvReply.FindStringSubmatch(reply)
	require.NotNil(h.t, m, reply)

	p1, _ := strconv.Atoi(m[5])
	p2, _ := strconv.Atoi(m[6])
	assert.Equal(h.t, h.port, p1<<8|p2)
	assert.True(h.t, h.pool.IsReserved(h.port))
	return net.JoinHostPort(strings.Join(m[1:5], "."), strconv.Itoa(p1<<8|p2))
}

// sendData sends data over a fresh data connection to addr.
func sendData(addr, data string) {
	go func() {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return
		}
		_, _ = io.WriteString(c, data)
		_ = c.Close()
	}()
}

// receiveData reads everything from a fresh data connection to addr.
func receiveData(addr string) <-chan string {
	ch := make(chan string, 1)
	go func() {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			ch <- ""
			return
		}
		defer c.Close()
		b, _ := io.ReadAll(c)
		ch <- string(b)
	}()
	return ch
}

// ============================================================================
// Uploads
// ============================================================================

func TestPassiveStoreReleasesPort(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")
	h.run("TYPE I")

	sendData(h.pasv(), "hello world")
	assert.Equal(t,
		"150 Opening data connection for a.txt.\r\n226 Transfer complete.\r\n",
		h.run("STOR a.txt"))

	assert.Equal(t, "hello world", h.readFile("/a.txt"))
	assert.False(t, h.pool.IsReserved(h.port))

	st := h.sess.Server().Stats.Snapshot()
	assert.Equal(t, int64(1), st.Uploads)
	assert.Equal(t, int64(11), st.UploadedBytes)
}

func TestStoreWithoutDataConnection(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")

	assert.Equal(t, "425 Can't open data connection, use PORT or PASV first.\r\n", h.run("STOR a.txt"))
	assert.Equal(t, "425 Can't open data connection, use PORT or PASV first.\r\n", h.run("LIST"))
}

func TestStoreFailureReleasesPort(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")
	require.NoError(t, h.sess.View.Mkdir(t.Context(), "/dir"))

	h.pasv()
	assert.Equal(t, "550 Not a plain file.\r\n", h.run("STOR dir"))
	assert.False(t, h.pool.IsReserved(h.port))
}

func TestStoreKeepsFileWhenDataConnectionFails(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")
	h.run("TYPE I")
	h.putFile("/keep.txt", "important data")

	// nobody dials the passive port, so accept times out
	h.pasv()
	assert.Equal(t,
		"150 Opening data connection for keep.txt.\r\n425 Can't open data connection.\r\n",
		h.run("STOR keep.txt"))
	assert.Equal(t, "important data", h.readFile("/keep.txt"))
	assert.False(t, h.pool.IsReserved(h.port))

	h.run("REST 4")
	h.pasv()
	h.run("STOR keep.txt")
	assert.Equal(t, "important data", h.readFile("/keep.txt"))

	h.pasv()
	h.run("STOR fresh.txt")
	f, err := h.sess.View.Stat(t.Context(), "/fresh.txt")
	require.NoError(t, err)
	assert.False(t, f.Exists, "failed STOR must not leave an empty file")
}

func TestStoreCreateFailsAfterConnect(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")
	h.run("TYPE I")

	sendData(h.pasv(), "orphan")
	assert.Equal(t,
		"150 Opening data connection for x.txt.\r\n551 Error on output file.\r\n",
		h.run("STOR nodir/x.txt"))
	assert.False(t, h.pool.IsReserved(h.port))
}

func TestAppendAndRestart(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")
	h.run("TYPE I")
	h.putFile("/log.txt", "one\n")

	sendData(h.pasv(), "two\n")
	h.run("APPE log.txt")
	assert.Equal(t, "one\ntwo\n", h.readFile("/log.txt"))

	h.run("REST 4")
	sendData(h.pasv(), "2\n")
	h.run("STOR log.txt")
	assert.Equal(t, "one\n2\n", h.readFile("/log.txt"))
	assert.Equal(t, int64(0), h.sess.Offset)
}

func TestStoreUnique(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")
	h.run("TYPE I")

	sendData(h.pasv(), "data")
	reply := h.run("STOU")

	m := regexp.MustCompile(`^150 FILE: (\S+)\r\n226 Transfer complete \(unique file name: (\S+)\)\.\r\n$`).FindStringSubmatch(reply)
	require.NotNil(t, m, reply)
	assert.Equal(t, m[1], m[2])
	assert.Equal(t, "data", h.readFile("/"+m[1]))
}

// ============================================================================
// Downloads and listings
// ============================================================================

func TestPassiveRetrieve(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")
	h.putFile("/a.txt", "line1\nline2\n")

	h.run("TYPE I")
	got := receiveData(h.pasv())
	assert.Equal(t,
		"150 Opening data connection for a.txt.\r\n226 Transfer complete.\r\n",
		h.run("RETR a.txt"))
	assert.Equal(t, "line1\nline2\n", <-got)
	assert.False(t, h.pool.IsReserved(h.port))

	h.run("TYPE A")
	got = receiveData(h.pasv())
	h.run("RETR a.txt")
	assert.Equal(t, "line1\r\nline2\r\n", <-got)

	h.run("TYPE I")
	h.run("REST 6")
	got = receiveData(h.pasv())
	h.run("RETR a.txt")
	assert.Equal(t, "line2\n", <-got)

	st := h.sess.Server().Stats.Snapshot()
	assert.Equal(t, int64(3), st.Downloads)
}

func TestRetrieveMissingFile(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")

	h.pasv()
	assert.Equal(t, "550 No such file.\r\n", h.run("RETR nope"))
	assert.False(t, h.pool.IsReserved(h.port))
}

func TestListings(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")
	h.putFile("/b.txt", "bb")
	h.putFile("/.hidden", "x")
	require.NoError(t, h.sess.View.Mkdir(t.Context(), "/a"))

	got := receiveData(h.pasv())
	assert.Equal(t,
		"150 Opening data connection for directory list.\r\n226 Closing data connection.\r\n",
		h.run("NLST"))
	assert.Equal(t, "a\r\nb.txt\r\n", <-got)

	got = receiveData(h.pasv())
	h.run("NLST -a")
	assert.Equal(t, ".hidden\r\na\r\nb.txt\r\n", <-got)

	got = receiveData(h.pasv())
	h.run("LIST -l")
	lines := strings.Split(strings.TrimSuffix(<-got, "\r\n"), "\r\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "drwxr-xr-x"), lines[0])
	assert.True(t, strings.HasSuffix(lines[0], " a"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "-rw-r--r--"), lines[1])
	assert.Contains(t, lines[1], " 2 ")

	got = receiveData(h.pasv())
	h.run("MLSD")
	mlsd := <-got
	assert.Contains(t, mlsd, "type=file;perm=rwadf; b.txt\r\n")
	assert.Contains(t, mlsd, "type=dir;perm=elcmfd; a\r\n")

	h.pasv()
	assert.Equal(t, "501 Not a directory.\r\n", h.run("MLSD b.txt"))
	assert.False(t, h.pool.IsReserved(h.port))
}

func TestListMissingDirectory(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")

	h.pasv()
	assert.True(t, strings.HasPrefix(h.run("LIST nope"), "550 "))
	assert.False(t, h.pool.IsReserved(h.port))
}

func TestAbortReleasesPort(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")

	h.pasv()
	assert.Equal(t, "226 ABOR command successful.\r\n", h.run("ABOR"))
	assert.False(t, h.pool.IsReserved(h.port))
}

func TestEPSV(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")

	assert.Equal(t, "229 Entering Extended Passive Mode (|||"+strconv.Itoa(h.port)+"|)\r\n", h.run("EPSV"))
	assert.True(t, h.pool.IsReserved(h.port))
	assert.Equal(t, "522 Network protocol not supported, use (1,2)\r\n", h.run("EPSV 3"))
}
