package command

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittoftp/pkg/ftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) putFile(p, content string) {
	h.t.Helper()
	w, err := h.sess.View.Create(context.Background(), p, 0, false)
	require.NoError(h.t, err)
	_, err = io.WriteString(w, content)
	require.NoError(h.t, err)
	require.NoError(h.t, w.Close())
}

func (h *harness) readFile(p string) string {
	h.t.Helper()
	r, err := h.sess.View.Open(context.Background(), p, 0)
	require.NoError(h.t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(h.t, err)
	return string(b)
}

// ============================================================================
// Directories
// ============================================================================

func TestDirectoryCommands(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")

	assert.Equal(t, "257 \"/\" is current directory.\r\n", h.run("PWD"))
	assert.Equal(t, "257 \"/docs\" created.\r\n", h.run("MKD docs"))
	assert.Equal(t, "550 \"/docs\" already exists.\r\n", h.run("MKD /docs"))
	assert.Equal(t, "250 Directory changed to /docs\r\n", h.run("CWD docs"))
	assert.Equal(t, "257 \"/docs\" is current directory.\r\n", h.run("XPWD"))
	assert.Equal(t, "450 Can't remove the current directory.\r\n", h.run("RMD /docs"))
	assert.Equal(t, "250 Directory changed to /\r\n", h.run("CDUP"))
	assert.Equal(t, "250 Directory removed.\r\n", h.run("RMD docs"))
	assert.Equal(t, "550 Not a valid directory.\r\n", h.run("RMD docs"))
	assert.True(t, strings.HasPrefix(h.run("CWD missing"), "550 "))

	st := h.sess.Server().Stats.Snapshot()
	assert.Equal(t, int64(1), st.DirsCreated)
	assert.Equal(t, int64(1), st.DirsRemoved)
}

func TestWriteCommandsNeedPermission(t *testing.T) {
	h := newHarness(t, nil)
	h.login("bob", "secret")

	assert.Equal(t, "550 Permission denied.\r\n", h.run("MKD docs"))
	assert.Equal(t, "550 Permission denied.\r\n", h.run("DELE a.txt"))
	assert.Equal(t, "550 Permission denied.\r\n", h.run("STOR a.txt"))
}

func TestMkdQuotesEmbeddedQuotes(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")
	assert.Equal(t, "257 \"/say \"\"hi\"\"\" created.\r\n", h.run(`MKD say "hi"`))
}

// ============================================================================
// Files
// ============================================================================

func TestFileCommands(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")
	h.putFile("/a.txt", "hello")

	assert.Equal(t, "213 5\r\n", h.run("SIZE a.txt"))
	assert.Equal(t, "550 No such file.\r\n", h.run("SIZE nope.txt"))
	assert.Equal(t, "251 a.txt 5D41402ABC4B2A76B9719D911017C592\r\n", h.run("MD5 a.txt"))

	assert.Equal(t, "213 Modify=20200102030405; a.txt\r\n", h.run("MFMT 20200102030405 a.txt"))
	assert.Equal(t, "213 20200102030405\r\n", h.run("MDTM a.txt"))
	assert.Equal(t, "501 Invalid time value.\r\n", h.run("MFMT 2020 a.txt"))

	assert.Equal(t, "350 Requested file action pending further information.\r\n", h.run("RNFR a.txt"))
	assert.Equal(t, "250 Requested file action okay, file renamed.\r\n", h.run("RNTO b.txt"))
	assert.Nil(t, h.sess.RenameFrom)
	assert.Equal(t, "hello", h.readFile("/b.txt"))

	assert.Equal(t, "503 Can't find the file which has to be renamed.\r\n", h.run("RNTO c.txt"))

	assert.Equal(t, "250 Requested file action okay, file deleted.\r\n", h.run("DELE b.txt"))
	assert.Equal(t, "550 Not a valid file.\r\n", h.run("DELE b.txt"))
	assert.Equal(t, int64(1), h.sess.Server().Stats.Snapshot().Deletes)
}

func TestRenameStateClearedByOtherCommand(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")
	h.putFile("/a.txt", "x")

	h.run("RNFR a.txt")
	h.run("NOOP")
	assert.Equal(t, "503 Can't find the file which has to be renamed.\r\n", h.run("RNTO b.txt"))
}

func TestRestClearsPendingRename(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")
	h.putFile("/a.txt", "x")

	h.run("RNFR a.txt")
	assert.Equal(t, "350 Restarting at 1. Send STORE or RETRIEVE.\r\n", h.run("REST 1"))
	assert.Nil(t, h.sess.RenameFrom)
	assert.Equal(t, int64(1), h.sess.Offset)
	assert.Equal(t, "503 Can't find the file which has to be renamed.\r\n", h.run("RNTO b.txt"))
}

func TestMMD5(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")
	h.putFile("/a.txt", "hello")
	h.putFile("/e.txt", "")

	assert.Equal(t,
		"252 a.txt 5D41402ABC4B2A76B9719D911017C592,e.txt D41D8CD98F00B204E9800998ECF8427E\r\n",
		h.run("MMD5 a.txt, e.txt"))
	assert.Equal(t, "504 Not a valid file: nope\r\n", h.run("MMD5 a.txt,nope"))
}

func TestParseFTPTime(t *testing.T) {
	ts, err := parseFTPTime("20240229235959.5")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 23, 59, 59, 500*int(time.Millisecond), time.UTC), ts)

	for _, bad := range []string{"", "2024", "20241301000000", "20240101000000.1234", "2024010100000x"} {
		_, err := parseFTPTime(bad)
		assert.Error(t, err, bad)
	}
}

// ============================================================================
// Transfer parameters
// ============================================================================

func TestTransferParameters(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")

	assert.Equal(t, "200 Type set to I.\r\n", h.run("TYPE I"))
	assert.Equal(t, ftp.TypeBinary, h.sess.DataType)
	assert.Equal(t, "200 Type set to A.\r\n", h.run("TYPE a n"))
	assert.Equal(t, ftp.TypeASCII, h.sess.DataType)
	assert.Equal(t, "200 Type set to I.\r\n", h.run("TYPE L 8"))
	assert.Equal(t, "504 Command not implemented for that parameter.\r\n", h.run("TYPE E"))

	assert.Equal(t, "200 Structure set to F.\r\n", h.run("STRU F"))
	assert.Equal(t, "504 Command not implemented for that parameter.\r\n", h.run("STRU R"))
	assert.Equal(t, "200 Mode set to S.\r\n", h.run("MODE S"))
	assert.Equal(t, "504 Command not implemented for that parameter.\r\n", h.run("MODE B"))

	assert.Equal(t, "350 Restarting at 42. Send STORE or RETRIEVE.\r\n", h.run("REST 42"))
	assert.Equal(t, int64(42), h.sess.Offset)
	assert.Equal(t, "501 Not a valid number.\r\n", h.run("REST -1"))
	assert.Equal(t, int64(0), h.sess.Offset)
}

// ============================================================================
// Active mode arguments
// ============================================================================

func TestParsePortArgument(t *testing.T) {
	addr, err := parsePortArgument("127,0,0,1,4,1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1025", addr.String())

	for _, bad := range []string{"", "1,2,3", "1,2,3,4,5,256", "a,b,c,d,e,f"} {
		_, err := parsePortArgument(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseEPRTArgument(t *testing.T) {
	addr, err := parseEPRTArgument("|1|132.235.1.2|6275|")
	require.NoError(t, err)
	assert.Equal(t, "132.235.1.2:6275", addr.String())

	addr, err = parseEPRTArgument("|2|::1|2000|")
	require.NoError(t, err)
	assert.Equal(t, "[::1]:2000", addr.String())

	_, err = parseEPRTArgument("|3|1.2.3.4|2000|")
	assert.ErrorIs(t, err, errUnsupportedProtocol)

	for _, bad := range []string{"", "|1|1.2.3.4|", "|1|::1|2000|", "|1|1.2.3.4|0|"} {
		_, err := parseEPRTArgument(bad)
		assert.Error(t, err, bad)
	}
}

func TestPortPeerCheck(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")

	assert.Equal(t, "200 Command PORT okay.\r\n", h.run("PORT 127,0,0,1,4,1"))
	assert.Equal(t, "504 Data connection address must match the control connection.\r\n", h.run("PORT 10,0,0,1,4,1"))
	assert.Equal(t, "522 Network protocol not supported, use (1,2)\r\n", h.run("EPRT |9|1.2.3.4|2000|"))
	assert.Equal(t, "501 Syntax error in IP address or port number.\r\n", h.run("PORT 1,2"))
}

// ============================================================================
// Information
// ============================================================================

func TestInfoCommands(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, "215 UNIX Type: L8\r\n", h.run("SYST"))
	assert.Equal(t, "200 Command okay.\r\n", h.run("NOOP"))

	feat := h.run("FEAT")
	assert.True(t, strings.HasPrefix(feat, "211-Extensions supported\r\n"))
	assert.Contains(t, feat, " EPSV\r\n")
	assert.Contains(t, feat, " MLST size*;modify*;type*;perm*;\r\n")
	assert.NotContains(t, feat, "AUTH TLS")
	assert.True(t, strings.HasSuffix(feat, "211 End\r\n"))

	help := h.run("HELP")
	assert.True(t, strings.HasPrefix(help, "214-"))
	assert.Contains(t, help, "RETR")
	assert.Equal(t, "214 Command RETR is supported.\r\n", h.run("HELP retr"))
	assert.Equal(t, "502 Unknown command BOGUS.\r\n", h.run("HELP bogus"))
}

func TestOptsMLST(t *testing.T) {
	h := newHarness(t, nil)
	h.login("alice", "secret")
	h.putFile("/a.txt", "hello")
	require.NoError(t, h.sess.View.SetModTime(context.Background(), "/a.txt", time.Date(2021, 1, 2, 3, 4, 5, 0, time.UTC)))

	assert.Equal(t, "200 MLST OPTS size;modify;\r\n", h.run("OPTS MLST Size;modify;bogus;"))
	assert.Equal(t, []string{"size", "modify"}, h.sess.MLSTFacts)

	assert.Equal(t, "250-Listing /a.txt\r\n size=5;modify=20210102030405; /a.txt\r\n250 End\r\n", h.run("MLST a.txt"))
	assert.Equal(t, "501 Option not understood.\r\n", h.run("OPTS FOO"))
	assert.Equal(t, "200 UTF8 mode enabled.\r\n", h.run("OPTS UTF8 ON"))
	assert.True(t, h.sess.UTF8)
}

func TestLang(t *testing.T) {
	h := newHarness(t, nil)
	h.sess.Server().DefaultLanguage = "en"
	h.sess.Server().Messages = fixedResource{langs: []string{"en", "it"}}

	assert.Equal(t, "200 Command LANG okay.\r\n", h.run("LANG IT"))
	assert.Equal(t, "it", h.sess.Language)
	assert.Equal(t, "504 Unsupported language.\r\n", h.run("LANG fr"))
	assert.Equal(t, "200 Command LANG okay.\r\n", h.run("LANG"))
	assert.Equal(t, "en", h.sess.Language)
}

// fixedResource has no templates, so every reply uses its built-in text.
type fixedResource struct {
	langs []string
}

func (fixedResource) Message(int, string, string) (string, bool) { return "", false }
func (r fixedResource) Languages() []string                     { return r.langs }

// ============================================================================
// SITE
// ============================================================================

func TestSite(t *testing.T) {
	h := newHarness(t, nil)
	h.login("bob", "secret")

	assert.True(t, strings.HasPrefix(h.run("SITE HELP"), "214-SITE commands:\r\n"))
	assert.True(t, strings.HasPrefix(h.run("SITE ZONE"), "214 UTC"))
	assert.Equal(t, "530 Permission denied.\r\n", h.run("SITE WHO"))
	assert.Equal(t, "502 Unknown SITE command FOO.\r\n", h.run("SITE foo"))
	assert.Equal(t, "501 Syntax error in parameters or arguments.\r\n", h.run("SITE"))
}

func TestSiteAdmin(t *testing.T) {
	h := newHarness(t, nil)
	h.login("admin", "admin")

	who := h.run("SITE WHO")
	assert.True(t, strings.HasPrefix(who, "200-USER"))
	assert.Contains(t, who, " admin ")

	stat := h.run("SITE STAT")
	assert.Contains(t, stat, "Current Logins           : 1")

	desc := h.run("SITE DESCUSER alice")
	assert.Contains(t, desc, "writepermission : true")
	assert.NotContains(t, desc, "secret")
	assert.Equal(t, "501 nobody: user not found.\r\n", h.run("SITE DESCUSER nobody"))
}
