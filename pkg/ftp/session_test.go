package ftp

import (
	"testing"
	"time"

	"github.com/marmos91/dittoftp/pkg/filesystem"
	"github.com/marmos91/dittoftp/pkg/filesystem/memory"
	"github.com/marmos91/dittoftp/pkg/usermanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionReplies(t *testing.T) {
	sess, conn := newTestSession(t, mapResource{"331": "Password for {client.login.name}"})

	sess.SetPendingUser("bob")
	require.NoError(t, sess.Reply(ParseRequest("USER bob"), 331, "USER", "User name okay, need password."))
	require.NoError(t, sess.Write(NewReply(200, "ok")))

	assert.Equal(t, "331 Password for bob\r\n200 ok\r\n", conn.Output())
	assert.Equal(t, int64(2), sess.ReplyCount())
	assert.Equal(t, NewReply(200, "ok"), sess.LastReply())
}

func TestSessionLoginLogout(t *testing.T) {
	sess, _ := newTestSession(t, nil)
	assert.False(t, sess.IsLoggedIn())
	assert.Equal(t, time.Minute, sess.MaxIdleTime())

	view, err := memory.New().CreateView(t.Context(), "/")
	require.NoError(t, err)

	user := &usermanager.User{Name: "alice", MaxIdleTime: 5 * time.Second}
	sess.SetPendingUser("alice")
	sess.Login(user, view)

	assert.True(t, sess.IsLoggedIn())
	assert.Equal(t, "", sess.PendingUser())
	assert.Equal(t, 5*time.Second, sess.MaxIdleTime())
	assert.False(t, sess.LoginTime().IsZero())

	total, fromIP := sess.Server().Stats.UserLogins("alice", "192.0.2.10")
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, fromIP)

	sess.Logout()
	assert.False(t, sess.IsLoggedIn())
	assert.Nil(t, sess.View)
	assert.Equal(t, time.Minute, sess.MaxIdleTime())
	total, _ = sess.Server().Stats.UserLogins("alice", "192.0.2.10")
	assert.Equal(t, 0, total)
}

func TestSessionResetAndReinitialize(t *testing.T) {
	sess, _ := newTestSession(t, nil)

	sess.Offset = 100
	sess.RenameFrom = &filesystem.File{Path: "/a"}
	sess.ResetState()
	assert.Zero(t, sess.Offset)
	assert.Nil(t, sess.RenameFrom)

	view, err := memory.New().CreateView(t.Context(), "/")
	require.NoError(t, err)
	sess.Login(&usermanager.User{Name: "alice"}, view)
	sess.DataType = TypeBinary
	sess.Structure = StructureRecord
	sess.Offset = 10
	f := sess.DataConnection()
	assert.Same(t, f, sess.DataConnection())

	sess.Reinitialize()
	assert.False(t, sess.IsLoggedIn())
	assert.Equal(t, TypeASCII, sess.DataType)
	assert.Equal(t, StructureFile, sess.Structure)
	assert.Zero(t, sess.Offset)
	assert.False(t, sess.IsTransferring())
}

func TestSessionFailedLogins(t *testing.T) {
	sess, _ := newTestSession(t, nil)
	assert.Equal(t, 1, sess.LoginFailed())
	assert.Equal(t, 2, sess.LoginFailed())
	assert.Equal(t, 2, sess.FailedLogins())
}

func TestSessionCloseIdempotent(t *testing.T) {
	sess, _ := newTestSession(t, nil)
	assert.Nil(t, sess.CurrentDataConnection())

	view, err := memory.New().CreateView(t.Context(), "/")
	require.NoError(t, err)
	sess.Login(&usermanager.User{Name: "alice"}, view)
	_ = sess.DataConnection()

	sess.Close()
	sess.Close()
	assert.False(t, sess.IsLoggedIn())
	assert.Equal(t, int64(0), sess.Server().Stats.CurrentLogins())
}

func TestSessionTouch(t *testing.T) {
	sess, _ := newTestSession(t, nil)
	before := sess.LastAccess()
	time.Sleep(2 * time.Millisecond)
	sess.Touch()
	assert.True(t, sess.LastAccess().After(before))
}
