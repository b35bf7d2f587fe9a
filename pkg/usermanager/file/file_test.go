package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittoftp/pkg/usermanager"
	umtesting "github.com/marmos91/dittoftp/pkg/usermanager/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	suite := &umtesting.StoreTestSuite{
		NewStore: func(t *testing.T) usermanager.Store {
			s, err := New(filepath.Join(t.TempDir(), "users.yaml"))
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}

func TestFileStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "users.yaml")

	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, &usermanager.User{Name: "alice", Password: "x", HomeDir: "/alice", Enabled: true}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reloaded, err := New(path)
	require.NoError(t, err)
	u, err := reloaded.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "/alice", u.HomeDir)
	assert.True(t, u.Enabled)
}

func TestFileStoreLoadsHandWrittenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	content := `users:
  - name: admin
    password: secret
    home_dir: /
    enabled: true
    write_permission: true
    max_idle_time: 5m
  - name: guest
    enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	s, err := New(path)
	require.NoError(t, err)

	admin, err := s.Get(context.Background(), "admin")
	require.NoError(t, err)
	assert.True(t, admin.WritePermission)
	assert.Equal(t, "5m0s", admin.MaxIdleTime.String())

	guest, err := s.Get(context.Background(), "guest")
	require.NoError(t, err)
	assert.False(t, guest.Enabled)
}

func TestFileStoreRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users: [: :"), 0600))

	_, err := New(path)
	assert.Error(t, err)
}
