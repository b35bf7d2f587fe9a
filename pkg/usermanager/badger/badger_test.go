package badger

import (
	"context"
	"testing"

	"github.com/marmos91/dittoftp/pkg/usermanager"
	umtesting "github.com/marmos91/dittoftp/pkg/usermanager/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerStore(t *testing.T) {
	suite := &umtesting.StoreTestSuite{
		NewStore: func(t *testing.T) usermanager.Store {
			s, err := New(context.Background(), Config{DBPath: t.TempDir()})
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}

func TestBadgerStoreReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := New(ctx, Config{DBPath: dir})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, &usermanager.User{Name: "alice", HomeDir: "/alice", Enabled: true}))
	require.NoError(t, s.Close())

	s, err = New(ctx, Config{DBPath: dir})
	require.NoError(t, err)
	defer s.Close()

	u, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "/alice", u.HomeDir)
}

func TestBadgerStoreRequiresPath(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}
