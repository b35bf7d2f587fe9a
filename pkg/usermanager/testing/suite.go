// Package testing provides a reusable conformance suite for user stores.
package testing

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/marmos91/dittoftp/pkg/usermanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite tests the usermanager.Store contract.
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func(t *testing.T) usermanager.Store
}

// Run executes all tests in the suite.
func (s *StoreTestSuite) Run(t *testing.T) {
	t.Run("PutGet", s.testPutGet)
	t.Run("GetMissing", s.testGetMissing)
	t.Run("Replace", s.testReplace)
	t.Run("Delete", s.testDelete)
	t.Run("Names", s.testNames)
	t.Run("Isolation", s.testIsolation)
}

func (s *StoreTestSuite) store(t *testing.T) usermanager.Store {
	t.Helper()
	st := s.NewStore(t)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleUser(name string) *usermanager.User {
	return &usermanager.User{
		Name:            name,
		Password:        "stored-" + name,
		HomeDir:         "/" + name,
		Enabled:         true,
		WritePermission: true,
		WritePaths:      []string{"/upload"},
		MaxIdleTime:     5 * time.Minute,
		MaxLogins:       3,
		MaxLoginsPerIP:  2,
		MaxUploadRate:   1024,
		MaxDownloadRate: 2048,
	}
}

func (s *StoreTestSuite) testPutGet(t *testing.T) {
	ctx := context.Background()
	st := s.store(t)

	want := sampleUser("alice")
	require.NoError(t, st.Put(ctx, want))

	got, err := st.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func (s *StoreTestSuite) testGetMissing(t *testing.T) {
	_, err := s.store(t).Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, usermanager.ErrUserNotFound)
}

func (s *StoreTestSuite) testReplace(t *testing.T) {
	ctx := context.Background()
	st := s.store(t)

	u := sampleUser("bob")
	require.NoError(t, st.Put(ctx, u))

	u.Enabled = false
	u.HomeDir = "/elsewhere"
	require.NoError(t, st.Put(ctx, u))

	got, err := st.Get(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "/elsewhere", got.HomeDir)
}

func (s *StoreTestSuite) testDelete(t *testing.T) {
	ctx := context.Background()
	st := s.store(t)

	require.NoError(t, st.Put(ctx, sampleUser("carol")))
	require.NoError(t, st.Delete(ctx, "carol"))

	_, err := st.Get(ctx, "carol")
	assert.ErrorIs(t, err, usermanager.ErrUserNotFound)

	assert.NoError(t, st.Delete(ctx, "carol"))
}

func (s *StoreTestSuite) testNames(t *testing.T) {
	ctx := context.Background()
	st := s.store(t)

	names, err := st.Names(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, n := range []string{"zed", "amy", "kim"} {
		require.NoError(t, st.Put(ctx, sampleUser(n)))
	}

	names, err = st.Names(ctx)
	require.NoError(t, err)
	sort.Strings(names)
	assert.Equal(t, []string{"amy", "kim", "zed"}, names)
}

func (s *StoreTestSuite) testIsolation(t *testing.T) {
	ctx := context.Background()
	st := s.store(t)

	u := sampleUser("dave")
	require.NoError(t, st.Put(ctx, u))

	// Mutating the caller's copy must not leak into the store.
	u.WritePaths[0] = "/hacked"
	got, err := st.Get(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, []string{"/upload"}, got.WritePaths)

	got.Enabled = false
	again, err := st.Get(ctx, "dave")
	require.NoError(t, err)
	assert.True(t, again.Enabled)
}
