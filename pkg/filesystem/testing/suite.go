// Package testing provides a reusable conformance suite for filesystem
// backends.
package testing

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittoftp/pkg/filesystem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ViewTestSuite tests the View contract, not implementation details, so it
// runs unchanged against every backend.
//
// Usage:
//
//	func TestMyBackend(t *testing.T) {
//	    suite := &fstesting.ViewTestSuite{
//	        NewFactory: func(t *testing.T) filesystem.Factory {
//	            return mybackend.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type ViewTestSuite struct {
	// NewFactory creates a fresh, empty backend for each test.
	NewFactory func(t *testing.T) filesystem.Factory

	// SkipModTime skips SetModTime checks for backends that return
	// ErrNotSupported.
	SkipModTime bool

	// SkipDirRename skips directory rename checks.
	SkipDirRename bool
}

// Run executes all tests in the suite.
func (s *ViewTestSuite) Run(t *testing.T) {
	t.Run("Navigation", s.testNavigation)
	t.Run("CreateAndRead", s.testCreateAndRead)
	t.Run("Resume", s.testResume)
	t.Run("Directories", s.testDirectories)
	t.Run("Rename", s.testRename)
	t.Run("Remove", s.testRemove)
	t.Run("HomeIsolation", s.testHomeIsolation)
	if !s.SkipModTime {
		t.Run("ModTime", s.testModTime)
	}
}

func (s *ViewTestSuite) view(t *testing.T, f filesystem.Factory, home string) filesystem.View {
	t.Helper()
	v, err := f.CreateView(context.Background(), home)
	require.NoError(t, err)
	t.Cleanup(v.Dispose)
	return v
}

func writeFile(t *testing.T, v filesystem.View, p, content string) {
	t.Helper()
	w, err := v.Create(context.Background(), p, 0, false)
	require.NoError(t, err)
	_, err = io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func readFile(t *testing.T, v filesystem.View, p string, offset int64) string {
	t.Helper()
	r, err := v.Open(context.Background(), p, offset)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func (s *ViewTestSuite) testNavigation(t *testing.T) {
	ctx := context.Background()
	v := s.view(t, s.NewFactory(t), "/")

	assert.Equal(t, "/", v.WorkingDir())

	require.NoError(t, v.Mkdir(ctx, "docs"))
	require.NoError(t, v.ChangeDir(ctx, "docs"))
	assert.Equal(t, "/docs", v.WorkingDir())

	require.NoError(t, v.ChangeDir(ctx, ".."))
	assert.Equal(t, "/", v.WorkingDir())

	// Cannot climb above the root.
	require.NoError(t, v.ChangeDir(ctx, "../../.."))
	assert.Equal(t, "/", v.WorkingDir())

	err := v.ChangeDir(ctx, "missing")
	assert.ErrorIs(t, err, filesystem.ErrNotFound)
	assert.Equal(t, "/", v.WorkingDir())

	writeFile(t, v, "plain.txt", "x")
	err = v.ChangeDir(ctx, "plain.txt")
	assert.ErrorIs(t, err, filesystem.ErrNotDirectory)
}

func (s *ViewTestSuite) testCreateAndRead(t *testing.T) {
	ctx := context.Background()
	v := s.view(t, s.NewFactory(t), "/")

	writeFile(t, v, "/hello.txt", "hello world")

	f, err := v.Stat(ctx, "hello.txt")
	require.NoError(t, err)
	assert.True(t, f.IsFile())
	assert.Equal(t, int64(11), f.Size)
	assert.Equal(t, "hello.txt", f.Name())

	assert.Equal(t, "hello world", readFile(t, v, "hello.txt", 0))
	assert.Equal(t, "world", readFile(t, v, "hello.txt", 6))

	// Overwrite truncates.
	writeFile(t, v, "hello.txt", "bye")
	assert.Equal(t, "bye", readFile(t, v, "hello.txt", 0))

	missing, err := v.Stat(ctx, "nope.txt")
	require.NoError(t, err)
	assert.False(t, missing.Exists)

	_, err = v.Open(ctx, "nope.txt", 0)
	assert.ErrorIs(t, err, filesystem.ErrNotFound)
}

func (s *ViewTestSuite) testResume(t *testing.T) {
	ctx := context.Background()
	v := s.view(t, s.NewFactory(t), "/")

	writeFile(t, v, "log.txt", "abc")

	w, err := v.Create(ctx, "log.txt", 0, true)
	require.NoError(t, err)
	_, err = io.WriteString(w, "def")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, "abcdef", readFile(t, v, "log.txt", 0))

	w, err = v.Create(ctx, "log.txt", 2, false)
	require.NoError(t, err)
	_, err = io.WriteString(w, "XY")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, "abXY", readFile(t, v, "log.txt", 0))
}

func (s *ViewTestSuite) testDirectories(t *testing.T) {
	ctx := context.Background()
	v := s.view(t, s.NewFactory(t), "/")

	require.NoError(t, v.Mkdir(ctx, "b"))
	require.NoError(t, v.Mkdir(ctx, "a"))
	writeFile(t, v, "c.txt", "123")
	writeFile(t, v, "a/inner.txt", "1")

	err := v.Mkdir(ctx, "a")
	assert.ErrorIs(t, err, filesystem.ErrAlreadyExists)

	files, err := v.List(ctx, "/")
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	assert.Equal(t, []string{"a", "b", "c.txt"}, names)
	assert.True(t, files[0].IsDir)
	assert.True(t, files[2].IsFile())
	assert.Equal(t, int64(3), files[2].Size)

	inner, err := v.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, inner, 1)
	assert.Equal(t, "/a/inner.txt", inner[0].Path)

	single, err := v.List(ctx, "c.txt")
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "c.txt", single[0].Name())

	_, err = v.List(ctx, "missing")
	assert.ErrorIs(t, err, filesystem.ErrNotFound)

	err = v.RemoveDir(ctx, "a")
	assert.ErrorIs(t, err, filesystem.ErrNotEmpty)

	require.NoError(t, v.RemoveDir(ctx, "b"))
	f, err := v.Stat(ctx, "b")
	require.NoError(t, err)
	assert.False(t, f.Exists)

	err = v.RemoveDir(ctx, "c.txt")
	assert.ErrorIs(t, err, filesystem.ErrNotDirectory)
}

func (s *ViewTestSuite) testRename(t *testing.T) {
	ctx := context.Background()
	v := s.view(t, s.NewFactory(t), "/")

	writeFile(t, v, "old.txt", "data")
	require.NoError(t, v.Rename(ctx, "old.txt", "new.txt"))

	old, err := v.Stat(ctx, "old.txt")
	require.NoError(t, err)
	assert.False(t, old.Exists)
	assert.Equal(t, "data", readFile(t, v, "new.txt", 0))

	err = v.Rename(ctx, "ghost.txt", "x.txt")
	assert.ErrorIs(t, err, filesystem.ErrNotFound)

	if s.SkipDirRename {
		return
	}

	require.NoError(t, v.Mkdir(ctx, "dir"))
	writeFile(t, v, "dir/f.txt", "f")
	require.NoError(t, v.Rename(ctx, "dir", "moved"))
	assert.Equal(t, "f", readFile(t, v, "moved/f.txt", 0))
}

func (s *ViewTestSuite) testRemove(t *testing.T) {
	ctx := context.Background()
	v := s.view(t, s.NewFactory(t), "/")

	writeFile(t, v, "gone.txt", "x")
	require.NoError(t, v.Remove(ctx, "gone.txt"))

	err := v.Remove(ctx, "gone.txt")
	assert.ErrorIs(t, err, filesystem.ErrNotFound)

	require.NoError(t, v.Mkdir(ctx, "d"))
	err = v.Remove(ctx, "d")
	assert.ErrorIs(t, err, filesystem.ErrIsDirectory)
}

func (s *ViewTestSuite) testHomeIsolation(t *testing.T) {
	ctx := context.Background()
	f := s.NewFactory(t)

	alice := s.view(t, f, "alice")
	bob := s.view(t, f, "bob")

	writeFile(t, alice, "secret.txt", "alice")

	got, err := bob.Stat(ctx, "/secret.txt")
	require.NoError(t, err)
	assert.False(t, got.Exists)

	got, err = bob.Stat(ctx, "../alice/secret.txt")
	require.NoError(t, err)
	assert.False(t, got.Exists, "paths must not escape the home directory")

	root := s.view(t, f, "/")
	assert.Equal(t, "alice", readFile(t, root, "/alice/secret.txt", 0))
}

func (s *ViewTestSuite) testModTime(t *testing.T) {
	ctx := context.Background()
	v := s.view(t, s.NewFactory(t), "/")

	writeFile(t, v, "stamp.txt", "x")
	when := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, v.SetModTime(ctx, "stamp.txt", when))

	f, err := v.Stat(ctx, "stamp.txt")
	require.NoError(t, err)
	assert.True(t, f.ModTime.Equal(when), "got %s", f.ModTime)

	err = v.SetModTime(ctx, strings.Repeat("z", 3), when)
	assert.ErrorIs(t, err, filesystem.ErrNotFound)
}
