// Package filesystem defines the per-user file system view the FTP command
// handlers operate on, and the backends implementing it.
//
// Every view exposes a virtual namespace rooted at "/" which maps to the
// user's home directory inside the backend. Paths handed to a View are raw
// client arguments: absolute ("/a/b"), relative to the working directory
// ("b", "../c") or home relative ("~/d"). Views never let a path escape the
// virtual root.
package filesystem

import (
	"context"
	"io"
	"io/fs"
	"path"
	"time"
)

// File describes one entry of a view at the time it was looked up.
//
// A File is a value: it does not track later changes. Stat on a missing path
// returns a File with Exists == false and a nil error, so callers can tell a
// missing entry from a failing backend.
type File struct {
	// Path is the absolute virtual path ("/" for the home directory).
	Path string

	Exists  bool
	IsDir   bool
	Size    int64
	ModTime time.Time

	// Mode carries permission bits for listings. Backends without a notion of
	// permissions report 0644 for files and 0755 for directories.
	Mode fs.FileMode

	Owner     string
	Group     string
	LinkCount int
}

// Name returns the last path element, or "/" for the root.
func (f File) Name() string {
	if f.Path == "/" || f.Path == "" {
		return "/"
	}
	return path.Base(f.Path)
}

// IsFile reports whether the entry exists and is a regular file.
func (f File) IsFile() bool {
	return f.Exists && !f.IsDir
}

// IsHidden reports whether the entry is a dot file.
func (f File) IsHidden() bool {
	name := f.Name()
	return len(name) > 1 && name[0] == '.'
}

// View is one session's window on a backend.
//
// A View is owned by a single session and is not used concurrently.
type View interface {
	// WorkingDir returns the absolute virtual working directory.
	WorkingDir() string

	// ChangeDir moves the working directory. Fails with ErrNotFound or
	// ErrNotDirectory and leaves the working directory untouched.
	ChangeDir(ctx context.Context, dir string) error

	// Stat looks up one entry.
	Stat(ctx context.Context, p string) (File, error)

	// List returns the entries of a directory sorted by name. Listing a
	// regular file returns that file alone.
	List(ctx context.Context, dir string) ([]File, error)

	Mkdir(ctx context.Context, p string) error

	// Remove deletes a regular file.
	Remove(ctx context.Context, p string) error

	// RemoveDir deletes an empty directory.
	RemoveDir(ctx context.Context, p string) error

	Rename(ctx context.Context, from, to string) error

	// Open returns a reader positioned at offset.
	Open(ctx context.Context, p string, offset int64) (io.ReadCloser, error)

	// Create returns a writer for p. With append the data goes to the end
	// of an existing file; otherwise the file is truncated at offset
	// (0 means a fresh file).
	Create(ctx context.Context, p string, offset int64, append bool) (io.WriteCloser, error)

	SetModTime(ctx context.Context, p string, t time.Time) error

	// IsRandomAccessible reports whether Create honours a non-zero offset.
	IsRandomAccessible() bool

	// Dispose releases resources held by the view.
	Dispose()
}

// Factory creates views for authenticated users.
type Factory interface {
	// CreateView returns a view rooted at home, a slash separated path
	// relative to the backend root.
	CreateView(ctx context.Context, home string) (View, error)

	// Name identifies the backend in logs and SITE STAT.
	Name() string
}
