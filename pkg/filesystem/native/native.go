// Package native implements a filesystem.Factory over the local disk.
//
// Each user's virtual "/" maps to Root joined with the user's home
// directory. Paths are cleaned in the virtual namespace before being mapped,
// so ".." can never leave the home directory.
package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/filesystem"
)

// Config configures the native backend.
type Config struct {
	// Root is the directory every home directory is relative to.
	Root string

	// CaseInsensitive matches path elements ignoring case when the exact
	// name does not exist.
	CaseInsensitive bool

	// CreateHome creates missing home directories at login.
	CreateHome bool
}

// Factory creates native views.
type Factory struct {
	cfg Config
}

// New validates the root directory and returns a factory.
func New(cfg Config) (*Factory, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("native filesystem root is required")
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve native filesystem root %q: %w", cfg.Root, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		if !os.IsNotExist(err) || !cfg.CreateHome {
			return nil, fmt.Errorf("native filesystem root %q: %w", root, err)
		}
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("create native filesystem root %q: %w", root, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("native filesystem root %q is not a directory", root)
	}

	cfg.Root = root
	return &Factory{cfg: cfg}, nil
}

// Name implements filesystem.Factory.
func (f *Factory) Name() string {
	return "native"
}

// CreateView implements filesystem.Factory.
func (f *Factory) CreateView(ctx context.Context, home string) (filesystem.View, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	physical := filepath.Join(f.cfg.Root, filepath.FromSlash(filesystem.Join(home, "/")))

	info, err := os.Stat(physical)
	switch {
	case err == nil && !info.IsDir():
		return nil, filesystem.NewError(filesystem.CodeNotDirectory, "home is not a directory", home)
	case os.IsNotExist(err) && f.cfg.CreateHome:
		if err := os.MkdirAll(physical, 0755); err != nil {
			return nil, mapError(err, home)
		}
		logger.Info("Created home directory %s", physical)
	case err != nil:
		return nil, mapError(err, home)
	}

	return &View{home: physical, caseInsensitive: f.cfg.CaseInsensitive}, nil
}

// View is a native file system view.
type View struct {
	filesystem.WorkingDir

	home            string
	caseInsensitive bool
}

// physical maps a resolved virtual path to a disk path.
func (v *View) physical(virtual string) string {
	if !v.caseInsensitive || virtual == "/" {
		return filepath.Join(v.home, filepath.FromSlash(virtual))
	}

	current := v.home
	for _, part := range strings.Split(strings.TrimPrefix(virtual, "/"), "/") {
		candidate := filepath.Join(current, part)
		if _, err := os.Lstat(candidate); err == nil {
			current = candidate
			continue
		}

		entries, err := os.ReadDir(current)
		matched := false
		if err == nil {
			for _, e := range entries {
				if strings.EqualFold(e.Name(), part) {
					current = filepath.Join(current, e.Name())
					matched = true
					break
				}
			}
		}
		if !matched {
			current = candidate
		}
	}
	return current
}

// ChangeDir implements filesystem.View.
func (v *View) ChangeDir(ctx context.Context, dir string) error {
	virtual := v.Resolve(dir)
	info, err := os.Stat(v.physical(virtual))
	if err != nil {
		return mapError(err, virtual)
	}
	if !info.IsDir() {
		return filesystem.NewError(filesystem.CodeNotDirectory, "not a directory", virtual)
	}
	v.SetWorkingDir(virtual)
	return nil
}

// Stat implements filesystem.View.
func (v *View) Stat(ctx context.Context, p string) (filesystem.File, error) {
	virtual := v.Resolve(p)
	info, err := os.Stat(v.physical(virtual))
	if err != nil {
		if os.IsNotExist(err) {
			return filesystem.File{Path: virtual}, nil
		}
		return filesystem.File{Path: virtual}, mapError(err, virtual)
	}
	return toFile(virtual, info), nil
}

// List implements filesystem.View.
func (v *View) List(ctx context.Context, dir string) ([]filesystem.File, error) {
	virtual := v.Resolve(dir)
	physical := v.physical(virtual)

	info, err := os.Stat(physical)
	if err != nil {
		return nil, mapError(err, virtual)
	}
	if !info.IsDir() {
		return []filesystem.File{toFile(virtual, info)}, nil
	}

	entries, err := os.ReadDir(physical)
	if err != nil {
		return nil, mapError(err, virtual)
	}

	files := make([]filesystem.File, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := e.Info()
		if err != nil {
			// Entry vanished between ReadDir and Info.
			continue
		}
		files = append(files, toFile(filesystem.Resolve(virtual, e.Name()), info))
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Mkdir implements filesystem.View.
func (v *View) Mkdir(ctx context.Context, p string) error {
	virtual := v.Resolve(p)
	if virtual == "/" {
		return filesystem.NewError(filesystem.CodeAlreadyExists, "file exists", virtual)
	}
	return mapError(os.Mkdir(v.physical(virtual), 0755), virtual)
}

// Remove implements filesystem.View.
func (v *View) Remove(ctx context.Context, p string) error {
	virtual := v.Resolve(p)
	physical := v.physical(virtual)

	info, err := os.Stat(physical)
	if err != nil {
		return mapError(err, virtual)
	}
	if info.IsDir() {
		return filesystem.NewError(filesystem.CodeIsDirectory, "is a directory", virtual)
	}
	return mapError(os.Remove(physical), virtual)
}

// RemoveDir implements filesystem.View.
func (v *View) RemoveDir(ctx context.Context, p string) error {
	virtual := v.Resolve(p)
	if virtual == "/" {
		return filesystem.NewError(filesystem.CodePermission, "cannot remove home directory", virtual)
	}
	physical := v.physical(virtual)

	info, err := os.Stat(physical)
	if err != nil {
		return mapError(err, virtual)
	}
	if !info.IsDir() {
		return filesystem.NewError(filesystem.CodeNotDirectory, "not a directory", virtual)
	}
	return mapError(os.Remove(physical), virtual)
}

// Rename implements filesystem.View.
func (v *View) Rename(ctx context.Context, from, to string) error {
	src, dst := v.Resolve(from), v.Resolve(to)
	if src == "/" || dst == "/" {
		return filesystem.NewError(filesystem.CodePermission, "cannot rename home directory", src)
	}
	if _, err := os.Stat(v.physical(src)); err != nil {
		return mapError(err, src)
	}
	return mapError(os.Rename(v.physical(src), v.physical(dst)), dst)
}

// Open implements filesystem.View.
func (v *View) Open(ctx context.Context, p string, offset int64) (io.ReadCloser, error) {
	virtual := v.Resolve(p)

	f, err := os.Open(v.physical(virtual))
	if err != nil {
		return nil, mapError(err, virtual)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, mapError(err, virtual)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, filesystem.NewError(filesystem.CodeIsDirectory, "is a directory", virtual)
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, mapError(err, virtual)
		}
	}
	return f, nil
}

// Create implements filesystem.View.
func (v *View) Create(ctx context.Context, p string, offset int64, append bool) (io.WriteCloser, error) {
	virtual := v.Resolve(p)
	physical := v.physical(virtual)

	if info, err := os.Stat(physical); err == nil && info.IsDir() {
		return nil, filesystem.NewError(filesystem.CodeIsDirectory, "is a directory", virtual)
	}

	flags := os.O_WRONLY | os.O_CREATE
	switch {
	case append:
		flags |= os.O_APPEND
	case offset == 0:
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(physical, flags, 0644)
	if err != nil {
		return nil, mapError(err, virtual)
	}

	if !append && offset > 0 {
		if err := f.Truncate(offset); err != nil {
			_ = f.Close()
			return nil, mapError(err, virtual)
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, mapError(err, virtual)
		}
	}
	return f, nil
}

// SetModTime implements filesystem.View.
func (v *View) SetModTime(ctx context.Context, p string, t time.Time) error {
	virtual := v.Resolve(p)
	return mapError(os.Chtimes(v.physical(virtual), t, t), virtual)
}

// IsRandomAccessible implements filesystem.View.
func (v *View) IsRandomAccessible() bool {
	return true
}

// Dispose implements filesystem.View.
func (v *View) Dispose() {}

func toFile(virtual string, info fs.FileInfo) filesystem.File {
	links := 1
	if info.IsDir() {
		links = 3
	}
	return filesystem.File{
		Path:      virtual,
		Exists:    true,
		IsDir:     info.IsDir(),
		Size:      info.Size(),
		ModTime:   info.ModTime(),
		Mode:      info.Mode().Perm(),
		Owner:     "user",
		Group:     "group",
		LinkCount: links,
	}
}

func mapError(err error, virtual string) error {
	if err == nil {
		return nil
	}

	var code filesystem.ErrorCode
	switch {
	case errors.Is(err, fs.ErrNotExist):
		code = filesystem.CodeNotFound
	case errors.Is(err, fs.ErrPermission):
		code = filesystem.CodePermission
	// ENOTEMPTY also matches fs.ErrExist, so it goes first.
	case errors.Is(err, syscall.ENOTEMPTY):
		code = filesystem.CodeNotEmpty
	case errors.Is(err, fs.ErrExist):
		code = filesystem.CodeAlreadyExists
	case errors.Is(err, syscall.ENOTDIR):
		code = filesystem.CodeNotDirectory
	case errors.Is(err, syscall.EISDIR):
		code = filesystem.CodeIsDirectory
	default:
		return fmt.Errorf("%s: %w", virtual, errors.Join(filesystem.ErrIO, err))
	}

	return fmt.Errorf("%w: %w", filesystem.NewError(code, errMessage(err), virtual), err)
}

func errMessage(err error) string {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Op + " failed: " + pe.Err.Error()
	}
	var le *os.LinkError
	if errors.As(err, &le) {
		return le.Op + " failed: " + le.Err.Error()
	}
	return err.Error()
}
