// Package memory implements an in-memory filesystem.Factory.
//
// All views of one Factory share the same tree, so files uploaded by one
// session are visible to every other session with an overlapping home. The
// tree is lost when the process exits. Useful for tests and demos.
package memory

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittoftp/pkg/filesystem"
)

type node struct {
	isDir   bool
	data    []byte
	modTime time.Time
}

// Factory owns the shared tree.
type Factory struct {
	mu    sync.RWMutex
	nodes map[string]*node
}

// New returns an empty tree containing only "/".
func New() *Factory {
	return &Factory{
		nodes: map[string]*node{
			"/": {isDir: true, modTime: time.Now()},
		},
	}
}

// Name implements filesystem.Factory.
func (f *Factory) Name() string {
	return "memory"
}

// CreateView implements filesystem.Factory. Missing home directories are
// created.
func (f *Factory) CreateView(ctx context.Context, home string) (filesystem.View, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := filesystem.Join(home, "/")

	f.mu.Lock()
	defer f.mu.Unlock()

	if n, ok := f.nodes[root]; ok && !n.isDir {
		return nil, filesystem.NewError(filesystem.CodeNotDirectory, "home is not a directory", home)
	}
	f.mkdirAllLocked(root)

	return &View{tree: f, home: root}, nil
}

func (f *Factory) mkdirAllLocked(p string) {
	for p != "/" {
		if _, ok := f.nodes[p]; !ok {
			f.nodes[p] = &node{isDir: true, modTime: time.Now()}
		}
		p = path.Dir(p)
	}
}

// View is a memory file system view.
type View struct {
	filesystem.WorkingDir

	tree *Factory
	home string
}

func (v *View) abs(virtual string) string {
	return path.Join(v.home, virtual)
}

func (v *View) file(virtual string, n *node) filesystem.File {
	if n == nil {
		return filesystem.File{Path: virtual}
	}
	f := filesystem.File{
		Path:      virtual,
		Exists:    true,
		IsDir:     n.isDir,
		Size:      int64(len(n.data)),
		ModTime:   n.modTime,
		Mode:      0644,
		Owner:     "user",
		Group:     "group",
		LinkCount: 1,
	}
	if n.isDir {
		f.Size = 0
		f.Mode = fs.ModeDir | 0755
		f.LinkCount = 3
	}
	return f
}

// ChangeDir implements filesystem.View.
func (v *View) ChangeDir(ctx context.Context, dir string) error {
	virtual := v.Resolve(dir)

	v.tree.mu.RLock()
	n, ok := v.tree.nodes[v.abs(virtual)]
	v.tree.mu.RUnlock()

	if !ok {
		return filesystem.NewError(filesystem.CodeNotFound, "no such directory", virtual)
	}
	if !n.isDir {
		return filesystem.NewError(filesystem.CodeNotDirectory, "not a directory", virtual)
	}
	v.SetWorkingDir(virtual)
	return nil
}

// Stat implements filesystem.View.
func (v *View) Stat(ctx context.Context, p string) (filesystem.File, error) {
	virtual := v.Resolve(p)

	v.tree.mu.RLock()
	defer v.tree.mu.RUnlock()
	return v.file(virtual, v.tree.nodes[v.abs(virtual)]), nil
}

// List implements filesystem.View.
func (v *View) List(ctx context.Context, dir string) ([]filesystem.File, error) {
	virtual := v.Resolve(dir)
	abs := v.abs(virtual)

	v.tree.mu.RLock()
	defer v.tree.mu.RUnlock()

	n, ok := v.tree.nodes[abs]
	if !ok {
		return nil, filesystem.NewError(filesystem.CodeNotFound, "no such directory", virtual)
	}
	if !n.isDir {
		return []filesystem.File{v.file(virtual, n)}, nil
	}

	var files []filesystem.File
	for p, child := range v.tree.nodes {
		if p == abs || path.Dir(p) != abs {
			continue
		}
		files = append(files, v.file(path.Join(virtual, path.Base(p)), child))
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// parentLocked returns an error unless the parent of abs is a directory.
func (v *View) parentLocked(virtual string) error {
	parent, ok := v.tree.nodes[path.Dir(v.abs(virtual))]
	if !ok {
		return filesystem.NewError(filesystem.CodeNotFound, "parent directory does not exist", virtual)
	}
	if !parent.isDir {
		return filesystem.NewError(filesystem.CodeNotDirectory, "parent is not a directory", virtual)
	}
	return nil
}

// Mkdir implements filesystem.View.
func (v *View) Mkdir(ctx context.Context, p string) error {
	virtual := v.Resolve(p)
	abs := v.abs(virtual)

	v.tree.mu.Lock()
	defer v.tree.mu.Unlock()

	if _, ok := v.tree.nodes[abs]; ok {
		return filesystem.NewError(filesystem.CodeAlreadyExists, "file exists", virtual)
	}
	if err := v.parentLocked(virtual); err != nil {
		return err
	}
	v.tree.nodes[abs] = &node{isDir: true, modTime: time.Now()}
	return nil
}

// Remove implements filesystem.View.
func (v *View) Remove(ctx context.Context, p string) error {
	virtual := v.Resolve(p)
	abs := v.abs(virtual)

	v.tree.mu.Lock()
	defer v.tree.mu.Unlock()

	n, ok := v.tree.nodes[abs]
	if !ok {
		return filesystem.NewError(filesystem.CodeNotFound, "no such file", virtual)
	}
	if n.isDir {
		return filesystem.NewError(filesystem.CodeIsDirectory, "is a directory", virtual)
	}
	delete(v.tree.nodes, abs)
	return nil
}

// RemoveDir implements filesystem.View.
func (v *View) RemoveDir(ctx context.Context, p string) error {
	virtual := v.Resolve(p)
	if virtual == "/" {
		return filesystem.NewError(filesystem.CodePermission, "cannot remove home directory", virtual)
	}
	abs := v.abs(virtual)

	v.tree.mu.Lock()
	defer v.tree.mu.Unlock()

	n, ok := v.tree.nodes[abs]
	if !ok {
		return filesystem.NewError(filesystem.CodeNotFound, "no such directory", virtual)
	}
	if !n.isDir {
		return filesystem.NewError(filesystem.CodeNotDirectory, "not a directory", virtual)
	}
	for p := range v.tree.nodes {
		if path.Dir(p) == abs && p != abs {
			return filesystem.NewError(filesystem.CodeNotEmpty, "directory not empty", virtual)
		}
	}
	delete(v.tree.nodes, abs)
	return nil
}

// Rename implements filesystem.View. Directories move with their subtree.
func (v *View) Rename(ctx context.Context, from, to string) error {
	src, dst := v.Resolve(from), v.Resolve(to)
	if src == "/" || dst == "/" {
		return filesystem.NewError(filesystem.CodePermission, "cannot rename home directory", src)
	}
	absSrc, absDst := v.abs(src), v.abs(dst)

	v.tree.mu.Lock()
	defer v.tree.mu.Unlock()

	n, ok := v.tree.nodes[absSrc]
	if !ok {
		return filesystem.NewError(filesystem.CodeNotFound, "no such file", src)
	}
	if err := v.parentLocked(dst); err != nil {
		return err
	}
	if n.isDir && strings.HasPrefix(absDst+"/", absSrc+"/") {
		return filesystem.NewError(filesystem.CodeInvalidPath, "cannot move a directory into itself", dst)
	}
	if existing, ok := v.tree.nodes[absDst]; ok && existing.isDir {
		return filesystem.NewError(filesystem.CodeAlreadyExists, "file exists", dst)
	}

	moved := make(map[string]*node)
	for p, child := range v.tree.nodes {
		if p == absSrc || strings.HasPrefix(p, absSrc+"/") {
			moved[absDst+strings.TrimPrefix(p, absSrc)] = child
			delete(v.tree.nodes, p)
		}
	}
	for p, child := range moved {
		v.tree.nodes[p] = child
	}
	return nil
}

// Open implements filesystem.View.
func (v *View) Open(ctx context.Context, p string, offset int64) (io.ReadCloser, error) {
	virtual := v.Resolve(p)

	v.tree.mu.RLock()
	defer v.tree.mu.RUnlock()

	n, ok := v.tree.nodes[v.abs(virtual)]
	if !ok {
		return nil, filesystem.NewError(filesystem.CodeNotFound, "no such file", virtual)
	}
	if n.isDir {
		return nil, filesystem.NewError(filesystem.CodeIsDirectory, "is a directory", virtual)
	}

	// Snapshot so concurrent writers do not affect an ongoing download.
	data := append([]byte(nil), n.data...)
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return io.NopCloser(bytes.NewReader(data[offset:])), nil
}

// Create implements filesystem.View.
func (v *View) Create(ctx context.Context, p string, offset int64, append bool) (io.WriteCloser, error) {
	virtual := v.Resolve(p)
	abs := v.abs(virtual)

	v.tree.mu.Lock()
	defer v.tree.mu.Unlock()

	n, ok := v.tree.nodes[abs]
	if ok && n.isDir {
		return nil, filesystem.NewError(filesystem.CodeIsDirectory, "is a directory", virtual)
	}
	if !ok {
		if err := v.parentLocked(virtual); err != nil {
			return nil, err
		}
		n = &node{}
		v.tree.nodes[abs] = n
	}

	switch {
	case append:
		offset = int64(len(n.data))
	case offset < int64(len(n.data)):
		n.data = n.data[:offset]
	default:
		n.data = growTo(n.data, offset)
	}
	n.modTime = time.Now()

	return &writer{tree: v.tree, node: n, pos: offset}, nil
}

// SetModTime implements filesystem.View.
func (v *View) SetModTime(ctx context.Context, p string, t time.Time) error {
	virtual := v.Resolve(p)

	v.tree.mu.Lock()
	defer v.tree.mu.Unlock()

	n, ok := v.tree.nodes[v.abs(virtual)]
	if !ok {
		return filesystem.NewError(filesystem.CodeNotFound, "no such file", virtual)
	}
	n.modTime = t
	return nil
}

// IsRandomAccessible implements filesystem.View.
func (v *View) IsRandomAccessible() bool {
	return true
}

// Dispose implements filesystem.View.
func (v *View) Dispose() {}

type writer struct {
	tree *Factory
	node *node
	pos  int64
}

func (w *writer) Write(p []byte) (int, error) {
	w.tree.mu.Lock()
	defer w.tree.mu.Unlock()

	end := w.pos + int64(len(p))
	w.node.data = growTo(w.node.data, end)
	copy(w.node.data[w.pos:end], p)
	w.pos = end
	w.node.modTime = time.Now()
	return len(p), nil
}

func (w *writer) Close() error {
	return nil
}

func growTo(data []byte, size int64) []byte {
	if int64(len(data)) >= size {
		return data
	}
	return append(data, make([]byte, size-int64(len(data)))...)
}
