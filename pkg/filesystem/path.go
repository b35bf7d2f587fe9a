package filesystem

import (
	"path"
	"strings"
)

// Resolve turns a client supplied path into a clean absolute virtual path.
//
// Backslashes are treated as separators, "~" stands for the virtual root and
// ".." never climbs above "/". An empty p resolves to cwd.
func Resolve(cwd, p string) string {
	if cwd == "" {
		cwd = "/"
	}
	p = strings.ReplaceAll(p, "\\", "/")

	switch {
	case p == "":
		p = cwd
	case p == "~":
		p = "/"
	case strings.HasPrefix(p, "~/"):
		p = p[1:]
	case !strings.HasPrefix(p, "/"):
		p = cwd + "/" + p
	}

	return path.Clean("/" + p)
}

// Join appends a virtual path to a slash separated backend prefix.
func Join(home, virtual string) string {
	return path.Join("/", home, virtual)
}

// WorkingDir tracks the working directory of a view. Backends embed it.
type WorkingDir struct {
	cwd string
}

// WorkingDir returns the current virtual working directory.
func (w *WorkingDir) WorkingDir() string {
	if w.cwd == "" {
		return "/"
	}
	return w.cwd
}

// Resolve resolves p against the working directory.
func (w *WorkingDir) Resolve(p string) string {
	return Resolve(w.WorkingDir(), p)
}

// SetWorkingDir stores an already resolved directory.
func (w *WorkingDir) SetWorkingDir(dir string) {
	w.cwd = dir
}
