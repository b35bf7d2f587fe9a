package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/dittoftp/pkg/filesystem"
	"github.com/marmos91/dittoftp/pkg/ftp"
	"github.com/marmos91/dittoftp/pkg/ftp/dataconn"
	"github.com/marmos91/dittoftp/pkg/usermanager"
)

// listOptions are the ls-style flags some clients prepend to LIST/NLST.
type listOptions struct {
	all  bool
	path string
}

// parseListArgument separates leading "-la" style options from the path.
func parseListArgument(arg string) listOptions {
	var opts listOptions
	fields := strings.Fields(arg)
	i := 0
	for ; i < len(fields) && strings.HasPrefix(fields[i], "-") && len(fields[i]) > 1; i++ {
		if strings.ContainsRune(fields[i], 'a') {
			opts.all = true
		}
	}
	opts.path = strings.Join(fields[i:], " ")
	return opts
}

// listEntries stats p and returns the entries a listing should show.
func listEntries(ctx context.Context, sess *ftp.Session, p string, all bool) ([]filesystem.File, error) {
	virtual := resolve(sess, p)
	file, err := sess.View.Stat(ctx, virtual)
	if err != nil {
		return nil, err
	}
	if !file.Exists {
		return nil, filesystem.NewError(filesystem.CodeNotFound, "no such file or directory", virtual)
	}

	entries, err := sess.View.List(ctx, virtual)
	if err != nil {
		return nil, err
	}
	if all {
		return entries, nil
	}
	visible := entries[:0]
	for _, e := range entries {
		if !e.IsHidden() {
			visible = append(visible, e)
		}
	}
	return visible, nil
}

func handleLIST(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()
	opts := parseListArgument(req.Argument)
	return sendListing(ctx, sess, req, opts, "LIST", func(entries []filesystem.File) string {
		var b strings.Builder
		now := time.Now()
		for _, e := range entries {
			b.WriteString(unixLine(e, now))
			b.WriteString("\n")
		}
		return b.String()
	})
}

func handleNLST(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()
	opts := parseListArgument(req.Argument)
	return sendListing(ctx, sess, req, opts, "NLST", func(entries []filesystem.File) string {
		var b strings.Builder
		for _, e := range entries {
			b.WriteString(e.Name())
			b.WriteString("\n")
		}
		return b.String()
	})
}

func handleMLSD(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()
	opts := listOptions{all: true, path: req.Argument}

	if opts.path != "" {
		f, err := sess.View.Stat(ctx, resolve(sess, opts.path))
		if err == nil && f.Exists && !f.IsDir {
			return withDataConnection(sess, func(*dataconn.Factory) error {
				return sess.Reply(req, 501, "MLSD", "Not a directory.")
			})
		}
	}

	return sendListing(ctx, sess, req, opts, "MLSD", func(entries []filesystem.File) string {
		var b strings.Builder
		for _, e := range entries {
			b.WriteString(mlsxLine(e, sess.MLSTFacts, sess.User()))
			b.WriteString(" ")
			b.WriteString(e.Name())
			b.WriteString("\n")
		}
		return b.String()
	})
}

// handleMLST answers over the control connection.
func handleMLST(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	virtual := resolve(sess, req.Argument)
	f, err := sess.View.Stat(ctx, virtual)
	if err != nil {
		return replyFSError(sess, req, "MLST", err)
	}
	if !f.Exists {
		return sess.Reply(req, 550, "MLST", "No such file or directory.")
	}

	facts := mlsxLine(f, sess.MLSTFacts, sess.User())
	return sess.Write(ftp.NewReply(250, "Listing "+virtual+"\n "+facts+" "+virtual+"\nEnd"))
}

// sendListing runs a data-connection listing rendered by format.
func sendListing(ctx context.Context, sess *ftp.Session, req *ftp.Request, opts listOptions, subID string, format func([]filesystem.File) string) error {
	return withDataConnection(sess, func(f *dataconn.Factory) error {
		entries, err := listEntries(ctx, sess, opts.path, opts.all)
		if err != nil {
			return replyFSError(sess, req, subID, err)
		}

		conn, err := openData(ctx, sess, req, f, subID, "Opening data connection for directory list.")
		if conn == nil {
			return err
		}
		defer conn.Close()

		started := time.Now()
		n, err := conn.TransferText(ctx, format(entries))
		recordTransfer(sess, "listing", n, started, err)
		if err != nil {
			return transferFailed(sess, req, err)
		}
		return sess.Reply(req, 226, subID, "Closing data connection.")
	})
}

// unixLine renders one entry the way "ls -l" does. Entries older than six
// months show the year instead of the time.
func unixLine(f filesystem.File, now time.Time) string {
	owner, group := f.Owner, f.Group
	if owner == "" {
		owner = "user"
	}
	if group == "" {
		group = "group"
	}
	links := f.LinkCount
	if links <= 0 {
		links = 1
		if f.IsDir {
			links = 3
		}
	}

	stamp := f.ModTime.Format("Jan _2 15:04")
	if now.Sub(f.ModTime) > 180*24*time.Hour || f.ModTime.After(now.Add(time.Hour)) {
		stamp = f.ModTime.Format("Jan _2  2006")
	}

	return fmt.Sprintf("%s %3d %-8s %-8s %12d %s %s",
		permString(f), links, owner, group, f.Size, stamp, f.Name())
}

func permString(f filesystem.File) string {
	mode := f.Mode.Perm()
	if mode == 0 {
		mode = 0644
		if f.IsDir {
			mode = 0755
		}
	}
	b := []byte("-rwxrwxrwx")
	if f.IsDir {
		b[0] = 'd'
	}
	for i := 0; i < 9; i++ {
		if mode&(1<<uint(8-i)) == 0 {
			b[i+1] = '-'
		}
	}
	return string(b)
}

// mlsxLine renders the RFC 3659 facts selected by the session, each
// terminated by a semicolon.
func mlsxLine(f filesystem.File, selected []string, user *usermanager.User) string {
	var b strings.Builder
	for _, fact := range selected {
		switch strings.ToLower(fact) {
		case "size":
			b.WriteString("size=" + strconv.FormatInt(f.Size, 10) + ";")
		case "modify":
			b.WriteString("modify=" + f.ModTime.UTC().Format(ftpTimeLayout) + ";")
		case "type":
			if f.IsDir {
				b.WriteString("type=dir;")
			} else {
				b.WriteString("type=file;")
			}
		case "perm":
			b.WriteString("perm=" + mlsxPerm(f, user) + ";")
		}
	}
	return b.String()
}

func mlsxPerm(f filesystem.File, user *usermanager.User) string {
	writable := user != nil && user.CanWrite(f.Path)
	if f.IsDir {
		if writable {
			return "elcmfd"
		}
		return "el"
	}
	if writable {
		return "rwadf"
	}
	return "r"
}
