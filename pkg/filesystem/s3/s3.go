// Package s3 implements a filesystem.Factory over Amazon S3 or an
// S3-compatible object store.
//
// Key Design:
//   - A virtual path "/docs/report.pdf" of a user with home "alice" maps to
//     the key "<prefix>alice/docs/report.pdf"
//   - Directories are zero-length marker objects whose key ends with "/"
//   - A directory also exists implicitly when any key lives below it
//
// S3 Characteristics:
//   - No random access: uploads are buffered and sent with one PutObject on
//     Close, resumed uploads (REST + STOR, APPE) read the existing object
//     first
//   - Reads use ranged GetObject requests
//   - Modification times cannot be set (MFMT returns ErrNotSupported)
//   - Directory renames are not supported
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/filesystem"
)

// Config contains configuration for the S3 backend.
type Config struct {
	// Client is the configured S3 client
	Client *s3.Client

	// Bucket is the S3 bucket name
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	// Example: "ftp/" results in keys like "ftp/alice/report.pdf"
	KeyPrefix string

	// Metrics receives per-request observations (optional)
	Metrics Metrics
}

// Factory creates S3 views.
type Factory struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	metrics   Metrics
}

// New verifies bucket access and returns a factory. The bucket must already
// exist.
func New(ctx context.Context, cfg Config) (*Factory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	prefix := cfg.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	m := cfg.Metrics
	if m == nil {
		m = noopMetrics{}
	}

	return &Factory{client: cfg.Client, bucket: cfg.Bucket, keyPrefix: prefix, metrics: m}, nil
}

// Name implements filesystem.Factory.
func (f *Factory) Name() string {
	return "s3"
}

// CreateView implements filesystem.Factory.
func (f *Factory) CreateView(ctx context.Context, home string) (filesystem.View, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &View{
		client:  f.client,
		bucket:  f.bucket,
		metrics: f.metrics,
		root:    f.keyPrefix + strings.TrimPrefix(filesystem.Join(home, "/"), "/"),
	}, nil
}

// View is an S3 file system view.
type View struct {
	filesystem.WorkingDir

	client  *s3.Client
	bucket  string
	metrics Metrics

	// root is the key prefix of the user's home, "" or ending with "/".
	root string
}

// objectKey returns the key of a file at virtual path.
func (v *View) objectKey(virtual string) string {
	root := v.root
	if root != "" && !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return root + strings.TrimPrefix(virtual, "/")
}

// dirKey returns the marker key of a directory at virtual path.
func (v *View) dirKey(virtual string) string {
	if virtual == "/" {
		root := v.root
		if root != "" && !strings.HasSuffix(root, "/") {
			root += "/"
		}
		return root
	}
	return v.objectKey(virtual) + "/"
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}

func ioError(op, virtual string, err error) error {
	return fmt.Errorf("%s %s: %w", op, virtual, errors.Join(filesystem.ErrIO, err))
}

// stat resolves a virtual path to a File by probing the object, then the
// directory marker, then any key below the directory.
func (v *View) stat(ctx context.Context, virtual string) (filesystem.File, error) {
	if virtual == "/" {
		return dirFile(virtual, time.Time{}), nil
	}

	start := time.Now()
	head, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.objectKey(virtual)),
	})
	if isNotFound(err) {
		observe(v.metrics, "HeadObject", start, nil)
	} else {
		observe(v.metrics, "HeadObject", start, err)
	}
	if err == nil {
		return filesystem.File{
			Path:      virtual,
			Exists:    true,
			Size:      aws.ToInt64(head.ContentLength),
			ModTime:   aws.ToTime(head.LastModified),
			Mode:      0644,
			Owner:     "user",
			Group:     "group",
			LinkCount: 1,
		}, nil
	}
	if !isNotFound(err) {
		return filesystem.File{Path: virtual}, ioError("stat", virtual, err)
	}

	start = time.Now()
	list, err := v.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(v.bucket),
		Prefix:  aws.String(v.dirKey(virtual)),
		MaxKeys: aws.Int32(1),
	})
	observe(v.metrics, "ListObjectsV2", start, err)
	if err != nil {
		return filesystem.File{Path: virtual}, ioError("stat", virtual, err)
	}
	if len(list.Contents) > 0 {
		return dirFile(virtual, aws.ToTime(list.Contents[0].LastModified)), nil
	}
	return filesystem.File{Path: virtual}, nil
}

func dirFile(virtual string, mod time.Time) filesystem.File {
	return filesystem.File{
		Path:      virtual,
		Exists:    true,
		IsDir:     true,
		ModTime:   mod,
		Mode:      fs.ModeDir | 0755,
		Owner:     "user",
		Group:     "group",
		LinkCount: 3,
	}
}

// ChangeDir implements filesystem.View.
func (v *View) ChangeDir(ctx context.Context, dir string) error {
	virtual := v.Resolve(dir)
	f, err := v.stat(ctx, virtual)
	if err != nil {
		return err
	}
	if !f.Exists {
		return filesystem.NewError(filesystem.CodeNotFound, "no such directory", virtual)
	}
	if !f.IsDir {
		return filesystem.NewError(filesystem.CodeNotDirectory, "not a directory", virtual)
	}
	v.SetWorkingDir(virtual)
	return nil
}

// Stat implements filesystem.View.
func (v *View) Stat(ctx context.Context, p string) (filesystem.File, error) {
	return v.stat(ctx, v.Resolve(p))
}

// List implements filesystem.View.
func (v *View) List(ctx context.Context, dir string) ([]filesystem.File, error) {
	virtual := v.Resolve(dir)

	f, err := v.stat(ctx, virtual)
	if err != nil {
		return nil, err
	}
	if !f.Exists {
		return nil, filesystem.NewError(filesystem.CodeNotFound, "no such directory", virtual)
	}
	if !f.IsDir {
		return []filesystem.File{f}, nil
	}

	prefix := v.dirKey(virtual)
	paginator := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(v.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var files []filesystem.File
	for paginator.HasMorePages() {
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		observe(v.metrics, "ListObjectsV2", start, err)
		if err != nil {
			return nil, ioError("list", virtual, err)
		}

		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			files = append(files, dirFile(path.Join(virtual, name), time.Time{}))
		}

		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				// The directory's own marker.
				continue
			}
			files = append(files, filesystem.File{
				Path:      path.Join(virtual, name),
				Exists:    true,
				Size:      aws.ToInt64(obj.Size),
				ModTime:   aws.ToTime(obj.LastModified),
				Mode:      0644,
				Owner:     "user",
				Group:     "group",
				LinkCount: 1,
			})
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Mkdir implements filesystem.View.
func (v *View) Mkdir(ctx context.Context, p string) error {
	virtual := v.Resolve(p)

	f, err := v.stat(ctx, virtual)
	if err != nil {
		return err
	}
	if f.Exists {
		return filesystem.NewError(filesystem.CodeAlreadyExists, "file exists", virtual)
	}

	start := time.Now()
	_, err = v.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.dirKey(virtual)),
		Body:   bytes.NewReader(nil),
	})
	observe(v.metrics, "PutObject", start, err)
	if err != nil {
		return ioError("mkdir", virtual, err)
	}
	return nil
}

// Remove implements filesystem.View.
func (v *View) Remove(ctx context.Context, p string) error {
	virtual := v.Resolve(p)

	f, err := v.stat(ctx, virtual)
	if err != nil {
		return err
	}
	if !f.Exists {
		return filesystem.NewError(filesystem.CodeNotFound, "no such file", virtual)
	}
	if f.IsDir {
		return filesystem.NewError(filesystem.CodeIsDirectory, "is a directory", virtual)
	}

	start := time.Now()
	_, err = v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.objectKey(virtual)),
	})
	observe(v.metrics, "DeleteObject", start, err)
	if err != nil {
		return ioError("delete", virtual, err)
	}
	return nil
}

// RemoveDir implements filesystem.View.
func (v *View) RemoveDir(ctx context.Context, p string) error {
	virtual := v.Resolve(p)
	if virtual == "/" {
		return filesystem.NewError(filesystem.CodePermission, "cannot remove home directory", virtual)
	}

	f, err := v.stat(ctx, virtual)
	if err != nil {
		return err
	}
	if !f.Exists {
		return filesystem.NewError(filesystem.CodeNotFound, "no such directory", virtual)
	}
	if !f.IsDir {
		return filesystem.NewError(filesystem.CodeNotDirectory, "not a directory", virtual)
	}

	marker := v.dirKey(virtual)
	start := time.Now()
	list, err := v.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(v.bucket),
		Prefix:  aws.String(marker),
		MaxKeys: aws.Int32(2),
	})
	observe(v.metrics, "ListObjectsV2", start, err)
	if err != nil {
		return ioError("rmdir", virtual, err)
	}
	for _, obj := range list.Contents {
		if aws.ToString(obj.Key) != marker {
			return filesystem.NewError(filesystem.CodeNotEmpty, "directory not empty", virtual)
		}
	}

	start = time.Now()
	_, err = v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(marker),
	})
	observe(v.metrics, "DeleteObject", start, err)
	if err != nil {
		return ioError("rmdir", virtual, err)
	}
	return nil
}

// Rename implements filesystem.View. Only files can be renamed.
func (v *View) Rename(ctx context.Context, from, to string) error {
	src, dst := v.Resolve(from), v.Resolve(to)

	f, err := v.stat(ctx, src)
	if err != nil {
		return err
	}
	if !f.Exists {
		return filesystem.NewError(filesystem.CodeNotFound, "no such file", src)
	}
	if f.IsDir {
		return filesystem.NewError(filesystem.CodeNotSupported, "directory rename not supported", src)
	}

	srcKey := v.objectKey(src)
	start := time.Now()
	_, err = v.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(v.bucket),
		CopySource: aws.String(v.bucket + "/" + srcKey),
		Key:        aws.String(v.objectKey(dst)),
	})
	observe(v.metrics, "CopyObject", start, err)
	if err != nil {
		return ioError("rename", src, err)
	}

	start = time.Now()
	_, err = v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(srcKey),
	})
	observe(v.metrics, "DeleteObject", start, err)
	if err != nil {
		logger.Warn("S3 rename %s -> %s: copied but failed to delete source: %v", src, dst, err)
	}
	return nil
}

// Open implements filesystem.View.
func (v *View) Open(ctx context.Context, p string, offset int64) (io.ReadCloser, error) {
	virtual := v.Resolve(p)

	input := &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.objectKey(virtual)),
	}
	if offset > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}

	start := time.Now()
	out, err := v.client.GetObject(ctx, input)
	observe(v.metrics, "GetObject", start, err)
	if err != nil {
		if isNotFound(err) {
			return nil, filesystem.NewError(filesystem.CodeNotFound, "no such file", virtual)
		}
		// Ranged read past the end of the object.
		if strings.Contains(err.Error(), "InvalidRange") {
			return io.NopCloser(bytes.NewReader(nil)), nil
		}
		return nil, ioError("open", virtual, err)
	}
	return &countingBody{ReadCloser: out.Body, metrics: v.metrics}, nil
}

// Create implements filesystem.View.
func (v *View) Create(ctx context.Context, p string, offset int64, append bool) (io.WriteCloser, error) {
	virtual := v.Resolve(p)

	f, err := v.stat(ctx, virtual)
	if err != nil {
		return nil, err
	}
	if f.IsDir {
		return nil, filesystem.NewError(filesystem.CodeIsDirectory, "is a directory", virtual)
	}

	w := &objectWriter{ctx: ctx, view: v, virtual: virtual}

	if f.Exists && (append || offset > 0) {
		r, err := v.Open(ctx, virtual, 0)
		if err != nil {
			return nil, err
		}
		_, err = io.Copy(&w.buf, r)
		_ = r.Close()
		if err != nil {
			return nil, ioError("read", virtual, err)
		}
		if !append && offset < int64(w.buf.Len()) {
			w.buf.Truncate(int(offset))
		}
	}

	return w, nil
}

// SetModTime implements filesystem.View.
func (v *View) SetModTime(ctx context.Context, p string, t time.Time) error {
	return filesystem.NewError(filesystem.CodeNotSupported, "cannot set modification time on object storage", v.Resolve(p))
}

// IsRandomAccessible implements filesystem.View.
func (v *View) IsRandomAccessible() bool {
	return false
}

// Dispose implements filesystem.View.
func (v *View) Dispose() {}

// objectWriter buffers an upload and stores it on Close.
type objectWriter struct {
	ctx     context.Context
	view    *View
	virtual string
	buf     bytes.Buffer
	closed  bool
}

func (w *objectWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fs.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *objectWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	start := time.Now()
	_, err := w.view.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.view.bucket),
		Key:           aws.String(w.view.objectKey(w.virtual)),
		Body:          bytes.NewReader(w.buf.Bytes()),
		ContentLength: aws.Int64(int64(w.buf.Len())),
	})
	observe(w.view.metrics, "PutObject", start, err)
	if err != nil {
		return ioError("write", w.virtual, err)
	}
	w.view.metrics.RecordBytes("write", int64(w.buf.Len()))
	return nil
}
