package memory

import (
	"context"
	"testing"

	"github.com/marmos91/dittoftp/pkg/filesystem"
	fstesting "github.com/marmos91/dittoftp/pkg/filesystem/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryView(t *testing.T) {
	suite := &fstesting.ViewTestSuite{
		NewFactory: func(t *testing.T) filesystem.Factory {
			return New()
		},
	}
	suite.Run(t)
}

func TestRenameDirIntoItself(t *testing.T) {
	ctx := context.Background()
	v, err := New().CreateView(ctx, "/")
	require.NoError(t, err)

	require.NoError(t, v.Mkdir(ctx, "a"))
	err = v.Rename(ctx, "a", "a/b")
	assert.ErrorIs(t, err, filesystem.ErrInvalidPath)
}

func TestCreateWithoutParent(t *testing.T) {
	ctx := context.Background()
	v, err := New().CreateView(ctx, "/")
	require.NoError(t, err)

	_, err = v.Create(ctx, "missing/file.txt", 0, false)
	assert.ErrorIs(t, err, filesystem.ErrNotFound)
}
