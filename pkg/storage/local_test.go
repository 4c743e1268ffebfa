package storage

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBackend_WriteAtOutOfOrderThenRead(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, b.WriteAt(ctx, "transfer_1", 5, []byte("world")))
	require.NoError(t, b.WriteAt(ctx, "transfer_1", 0, []byte("hello")))

	size, err := b.Stat(ctx, "transfer_1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	data, err := b.ReadAt(ctx, "transfer_1", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(data))
}

func TestLocalBackend_OpenMissingReturnsErrNotExist(t *testing.T) {
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	_, err = b.Open(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestLocalBackend_RemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, b.Remove(ctx, "never-existed"))

	w, err := b.Create(ctx, "f")
	require.NoError(t, err)
	_, err = w.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, b.Remove(ctx, "f"))
	require.NoError(t, b.Remove(ctx, "f"))
}

func TestLocalBackend_RejectsPathTraversal(t *testing.T) {
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	_, err = b.Create(context.Background(), "../escape")
	assert.Error(t, err)
}

func TestLocalBackend_OpenStreamsFullObject(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, b.WriteAt(ctx, "f", 0, []byte("streamed contents")))

	r, err := b.Open(ctx, "f")
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "streamed contents", string(data))
}
