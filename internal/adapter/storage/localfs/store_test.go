package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/tikrec/internal/domain"
)

func TestStore_SizeAndRemove(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tiktok_a.mp4"), []byte("12345"), 0o644))
	store := NewStore(dir)
	ctx := context.Background()

	size, err := store.Size(ctx, "tiktok_a.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	size, err = store.Size(ctx, filepath.Join(dir, "tiktok_a.mp4"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	require.NoError(t, store.Remove(ctx, "tiktok_a.mp4"))
	assert.NoFileExists(t, filepath.Join(dir, "tiktok_a.mp4"))

	assert.NoError(t, store.Remove(ctx, "tiktok_a.mp4"), "removing twice is not an error")

	_, err = store.Size(ctx, "tiktok_a.mp4")
	var serr *domain.StorageIOError
	assert.ErrorAs(t, err, &serr)
}

func TestStore_AbsolutePathOutsideBaseDir(t *testing.T) {
	other := t.TempDir()
	path := filepath.Join(other, "tiktok_b.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	store := NewStore(t.TempDir())
	require.NoError(t, store.Remove(context.Background(), path))
	assert.NoFileExists(t, path)
}

func TestStore_RejectsInvalidNames(t *testing.T) {
	store := NewStore(t.TempDir())

	for _, name := range []string{"", "../escape.mp4", "sub/dir.mp4", "a\x00b.mp4"} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, store.Remove(context.Background(), name), ErrInvalidName)
		})
	}
}

func TestStore_RemoveFailure(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "tiktok_c.mp4")
	require.NoError(t, os.MkdirAll(filepath.Join(sub, "child"), 0o755))

	err := NewStore(dir).Remove(context.Background(), "tiktok_c.mp4")
	var serr *domain.StorageIOError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "remove", serr.Op)
}

func TestStore_Open(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tiktok_d.mp4"), []byte("video"), 0o644))

	f, err := NewStore(dir).Open(context.Background(), "tiktok_d.mp4")
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "video", string(data))
}
