package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storytrim/server/internal/storage"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(t.TempDir())
	require.NoError(t, err)
	return c
}

func TestClient_PutGet(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	key := storage.ChapterKey("0123456789abcdef0123456789abcdef")
	require.NoError(t, storage.PutText(ctx, c, key, "第一章 内容"))

	text, err := storage.ReadText(ctx, c, key)
	require.NoError(t, err)
	assert.Equal(t, "第一章 内容", text)

	info, err := c.Stat(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(len("第一章 内容")), info.Size)

	_, err = os.Stat(filepath.Join(c.root, "chapters", "0123456789abcdef0123456789abcdef.txt"))
	assert.NoError(t, err)
}

func TestClient_PutOverwrites(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, storage.PutText(ctx, c, "a/b.txt", "old"))
	require.NoError(t, storage.PutText(ctx, c, "a/b.txt", "new"))

	text, err := storage.ReadText(ctx, c, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "new", text)
}

func TestClient_PutSizeMismatch(t *testing.T) {
	c := newTestClient(t)

	err := c.Put(context.Background(), "x.txt", strings.NewReader("abc"), 10, "")
	assert.Error(t, err)

	exists, err := c.Exists(context.Background(), "x.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestClient_MissingKey(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "nope.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = c.Stat(ctx, "nope.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	exists, err := c.Exists(ctx, "nope.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.NoError(t, c.Delete(ctx, "nope.txt"))
}

func TestClient_Delete(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, storage.PutText(ctx, c, "k.txt", "v"))
	require.NoError(t, c.Delete(ctx, "k.txt"))

	_, err := c.Get(ctx, "k.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClient_RejectsEscapingKeys(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for _, key := range []string{"", "/etc/passwd", "../outside.txt", "a/../../b", "a\\b"} {
		err := c.Put(ctx, key, strings.NewReader("x"), 1, "")
		assert.Error(t, err, "key %q", key)
	}
}

func TestClient_GetStreams(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	body := strings.Repeat("字", 4096)
	require.NoError(t, storage.PutText(ctx, c, "big.txt", body))

	rc, err := c.Get(ctx, "big.txt")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}
