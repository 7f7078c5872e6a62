package storage

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	handle, err := store.Store(ctx, []byte("log output"), "server.log", "text/plain")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(handle, "_server.log"))

	data, err := store.Retrieve(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "log output", string(data))

	require.NoError(t, store.Remove(ctx, handle))
	_, err = store.Retrieve(ctx, handle)
	assert.ErrorIs(t, err, ErrBlobNotFound)

	assert.NoError(t, store.Remove(ctx, handle))
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Retrieve(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestObjectKeySanitizesName(t *testing.T) {
	tests := map[string]string{
		"report.pdf":        "_report.pdf",
		"../../secret.txt":  "_secret.txt",
		`C:\tmp\scan 1.png`: "_scan_1.png",
		"":                  "_file",
	}
	for name, suffix := range tests {
		key := objectKey(name)
		assert.True(t, strings.HasSuffix(key, suffix), "key %q for %q", key, name)
		assert.NotContains(t, key, "/")
	}
}

func TestLocalStorePing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir + "/blobs")
	require.NoError(t, err)
	require.NoError(t, store.Ping(context.Background()))

	require.NoError(t, os.RemoveAll(dir+"/blobs"))
	assert.Error(t, store.Ping(context.Background()))
}
