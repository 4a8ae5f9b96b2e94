package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Corphon/ScriptVoice/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorageSaveLoadDelete(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fs.SaveFile("a", "b.txt", []byte("one")))
	data, err := fs.LoadFile("a", "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	// 写入后缓存失效
	require.NoError(t, fs.SaveFile("a", "b.txt", []byte("two")))
	data, err = fs.LoadFile("a", "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	assert.False(t, fs.FileExists("a", "b.txt.tmp"))
	require.NoError(t, fs.DeleteFile("a", "b.txt"))
	assert.False(t, fs.FileExists("a", "b.txt"))
	require.NoError(t, fs.DeleteFile("a", "b.txt"))
}

func TestFileStorageCacheBound(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	fs.maxCacheSize = 2

	for _, name := range []string{"1", "2", "3"} {
		require.NoError(t, fs.SaveFile("", name, []byte(name)))
		_, err := fs.LoadFile("", name)
		require.NoError(t, err)
	}
	assert.Len(t, fs.cache, 2)
}

func TestFileScriptStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileScriptStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	text, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, text)

	require.NoError(t, store.Save(ctx, "Alice: Hello there.\nBob: Hi Alice!"))
	text, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alice: Hello there.\nBob: Hi Alice!", text)

	require.NoError(t, store.Save(ctx, ""))
	text, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestFileScriptStoreHonorsContext(t *testing.T) {
	store, err := NewFileScriptStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Save(ctx, "x"), context.Canceled)
}

func TestSQLiteScriptStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "script.db")

	store, err := NewSQLiteScriptStore(dbPath)
	require.NoError(t, err)

	text, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, text)

	require.NoError(t, store.Save(ctx, "Tom: A."))
	require.NoError(t, store.Save(ctx, "Tom: A.\nJerry: B."))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteScriptStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	text, err = reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Tom: A.\nJerry: B.", text)
}

func TestAudioStoreDecodeWrapsPCM(t *testing.T) {
	store, err := NewAudioStore(t.TempDir(), "/media")
	require.NoError(t, err)

	url, err := store.Decode([]byte{1, 2, 3, 4}, "speaker:alice")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/media/"))
	assert.True(t, strings.HasSuffix(url, ".wav"))

	path, err := store.Resolve(url)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, audio.IsWAV(data))
	assert.Len(t, data, 44+4)
}

func TestAudioStoreKeepsExistingWAV(t *testing.T) {
	store, err := NewAudioStore(t.TempDir(), "")
	require.NoError(t, err)

	wav, err := audio.EncodeWAV([]byte{9, 9}, audio.DefaultFormat)
	require.NoError(t, err)

	url, err := store.Decode(wav, "story")
	require.NoError(t, err)
	path, err := store.Resolve(url)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, wav, data)
}

func TestAudioStoreRejectsEmptyPayload(t *testing.T) {
	store, err := NewAudioStore(t.TempDir(), "")
	require.NoError(t, err)

	_, err = store.Decode(nil, "story")
	assert.Error(t, err)
	assert.Equal(t, 0, store.Count())
}

func TestAudioStoreRelease(t *testing.T) {
	store, err := NewAudioStore(t.TempDir(), "")
	require.NoError(t, err)

	a, err := store.Decode([]byte{1, 0}, "speaker:a")
	require.NoError(t, err)
	b, err := store.Decode([]byte{2, 0}, "speaker:b")
	require.NoError(t, err)
	pathA, err := store.Resolve(a)
	require.NoError(t, err)

	require.NoError(t, store.Release(a))
	_, err = os.Stat(pathA)
	assert.True(t, os.IsNotExist(err))
	_, err = store.Resolve(a)
	assert.Error(t, err)

	// 未知资源忽略
	require.NoError(t, store.Release("/media/nope.wav"))

	_, err = store.Resolve(b)
	require.NoError(t, err)
	require.NoError(t, store.ReleaseAll())
	assert.Equal(t, 0, store.Count())
}

func TestAudioStoreClearsLeftoverFiles(t *testing.T) {
	dir := t.TempDir()
	leftover := filepath.Join(dir, "audio", "old.wav")
	require.NoError(t, os.MkdirAll(filepath.Dir(leftover), 0755))
	require.NoError(t, os.WriteFile(leftover, []byte("RIFF"), 0644))

	store, err := NewAudioStore(dir, "/media")
	require.NoError(t, err)

	assert.NoFileExists(t, leftover)
	assert.Equal(t, 0, store.Count())

	_, err = store.Resolve("/media/old.wav")
	assert.Error(t, err)
}
