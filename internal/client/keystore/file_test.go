package keystore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeystore_UnlockWithoutInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyfile")
	ks := NewFileKeystore(path)

	_, err := ks.Unlock(context.Background(), []byte("hunter2"))
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestFileKeystore_InitThenUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyfile")
	require.NoError(t, Init(path, []byte("hunter2")))

	ks := NewFileKeystore(path)
	key, err := ks.Unlock(context.Background(), []byte("hunter2"))
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestFileKeystore_Unlock_WrongPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyfile")
	require.NoError(t, Init(path, []byte("hunter2")))

	ks := NewFileKeystore(path)
	_, err := ks.Unlock(context.Background(), []byte("wrong"))
	require.ErrorIs(t, err, ErrIncorrectPassword)
}

func TestFileKeystore_Init_RefusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyfile")
	require.NoError(t, Init(path, []byte("hunter2")))
	require.Error(t, Init(path, []byte("hunter2")))
}

func TestFileKeystore_Lock_WipesInMemoryKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyfile")
	require.NoError(t, Init(path, []byte("hunter2")))

	ks := NewFileKeystore(path)
	key, err := ks.Unlock(context.Background(), []byte("hunter2"))
	require.NoError(t, err)
	require.NoError(t, ks.Lock(context.Background()))

	// FileKeystore retains no copy of its own; the caller's key is
	// unaffected by Lock and remains the caller's responsibility to wipe.
	assert.Len(t, key, 32)
}

func TestFileKeystore_ExportImport_RoundTrip(t *testing.T) {
	srcPath := filepath.Join(t.TempDir(), "keyfile")
	require.NoError(t, Init(srcPath, []byte("hunter2")))
	src := NewFileKeystore(srcPath)

	originalKey, err := src.Unlock(context.Background(), []byte("hunter2"))
	require.NoError(t, err)

	bundle, err := src.Export(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, bundle)

	dstPath := filepath.Join(t.TempDir(), "keyfile")
	dst := NewFileKeystore(dstPath)
	require.NoError(t, dst.Import(context.Background(), bundle, []byte("hunter2")))

	importedKey, err := dst.Unlock(context.Background(), []byte("hunter2"))
	require.NoError(t, err)
	assert.Equal(t, originalKey, importedKey)
}

func TestFileKeystore_Import_WrongPassword(t *testing.T) {
	srcPath := filepath.Join(t.TempDir(), "keyfile")
	require.NoError(t, Init(srcPath, []byte("hunter2")))
	src := NewFileKeystore(srcPath)
	bundle, err := src.Export(context.Background())
	require.NoError(t, err)

	dst := NewFileKeystore(filepath.Join(t.TempDir(), "keyfile"))
	err = dst.Import(context.Background(), bundle, []byte("wrong"))
	require.ErrorIs(t, err, ErrIncorrectPassword)
}
