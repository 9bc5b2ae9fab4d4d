package store

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorePlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "license.dat")

	s, err := NewFileStore(path, "")
	require.NoError(t, err)

	require.NoError(t, s.Set(KeyLicenseKey, "abc.def"))
	require.NoError(t, s.Set(KeyStatus, "active"))

	t.Run("survives reopen", func(t *testing.T) {
		reopened, err := NewFileStore(path, "")
		require.NoError(t, err)

		v, ok, err := reopened.Get(KeyLicenseKey)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "abc.def", v)
	})

	t.Run("delete persists", func(t *testing.T) {
		require.NoError(t, s.Delete(KeyStatus))

		reopened, err := NewFileStore(path, "")
		require.NoError(t, err)
		_, ok, err := reopened.Get(KeyStatus)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("file permissions are restrictive", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("unix permissions only")
		}
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})
}

func TestFileStoreEncrypted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "license.dat")

	s, err := NewFileStore(path, "correct horse battery staple")
	require.NoError(t, err)
	require.NoError(t, s.Set(KeyLicenseKey, "abc.def"))

	t.Run("key material is not stored in the clear", func(t *testing.T) {
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "abc.def")
	})

	t.Run("reopens with the right passphrase", func(t *testing.T) {
		reopened, err := NewFileStore(path, "correct horse battery staple")
		require.NoError(t, err)

		v, ok, err := reopened.Get(KeyLicenseKey)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "abc.def", v)
	})

	t.Run("wrong passphrase fails at startup", func(t *testing.T) {
		_, err := NewFileStore(path, "wrong")
		assert.Error(t, err)
	})

	t.Run("missing passphrase fails at startup", func(t *testing.T) {
		_, err := NewFileStore(path, "")
		assert.Error(t, err)
	})
}

func TestFileStoreReplacesFileAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "license.dat")

	s, err := NewFileStore(path, "")
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, s.Set(KeyStatus, "active"))
		require.NoError(t, s.Set(KeyTierCode, "01"))
	}

	t.Run("no temp files left behind", func(t *testing.T) {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "license.dat", entries[0].Name())
	})

	t.Run("replaced file keeps restrictive permissions", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("unix permissions only")
		}
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("file on disk is always loadable", func(t *testing.T) {
		reopened, err := NewFileStore(path, "")
		require.NoError(t, err)
		v, ok, err := reopened.Get(KeyStatus)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "active", v)
	})
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "license.dat")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))

	_, err := NewFileStore(path, "")
	assert.Error(t, err)
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist-yet.dat")

	s, err := NewFileStore(path, "")
	require.NoError(t, err)

	_, ok, err := s.Get(KeyLicenseKey)
	require.NoError(t, err)
	assert.False(t, ok)
}
