package storage

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAndGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := New(dir, 1<<30, PlaintextKeyManager{})
	require.NoError(t, err)

	data := []byte("test audio data")
	rf, err := st.Store(12345, data, "wav")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), rf.FileSize)
	assert.Contains(t, rf.RelativePath, "12345")
	assert.Equal(t, "none", rf.EncryptionKeyID)

	got, err := st.Get(rf.RelativePath, rf.EncryptionKeyID)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestStoreAndGetRoundTripEncrypted(t *testing.T) {
	dir := t.TempDir()
	km, err := NewAESKeyManager()
	require.NoError(t, err)
	st, err := New(dir, 1<<30, km)
	require.NoError(t, err)

	data := []byte("sensitive call recording bytes")
	rf, err := st.Store(99, data, "wav")
	require.NoError(t, err)
	assert.NotEqual(t, "none", rf.EncryptionKeyID)

	got, err := st.Get(rf.RelativePath, rf.EncryptionKeyID)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDeleteRemovesFileAndPrunesEmptyDirs(t *testing.T) {
	dir := t.TempDir()
	st, err := New(dir, 1<<30, PlaintextKeyManager{})
	require.NoError(t, err)

	rf, err := st.Store(1, []byte("x"), "wav")
	require.NoError(t, err)

	require.NoError(t, st.Delete(rf.RelativePath))

	_, err = st.Get(rf.RelativePath, rf.EncryptionKeyID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = st.Delete(rf.RelativePath)
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "date partition directories should be pruned")
}

func TestQuotaExceeded(t *testing.T) {
	dir := t.TempDir()
	st, err := New(dir, 10, PlaintextKeyManager{})
	require.NoError(t, err)

	_, err = st.Store(1, make([]byte, 100), "wav")
	require.Error(t, err)
	var qe *QuotaExceededError
	assert.True(t, errors.As(err, &qe))
}

func TestCheckQuota(t *testing.T) {
	dir := t.TempDir()
	st, err := New(dir, 100, PlaintextKeyManager{})
	require.NoError(t, err)

	assert.True(t, st.CheckQuota(50))
	assert.False(t, st.CheckQuota(200))
}

func TestInfoTracksUsage(t *testing.T) {
	dir := t.TempDir()
	st, err := New(dir, 1<<30, PlaintextKeyManager{})
	require.NoError(t, err)

	info := st.Info()
	assert.Equal(t, uint64(0), info.TotalFiles)

	_, err = st.Store(1, []byte("hello"), "wav")
	require.NoError(t, err)

	info = st.Info()
	assert.Equal(t, uint64(1), info.TotalFiles)
	assert.Equal(t, uint64(5), info.TotalSizeBytes)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	st, err := New(dir, 1<<30, PlaintextKeyManager{})
	require.NoError(t, err)

	_, err = st.Get("2099/01/01/missing_1.wav", "none")
	assert.ErrorIs(t, err, ErrNotFound)
}
