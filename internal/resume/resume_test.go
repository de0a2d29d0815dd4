package resume

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmap_SetGetCount(t *testing.T) {
	b := NewBitmap(10)
	assert.Equal(t, 10, b.LenBits())
	assert.Zero(t, b.CountSet())

	b.Set(0)
	b.Set(7)
	b.Set(9)
	assert.True(t, b.Get(0))
	assert.True(t, b.Get(7))
	assert.True(t, b.Get(9))
	assert.False(t, b.Get(1))
	assert.Equal(t, 3, b.CountSet())
	assert.Equal(t, []int{0, 7, 9}, b.Indices())

	// Out-of-range access neither panics nor mutates.
	b.Set(-1)
	b.Set(10)
	assert.False(t, b.Get(-1))
	assert.False(t, b.Get(10))
	assert.Equal(t, 3, b.CountSet())
}

func TestBitmap_RoundTrip(t *testing.T) {
	b := NewBitmap(13)
	b.Set(2)
	b.Set(12)

	restored, err := BitmapFromBytes(b.Marshal(), 13)
	require.NoError(t, err)
	assert.Equal(t, b.Indices(), restored.Indices())

	_, err = BitmapFromBytes(b.Marshal(), 64)
	assert.Error(t, err)
}

func TestJournal_FlushAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.part.restitch")

	j, err := LoadOrCreate(path, "t1", 1234, 8)
	require.NoError(t, err)
	j.MarkCompleted(1)
	j.MarkCompleted(5)
	require.NoError(t, j.Flush())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "t1", loaded.TransferID())
	assert.Equal(t, []int{1, 5}, loaded.Completed())
	assert.Equal(t, 6, loaded.Remaining())
}

func TestJournal_LoadOrCreateResumesMatching(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.part.restitch")

	j, err := LoadOrCreate(path, "t1", 1234, 8)
	require.NoError(t, err)
	j.MarkCompleted(3)
	require.NoError(t, j.Flush())

	resumed, err := LoadOrCreate(path, "t1", 1234, 8)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, resumed.Completed())
}

func TestJournal_MismatchStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.part.restitch")

	j, err := LoadOrCreate(path, "t1", 1234, 8)
	require.NoError(t, err)
	j.MarkCompleted(3)
	require.NoError(t, j.Flush())

	for _, tc := range []struct {
		name       string
		transferID string
		fileSize   int64
		chunks     int
	}{
		{"different transfer", "t2", 1234, 8},
		{"different file size", "t1", 999, 8},
		{"different chunk count", "t1", 1234, 9},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fresh, err := LoadOrCreate(path, tc.transferID, tc.fileSize, tc.chunks)
			require.NoError(t, err)
			assert.Empty(t, fresh.Completed())
		})
	}
}

func TestJournal_CorruptionDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.part.restitch")

	j, err := LoadOrCreate(path, "t1", 1234, 8)
	require.NoError(t, err)
	j.MarkCompleted(0)
	require.NoError(t, j.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-6] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = Load(path)
	assert.ErrorIs(t, err, ErrJournalCorrupt)

	// A corrupt journal is discarded, not resumed.
	fresh, err := LoadOrCreate(path, "t1", 1234, 8)
	require.NoError(t, err)
	assert.Empty(t, fresh.Completed())
}

func TestJournal_FlushIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.part.restitch")

	j, err := LoadOrCreate(path, "t1", 10, 4)
	require.NoError(t, err)
	require.NoError(t, j.Flush())

	info1, err := os.Stat(path)
	require.NoError(t, err)

	// Clean journal: second flush does not rewrite the file.
	require.NoError(t, j.Flush())
	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestJournal_Remove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.part.restitch")

	j, err := LoadOrCreate(path, "t1", 10, 4)
	require.NoError(t, err)
	require.NoError(t, j.Flush())
	require.NoError(t, j.Remove())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Removing twice is fine.
	assert.NoError(t, j.Remove())
}

func TestJournalPath(t *testing.T) {
	assert.Equal(t, "/data/out.part.restitch", JournalPath("/data/out.part"))
}
