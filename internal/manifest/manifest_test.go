package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashd-io/stashd/internal/chunkstore"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	d1 := chunkstore.Sum([]byte("one"))
	d2 := chunkstore.Sum([]byte("two"))
	d3 := chunkstore.Sum([]byte("three"))

	m := &Manifest{
		Snapshot: "vm/100/2026-03-01T12:00:00Z",
		Archives: []Archive{
			{Name: "drive-scsi0.img", Size: 4096, Chunks: []chunkstore.Digest{d1, d2}},
			{Name: "qemu-server.conf", Size: 512, Chunks: []chunkstore.Digest{d2, d3}},
		},
	}
	require.NoError(t, Write(dir, m))

	got, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	assert.Equal(t, uint64(4608), got.ReferencedBytes())

	set := got.Digests()
	assert.Len(t, set, 3, "shared chunk counted once")
	for _, d := range []chunkstore.Digest{d1, d2, d3} {
		assert.Contains(t, set, d)
	}
}

func TestReadMissing(t *testing.T) {
	_, err := Read(t.TempDir())
	assert.True(t, os.IsNotExist(err))
}

func TestReadCorrupt(t *testing.T) {
	dir := t.TempDir()

	// not zstd at all
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("garbage"), 0o640))
	_, err := Read(dir)
	require.ErrorIs(t, err, ErrCorrupt)

	// valid zstd, invalid JSON: write a real manifest and truncate it
	m := &Manifest{Snapshot: "ct/5/2026-03-01T12:00:00Z"}
	require.NoError(t, Write(dir, m))
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), data[:len(data)/2], 0o640))
	_, err = Read(dir)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestWriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{Snapshot: "host/elsa/2026-03-01T12:00:00Z"}
	require.NoError(t, Write(dir, m))
	require.NoError(t, Write(dir, m)) // overwrite in place

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
	assert.Equal(t, FileName, entries[0].Name())
}
