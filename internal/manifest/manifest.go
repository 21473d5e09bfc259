// Package manifest reads and writes snapshot manifests.
//
// A manifest is the per-snapshot index file: it lists the archives making up
// the snapshot and, per archive, the digests of the chunks composing it. The
// garbage collector's mark phase reads manifests to learn which chunks are
// referenced; everything else in the file (archive names, sizes) is metadata
// for listings.
//
// On disk a manifest is zstd-compressed JSON named "index.json.zst" inside
// the snapshot directory.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/stashd-io/stashd/internal/chunkstore"
)

// FileName is the manifest's name inside a snapshot directory.
const FileName = "index.json.zst"

// ErrCorrupt is wrapped by Read when a manifest exists but cannot be
// decoded. GC treats this as a partial-data error: logged and skipped, never
// fatal to the run.
var ErrCorrupt = errors.New("corrupt manifest")

// Archive is one backed-up archive within a snapshot.
type Archive struct {
	// Name is the archive file name, e.g. "root.pxar" or "drive-scsi0.img".
	Name string `json:"name"`

	// Size is the logical (uncompressed, referenced) size in bytes.
	Size uint64 `json:"size"`

	// Chunks lists the digests of the chunks composing the archive, in
	// stream order.
	Chunks []chunkstore.Digest `json:"chunks"`
}

// Manifest is a snapshot's index: the full set of chunk references.
type Manifest struct {
	// Snapshot is the owning snapshot in "type/id/timestamp" form. Kept in
	// the file so a manifest found out of place can be attributed.
	Snapshot string `json:"snapshot"`

	Archives []Archive `json:"archives"`
}

// ReferencedBytes sums the logical sizes of all archives.
func (m *Manifest) ReferencedBytes() uint64 {
	var total uint64
	for _, a := range m.Archives {
		total += a.Size
	}
	return total
}

// Digests returns the deduplicated set of chunk digests the manifest
// references.
func (m *Manifest) Digests() map[chunkstore.Digest]struct{} {
	set := make(map[chunkstore.Digest]struct{})
	for _, a := range m.Archives {
		for _, d := range a.Chunks {
			set[d] = struct{}{}
		}
	}
	return set
}

// Write persists the manifest into the given snapshot directory. The write
// is atomic (temp file + rename) so a concurrent reader never sees a torn
// manifest.
func Write(snapshotDir string, m *Manifest) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("compress manifest: %w", err)
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return fmt.Errorf("compress manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("compress manifest: %w", err)
	}

	path := filepath.Join(snapshotDir, FileName)
	tmp, err := os.CreateTemp(snapshotDir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	return nil
}

// Read loads the manifest from a snapshot directory.
//
// A missing file surfaces as an os.IsNotExist error (the snapshot may have
// vanished or never completed); a present-but-undecodable file wraps
// ErrCorrupt.
func Read(snapshotDir string) (*Manifest, error) {
	path := filepath.Join(snapshotDir, FileName)
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return &m, nil
}
