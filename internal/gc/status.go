package gc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Status is the outcome of one garbage collection run. It is persisted next
// to the datastore root after every successful run, so the field names are a
// stable on-disk format.
type Status struct {
	// UPID identifies the run that produced this status.
	UPID string `json:"upid"`

	// StartedAt is the run's access-time cutoff, seconds since the epoch.
	// Chunks last accessed at or after this instant are never deleted by
	// the run that set it.
	StartedAt int64 `json:"started-at"`

	// IndexFileCount is the number of archive indexes visited by the mark
	// phase.
	IndexFileCount uint64 `json:"index-file-count"`

	// IndexDataBytes is the logical (pre-deduplication) byte total those
	// indexes reference.
	IndexDataBytes uint64 `json:"index-data-bytes"`

	// DiskBytes and DiskChunks describe the referenced chunks that survived
	// the sweep: the physical footprint of live data.
	DiskBytes  uint64 `json:"disk-bytes"`
	DiskChunks uint64 `json:"disk-chunks"`

	// RemovedBytes and RemovedChunks describe unreferenced chunks the sweep
	// deleted.
	RemovedBytes  uint64 `json:"removed-bytes"`
	RemovedChunks uint64 `json:"removed-chunks"`

	// PendingBytes and PendingChunks describe unreferenced chunks kept back
	// because their last access fell at or after the cutoff.
	PendingBytes  uint64 `json:"pending-bytes"`
	PendingChunks uint64 `json:"pending-chunks"`

	// RemovedBad counts corrupt chunks deleted because nothing references
	// them anymore; StillBad counts corrupt chunks that remain on disk.
	RemovedBad uint64 `json:"removed-bad"`
	StillBad   uint64 `json:"still-bad"`

	// DamagedIndexes counts snapshot manifests the mark phase could not
	// read. A nonzero count degrades the sweep: removals become pending.
	DamagedIndexes uint64 `json:"damaged-indexes,omitempty"`

	// MissingChunks counts referenced chunks absent from the chunk store.
	MissingChunks uint64 `json:"missing-chunks,omitempty"`
}

// WriteStatus persists the status atomically at path.
func WriteStatus(path string, st *Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode gc status: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-gc-status-*")
	if err != nil {
		return fmt.Errorf("write gc status: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write gc status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write gc status: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write gc status: %w", err)
	}
	return nil
}

// ReadStatus loads the last persisted status from path. A missing file
// returns os.ErrNotExist (no run has completed yet).
func ReadStatus(path string) (*Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode gc status %s: %w", path, err)
	}
	return &st, nil
}
