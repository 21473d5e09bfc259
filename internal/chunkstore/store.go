// Package chunkstore provides content-addressed chunk storage keyed by a
// 256 bit digest.
//
// The store tracks a per-chunk last-access time which the garbage collector
// uses as its safety boundary: a chunk touched at or after the start of a GC
// run may belong to an in-flight backup and must not be swept. Chunks that a
// verify pass found corrupt are flagged "bad" and kept around (renamed, not
// readable as chunks) so a later backup of the same data can heal them and
// GC can account for them.
package chunkstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Common errors returned by Store implementations.
var (
	// ErrNotFound is returned when the requested chunk does not exist.
	ErrNotFound = errors.New("chunk not found")

	// ErrBadDigest is returned when chunk data does not hash to the digest
	// it is being stored under.
	ErrBadDigest = errors.New("chunk data does not match digest")
)

// StoreError wraps an error with the failing operation and path for context.
type StoreError struct {
	Op   string // operation that failed, e.g. "Stat", "Delete"
	Path string // chunk path or digest
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("chunkstore: %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Digest is a 256 bit content hash identifying a chunk.
type Digest [32]byte

// Sum computes the digest of chunk data.
func Sum(data []byte) Digest {
	return sha256.Sum256(data)
}

// ParseDigest parses the 64 char hex form of a digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != 64 {
		return d, fmt.Errorf("invalid chunk digest %q: want 64 hex chars", s)
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("invalid chunk digest %q: %w", s, err)
	}
	return d, nil
}

// String returns the lowercase hex form.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Info describes one stored chunk.
type Info struct {
	Digest Digest

	// Size is the stored chunk size in bytes.
	Size int64

	// LastAccess is the chunk's last-access timestamp. Writers bump it when
	// they reuse an existing chunk; GC compares it against the run's cutoff.
	LastAccess time.Time

	// Bad is set for chunks a verify pass flagged as corrupt.
	Bad bool
}

// Store is the content-addressed chunk store contract consumed by the
// garbage collector and by backup writers.
//
// Implementations must be safe for concurrent use: backup writers and GC
// run at the same time by design.
type Store interface {
	// Insert stores chunk data under its digest. Inserting an existing
	// chunk refreshes its last-access time and is otherwise a no-op.
	Insert(ctx context.Context, digest Digest, data []byte) error

	// Get returns the chunk data. Bad chunks behave as missing.
	Get(ctx context.Context, digest Digest) ([]byte, error)

	// Stat returns metadata for a chunk, including bad-flagged ones.
	Stat(ctx context.Context, digest Digest) (Info, error)

	// Touch refreshes the chunk's last-access time. GC touches every
	// referenced chunk during the mark phase so a subsequent sweep keeps it
	// inside the safety window.
	Touch(ctx context.Context, digest Digest) error

	// Delete removes a chunk (good or bad variant). Deleting a missing
	// chunk succeeds silently; deletions are individually idempotent.
	Delete(ctx context.Context, digest Digest) error

	// MarkBad flags a chunk as corrupt. Verify calls this; the chunk stops
	// being readable but remains enumerable with Info.Bad set.
	MarkBad(ctx context.Context, digest Digest) error

	// ListDigests enumerates every chunk physically present, in unspecified
	// order, invoking fn for each. Enumeration stops at the first error
	// returned by fn (including context cancellation checks done by fn).
	ListDigests(ctx context.Context, fn func(Info) error) error
}
