package chunkstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// badSuffix marks chunk files a verify pass found corrupt.
const badSuffix = ".bad"

// DiskStore is a filesystem-backed chunk store. Chunks live under
// <dir>/<4 hex digit prefix>/<64 hex digest>, bad chunks carry a ".bad"
// suffix.
//
// Last-access is tracked via the file modification time: atime is unreliable
// under relatime/noatime mounts, so Insert and Touch bump mtime explicitly
// and Stat reports mtime as the access time.
type DiskStore struct {
	dir string

	// mu serializes directory creation; chunk file operations themselves
	// are atomic (write-temp-then-rename) and need no lock.
	mu sync.Mutex

	// now is the clock, swappable in tests.
	now func() time.Time
}

// OpenDisk opens (creating if needed) a chunk store rooted at dir.
func OpenDisk(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, &StoreError{Op: "Open", Path: dir, Err: err}
	}
	return &DiskStore{dir: dir, now: time.Now}, nil
}

// Dir returns the store's root directory.
func (s *DiskStore) Dir() string {
	return s.dir
}

// chunkPath returns the path of the good variant of a chunk.
func (s *DiskStore) chunkPath(digest Digest) string {
	hexDigest := digest.String()
	return filepath.Join(s.dir, hexDigest[:4], hexDigest)
}

func (s *DiskStore) Insert(ctx context.Context, digest Digest, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if Sum(data) != digest {
		return &StoreError{Op: "Insert", Path: digest.String(), Err: ErrBadDigest}
	}

	path := s.chunkPath(digest)
	now := s.now()

	// Existing chunk: refresh the access time, keep the bytes.
	if _, err := os.Stat(path); err == nil {
		if err := os.Chtimes(path, now, now); err != nil {
			return &StoreError{Op: "Insert", Path: path, Err: err}
		}
		return nil
	}

	s.mu.Lock()
	err := os.MkdirAll(filepath.Dir(path), 0o750)
	s.mu.Unlock()
	if err != nil {
		return &StoreError{Op: "Insert", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return &StoreError{Op: "Insert", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &StoreError{Op: "Insert", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &StoreError{Op: "Insert", Path: path, Err: err}
	}
	if err := os.Chtimes(tmpName, now, now); err != nil {
		os.Remove(tmpName)
		return &StoreError{Op: "Insert", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &StoreError{Op: "Insert", Path: path, Err: err}
	}
	return nil
}

func (s *DiskStore) Get(ctx context.Context, digest Digest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.chunkPath(digest))
	if os.IsNotExist(err) {
		return nil, &StoreError{Op: "Get", Path: digest.String(), Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StoreError{Op: "Get", Path: digest.String(), Err: err}
	}
	return data, nil
}

func (s *DiskStore) Stat(ctx context.Context, digest Digest) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	path := s.chunkPath(digest)
	fi, err := os.Stat(path)
	bad := false
	if os.IsNotExist(err) {
		fi, err = os.Stat(path + badSuffix)
		bad = true
	}
	if os.IsNotExist(err) {
		return Info{}, &StoreError{Op: "Stat", Path: digest.String(), Err: ErrNotFound}
	}
	if err != nil {
		return Info{}, &StoreError{Op: "Stat", Path: digest.String(), Err: err}
	}
	return Info{Digest: digest, Size: fi.Size(), LastAccess: fi.ModTime(), Bad: bad}, nil
}

func (s *DiskStore) Touch(ctx context.Context, digest Digest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now()
	err := os.Chtimes(s.chunkPath(digest), now, now)
	if os.IsNotExist(err) {
		return &StoreError{Op: "Touch", Path: digest.String(), Err: ErrNotFound}
	}
	if err != nil {
		return &StoreError{Op: "Touch", Path: digest.String(), Err: err}
	}
	return nil
}

func (s *DiskStore) Delete(ctx context.Context, digest Digest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.chunkPath(digest)
	for _, p := range []string{path, path + badSuffix} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return &StoreError{Op: "Delete", Path: p, Err: err}
		}
	}
	return nil
}

func (s *DiskStore) MarkBad(ctx context.Context, digest Digest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.chunkPath(digest)
	err := os.Rename(path, path+badSuffix)
	if os.IsNotExist(err) {
		return &StoreError{Op: "MarkBad", Path: digest.String(), Err: ErrNotFound}
	}
	if err != nil {
		return &StoreError{Op: "MarkBad", Path: digest.String(), Err: err}
	}
	return nil
}

// ListDigests walks the prefix directories in lexical order. Filesystem
// errors abort the walk: a broken chunk directory means the datastore itself
// may be compromised and the caller (GC) must not sweep on partial data.
func (s *DiskStore) ListDigests(ctx context.Context, fn func(Info) error) error {
	prefixes, err := os.ReadDir(s.dir)
	if err != nil {
		return &StoreError{Op: "List", Path: s.dir, Err: err}
	}
	for _, prefix := range prefixes {
		if !prefix.IsDir() || len(prefix.Name()) != 4 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		prefixDir := filepath.Join(s.dir, prefix.Name())
		entries, err := os.ReadDir(prefixDir)
		if err != nil {
			return &StoreError{Op: "List", Path: prefixDir, Err: err}
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name, bad := strings.CutSuffix(entry.Name(), badSuffix)
			digest, err := ParseDigest(name)
			if err != nil {
				// leftover temp file or stray data, not a chunk
				continue
			}
			fi, err := entry.Info()
			if os.IsNotExist(err) {
				// raced with a concurrent delete
				continue
			}
			if err != nil {
				return &StoreError{Op: "List", Path: filepath.Join(prefixDir, entry.Name()), Err: err}
			}
			info := Info{Digest: digest, Size: fi.Size(), LastAccess: fi.ModTime(), Bad: bad}
			if err := fn(info); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetClock overrides the store's clock. Tests use it to move chunks in and
// out of the GC safety window deterministically.
func (s *DiskStore) SetClock(now func() time.Time) {
	if now == nil {
		panic(fmt.Sprintf("nil clock for chunk store at %s", s.dir))
	}
	s.now = now
}

var _ Store = (*DiskStore)(nil)
