package chunkstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests. Its clock is injectable so
// tests can place chunk access times precisely around a GC cutoff.
type MemoryStore struct {
	mu     sync.Mutex
	chunks map[Digest]*memChunk
	now    func() time.Time
}

type memChunk struct {
	data       []byte
	lastAccess time.Time
	bad        bool
}

// NewMemory returns an empty in-memory store using the wall clock.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		chunks: make(map[Digest]*memChunk),
		now:    time.Now,
	}
}

// SetClock overrides the store's clock.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) Insert(ctx context.Context, digest Digest, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if Sum(data) != digest {
		return &StoreError{Op: "Insert", Path: digest.String(), Err: ErrBadDigest}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chunks[digest]; ok {
		c.lastAccess = s.now()
		return nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.chunks[digest] = &memChunk{data: buf, lastAccess: s.now()}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, digest Digest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[digest]
	if !ok || c.bad {
		return nil, &StoreError{Op: "Get", Path: digest.String(), Err: ErrNotFound}
	}
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out, nil
}

func (s *MemoryStore) Stat(ctx context.Context, digest Digest) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[digest]
	if !ok {
		return Info{}, &StoreError{Op: "Stat", Path: digest.String(), Err: ErrNotFound}
	}
	return Info{Digest: digest, Size: int64(len(c.data)), LastAccess: c.lastAccess, Bad: c.bad}, nil
}

func (s *MemoryStore) Touch(ctx context.Context, digest Digest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[digest]
	if !ok {
		return &StoreError{Op: "Touch", Path: digest.String(), Err: ErrNotFound}
	}
	c.lastAccess = s.now()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, digest Digest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.chunks, digest)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) MarkBad(ctx context.Context, digest Digest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[digest]
	if !ok {
		return &StoreError{Op: "MarkBad", Path: digest.String(), Err: ErrNotFound}
	}
	c.bad = true
	return nil
}

// ListDigests enumerates chunks in digest order for deterministic tests.
func (s *MemoryStore) ListDigests(ctx context.Context, fn func(Info) error) error {
	s.mu.Lock()
	infos := make([]Info, 0, len(s.chunks))
	for digest, c := range s.chunks {
		infos = append(infos, Info{
			Digest:     digest,
			Size:       int64(len(c.data)),
			LastAccess: c.lastAccess,
			Bad:        c.bad,
		})
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Digest.String() < infos[j].Digest.String()
	})
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

// SetLastAccess backdates a chunk's access time. Test helper.
func (s *MemoryStore) SetLastAccess(digest Digest, t time.Time) {
	s.mu.Lock()
	if c, ok := s.chunks[digest]; ok {
		c.lastAccess = t
	}
	s.mu.Unlock()
}

var _ Store = (*MemoryStore)(nil)
