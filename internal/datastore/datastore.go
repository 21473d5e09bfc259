// Package datastore implements the on-disk hierarchy of a backup datastore:
// namespaces, backup groups and snapshot directories, sharing one chunk
// store as their deduplication domain.
//
// Layout relative to the datastore root:
//
//	.chunks/                          content-addressed chunk store
//	.gc-status.json                   last garbage collection status
//	.gc.lock                          exclusive GC lock file
//	ns/<a>/ns/<b>/                    nested namespaces ("ns/" interleaved)
//	[ns/...]/<type>/<id>/<timestamp>/ snapshot directories
//	[snapshot]/index.json.zst         snapshot manifest
//	[snapshot]/.protected             protection marker
package datastore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"syscall"

	"github.com/stashd-io/stashd/internal/backup"
	"github.com/stashd-io/stashd/internal/chunkstore"
	"github.com/stashd-io/stashd/internal/manifest"
	"github.com/stashd-io/stashd/internal/namespace"
)

const (
	chunkDirName     = ".chunks"
	gcStatusFileName = ".gc-status.json"
	gcLockFileName   = ".gc.lock"
	protectedMarker  = ".protected"
)

var (
	// ErrGCRunning is returned when a second GC run is attempted while one
	// is active on the same datastore. Runs fail immediately, they do not
	// queue.
	ErrGCRunning = errors.New("garbage collection already running")

	// ErrNamespaceNotEmpty is returned when removing a namespace that still
	// contains groups or child namespaces.
	ErrNamespaceNotEmpty = errors.New("namespace not empty")

	// ErrNotFound is returned for lookups of absent namespaces/snapshots.
	ErrNotFound = errors.New("not found")
)

// nameRE validates a datastore name.
var nameRE = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]{2,31}$`)

// Store is one opened datastore.
type Store struct {
	name   string
	root   string
	chunks *chunkstore.DiskStore
}

// Open opens (creating directories as needed) the datastore rooted at root.
func Open(name, root string) (*Store, error) {
	if !nameRE.MatchString(name) {
		return nil, fmt.Errorf("invalid datastore name %q", name)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("open datastore %s: %w", name, err)
	}
	chunks, err := chunkstore.OpenDisk(filepath.Join(root, chunkDirName))
	if err != nil {
		return nil, fmt.Errorf("open datastore %s: %w", name, err)
	}
	return &Store{name: name, root: root, chunks: chunks}, nil
}

// Name returns the datastore name.
func (s *Store) Name() string { return s.name }

// Root returns the datastore root directory.
func (s *Store) Root() string { return s.root }

// Chunks returns the datastore's chunk store.
func (s *Store) Chunks() *chunkstore.DiskStore { return s.chunks }

// GCStatusPath returns where the last GC status is persisted.
func (s *Store) GCStatusPath() string {
	return filepath.Join(s.root, gcStatusFileName)
}

// NamespacePath returns the absolute directory of a namespace.
func (s *Store) NamespacePath(ns namespace.Namespace) string {
	if ns.IsRoot() {
		return s.root
	}
	return filepath.Join(s.root, filepath.FromSlash(ns.Path()))
}

// GroupPath returns the absolute directory of a backup group.
func (s *Store) GroupPath(ns namespace.Namespace, g backup.Group) string {
	return filepath.Join(s.NamespacePath(ns), g.Type.String(), g.ID)
}

// SnapshotPath returns the absolute directory of a snapshot.
func (s *Store) SnapshotPath(ns namespace.Namespace, dir backup.Dir) string {
	return filepath.Join(s.GroupPath(ns, dir.Group), dir.TimeString())
}

// CreateNamespace creates a child namespace under parent and returns it.
func (s *Store) CreateNamespace(parent namespace.Namespace, name string) (namespace.Namespace, error) {
	child, err := parent.Push(name)
	if err != nil {
		return namespace.Namespace{}, err
	}
	if err := os.MkdirAll(s.NamespacePath(child), 0o750); err != nil {
		return namespace.Namespace{}, fmt.Errorf("create namespace %q: %w", child.String(), err)
	}
	return child, nil
}

// NamespaceExists reports whether the namespace directory is present.
func (s *Store) NamespaceExists(ns namespace.Namespace) bool {
	fi, err := os.Stat(s.NamespacePath(ns))
	return err == nil && fi.IsDir()
}

// RemoveNamespace deletes a namespace directory. The namespace must be
// empty: no groups, no child namespaces. The root cannot be removed.
func (s *Store) RemoveNamespace(ns namespace.Namespace) error {
	if ns.IsRoot() {
		return fmt.Errorf("remove namespace: cannot remove the root namespace")
	}
	groups, err := s.ListGroups(ns)
	if err != nil {
		return err
	}
	children, err := s.listChildNamespaces(ns)
	if err != nil {
		return err
	}
	if len(groups) > 0 || len(children) > 0 {
		return fmt.Errorf("%w: %q", ErrNamespaceNotEmpty, ns.String())
	}
	// Remove the component directory and its now-empty "ns" parent dir.
	path := s.NamespacePath(ns)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove namespace %q: %w", ns.String(), err)
	}
	_ = os.Remove(filepath.Dir(path)) // best effort, fails if siblings exist
	return nil
}

// listChildNamespaces returns the direct children of a namespace. A missing
// directory is treated as "no children" so listings never race with
// concurrent namespace removal.
func (s *Store) listChildNamespaces(ns namespace.Namespace) ([]namespace.Namespace, error) {
	nsDir := filepath.Join(s.NamespacePath(ns), "ns")
	entries, err := os.ReadDir(nsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list namespaces under %q: %w", ns.String(), err)
	}
	var children []namespace.Namespace
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		child, err := ns.Push(entry.Name())
		if err != nil {
			// stray directory that is not a valid namespace component
			continue
		}
		children = append(children, child)
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].String() < children[j].String()
	})
	return children, nil
}

// ListNamespaces walks the namespace tree below base with an explicit
// worklist, returning base itself plus every descendant down to maxDepth
// levels below base (0 = base only). The worklist keeps stack depth flat
// and makes the traversal order deterministic (breadth-first, sorted).
func (s *Store) ListNamespaces(base namespace.Namespace, maxDepth int) ([]namespace.Namespace, error) {
	if maxDepth < 0 {
		maxDepth = 0
	}
	if maxDepth > namespace.MaxDepth {
		maxDepth = namespace.MaxDepth
	}

	result := []namespace.Namespace{base}
	queue := []namespace.Namespace{base}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.Depth()-base.Depth() >= maxDepth {
			continue
		}
		children, err := s.listChildNamespaces(current)
		if err != nil {
			return nil, err
		}
		result = append(result, children...)
		queue = append(queue, children...)
	}
	return result, nil
}

// ListGroups returns the backup groups of one namespace, in the canonical
// group order. A vanished namespace directory yields an empty list.
func (s *Store) ListGroups(ns namespace.Namespace) ([]backup.Group, error) {
	var groups []backup.Group
	for _, ty := range backup.Types() {
		typeDir := filepath.Join(s.NamespacePath(ns), ty.String())
		entries, err := os.ReadDir(typeDir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list groups in %q: %w", typeDir, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			groups = append(groups, backup.NewGroup(ty, entry.Name()))
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Less(groups[j]) })
	return groups, nil
}

// Snapshot is one snapshot directory found on disk.
type Snapshot struct {
	Dir       backup.Dir
	Protected bool
}

// ListSnapshots returns the snapshots of one group, newest first. A group
// directory that vanished concurrently yields an empty list.
func (s *Store) ListSnapshots(ns namespace.Namespace, g backup.Group) ([]Snapshot, error) {
	groupDir := s.GroupPath(ns, g)
	entries, err := os.ReadDir(groupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list snapshots in %q: %w", groupDir, err)
	}

	var snapshots []Snapshot
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		epoch, err := backup.ParseTime(entry.Name())
		if err != nil {
			// not a snapshot directory
			continue
		}
		snap := Snapshot{Dir: backup.Dir{Group: g, Time: epoch}}
		if _, err := os.Stat(filepath.Join(groupDir, entry.Name(), protectedMarker)); err == nil {
			snap.Protected = true
		}
		snapshots = append(snapshots, snap)
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Dir.Time > snapshots[j].Dir.Time
	})
	return snapshots, nil
}

// CreateSnapshot creates a snapshot directory and writes its manifest.
// Used by the ingestion path once an upload completes.
func (s *Store) CreateSnapshot(ns namespace.Namespace, dir backup.Dir, m *manifest.Manifest) error {
	path := s.SnapshotPath(ns, dir)
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create snapshot %q: %w", dir.String(), err)
	}
	if m != nil {
		if m.Snapshot == "" {
			m.Snapshot = dir.String()
		}
		if err := manifest.Write(path, m); err != nil {
			return err
		}
	}
	return nil
}

// RemoveSnapshot deletes a snapshot directory. Protected snapshots are
// refused; removing an absent snapshot succeeds (deletions race with other
// cleaners by design).
func (s *Store) RemoveSnapshot(ns namespace.Namespace, dir backup.Dir) error {
	path := s.SnapshotPath(ns, dir)
	if _, err := os.Stat(filepath.Join(path, protectedMarker)); err == nil {
		return fmt.Errorf("remove snapshot %q: snapshot is protected", dir.String())
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove snapshot %q: %w", dir.String(), err)
	}
	return nil
}

// SetProtected sets or clears the snapshot's protection marker.
func (s *Store) SetProtected(ns namespace.Namespace, dir backup.Dir, protected bool) error {
	path := s.SnapshotPath(ns, dir)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: snapshot %q", ErrNotFound, dir.String())
		}
		return fmt.Errorf("protect snapshot %q: %w", dir.String(), err)
	}
	marker := filepath.Join(path, protectedMarker)
	if protected {
		f, err := os.OpenFile(marker, os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			return fmt.Errorf("protect snapshot %q: %w", dir.String(), err)
		}
		return f.Close()
	}
	if err := os.Remove(marker); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unprotect snapshot %q: %w", dir.String(), err)
	}
	return nil
}

// TryLockGC acquires the per-datastore exclusive GC lock, a flock on a lock
// file under the datastore root. It fails immediately with ErrGCRunning when
// a run is already active (in this process or another); it never queues. The
// kernel releases the lock if the holder crashes. The returned release func
// must be called when the run ends.
func (s *Store) TryLockGC() (func(), error) {
	f, err := os.OpenFile(filepath.Join(s.root, gcLockFileName), os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("lock gc on %q: %w", s.name, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: datastore %q", ErrGCRunning, s.name)
		}
		return nil, fmt.Errorf("lock gc on %q: %w", s.name, err)
	}
	var once sync.Once
	return func() {
		once.Do(func() { f.Close() })
	}, nil
}
