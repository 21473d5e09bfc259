package datastore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashd-io/stashd/internal/backup"
	"github.com/stashd-io/stashd/internal/manifest"
	"github.com/stashd-io/stashd/internal/namespace"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("store1", t.TempDir())
	require.NoError(t, err)
	return s
}

func TestOpenValidatesName(t *testing.T) {
	_, err := Open("a", t.TempDir())
	assert.Error(t, err, "too short")
	_, err = Open("has space", t.TempDir())
	assert.Error(t, err)
	_, err = Open(".dotfirst", t.TempDir())
	assert.Error(t, err)

	s, err := Open("prod_backups-01", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "prod_backups-01", s.Name())

	// chunk store directory is created alongside
	fi, err := os.Stat(filepath.Join(s.Root(), ".chunks"))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestNamespacePaths(t *testing.T) {
	s := openTestStore(t)

	assert.Equal(t, s.Root(), s.NamespacePath(namespace.Root()))

	ns := namespace.MustParse("a/b")
	assert.Equal(t, filepath.Join(s.Root(), "ns", "a", "ns", "b"), s.NamespacePath(ns))

	g := backup.NewGroup(backup.TypeVM, "100")
	assert.Equal(t, filepath.Join(s.Root(), "ns", "a", "ns", "b", "vm", "100"), s.GroupPath(ns, g))

	dir := backup.NewDir(backup.TypeVM, "100", 1592198313)
	assert.Equal(t,
		filepath.Join(s.GroupPath(ns, g), "2020-06-15T05:18:33Z"),
		s.SnapshotPath(ns, dir))
}

func TestCreateAndListNamespaces(t *testing.T) {
	s := openTestStore(t)

	a, err := s.CreateNamespace(namespace.Root(), "a")
	require.NoError(t, err)
	_, err = s.CreateNamespace(a, "b")
	require.NoError(t, err)
	_, err = s.CreateNamespace(namespace.Root(), "z")
	require.NoError(t, err)

	_, err = s.CreateNamespace(namespace.Root(), "not/valid")
	assert.ErrorIs(t, err, namespace.ErrInvalidComponent)

	all, err := s.ListNamespaces(namespace.Root(), namespace.MaxDepth)
	require.NoError(t, err)
	names := make([]string, len(all))
	for i, ns := range all {
		names[i] = ns.String()
	}
	assert.Equal(t, []string{"", "a", "z", "a/b"}, names)

	// depth limit: 0 lists only the base itself
	rootOnly, err := s.ListNamespaces(namespace.Root(), 0)
	require.NoError(t, err)
	require.Len(t, rootOnly, 1)
	assert.True(t, rootOnly[0].IsRoot())

	oneLevel, err := s.ListNamespaces(namespace.Root(), 1)
	require.NoError(t, err)
	assert.Len(t, oneLevel, 3)

	// listing relative to a non-root base
	belowA, err := s.ListNamespaces(a, namespace.MaxDepth)
	require.NoError(t, err)
	require.Len(t, belowA, 2)
	assert.Equal(t, "a", belowA[0].String())
	assert.Equal(t, "a/b", belowA[1].String())
}

func TestRemoveNamespace(t *testing.T) {
	s := openTestStore(t)

	a, err := s.CreateNamespace(namespace.Root(), "a")
	require.NoError(t, err)
	b, err := s.CreateNamespace(a, "b")
	require.NoError(t, err)

	// non-empty: child namespace present
	err = s.RemoveNamespace(a)
	assert.ErrorIs(t, err, ErrNamespaceNotEmpty)

	// non-empty: group present
	dir := backup.NewDir(backup.TypeCT, "200", 1700000000)
	require.NoError(t, s.CreateSnapshot(b, dir, nil))
	err = s.RemoveNamespace(b)
	assert.ErrorIs(t, err, ErrNamespaceNotEmpty)

	require.NoError(t, s.RemoveSnapshot(b, dir))
	// the group directory itself still counts as content
	err = s.RemoveNamespace(b)
	assert.ErrorIs(t, err, ErrNamespaceNotEmpty)
	require.NoError(t, os.RemoveAll(s.GroupPath(b, dir.Group)))

	require.NoError(t, s.RemoveNamespace(b))
	assert.False(t, s.NamespaceExists(b))
	require.NoError(t, s.RemoveNamespace(a))

	err = s.RemoveNamespace(namespace.Root())
	assert.Error(t, err)
}

func TestListGroupsOrder(t *testing.T) {
	s := openTestStore(t)
	root := namespace.Root()

	for _, spec := range []struct {
		ty backup.Type
		id string
	}{
		{backup.TypeVM, "100"},
		{backup.TypeVM, "9"},
		{backup.TypeVM, "alpha"},
		{backup.TypeCT, "200"},
		{backup.TypeHost, "www1"},
	} {
		dir := backup.NewDir(spec.ty, spec.id, 1700000000)
		require.NoError(t, s.CreateSnapshot(root, dir, nil))
	}

	groups, err := s.ListGroups(root)
	require.NoError(t, err)
	got := make([]string, len(groups))
	for i, g := range groups {
		got[i] = g.String()
	}
	// type rank ct < host < vm, numeric ids numerically, numeric before alpha
	assert.Equal(t, []string{"ct/200", "host/www1", "vm/9", "vm/100", "vm/alpha"}, got)
}

func TestListGroupsEmptyNamespace(t *testing.T) {
	s := openTestStore(t)
	groups, err := s.ListGroups(namespace.MustParse("nope"))
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestSnapshotLifecycle(t *testing.T) {
	s := openTestStore(t)
	root := namespace.Root()
	g := backup.NewGroup(backup.TypeVM, "100")

	times := []int64{1700000000, 1700003600, 1700007200}
	for _, epoch := range times {
		dir := backup.Dir{Group: g, Time: epoch}
		m := &manifest.Manifest{}
		require.NoError(t, s.CreateSnapshot(root, dir, m))
		assert.Equal(t, dir.String(), m.Snapshot)
	}

	snaps, err := s.ListSnapshots(root, g)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	// newest first
	assert.Equal(t, times[2], snaps[0].Dir.Time)
	assert.Equal(t, times[0], snaps[2].Dir.Time)
	for _, snap := range snaps {
		assert.False(t, snap.Protected)
	}

	// manifest is readable back from the snapshot directory
	_, err = manifest.Read(s.SnapshotPath(root, snaps[0].Dir))
	require.NoError(t, err)

	require.NoError(t, s.RemoveSnapshot(root, snaps[1].Dir))
	snaps, err = s.ListSnapshots(root, g)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)

	// removing an absent snapshot is not an error
	require.NoError(t, s.RemoveSnapshot(root, backup.Dir{Group: g, Time: 42}))
}

func TestProtection(t *testing.T) {
	s := openTestStore(t)
	root := namespace.Root()
	dir := backup.NewDir(backup.TypeHost, "www1", 1700000000)
	require.NoError(t, s.CreateSnapshot(root, dir, nil))

	require.NoError(t, s.SetProtected(root, dir, true))
	snaps, err := s.ListSnapshots(root, dir.Group)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].Protected)

	// protected snapshots refuse removal
	err = s.RemoveSnapshot(root, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protected")

	require.NoError(t, s.SetProtected(root, dir, false))
	// clearing twice is fine
	require.NoError(t, s.SetProtected(root, dir, false))
	require.NoError(t, s.RemoveSnapshot(root, dir))

	err = s.SetProtected(root, backup.Dir{Group: dir.Group, Time: 7}, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSnapshotsIgnoresStrays(t *testing.T) {
	s := openTestStore(t)
	root := namespace.Root()
	g := backup.NewGroup(backup.TypeVM, "100")
	dir := backup.Dir{Group: g, Time: 1700000000}
	require.NoError(t, s.CreateSnapshot(root, dir, nil))

	groupDir := s.GroupPath(root, g)
	require.NoError(t, os.MkdirAll(filepath.Join(groupDir, "not-a-timestamp"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(groupDir, "owner"), []byte("x"), 0o640))

	snaps, err := s.ListSnapshots(root, g)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestTryLockGC(t *testing.T) {
	s := openTestStore(t)

	release, err := s.TryLockGC()
	require.NoError(t, err)

	_, err = s.TryLockGC()
	assert.ErrorIs(t, err, ErrGCRunning)

	release()
	release() // idempotent

	release2, err := s.TryLockGC()
	require.NoError(t, err)
	release2()
}

func TestGCStatusPath(t *testing.T) {
	s := openTestStore(t)
	assert.Equal(t, filepath.Join(s.Root(), ".gc-status.json"), s.GCStatusPath())
}

func TestOpenOnUnwritablePath(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root, permission checks do not apply")
	}
	base := t.TempDir()
	require.NoError(t, os.Chmod(base, 0o500))
	t.Cleanup(func() { _ = os.Chmod(base, 0o750) })

	_, err := Open("store1", filepath.Join(base, "sub"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrPermission))
}
