// Package gc implements mark-and-sweep garbage collection for the shared
// chunk store of a datastore.
//
// A run proceeds in two phases under an exclusive per-datastore lock:
//
//   - Mark: every snapshot manifest in every namespace is read, the set of
//     referenced chunk digests is collected, and each referenced chunk's
//     last-access timestamp is bumped.
//   - Sweep: the chunk store is enumerated once. Referenced chunks survive.
//     Unreferenced chunks are deleted unless their last access falls at or
//     after the cutoff taken before the mark phase started; those stay
//     behind as "pending" and a later run collects them.
//
// The cutoff makes the sweep safe against concurrent chunk inserts: a writer
// that inserted (and thereby touched) a chunk during the run can never lose
// it to this run's sweep.
package gc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/stashd-io/stashd/internal/chunkstore"
	"github.com/stashd-io/stashd/internal/datastore"
	"github.com/stashd-io/stashd/internal/logging"
	"github.com/stashd-io/stashd/internal/manifest"
	"github.com/stashd-io/stashd/internal/namespace"
)

// Options configures a garbage collection run.
type Options struct {
	// RemoveDespiteDamage lets the sweep delete unreferenced chunks even
	// when the mark phase failed to read one or more manifests. Off by
	// default: a damaged manifest means the reference set is incomplete,
	// so removals degrade to pending and nothing is lost.
	RemoveDespiteDamage bool
}

// Runner executes garbage collection runs for one datastore.
type Runner struct {
	store *datastore.Store
	log   *logging.Logger
	now   func() time.Time
}

// NewRunner creates a Runner for the given datastore.
func NewRunner(store *datastore.Store, log *logging.Logger) *Runner {
	if log == nil {
		log = logging.Global()
	}
	return &Runner{store: store, log: log, now: time.Now}
}

// SetClock overrides the runner's clock. Testing only.
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Run executes one garbage collection run and persists its status.
// It fails with datastore.ErrGCRunning when a run is already active.
func (r *Runner) Run(ctx context.Context, opts Options) (*Status, error) {
	release, err := r.store.TryLockGC()
	if err != nil {
		return nil, err
	}
	defer release()

	upid := "gc-" + uuid.NewString()
	log := r.log.WithTask(upid).With(map[string]any{"datastore": r.store.Name()})

	cutoff := r.now()
	st := &Status{UPID: upid, StartedAt: cutoff.Unix()}
	log.Info("starting garbage collection")

	referenced, err := r.mark(ctx, log, st)
	if err != nil {
		return nil, err
	}
	log.Infof("mark phase done", map[string]any{
		"index-files":      st.IndexFileCount,
		"referenced":       len(referenced),
		"damaged-indexes":  st.DamagedIndexes,
		"missing-chunks":   st.MissingChunks,
		"index-data-bytes": st.IndexDataBytes,
	})

	if err := r.sweep(ctx, log, st, referenced, cutoff, opts); err != nil {
		return nil, err
	}

	if err := WriteStatus(r.store.GCStatusPath(), st); err != nil {
		return nil, err
	}
	log.Infof("garbage collection finished", map[string]any{
		"disk-bytes":     st.DiskBytes,
		"disk-chunks":    st.DiskChunks,
		"removed-bytes":  st.RemovedBytes,
		"removed-chunks": st.RemovedChunks,
		"pending-bytes":  st.PendingBytes,
		"pending-chunks": st.PendingChunks,
		"removed-bad":    st.RemovedBad,
		"still-bad":      st.StillBad,
	})
	return st, nil
}

// mark walks every snapshot of every namespace, collecting the referenced
// digest set and touching each referenced chunk so the sweep's cutoff sees
// it as recently accessed.
func (r *Runner) mark(ctx context.Context, log *logging.Logger, st *Status) (map[chunkstore.Digest]struct{}, error) {
	referenced := make(map[chunkstore.Digest]struct{})

	namespaces, err := r.store.ListNamespaces(namespace.Root(), namespace.MaxDepth)
	if err != nil {
		return nil, fmt.Errorf("gc mark: %w", err)
	}
	for _, ns := range namespaces {
		groups, err := r.store.ListGroups(ns)
		if err != nil {
			return nil, fmt.Errorf("gc mark: %w", err)
		}
		for _, g := range groups {
			snapshots, err := r.store.ListSnapshots(ns, g)
			if err != nil {
				return nil, fmt.Errorf("gc mark: %w", err)
			}
			for _, snap := range snapshots {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				if err := r.markSnapshot(ctx, log, st, referenced, ns, snap); err != nil {
					return nil, err
				}
			}
		}
	}
	return referenced, nil
}

func (r *Runner) markSnapshot(ctx context.Context, log *logging.Logger, st *Status, referenced map[chunkstore.Digest]struct{}, ns namespace.Namespace, snap datastore.Snapshot) error {
	dir := r.store.SnapshotPath(ns, snap.Dir)
	m, err := manifest.Read(dir)
	if err != nil {
		// A snapshot whose manifest is unreadable (or missing, e.g. a
		// half-removed snapshot) has an unknown reference set. The run
		// continues but its sweep will not delete anything.
		if errors.Is(err, manifest.ErrCorrupt) || os.IsNotExist(err) {
			st.DamagedIndexes++
			log.Warnf("unreadable snapshot manifest, sweep degrades to pending", map[string]any{
				"snapshot": snap.Dir.String(),
				"error":    err.Error(),
			})
			return nil
		}
		return fmt.Errorf("gc mark %s: %w", snap.Dir.String(), err)
	}

	st.IndexFileCount += uint64(len(m.Archives))
	st.IndexDataBytes += m.ReferencedBytes()

	for digest := range m.Digests() {
		if _, seen := referenced[digest]; seen {
			continue
		}
		referenced[digest] = struct{}{}
		if err := r.store.Chunks().Touch(ctx, digest); err != nil {
			if errors.Is(err, chunkstore.ErrNotFound) {
				st.MissingChunks++
				log.Warnf("referenced chunk missing from chunk store", map[string]any{
					"snapshot": snap.Dir.String(),
					"digest":   digest.String(),
				})
				continue
			}
			return fmt.Errorf("gc mark %s: %w", snap.Dir.String(), err)
		}
	}
	return nil
}

// sweep enumerates the chunk store once and deletes unreferenced chunks that
// were last accessed before the cutoff.
func (r *Runner) sweep(ctx context.Context, log *logging.Logger, st *Status, referenced map[chunkstore.Digest]struct{}, cutoff time.Time, opts Options) error {
	degraded := st.DamagedIndexes > 0 && !opts.RemoveDespiteDamage
	if degraded {
		log.Warn("damaged manifests present, sweep keeps unreferenced chunks as pending")
	}

	chunks := r.store.Chunks()
	err := chunks.ListDigests(ctx, func(info chunkstore.Info) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, isReferenced := referenced[info.Digest]

		if isReferenced {
			if info.Bad {
				st.StillBad++
				return nil
			}
			st.DiskBytes += uint64(info.Size)
			st.DiskChunks++
			return nil
		}

		// Unreferenced. Recent access keeps the chunk back for a later
		// run; a concurrent writer may be about to commit a snapshot
		// referencing it.
		if !info.LastAccess.Before(cutoff) || degraded {
			if info.Bad {
				st.StillBad++
				return nil
			}
			st.PendingBytes += uint64(info.Size)
			st.PendingChunks++
			return nil
		}

		if err := chunks.Delete(ctx, info.Digest); err != nil {
			return err
		}
		if info.Bad {
			st.RemovedBad++
			return nil
		}
		st.RemovedBytes += uint64(info.Size)
		st.RemovedChunks++
		return nil
	})
	if err != nil {
		return fmt.Errorf("gc sweep: %w", err)
	}
	return nil
}
