package prune

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/stashd-io/stashd/internal/backup"
	"github.com/stashd-io/stashd/internal/datastore"
	"github.com/stashd-io/stashd/internal/logging"
	"github.com/stashd-io/stashd/internal/namespace"
)

// ErrEmptyPolicy is returned when an executor run is attempted with no keep
// counts configured. Such a run would remove every unprotected snapshot.
var ErrEmptyPolicy = errors.New("prune policy keeps nothing")

// ExecuteOptions configures one executor run.
type ExecuteOptions struct {
	// DryRun computes and logs verdicts without removing anything.
	DryRun bool
}

// Result summarizes one executor run over a whole datastore.
type Result struct {
	Removed   uint64
	Kept      uint64
	Protected uint64
}

// Execute applies the retention policy to every group in every namespace of
// the datastore and removes the snapshots no rule kept.
func Execute(ctx context.Context, log *logging.Logger, store *datastore.Store, opts Options, exec ExecuteOptions) (*Result, error) {
	if opts.IsEmpty() {
		return nil, ErrEmptyPolicy
	}
	if log == nil {
		log = logging.Global()
	}
	upid := "prune-" + uuid.NewString()
	log = log.WithTask(upid).With(map[string]any{"datastore": store.Name()})
	if exec.DryRun {
		log.Info("starting prune (dry run)")
	} else {
		log.Info("starting prune")
	}

	result := &Result{}
	namespaces, err := store.ListNamespaces(namespace.Root(), namespace.MaxDepth)
	if err != nil {
		return nil, fmt.Errorf("prune: %w", err)
	}
	for _, ns := range namespaces {
		groups, err := store.ListGroups(ns)
		if err != nil {
			return nil, fmt.Errorf("prune: %w", err)
		}
		for _, g := range groups {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := pruneGroup(ctx, log, store, ns, g, opts, exec, result); err != nil {
				return nil, err
			}
		}
	}

	log.Infof("prune finished", map[string]any{
		"removed":   result.Removed,
		"kept":      result.Kept,
		"protected": result.Protected,
		"dry-run":   exec.DryRun,
	})
	return result, nil
}

func pruneGroup(ctx context.Context, log *logging.Logger, store *datastore.Store, ns namespace.Namespace, g backup.Group, opts Options, exec ExecuteOptions, result *Result) error {
	listed, err := store.ListSnapshots(ns, g)
	if err != nil {
		return fmt.Errorf("prune %s: %w", g.String(), err)
	}
	snapshots := make([]Snapshot, len(listed))
	for i, snap := range listed {
		snapshots[i] = Snapshot{Dir: snap.Dir, Protected: snap.Protected}
	}

	for _, item := range Compute(snapshots, opts) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if item.Keep {
			result.Kept++
			if item.Rule == "protected" {
				result.Protected++
			}
			continue
		}
		log.Debugf("removing snapshot", map[string]any{
			"namespace": ns.String(),
			"snapshot":  item.Dir.String(),
			"dry-run":   exec.DryRun,
		})
		if !exec.DryRun {
			if err := store.RemoveSnapshot(ns, item.Dir); err != nil {
				return err
			}
		}
		result.Removed++
	}
	return nil
}
