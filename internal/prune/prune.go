// Package prune computes and applies retention decisions for backup
// snapshots.
//
// The decision engine (Compute) is a pure function: it performs no I/O and
// never errors. Execute walks a datastore and acts on the verdicts.
package prune

import (
	"fmt"
	"sort"
	"time"

	"github.com/stashd-io/stashd/internal/backup"
)

// Options holds the retention policy: up to six independent bucket counts.
// An unset bucket contributes zero keeps (absence is not "unlimited").
type Options struct {
	KeepLast    *uint64 `json:"keep-last,omitempty" yaml:"keep-last,omitempty"`
	KeepHourly  *uint64 `json:"keep-hourly,omitempty" yaml:"keep-hourly,omitempty"`
	KeepDaily   *uint64 `json:"keep-daily,omitempty" yaml:"keep-daily,omitempty"`
	KeepWeekly  *uint64 `json:"keep-weekly,omitempty" yaml:"keep-weekly,omitempty"`
	KeepMonthly *uint64 `json:"keep-monthly,omitempty" yaml:"keep-monthly,omitempty"`
	KeepYearly  *uint64 `json:"keep-yearly,omitempty" yaml:"keep-yearly,omitempty"`
}

// IsEmpty reports whether no bucket is configured. Callers usually refuse to
// run a prune job with an empty policy since it would remove everything
// unprotected.
func (o Options) IsEmpty() bool {
	for _, k := range []*uint64{o.KeepLast, o.KeepHourly, o.KeepDaily, o.KeepWeekly, o.KeepMonthly, o.KeepYearly} {
		if k != nil && *k > 0 {
			return false
		}
	}
	return true
}

// Keep returns a pointer to n, for building Options literals.
func Keep(n uint64) *uint64 {
	return &n
}

// Snapshot is the prune engine's view of one snapshot: its identity plus the
// externally managed protection flag.
type Snapshot struct {
	Dir       backup.Dir
	Protected bool
}

// ListItem is the verdict for one snapshot.
type ListItem struct {
	Snapshot

	// Keep reports whether any bucket rule selected the snapshot, or the
	// snapshot is protected.
	Keep bool

	// Rule names what kept the snapshot ("keep-last", "keep-daily", ...,
	// or "protected"); empty for removals. First matching rule wins for
	// reporting; the keep decision itself is the union of all rules.
	Rule string
}

// rule is one retention bucket: a count and a bucket-id selector. Snapshots
// sharing a selector value fall into the same calendar bucket.
type rule struct {
	name   string
	count  *uint64
	bucket func(backup.Dir) string
}

// Bucket selectors use UTC so verdicts do not depend on the server's
// timezone. Snapshot identities are UTC-labelled already.
func hourBucket(d backup.Dir) string {
	return time.Unix(d.Time, 0).UTC().Format("2006/01/02/15")
}

func dayBucket(d backup.Dir) string {
	return time.Unix(d.Time, 0).UTC().Format("2006/01/02")
}

func weekBucket(d backup.Dir) string {
	year, week := time.Unix(d.Time, 0).UTC().ISOWeek()
	return fmt.Sprintf("%04d/%02d", year, week)
}

func monthBucket(d backup.Dir) string {
	return time.Unix(d.Time, 0).UTC().Format("2006/01")
}

func yearBucket(d backup.Dir) string {
	return time.Unix(d.Time, 0).UTC().Format("2006")
}

// selfBucket makes every snapshot its own bucket, so "keep-last N" keeps
// the N most recent snapshots outright.
func selfBucket(d backup.Dir) string {
	return d.TimeString()
}

// Compute evaluates the policy over all snapshots of one backup group and
// returns one verdict per snapshot, newest first.
//
// Each configured bucket rule independently scans the snapshots newest to
// oldest and keeps the most recent snapshot within each of the first N
// distinct calendar buckets it encounters. A snapshot is kept if any rule
// selects it or it is protected. Protected snapshots do not consume bucket
// slots.
func Compute(snapshots []Snapshot, opts Options) []ListItem {
	// Defensive copy, sorted descending by time: callers promise a sorted
	// list but verdicts must not depend on that.
	list := make([]Snapshot, len(snapshots))
	copy(list, snapshots)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Dir.Time > list[j].Dir.Time
	})

	rules := []rule{
		{"keep-last", opts.KeepLast, selfBucket},
		{"keep-hourly", opts.KeepHourly, hourBucket},
		{"keep-daily", opts.KeepDaily, dayBucket},
		{"keep-weekly", opts.KeepWeekly, weekBucket},
		{"keep-monthly", opts.KeepMonthly, monthBucket},
		{"keep-yearly", opts.KeepYearly, yearBucket},
	}

	keptBy := make(map[int]string, len(list))
	for _, r := range rules {
		if r.count == nil || *r.count == 0 {
			continue
		}
		seen := make(map[string]struct{})
		for i, snap := range list {
			if snap.Protected {
				continue
			}
			id := r.bucket(snap.Dir)
			if _, dup := seen[id]; dup {
				continue
			}
			if uint64(len(seen)) >= *r.count {
				break
			}
			seen[id] = struct{}{}
			if _, already := keptBy[i]; !already {
				keptBy[i] = r.name
			}
		}
	}

	items := make([]ListItem, len(list))
	for i, snap := range list {
		item := ListItem{Snapshot: snap}
		switch {
		case snap.Protected:
			item.Keep = true
			item.Rule = "protected"
		default:
			if name, ok := keptBy[i]; ok {
				item.Keep = true
				item.Rule = name
			}
		}
		items[i] = item
	}
	return items
}
