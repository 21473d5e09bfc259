package prune

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashd-io/stashd/internal/backup"
)

func snap(t time.Time) Snapshot {
	return Snapshot{Dir: backup.NewDir(backup.TypeVM, "100", t.Unix())}
}

func protectedSnap(t time.Time) Snapshot {
	s := snap(t)
	s.Protected = true
	return s
}

// keptTimes extracts the epoch seconds of kept snapshots.
func keptTimes(items []ListItem) map[int64]bool {
	kept := make(map[int64]bool)
	for _, item := range items {
		if item.Keep {
			kept[item.Dir.Time] = true
		}
	}
	return kept
}

func TestKeepLastAndDaily(t *testing.T) {
	// The §-scenario: snapshots at T, T-1h, T-25h, T-49h, each pair on a
	// distinct calendar day, keep-last=1 keep-daily=2.
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	snaps := []Snapshot{
		snap(base),
		snap(base.Add(-1 * time.Hour)),
		snap(base.Add(-25 * time.Hour)),
		snap(base.Add(-49 * time.Hour)),
	}

	items := Compute(snaps, Options{KeepLast: Keep(1), KeepDaily: Keep(2)})
	require.Len(t, items, 4)

	kept := keptTimes(items)
	assert.True(t, kept[base.Unix()], "T kept by keep-last and keep-daily")
	assert.False(t, kept[base.Add(-1*time.Hour).Unix()], "T-1h removed (same day as T)")
	assert.True(t, kept[base.Add(-25*time.Hour).Unix()], "T-25h kept as second daily bucket")
	assert.False(t, kept[base.Add(-49*time.Hour).Unix()], "T-49h beyond keep-daily=2")

	// verdicts come back newest first
	assert.Equal(t, base.Unix(), items[0].Dir.Time)
	assert.Equal(t, "keep-last", items[0].Rule)
}

func TestKeepLastOnly(t *testing.T) {
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	var snaps []Snapshot
	for i := 0; i < 5; i++ {
		snaps = append(snaps, snap(base.Add(-time.Duration(i)*time.Minute)))
	}

	items := Compute(snaps, Options{KeepLast: Keep(3)})
	kept := keptTimes(items)
	assert.Len(t, kept, 3)
	for i := 0; i < 3; i++ {
		assert.True(t, kept[base.Add(-time.Duration(i)*time.Minute).Unix()])
	}
}

func TestEmptyOptionsKeepNothing(t *testing.T) {
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	snaps := []Snapshot{snap(base), snap(base.Add(-time.Hour))}

	items := Compute(snaps, Options{})
	for _, item := range items {
		assert.False(t, item.Keep)
		assert.Empty(t, item.Rule)
	}

	assert.True(t, Options{}.IsEmpty())
	assert.False(t, Options{KeepDaily: Keep(1)}.IsEmpty())
	zero := uint64(0)
	assert.True(t, Options{KeepDaily: &zero}.IsEmpty())
}

func TestProtectedOverride(t *testing.T) {
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	snaps := []Snapshot{
		snap(base),
		protectedSnap(base.Add(-10 * 24 * time.Hour)), // no policy match
	}

	items := Compute(snaps, Options{KeepLast: Keep(1)})
	require.Len(t, items, 2)
	assert.True(t, items[0].Keep)
	assert.True(t, items[1].Keep)
	assert.Equal(t, "protected", items[1].Rule)
}

func TestProtectedDoesNotConsumeBucketSlot(t *testing.T) {
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	snaps := []Snapshot{
		protectedSnap(base),
		snap(base.Add(-24 * time.Hour)),
		snap(base.Add(-48 * time.Hour)),
	}

	// keep-daily=2 should still keep two unprotected dailies
	items := Compute(snaps, Options{KeepDaily: Keep(2)})
	kept := keptTimes(items)
	assert.Len(t, kept, 3)
}

func TestCalendarBuckets(t *testing.T) {
	// One snapshot per week over five weeks, keep-weekly=3.
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) // a Wednesday
	var snaps []Snapshot
	for i := 0; i < 5; i++ {
		snaps = append(snaps, snap(base.Add(-time.Duration(i)*7*24*time.Hour)))
	}

	items := Compute(snaps, Options{KeepWeekly: Keep(3)})
	kept := keptTimes(items)
	assert.Len(t, kept, 3)
	for i := 0; i < 3; i++ {
		assert.True(t, kept[base.Add(-time.Duration(i)*7*24*time.Hour).Unix()])
	}
}

func TestMonthlyAndYearly(t *testing.T) {
	snaps := []Snapshot{
		snap(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)),
		snap(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),  // same month as above
		snap(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)), // second month
		snap(time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)),
		snap(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
	}

	items := Compute(snaps, Options{KeepMonthly: Keep(2)})
	kept := keptTimes(items)
	assert.True(t, kept[snaps[0].Dir.Time], "most recent of 2026-03")
	assert.False(t, kept[snaps[1].Dir.Time], "older snapshot of same month")
	assert.True(t, kept[snaps[2].Dir.Time], "2026-01 bucket")
	assert.False(t, kept[snaps[3].Dir.Time])

	items = Compute(snaps, Options{KeepYearly: Keep(2)})
	kept = keptTimes(items)
	assert.True(t, kept[snaps[0].Dir.Time], "most recent of 2026")
	assert.True(t, kept[snaps[3].Dir.Time], "most recent of 2025")
	assert.False(t, kept[snaps[4].Dir.Time], "2024 beyond keep-yearly=2")
}

func TestHourlyBuckets(t *testing.T) {
	base := time.Date(2026, 3, 4, 12, 45, 0, 0, time.UTC)
	snaps := []Snapshot{
		snap(base),
		snap(base.Add(-15 * time.Minute)), // same hour
		snap(base.Add(-time.Hour)),        // previous hour
	}

	items := Compute(snaps, Options{KeepHourly: Keep(2)})
	kept := keptTimes(items)
	assert.True(t, kept[snaps[0].Dir.Time])
	assert.False(t, kept[snaps[1].Dir.Time], "same hour, not the most recent")
	assert.True(t, kept[snaps[2].Dir.Time])
}

func TestRulesUnionIndependently(t *testing.T) {
	// keep-hourly picks the newest per hour, keep-daily the newest per day;
	// both verdicts are unioned.
	base := time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC)
	snaps := []Snapshot{
		snap(base),
		snap(base.Add(-2 * time.Hour)),
		snap(base.Add(-26 * time.Hour)),
	}

	items := Compute(snaps, Options{KeepHourly: Keep(2), KeepDaily: Keep(2)})
	kept := keptTimes(items)
	assert.True(t, kept[snaps[0].Dir.Time])
	assert.True(t, kept[snaps[1].Dir.Time], "second hourly bucket")
	assert.True(t, kept[snaps[2].Dir.Time], "second daily bucket")
}

func TestComputeSortsInput(t *testing.T) {
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	// deliberately unsorted input
	snaps := []Snapshot{
		snap(base.Add(-49 * time.Hour)),
		snap(base),
		snap(base.Add(-25 * time.Hour)),
		snap(base.Add(-1 * time.Hour)),
	}

	items := Compute(snaps, Options{KeepLast: Keep(1), KeepDaily: Keep(2)})
	kept := keptTimes(items)
	assert.True(t, kept[base.Unix()])
	assert.True(t, kept[base.Add(-25*time.Hour).Unix()])
	assert.False(t, kept[base.Add(-1*time.Hour).Unix()])
	assert.False(t, kept[base.Add(-49*time.Hour).Unix()])
}

func TestComputeEmptyInput(t *testing.T) {
	assert.Empty(t, Compute(nil, Options{KeepLast: Keep(3)}))
}
