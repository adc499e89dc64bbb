package statsagg

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"ragcore/internal/kst"
	"ragcore/internal/logging"
)

// Aggregator drives the daily/hourly rollup and back-fill operations (spec
// §4.11).
type Aggregator struct {
	dataDir   string
	chunkSize int
	store     *Store
}

func NewAggregator(dataDir string, chunkSize int, store *Store) *Aggregator {
	return &Aggregator{dataDir: dataDir, chunkSize: chunkSize, store: store}
}

// RunDaily aggregates yesterday (or whatever date is passed) and upserts
// every collection's rollup, including the synthetic ALL pass (spec
// §4.11.1).
func (a *Aggregator) RunDaily(ctx context.Context, date time.Time) error {
	rollups, err := Aggregate(a.dataDir, date, a.chunkSize)
	if err == ErrNoData {
		logging.Log.Infof("statsagg: no shard for %s, skipping", kst.DateString(date))
		return nil
	}
	if err != nil {
		return fmt.Errorf("statsagg: aggregate %s: %w", kst.DateString(date), err)
	}
	for _, r := range rollups {
		if err := a.store.Upsert(ctx, r); err != nil {
			return fmt.Errorf("statsagg: upsert %s/%s: %w", r.Collection, r.Date, err)
		}
	}
	return nil
}

// RunHourly aggregates today, intended to be invoked on minute-0 to keep
// live dashboards current (spec §4.11.2). It reuses RunDaily's per-day
// aggregation since this package treats "today so far" identically to a
// completed day's shard.
func (a *Aggregator) RunHourly(ctx context.Context) error {
	return a.RunDaily(ctx, kst.Now())
}

// FindMissingDates returns dates in the last daysBack days where a JSONL
// shard exists but no daily rollup row does (spec §4.11.3).
func (a *Aggregator) FindMissingDates(ctx context.Context, daysBack int) ([]time.Time, error) {
	var missing []time.Time
	now := kst.Now()
	for i := 1; i <= daysBack; i++ {
		date := now.AddDate(0, 0, -i)
		if _, _, ok := locateShard(a.dataDir, date); !ok {
			continue
		}
		has, err := a.store.HasDailyRollup(ctx, kst.DateString(date))
		if err != nil {
			return nil, err
		}
		if !has {
			missing = append(missing, date)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Before(missing[j]) })
	return missing, nil
}

// Backfill processes up to maxDates oldest-first missing dates (spec
// §4.11.3). The scheduler is expected to stop its own interval job once
// FindMissingDates returns empty.
func (a *Aggregator) Backfill(ctx context.Context, maxDates int) error {
	missing, err := a.FindMissingDates(ctx, 30)
	if err != nil {
		return err
	}
	if len(missing) > maxDates {
		missing = missing[:maxDates]
	}
	for _, date := range missing {
		if err := a.RunDaily(ctx, date); err != nil {
			return err
		}
	}
	return nil
}

// ShardExists is a small filesystem helper reporting whether the JSONL shard
// for date is present under dataDir. Nothing in this module calls it.
func ShardExists(dataDir string, date time.Time) bool {
	_, err := os.Stat(shardPath(dataDir, date))
	return err == nil
}
