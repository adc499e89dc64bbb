package scheduler

import (
	"context"
	"time"

	"ragcore/internal/kst"
	"ragcore/internal/logging"
)

// DailyAggregator is the subset of statsagg.Aggregator the scheduler drives.
type DailyAggregator interface {
	RunDaily(ctx context.Context, date time.Time) error
	RunHourly(ctx context.Context) error
	Backfill(ctx context.Context, maxDates int) error
	FindMissingDates(ctx context.Context, daysBack int) ([]time.Time, error)
}

// Retention is the subset of log/conversation retention the scheduler
// drives (compress-then-delete policy shared by C10's shards and C13's
// conversation archive).
type Retention interface {
	CompressOlderThan(days int) error
	DeleteOlderThan(days int) error
}

// RegisterStatsJobs wires daily_stats_aggregation, hourly_stats_aggregation,
// and stats_backfill per spec §4.12's table.
func RegisterStatsJobs(s *Scheduler, agg DailyAggregator, backfillMaxDates int) error {
	if err := s.Add("0 1 * * *", Job{
		Name: "daily_stats_aggregation",
		Run: func(ctx context.Context) error {
			return agg.RunDaily(ctx, kst.Now().AddDate(0, 0, -1))
		},
	}); err != nil {
		return err
	}

	if err := s.Add("0 * * * *", Job{
		Name: "hourly_stats_aggregation",
		Run:  func(ctx context.Context) error { return agg.RunHourly(ctx) },
	}); err != nil {
		return err
	}

	if err := s.Add("*/5 * * * *", Job{
		Name: "stats_backfill",
		Run: func(ctx context.Context) error {
			if err := agg.Backfill(ctx, backfillMaxDates); err != nil {
				return err
			}
			missing, err := agg.FindMissingDates(ctx, 30)
			if err != nil {
				return err
			}
			if len(missing) == 0 {
				logging.Log.Infof("scheduler: stats_backfill has no missing dates left, self-removing")
				s.Remove("stats_backfill")
			}
			return nil
		},
	}); err != nil {
		return err
	}
	return nil
}

// RegisterRetentionJobs wires log_cleanup and conversation_cleanup per spec
// §4.12's table.
func RegisterRetentionJobs(s *Scheduler, logs Retention, conversations Retention, compressAfterDays, retentionDays int) error {
	if err := s.Add("0 2 * * *", Job{
		Name: "log_cleanup",
		Run: func(ctx context.Context) error {
			if err := logs.CompressOlderThan(compressAfterDays); err != nil {
				return err
			}
			return logs.DeleteOlderThan(retentionDays)
		},
	}); err != nil {
		return err
	}

	return s.Add("30 2 * * *", Job{
		Name: "conversation_cleanup",
		Run: func(ctx context.Context) error {
			if err := conversations.CompressOlderThan(compressAfterDays); err != nil {
				return err
			}
			return conversations.DeleteOlderThan(retentionDays)
		},
	})
}
