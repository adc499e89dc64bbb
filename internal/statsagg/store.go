package statsagg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists Rollup rows into Postgres, upserting by the (collection,
// date, hour) key (spec §3, §4.11.1 step 4).
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const upsertRollupSQL = `
INSERT INTO daily_statistics (
	collection_name, stat_date, stat_hour,
	user_message_count, assistant_message_count,
	p50_response_ms, p95_response_ms, p99_response_ms, max_response_ms,
	token_sum, retrieval_score_mean,
	top_queries, model_usage, reasoning_usage, reranking_usage_count
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (collection_name, stat_date, COALESCE(stat_hour, -1)) DO UPDATE SET
	user_message_count = EXCLUDED.user_message_count,
	assistant_message_count = EXCLUDED.assistant_message_count,
	p50_response_ms = EXCLUDED.p50_response_ms,
	p95_response_ms = EXCLUDED.p95_response_ms,
	p99_response_ms = EXCLUDED.p99_response_ms,
	max_response_ms = EXCLUDED.max_response_ms,
	token_sum = EXCLUDED.token_sum,
	retrieval_score_mean = EXCLUDED.retrieval_score_mean,
	top_queries = EXCLUDED.top_queries,
	model_usage = EXCLUDED.model_usage,
	reasoning_usage = EXCLUDED.reasoning_usage,
	reranking_usage_count = EXCLUDED.reranking_usage_count
`

// Upsert writes r keyed on (collection, date, hour). JSON fields are
// serialized with non-ASCII preserved (encoding/json does this by default
// unless HTML-escaping is requested, which this package never enables).
func (s *Store) Upsert(ctx context.Context, r Rollup) error {
	topQueries, err := json.Marshal(r.TopQueries)
	if err != nil {
		return fmt.Errorf("statsagg: marshal top_queries: %w", err)
	}
	modelUsage, err := json.Marshal(r.ModelUsage)
	if err != nil {
		return fmt.Errorf("statsagg: marshal model_usage: %w", err)
	}
	reasoningUsage, err := json.Marshal(r.ReasoningUsage)
	if err != nil {
		return fmt.Errorf("statsagg: marshal reasoning_usage: %w", err)
	}

	_, err = s.pool.Exec(ctx, upsertRollupSQL,
		r.Collection, r.Date, r.Hour,
		r.UserMessageCount, r.AssistantMessageCount,
		r.P50, r.P95, r.P99, r.Max,
		r.TokenSum, r.RetrievalScoreMean,
		topQueries, modelUsage, reasoningUsage, r.RerankingUsageCount,
	)
	if err != nil {
		return fmt.Errorf("statsagg: upsert rollup: %w", err)
	}
	return nil
}

// HasDailyRollup reports whether any (collection, date, hour=NULL) row
// exists for date (spec §4.11.3). dataDir is scanned by the caller (see
// backfill.go); this method only checks whether one candidate date already
// has rows.
func (s *Store) HasDailyRollup(ctx context.Context, date string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM daily_statistics WHERE stat_date = $1 AND stat_hour IS NULL)`,
		date,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("statsagg: check rollup existence: %w", err)
	}
	return exists, nil
}
