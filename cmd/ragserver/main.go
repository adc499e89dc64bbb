// Command ragserver wires every core component (C1-C13) into one HTTP
// process, following the teacher's cmd/webui graceful-shutdown shape:
// listen in a goroutine, wait on SIGINT/SIGTERM, then drain in-flight work
// before exiting.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"ragcore/internal/bm25"
	"ragcore/internal/config"
	"ragcore/internal/convstore"
	"ragcore/internal/distlock"
	"ragcore/internal/embedclient"
	"ragcore/internal/httpapi"
	"ragcore/internal/hybrid"
	"ragcore/internal/llmclient"
	"ragcore/internal/logging"
	"ragcore/internal/logpipeline"
	"ragcore/internal/promptloader"
	"ragcore/internal/rag"
	"ragcore/internal/reranker"
	"ragcore/internal/retention"
	"ragcore/internal/scheduler"
	"ragcore/internal/sessionstore"
	"ragcore/internal/statsagg"
	"ragcore/internal/vectorstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := logging.Init(cfg.LogLevel, cfg.LogPath); err != nil {
		log.Fatalf("logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	embedder := embedclient.New(cfg.Embedding)

	vectors, err := vectorstore.New(cfg.Vector)
	if err != nil {
		logging.Log.Fatalf("vectorstore: %v", err)
	}
	defer vectors.Close()

	bm25Cache := bm25.NewCache(vectors)
	hybridEngine := hybrid.New(embedder, vectors, bm25Cache)
	rerankClient := reranker.New(cfg.Reranker)
	llmClient := llmclient.New(cfg.LLM)

	prompts, err := promptloader.New(promptDir())
	if err != nil {
		logging.Log.Fatalf("promptloader: %v", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		logging.Log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	sessions := sessionstore.New(pool)
	logs := logpipeline.New(logpipeline.Config{
		LogQueueCapacity:     cfg.Logging.LogQueueCapacity,
		SessionQueueCapacity: cfg.Logging.SessionQueueCapacity,
		LogBatchSize:         cfg.Logging.BatchSize,
		SessionBatchSize:     cfg.Logging.SessionBatchSize,
		FlushInterval:        cfg.Logging.FlushInterval,
		DataDir:              cfg.Logging.DataDir,
		OverflowDir:          cfg.Logging.OverflowDir,
	}, sessions)
	logs.Start()
	defer logs.Stop()

	conversations := convstore.New(conversationDir(cfg.Logging.DataDir), cfg.Retention.SampleRate)

	var locker *distlock.Locker
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		locker = distlock.New(rdb, "ragcore:lock:")
	}

	statsStore := statsagg.NewStore(pool)
	aggregator := statsagg.NewAggregator(cfg.Logging.DataDir, cfg.Stats.ChunkSize, statsStore)

	sched := scheduler.New(ctx)
	if err := scheduler.RegisterStatsJobs(sched, lockedAggregator{agg: aggregator, locker: locker}, 30); err != nil {
		logging.Log.Fatalf("scheduler: register stats jobs: %v", err)
	}
	if err := scheduler.RegisterRetentionJobs(sched,
		logRetentionPolicy(cfg), conversations.Retention(),
		cfg.Retention.CompressAfterDays, cfg.Retention.RetentionDays,
	); err != nil {
		logging.Log.Fatalf("scheduler: register retention jobs: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	orchestrator := &rag.Orchestrator{
		Hybrid:      hybridEngine,
		VectorOnly:  &rag.VectorOnly{Store: vectors, Embedder: embedder},
		Reranker:    rerankClient,
		LLM:         llmClient,
		Prompts:     prompts,
		Rerank:      cfg.Rerank,
		CiteEnabled: cfg.RAG.CitationsEnabled,
	}

	server := &httpapi.Server{
		Orchestrator:  orchestrator,
		Vectors:       vectors,
		Logs:          logs,
		Conversations: conversations,
		Defaults:      cfg.RAG,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	server.Register(e.Group("/api"))

	addr := listenAddr()
	go func() {
		logging.Log.Infof("ragserver listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logging.Log.Info("ragserver: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logging.Log.Errorf("ragserver: shutdown error: %v", err)
	}
	logs.Flush(5 * time.Second)
}

func listenAddr() string {
	if v := os.Getenv("RAGSERVER_ADDR"); v != "" {
		return v
	}
	return ":8090"
}

func promptDir() string {
	if v := os.Getenv("PROMPT_DIR"); v != "" {
		return v
	}
	return "prompts"
}

func conversationDir(logDataDir string) string {
	if v := os.Getenv("CONVERSATION_DIR"); v != "" {
		return v
	}
	return logDataDir + "/conversations"
}

func logRetentionPolicy(cfg config.Config) logRetention {
	return logRetention{dir: cfg.Logging.DataDir}
}

// logRetention adapts the log shard directory to scheduler.Retention,
// reusing retention.Policy's file-walk logic via a thin same-shaped wrapper
// so log_cleanup and conversation_cleanup share one compress/delete
// implementation while pointing at different directories.
type logRetention struct{ dir string }

func (l logRetention) CompressOlderThan(days int) error {
	return retention.Policy{Dir: l.dir}.CompressOlderThan(days)
}

func (l logRetention) DeleteOlderThan(days int) error {
	return retention.Policy{Dir: l.dir}.DeleteOlderThan(days)
}

// lockedAggregator wraps statsagg.Aggregator so that in a multi-replica
// deployment only one process executes a given scheduler tick; replicas that
// lose the race skip the tick rather than double-aggregating (spec §5:
// "Multi-process deployment requires... external coordination").
type lockedAggregator struct {
	agg    *statsagg.Aggregator
	locker *distlock.Locker
}

func (l lockedAggregator) RunDaily(ctx context.Context, date time.Time) error {
	return l.withLock(ctx, "daily_stats_aggregation", func() error { return l.agg.RunDaily(ctx, date) })
}

func (l lockedAggregator) RunHourly(ctx context.Context) error {
	return l.withLock(ctx, "hourly_stats_aggregation", func() error { return l.agg.RunHourly(ctx) })
}

func (l lockedAggregator) Backfill(ctx context.Context, maxDates int) error {
	return l.withLock(ctx, "stats_backfill", func() error { return l.agg.Backfill(ctx, maxDates) })
}

func (l lockedAggregator) FindMissingDates(ctx context.Context, daysBack int) ([]time.Time, error) {
	return l.agg.FindMissingDates(ctx, daysBack)
}

func (l lockedAggregator) withLock(ctx context.Context, name string, fn func() error) error {
	if l.locker == nil {
		return fn()
	}
	handle, err := l.locker.TryLock(ctx, name, 2*time.Minute)
	if err != nil {
		if errors.Is(err, distlock.ErrNotAcquired) {
			logging.Log.Infof("scheduler: %s already running on another replica, skipping", name)
			return nil
		}
		return fmt.Errorf("lockedAggregator: %s: %w", name, err)
	}
	defer l.locker.Unlock(ctx, handle)
	return fn()
}
