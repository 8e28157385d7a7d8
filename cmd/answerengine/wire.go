package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/TobiSchelling/answerengine/internal/answer"
	"github.com/TobiSchelling/answerengine/internal/baseline"
	"github.com/TobiSchelling/answerengine/internal/cache"
	"github.com/TobiSchelling/answerengine/internal/database"
	"github.com/TobiSchelling/answerengine/internal/generate"
	"github.com/TobiSchelling/answerengine/internal/intent"
	"github.com/TobiSchelling/answerengine/internal/llm"
	"github.com/TobiSchelling/answerengine/internal/metrics"
	"github.com/TobiSchelling/answerengine/internal/policy"
	"github.com/TobiSchelling/answerengine/internal/rank"
)

// services holds the wired pipeline for commands that answer questions.
type services struct {
	db         *database.DB
	redis      *redis.Client
	redisCache *cache.RedisBaselineCache
	baselines  *baseline.Calculator
	engine     *answer.Engine
	registry   *prometheus.Registry
}

func openDB() (*database.DB, error) {
	if err := os.MkdirAll(cfg.GetDataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DatabasePath())
}

func newServices(ctx context.Context) (*services, error) {
	db, err := openDB()
	if err != nil {
		return nil, err
	}
	svc := &services{db: db, registry: prometheus.NewRegistry()}
	svc.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(svc.registry)

	var snapshots baseline.Cache = db
	if cfg.Cache.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.Cache.RedisURL)
		if err != nil {
			db.Close()
			return nil, err
		}
		retry := cache.DefaultRetryConfig()
		retry.MaxRetries = cfg.Cache.MaxRetries
		svc.redis = client
		svc.redisCache = cache.NewRedisBaselineCache(client, retry)
		snapshots = svc.redisCache
		logger.WithField("addr", client.Options().Addr).Debug("Caching baselines in Redis")
	} else if n, err := db.PurgeExpiredBaselines(ctx); err != nil {
		logger.WithError(err).Warn("Failed to purge expired baseline snapshots")
	} else if n > 0 {
		logger.WithField("purged", n).Debug("Purged expired baseline snapshots")
	}

	svc.baselines = baseline.NewCalculator(db, snapshots, baseline.Options{
		TTL:      cfg.Cache.TTL,
		MaxPosts: cfg.Baselines.MaxPosts,
	}, logger).WithObserver(m)

	provider := llm.CreateProvider(llm.Options{
		Provider:    cfg.Generation.Provider,
		Model:       cfg.Generation.Model,
		OllamaURL:   cfg.Generation.OllamaURL,
		OpenAIModel: cfg.Generation.OpenAIModel,
		APIKeyEnv:   cfg.Generation.APIKeyEnv,
	}, logger)

	var classifier intent.Classifier = intent.NewKeywordClassifier()
	if cfg.Generation.LLMClassifier && provider != nil {
		classifier = intent.NewLLMClassifier(provider, logger)
	}

	svc.engine = answer.New(answer.Deps{
		Posts:      db,
		Profiles:   db,
		Runs:       db,
		Baselines:  svc.baselines,
		Classifier: classifier,
		Resolver: policy.NewResolver(policy.Options{
			RelativeInteractionsMultiplier: cfg.Policy.RelativeInteractionsMultiplier,
			RelativeERMultiplier:           cfg.Policy.RelativeERMultiplier,
			StrictMode:                     cfg.Policy.StrictMode,
			DefaultWindowDays:              cfg.Baselines.WindowDays,
		}, logger),
		Ranker: rank.New(rank.Options{
			SmallSampleCutoff:   cfg.Ranking.SmallSampleCutoff,
			RecencyHalfLifeDays: cfg.Ranking.RecencyHalfLifeDays,
		}, nil),
		Generator: generate.NewGenerator(provider, cfg.Generation.MaxTokens, logger),
		Metrics:   m,
		Logger:    logger,
	}, answer.Options{MaxAttempts: cfg.Generation.MaxAttempts})

	return svc, nil
}

// invalidate drops cached baselines for a user from every cache in use.
func (s *services) invalidate(ctx context.Context, userID string) error {
	if err := s.db.InvalidateBaselines(ctx, userID); err != nil {
		return err
	}
	if s.redisCache != nil {
		return s.redisCache.Invalidate(ctx, userID)
	}
	return nil
}

func (s *services) Close() {
	if s.redis != nil {
		s.redis.Close()
	}
	s.db.Close()
}
