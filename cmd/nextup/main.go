package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lumatv/nextup/internal/config"
	dbRedis "github.com/lumatv/nextup/internal/db/redis"
	logpkg "github.com/lumatv/nextup/internal/logger"
	"github.com/lumatv/nextup/internal/metrics"
	catalogrepo "github.com/lumatv/nextup/internal/repository/catalog"
	"github.com/lumatv/nextup/internal/repository/embcache"
	policyrepo "github.com/lumatv/nextup/internal/repository/policy"
	preferencerepo "github.com/lumatv/nextup/internal/repository/preference"
	retrievalrepo "github.com/lumatv/nextup/internal/repository/retrieval"
	trajectoryrepo "github.com/lumatv/nextup/internal/repository/trajectory"
	chiTransport "github.com/lumatv/nextup/internal/transport/chi"
	openaiEmb "github.com/lumatv/nextup/internal/transport/openai"
	"github.com/lumatv/nextup/internal/usecase/adapt"
	healthuc "github.com/lumatv/nextup/internal/usecase/health"
	"github.com/lumatv/nextup/internal/usecase/learn"
	"github.com/lumatv/nextup/internal/usecase/memory"
	"github.com/lumatv/nextup/internal/usecase/rank"
	"github.com/lumatv/nextup/internal/usecase/recommend"
	"github.com/lumatv/nextup/internal/usecase/refine"
	"github.com/lumatv/nextup/internal/usecase/retrieve"
	"github.com/lumatv/nextup/internal/usecase/reward"
	"github.com/lumatv/nextup/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting nextup API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	metrics.Register(prometheus.DefaultRegisterer)
	metrics.RegisterHTTP(prometheus.DefaultRegisterer)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Local learned-state store: policy snapshots, context offsets,
	// refinement Q-table, trajectory log.
	bopts := badger.DefaultOptions(cfg.Policy.Dir).WithLogger(nil)
	if cfg.Policy.InMemory || cfg.Policy.Dir == "" {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	bdb, err := badger.Open(bopts)
	if err != nil {
		logger.Fatal("Failed to open learned-state store", zap.Error(err))
	}
	defer bdb.Close()

	dim := cfg.Embedding.Dimensions
	prefix := cfg.Database.KeyPrefix

	catalogRepo := catalogrepo.New(store, prefix, dim).WithHNSW(catalogrepo.HNSWConfig{
		M:           cfg.Index.HNSWM,
		EFConstruct: cfg.Index.HNSWEFConstruct,
	})
	if err := catalogRepo.EnsureIndex(ctx); err != nil {
		logger.Fatal("Failed to ensure content index", zap.Error(err))
	}

	retrievalRepo := retrievalrepo.New(store, prefix)
	prefRepo := preferencerepo.New(store, prefix,
		time.Duration(cfg.Memory.SessionFreshnessMin)*time.Minute)
	trajRepo := trajectoryrepo.New(bdb)
	policyRepo := policyrepo.New(bdb)

	// Embedder chain: provider -> breaker -> cache.
	provider := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: dim,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})
	breaker := openaiEmb.NewBreakerEmbedder(provider, openaiEmb.BreakerConfig{
		FailureThreshold: uint32(cfg.Embedding.BreakerThreshold),
		OpenTimeout:      time.Duration(cfg.Embedding.BreakerCooldown) * time.Second,
	}, logger)
	embedder := embcache.New(breaker, store, prefix, metrics.EmbeddingCacheTotal, logger).
		WithTTL(time.Duration(cfg.Embedding.CacheTTLHours) * time.Hour)
	logger.Info("Embedder chain created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", dim),
	)

	// Context adapter, warm-started from persisted offsets.
	adapter := adapt.New(dim, cfg.Memory.ContextBlend)
	if offsets, err := policyRepo.LoadOffsets(ctx); err != nil {
		logger.Warn("Context offsets unavailable, starting cold", zap.Error(err))
	} else {
		adapter.Restore(offsets)
	}

	// Ranker: restore the latest policy snapshot, bootstrap when absent
	// or corrupt.
	ranker := rank.New(dim, rank.Config{
		ActorLearningRate:  cfg.Ranker.ActorLearningRate,
		CriticLearningRate: cfg.Ranker.CriticLearningRate,
		Discount:           cfg.Ranker.Discount,
		ExplorationCoeff:   cfg.Ranker.ExplorationCoeff,
		ExplorationDecay:   cfg.Ranker.ExplorationDecay,
		ExplorationFloor:   cfg.Ranker.ExplorationFloor,
	}, logger)
	if params, err := policyRepo.Latest(ctx, rank.PairDim(dim), rank.StateDim(dim)); err != nil {
		logger.Warn("No usable policy snapshot, bootstrapping", zap.Error(err))
		ranker.Bootstrap()
	} else if err := ranker.Restore(params); err != nil {
		logger.Warn("Policy snapshot rejected, bootstrapping", zap.Error(err))
		ranker.Bootstrap()
	} else {
		logger.Info("Policy restored", zap.Uint64("epoch", params.Epoch))
	}

	refiner := refine.New(refine.Config{
		Epsilon:       cfg.Refiner.Epsilon,
		EpsilonDecay:  cfg.Refiner.EpsilonDecay,
		EpsilonFloor:  cfg.Refiner.EpsilonFloor,
		LearningRate:  cfg.Refiner.LearningRate,
		Discount:      cfg.Refiner.Discount,
		MinSimilarity: cfg.Refiner.MinSimilarity,
		MinTokens:     cfg.Refiner.MinTokens,
	})
	if qtable, err := policyRepo.LoadQTable(ctx); err != nil {
		logger.Warn("Refinement Q-table unavailable, starting cold", zap.Error(err))
	} else {
		refiner.Restore(qtable)
	}

	memorySvc := memory.New(prefRepo, trajRepo, memory.Config{
		Dim:              dim,
		Beta:             cfg.Memory.Beta,
		ColdStartBeta:    cfg.Memory.ColdStartBeta,
		ColdStartWindow:  int64(cfg.Memory.ColdStartWindow),
		PatternWindow:    cfg.Memory.PatternWindow,
		PatternThreshold: cfg.Memory.PatternThreshold,
		SessionFreshness: time.Duration(cfg.Memory.SessionFreshnessMin) * time.Minute,
	})
	retrieveSvc := retrieve.New(retrievalRepo, retrieve.Config{
		OverfetchFactor: cfg.Retrieval.OverfetchFactor,
		MaxK:            cfg.Retrieval.MaxK,
	})

	impressions := learn.NewImpressionCache(cfg.Learning.ImpressionCacheSize)
	pubsub := gochannel.NewGoChannel(gochannel.Config{Persistent: false}, watermill.NopLogger{})
	defer pubsub.Close()

	loop := learn.New(
		pubsub, ranker, memorySvc, trajRepo, adapter, refiner, policyRepo,
		impressions, catalogRepo, reward.New(),
		learn.Config{
			Workers:       cfg.Learning.Workers,
			SnapshotEvery: uint64(cfg.Learning.SnapshotEvery),
			FlushInterval: time.Duration(cfg.Learning.OffsetFlushMin) * time.Minute,
			PatternEvery:  time.Duration(cfg.Learning.PatternRecomputeMin) * time.Minute,
			Retention:     time.Duration(cfg.Learning.RetentionDays) * 24 * time.Hour,
			TrajectoryCap: cfg.Learning.TrajectoryCap,
			KeepRecent:    cfg.Learning.KeepRecent,
		}, logger,
	)
	loopCtx, stopLoop := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := loop.Run(loopCtx); err != nil && loopCtx.Err() == nil {
			logger.Error("Learning loop stopped", zap.Error(err))
		}
	}()

	recommendSvc := recommend.New(
		memorySvc, embedder, adapter, retrieveSvc, ranker, refiner,
		trajRepo, impressions, pubsub,
		recommend.Config{
			MaxK:      cfg.Retrieval.MaxK,
			MMRLambda: cfg.Retrieval.DiversityLambda,
			Deadline:  time.Duration(cfg.Retrieval.DeadlineMs) * time.Millisecond,
		}, logger,
	)

	healthSvc := healthuc.New(store, badgerPinger{bdb}, provider)

	server := chiTransport.NewServer(recommendSvc, catalogRepo, healthSvc, cfg.Auth.APIKeys, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Routes(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	// Stop the loop last so in-flight feedback still lands, then wait for
	// its final learned-state flush.
	stopLoop()
	select {
	case <-loopDone:
	case <-shutdownCtx.Done():
		logger.Warn("Learning loop did not stop in time")
	}

	logger.Info("Server stopped gracefully")
}

// badgerPinger adapts *badger.DB to the health check interface.
type badgerPinger struct {
	db *badger.DB
}

func (p badgerPinger) Ping(context.Context) error {
	if p.db.IsClosed() {
		return fmt.Errorf("learned-state store closed")
	}
	return nil
}
