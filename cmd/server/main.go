package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Clark-Hu/triage-ratings/db"
	"github.com/Clark-Hu/triage-ratings/internal/config"
	"github.com/Clark-Hu/triage-ratings/internal/docstore"
	httpserver "github.com/Clark-Hu/triage-ratings/internal/http"
	"github.com/Clark-Hu/triage-ratings/internal/metrics"
	"github.com/Clark-Hu/triage-ratings/internal/rating"
	"github.com/Clark-Hu/triage-ratings/internal/repository"
	"github.com/Clark-Hu/triage-ratings/internal/store"
)

const metricsNamespace = "triage_ratings"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := newLogger(cfg.Environment)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	storeOpts := store.Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		Logger:                 logger,
	}

	st, err := store.New(dbCtx, cfg.DBURL, storeOpts)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer st.Close()

	if cfg.DBAutoMigrate {
		if err := st.Migrate(dbCtx, db.Migrations); err != nil {
			logger.Fatal("apply migrations", zap.Error(err))
		}
	}

	collector := metrics.NewCollector(metricsNamespace)
	collector.RegisterPoolGauges(metricsNamespace,
		func() int32 { return st.Stats().AcquiredConns() },
		func() int32 { return st.Stats().IdleConns() },
		func() int32 { return st.Stats().TotalConns() },
	)

	if cfg.MongoURI == "" {
		logger.Warn("MONGODB_URI not set; document store will report unavailable")
	}
	docs, err := docstore.New(docstore.Options{
		URI:             cfg.MongoURI,
		Database:        cfg.MongoDatabase,
		Collection:      cfg.MongoCollection,
		Timeout:         cfg.MongoTimeout(),
		Location:        cfg.Location,
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: time.Duration(cfg.BreakerCooldownSecs) * time.Second,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("init document store", zap.Error(err))
	}

	repo := repository.New(st)
	coord, err := rating.NewCoordinator(rating.Options{
		DefaultTarget: cfg.DefaultStore,
		Normalizer:    rating.NewNormalizer(cfg.Location, nil),
		Metrics:       collector,
		Logger:        logger,
	}, repo.Ratings, docs)
	if err != nil {
		logger.Fatal("init rating coordinator", zap.Error(err))
	}
	logger.Info("rating stores ready",
		zap.String("default_store", string(coord.DefaultTarget())),
		zap.String("timezone", cfg.Location.String()),
	)

	server := httpserver.New(cfg, st, coord, collector, logger)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			logger.Error("server error", zap.Error(err))
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("graceful shutdown error", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
