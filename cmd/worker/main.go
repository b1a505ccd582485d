package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/bsm/redislock"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hugamara/sheetaudit/internal/blob"
	"github.com/hugamara/sheetaudit/internal/config"
	"github.com/hugamara/sheetaudit/internal/db"
	"github.com/hugamara/sheetaudit/internal/extraction"
	"github.com/hugamara/sheetaudit/internal/queue"
	"github.com/hugamara/sheetaudit/internal/repository"
	"github.com/hugamara/sheetaudit/internal/rules"
	"github.com/hugamara/sheetaudit/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger := config.NewLogger()

	cfg, err := config.Load(".")
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer conn.Close()

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize blob storage")
	}

	jobQueue, err := queue.NewPubSubQueue(ctx, cfg.Queue.ProjectID, cfg.Queue.Topic, cfg.Queue.Subscription, cfg.Queue.CredentialsJSON, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize job queue")
	}
	defer jobQueue.Close()

	uploads := repository.NewUploadRepository(conn.Pool)
	documents := repository.NewExtractionDocumentRepository(conn.Pool)
	attempts := repository.NewAuditAttemptRepository(conn.Pool)
	history := repository.NewHistoryRepository(conn.Pool)

	locker := newLocker(ctx, cfg, logger)

	engine := extraction.New(rules.NewEngine(), history)
	w := worker.New(uploads, documents, attempts, history, blobs, engine, jobQueue, locker, logger)

	reconciler := worker.NewReconciler(uploads, jobQueue, cfg.Worker.StaleAfter, logger)
	if err := reconciler.Start(); err != nil {
		logger.WithError(err).Fatal("failed to start reconciler")
	}
	defer reconciler.Stop()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("extraction worker started")
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("worker stopped")
	}

	logger.Info("worker exited")
}

func newBlobStore(ctx context.Context, cfg config.AppConfig) (blob.Store, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		return blob.NewGCSStore(ctx, cfg.Storage.Bucket, cfg.Storage.CredentialsJSON)
	default:
		return blob.NewFSStore(cfg.Storage.Path)
	}
}

// newLocker connects the advisory lock backend. Redis is optional; without it
// the worker serializes on the ledger claim alone.
func newLocker(ctx context.Context, cfg config.AppConfig, logger *logrus.Logger) *redislock.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warnf("redis unreachable, proceeding without advisory locks: %v", err)
		return nil
	}

	return redislock.New(rdb)
}
