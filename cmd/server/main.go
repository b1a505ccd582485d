package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/hugamara/sheetaudit/internal/blob"
	"github.com/hugamara/sheetaudit/internal/config"
	"github.com/hugamara/sheetaudit/internal/db"
	"github.com/hugamara/sheetaudit/internal/ingestion"
	"github.com/hugamara/sheetaudit/internal/middleware"
	"github.com/hugamara/sheetaudit/internal/queue"
	"github.com/hugamara/sheetaudit/internal/repository"
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

	if err := db.RunMigrations(cfg.Database, "./migrations"); err != nil {
		logger.WithError(err).Fatal("failed to run migrations")
	}

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

	service := ingestion.NewService(uploads, documents, attempts, blobs, jobQueue, logger)
	handler := ingestion.NewHTTPHandler(service)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	mux := http.NewServeMux()
	mux.Handle("/ingestion/", handler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      corsHandler.Handler(middleware.Logging(logger)(mux)),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("ingestion gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("forced shutdown")
	}

	logger.Info("server exited")
}

func newBlobStore(ctx context.Context, cfg config.AppConfig) (blob.Store, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		return blob.NewGCSStore(ctx, cfg.Storage.Bucket, cfg.Storage.CredentialsJSON)
	default:
		return blob.NewFSStore(cfg.Storage.Path)
	}
}
