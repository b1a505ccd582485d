// Package worker consumes extraction jobs, runs the extraction engine, and
// finalizes the audit trail for each upload.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/hugamara/sheetaudit/internal/blob"
	"github.com/hugamara/sheetaudit/internal/domain"
	"github.com/hugamara/sheetaudit/internal/extraction"
	"github.com/hugamara/sheetaudit/internal/queue"
	"github.com/hugamara/sheetaudit/internal/repository"
)

const (
	// completedThreshold splits completed from review_needed.
	completedThreshold = 6.5

	maxAttempts       = 3
	defaultRetryDelay = 5 * time.Second
	lockTTL           = 2 * time.Minute
)

// Worker drives the processing side of the pipeline. The ledger's claim
// update is the authoritative concurrency guard; the redis lock on top of it
// is best-effort and only trims wasted duplicate work.
type Worker struct {
	uploads    repository.UploadRepository
	documents  repository.ExtractionDocumentRepository
	attempts   repository.AuditAttemptRepository
	history    repository.HistoryRepository
	blobs      blob.Store
	engine     *extraction.Engine
	consumer   queue.Consumer
	locker     *redislock.Client
	logger     *logrus.Logger
	retryDelay time.Duration
}

// New wires a worker. locker may be nil when redis is not configured.
func New(
	uploads repository.UploadRepository,
	documents repository.ExtractionDocumentRepository,
	attempts repository.AuditAttemptRepository,
	history repository.HistoryRepository,
	blobs blob.Store,
	engine *extraction.Engine,
	consumer queue.Consumer,
	locker *redislock.Client,
	logger *logrus.Logger,
) *Worker {
	return &Worker{
		uploads:    uploads,
		documents:  documents,
		attempts:   attempts,
		history:    history,
		blobs:      blobs,
		engine:     engine,
		consumer:   consumer,
		locker:     locker,
		logger:     logger,
		retryDelay: defaultRetryDelay,
	}
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.consumer.Receive(ctx, w.Handle)
}

// Handle processes one job. A nil return acks the message; an error nacks it
// so the broker redelivers.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	id, err := uuid.Parse(job.UploadID)
	if err != nil {
		w.logger.WithError(err).WithField("upload_id", job.UploadID).Warn("dropping job with invalid upload id")
		return nil
	}

	log := w.logger.WithField("upload_id", id)

	if release := w.tryLock(ctx, id, log); release != nil {
		defer release()
	}

	upload, claimed, err := w.uploads.ClaimForProcessing(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to claim upload: %w", err)
	}
	if !claimed {
		// Another worker owns it or it is already terminal.
		log.Debug("upload not claimable, dropping job")
		return nil
	}

	log = log.WithField("attempt", upload.ProcessAttempts)
	log.Info("extraction started")

	result, err := w.process(ctx, upload)
	if err != nil {
		return w.handleFailure(ctx, upload, err, log)
	}

	status := domain.StatusCompleted
	if result.Score < completedThreshold {
		status = domain.StatusReviewNeeded
	}

	doc := domain.ExtractionDocument{
		ID:                uuid.New(),
		UploadID:          upload.ID,
		BlobKey:           upload.BlobKey,
		OverallConfidence: result.Score,
		FieldConfidence:   result.FieldConfidence,
		ColumnMappings:    result.Mappings,
		Rows:              result.Rows,
		Anomalies:         result.Anomalies,
		Warnings:          result.Warnings,
		CreatedAt:         time.Now().UTC(),
	}

	// The document and audit log are written before the ledger flips to a
	// terminal state, so a reader that sees the state always finds them.
	if err := w.documents.Create(ctx, doc); err != nil {
		return w.handleFailure(ctx, upload, domain.StorageError{Op: "document insert", Err: err}, log)
	}

	attempt := domain.AuditAttempt{
		ID:             uuid.New(),
		UploadID:       upload.ID,
		Score:          result.Score,
		ColumnMappings: result.Mappings,
		Anomalies:      result.Anomalies,
		Warnings:       result.Warnings,
		CreatedAt:      doc.CreatedAt,
	}
	if err := w.attempts.Append(ctx, attempt); err != nil {
		return w.handleFailure(ctx, upload, domain.StorageError{Op: "audit append", Err: err}, log)
	}

	if err := w.uploads.CompleteAttempt(ctx, upload.ID, status, result.Score, doc.ID); err != nil {
		return fmt.Errorf("failed to finalize upload: %w", err)
	}

	log.WithFields(logrus.Fields{
		"status":    status,
		"score":     result.Score,
		"anomalies": len(result.Anomalies),
	}).Info("extraction finished")

	if status == domain.StatusCompleted {
		w.recordObservations(ctx, upload, result, log)
	}

	return nil
}

func (w *Worker) process(ctx context.Context, upload domain.Upload) (extraction.Result, error) {
	rc, err := w.blobs.Open(ctx, upload.BlobKey)
	if err != nil {
		return extraction.Result{}, domain.StorageError{Op: "blob open", Err: err}
	}
	defer rc.Close()

	payload, err := io.ReadAll(rc)
	if err != nil {
		return extraction.Result{}, domain.StorageError{Op: "blob read", Err: err}
	}

	return w.engine.Extract(ctx, payload, upload.OriginalFilename, upload.Branch, upload.DocumentKind)
}

// handleFailure marks the upload failed and decides on redelivery. A
// configuration error can never succeed, so its message is acked; anything
// else is retried until the attempt cap.
func (w *Worker) handleFailure(ctx context.Context, upload domain.Upload, cause error, log *logrus.Entry) error {
	if err := w.uploads.MarkFailed(ctx, upload.ID); err != nil {
		log.WithError(err).Error("failed to mark upload failed")
	}

	var cfgErr domain.ConfigurationError
	if errors.As(cause, &cfgErr) {
		log.WithError(cause).Error("extraction aborted on configuration error")
		return nil
	}

	if upload.ProcessAttempts >= maxAttempts {
		log.WithError(cause).WithField("attempts", upload.ProcessAttempts).Error("extraction failed, attempt cap reached")
		return nil
	}

	log.WithError(cause).Warn("extraction failed, job will be redelivered")
	if w.retryDelay > 0 {
		time.Sleep(w.retryDelay)
	}
	return cause
}

// tryLock obtains a short advisory lock per upload. Failure to lock is never
// fatal; the claim update still serializes correctly.
func (w *Worker) tryLock(ctx context.Context, id uuid.UUID, log *logrus.Entry) func() {
	if w.locker == nil {
		return nil
	}

	lock, err := w.locker.Obtain(ctx, fmt.Sprintf("extract:%s", id), lockTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		log.Debug("extraction lock held elsewhere, relying on ledger claim")
		return nil
	}
	if err != nil {
		log.WithError(err).Warn("could not obtain extraction lock, proceeding without it")
		return nil
	}

	return func() {
		if releaseErr := lock.Release(ctx); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			log.WithError(releaseErr).Warn("failed to release extraction lock")
		}
	}
}

// recordObservations feeds completed extractions into the history aggregates
// the rule engine compares future uploads against. Best-effort: a failure
// here never affects the upload's outcome.
func (w *Worker) recordObservations(ctx context.Context, upload domain.Upload, result extraction.Result, log *logrus.Entry) {
	now := time.Now().UTC()

	switch upload.DocumentKind {
	case domain.KindProcurement:
		prices := []repository.PriceObservation{}
		for _, row := range result.CanonicalRows {
			item, vendor, rawCost := row["item"], row["vendor_name"], row["unit_price"]
			if item == "" || vendor == "" || rawCost == "" {
				continue
			}
			cost, err := decimal.NewFromString(rawCost)
			if err != nil {
				continue
			}
			prices = append(prices, repository.PriceObservation{
				Branch:     upload.Branch,
				Item:       item,
				Vendor:     vendor,
				UnitCost:   cost,
				ObservedAt: now,
			})
		}
		if len(prices) > 0 {
			if err := w.history.RecordPrices(ctx, prices); err != nil {
				log.WithError(err).Warn("failed to record price history")
			}
		}

	case domain.KindInventory:
		movements := []repository.StockObservation{}
		for _, row := range result.CanonicalRows {
			item, rawIssued := row["item"], row["issued"]
			if item == "" || rawIssued == "" {
				continue
			}
			issued, err := decimal.NewFromString(rawIssued)
			if err != nil {
				continue
			}
			movements = append(movements, repository.StockObservation{
				Branch:     upload.Branch,
				Item:       item,
				Issued:     issued,
				ObservedAt: now,
			})
		}
		if len(movements) > 0 {
			if err := w.history.RecordStockMovements(ctx, movements); err != nil {
				log.WithError(err).Warn("failed to record stock history")
			}
		}
	}
}
