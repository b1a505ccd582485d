package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/hugamara/sheetaudit/internal/domain"
	"github.com/hugamara/sheetaudit/internal/queue"
	"github.com/hugamara/sheetaudit/internal/repository"
)

const (
	defaultSweepSchedule = "@every 5m"
	defaultStaleAfter    = 15 * time.Minute
	sweepBatchSize       = 50
	sweepTimeout         = time.Minute
)

// Reconciler re-enqueues uploads whose jobs were lost: rows that stayed
// pending because the publish failed, and rows stuck processing after a
// worker died. Stuck processing rows are flipped to failed first so the next
// claim can pick them up.
type Reconciler struct {
	uploads    repository.UploadRepository
	publisher  queue.Publisher
	logger     *logrus.Logger
	staleAfter time.Duration
	cron       *cron.Cron
}

// NewReconciler wires the sweep. staleAfter <= 0 uses the default window.
func NewReconciler(uploads repository.UploadRepository, publisher queue.Publisher, staleAfter time.Duration, logger *logrus.Logger) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &Reconciler{
		uploads:    uploads,
		publisher:  publisher,
		logger:     logger,
		staleAfter: staleAfter,
	}
}

// Start schedules the sweep and runs one immediately to catch jobs lost
// before the last restart.
func (r *Reconciler) Start() error {
	r.cron = cron.New()
	if _, err := r.cron.AddFunc(defaultSweepSchedule, r.runSweep); err != nil {
		return err
	}
	r.cron.Start()
	go r.runSweep()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

func (r *Reconciler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if err := r.Sweep(ctx); err != nil {
		r.logger.WithError(err).Error("reconciler sweep failed")
	}
}

// Sweep performs one pass over stale rows.
func (r *Reconciler) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.staleAfter)

	stale, err := r.uploads.ListStale(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return err
	}

	for _, upload := range stale {
		log := r.logger.WithFields(logrus.Fields{
			"upload_id": upload.ID,
			"status":    upload.Status,
		})

		if upload.Status == domain.StatusProcessing {
			if err := r.uploads.MarkFailed(ctx, upload.ID); err != nil {
				log.WithError(err).Warn("failed to release stuck upload")
				continue
			}
		}

		err := r.publisher.Publish(ctx, queue.Job{
			UploadID:     upload.ID.String(),
			Branch:       string(upload.Branch),
			DocumentKind: string(upload.DocumentKind),
		})
		if err != nil {
			log.WithError(err).Warn("failed to re-enqueue stale upload")
			continue
		}
		log.Info("stale upload re-enqueued")
	}

	return nil
}
