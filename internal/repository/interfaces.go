package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hugamara/sheetaudit/internal/domain"
	"github.com/hugamara/sheetaudit/internal/rules"
)

// UploadFilter narrows List results. Zero values mean no constraint.
type UploadFilter struct {
	Branch       domain.Branch
	DocumentKind domain.DocumentKind
	Status       domain.ProcessingStatus
	Limit        int
	Offset       int
}

// UploadRepository persists the metadata ledger. Rows are inserted once by
// the gateway and mutated only through the claim/complete/fail methods.
type UploadRepository interface {
	Create(ctx context.Context, upload domain.Upload) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.Upload, error)
	List(ctx context.Context, filter UploadFilter) ([]domain.Upload, error)

	// ClaimForProcessing atomically moves a pending or failed row to
	// processing and increments its attempt counter. It reports false when
	// the row is in any other state, which callers treat as "someone else
	// owns it or it is done".
	ClaimForProcessing(ctx context.Context, id uuid.UUID) (domain.Upload, bool, error)

	// CompleteAttempt finalizes a processing row with its score, terminal
	// status, and the extraction document it now points at.
	CompleteAttempt(ctx context.Context, id uuid.UUID, status domain.ProcessingStatus, score float64, documentID uuid.UUID) error

	// MarkFailed moves a processing row to failed.
	MarkFailed(ctx context.Context, id uuid.UUID) error

	// ListStale returns non-terminal rows untouched since the cutoff. The
	// reconciler re-enqueues them.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Upload, error)
}

// AuditAttemptRepository is the append-only audit log. Attempts are never
// updated or deleted.
type AuditAttemptRepository interface {
	Append(ctx context.Context, attempt domain.AuditAttempt) error
	ListByUpload(ctx context.Context, uploadID uuid.UUID) ([]domain.AuditAttempt, error)
}

// ExtractionDocumentRepository stores full extraction results.
type ExtractionDocumentRepository interface {
	Create(ctx context.Context, doc domain.ExtractionDocument) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.ExtractionDocument, error)
	GetLatestByUpload(ctx context.Context, uploadID uuid.UUID) (domain.ExtractionDocument, error)
}

// PriceObservation is one unit-cost data point recorded from a completed
// extraction.
type PriceObservation struct {
	Branch     domain.Branch
	Item       string
	Vendor     string
	UnitCost   decimal.Decimal
	ObservedAt time.Time
}

// StockObservation is one stock-movement data point.
type StockObservation struct {
	Branch     domain.Branch
	Item       string
	Issued     decimal.Decimal
	ObservedAt time.Time
}

// HistoryRepository accumulates the aggregates the rule engine reads. The
// read side implements rules.HistoryProvider.
type HistoryRepository interface {
	RecordPrices(ctx context.Context, observations []PriceObservation) error
	RecordStockMovements(ctx context.Context, observations []StockObservation) error
}

// HistoryStore combines the write side with the rule engine's read side.
type HistoryStore interface {
	HistoryRepository
	rules.HistoryProvider
}
