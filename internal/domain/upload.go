package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Branch identifies the business unit an upload belongs to. Schemas and
// historical baselines are scoped per branch.
type Branch string

const (
	BranchPatiobella Branch = "patiobella"
	BranchEateroo    Branch = "eateroo"
)

// ParseBranch validates a raw branch selector.
func ParseBranch(raw string) (Branch, error) {
	switch Branch(raw) {
	case BranchPatiobella, BranchEateroo:
		return Branch(raw), nil
	}
	return "", ValidationError{Reason: fmt.Sprintf("unknown branch %q", raw)}
}

// DocumentKind is the category of spreadsheet content. Each kind has its own
// canonical schema.
type DocumentKind string

const (
	KindProcurement DocumentKind = "procurement"
	KindInventory   DocumentKind = "inventory"
	KindSales       DocumentKind = "sales"
	KindFinance     DocumentKind = "finance"
	KindPettyCash   DocumentKind = "petty_cash"
)

// ParseDocumentKind validates a raw document kind selector.
func ParseDocumentKind(raw string) (DocumentKind, error) {
	switch DocumentKind(raw) {
	case KindProcurement, KindInventory, KindSales, KindFinance, KindPettyCash:
		return DocumentKind(raw), nil
	}
	return "", ValidationError{Reason: fmt.Sprintf("unknown document kind %q", raw)}
}

// ProcessingStatus tracks an upload through the extraction state machine.
type ProcessingStatus string

const (
	StatusPending      ProcessingStatus = "pending"
	StatusProcessing   ProcessingStatus = "processing"
	StatusCompleted    ProcessingStatus = "completed"
	StatusReviewNeeded ProcessingStatus = "review_needed"
	StatusFailed       ProcessingStatus = "failed"
)

// CanTransition reports whether moving from s to next is a legal state machine
// step. Transitions are monotonic per attempt; failed may be re-driven to
// processing by the queue's retry path.
func (s ProcessingStatus) CanTransition(next ProcessingStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusReviewNeeded || next == StatusFailed
	case StatusFailed:
		return next == StatusProcessing
	}
	return false
}

// Terminal reports whether the status ends an attempt.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusReviewNeeded || s == StatusFailed
}

// Upload is the metadata ledger row for one stored spreadsheet. It is created
// by the gateway, mutated only by the worker, and never deleted.
type Upload struct {
	ID               uuid.UUID        `json:"id"`
	OriginalFilename string           `json:"original_filename"`
	Branch           Branch           `json:"branch"`
	DocumentKind     DocumentKind     `json:"document_kind"`
	BlobKey          string           `json:"blob_key"`
	ContentHash      string           `json:"content_hash"`
	ByteSize         int64            `json:"byte_size"`
	Status           ProcessingStatus `json:"processing_status"`
	ProcessAttempts  int              `json:"process_attempts"`
	AuditScore       *float64         `json:"audit_score,omitempty"`
	AuditDocumentID  *uuid.UUID       `json:"audit_document_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// NewUpload builds a pending ledger row for freshly stored bytes.
func NewUpload(filename string, branch Branch, kind DocumentKind, blobKey, contentHash string, byteSize int64) Upload {
	now := time.Now().UTC()
	return Upload{
		ID:               uuid.New(),
		OriginalFilename: filename,
		Branch:           branch,
		DocumentKind:     kind,
		BlobKey:          blobKey,
		ContentHash:      contentHash,
		ByteSize:         byteSize,
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
