package domain

import (
	"time"

	"github.com/google/uuid"
)

// ColumnMapping records how one canonical field was matched against the
// observed headers. Original is nil when no header matched.
type ColumnMapping struct {
	Original   *string `json:"original"`
	Canonical  string  `json:"mapped_to"`
	Confidence float64 `json:"confidence"`
}

// Mapped reports whether a source header was found for the canonical field.
func (m ColumnMapping) Mapped() bool {
	return m.Original != nil
}

// Severity classifies an alert. The set is closed.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a business anomaly flagged by the rule engine. Immutable once
// created except for the acknowledged flag, which an external reviewer flips.
type Alert struct {
	ID           uuid.UUID `json:"id"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
}

// NewAlert creates an unacknowledged alert.
func NewAlert(severity Severity, message string) Alert {
	return Alert{
		ID:        uuid.New(),
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// ExtractedRow holds one materialized data row keyed by sanitized header name.
type ExtractedRow map[string]string

// AuditAttempt is one append-only audit-log row per processing attempt. Never
// mutated after insert; an upload accumulates attempts across retries.
type AuditAttempt struct {
	ID             uuid.UUID       `json:"id"`
	UploadID       uuid.UUID       `json:"upload_id"`
	Score          float64         `json:"score"`
	ColumnMappings []ColumnMapping `json:"column_mappings"`
	Anomalies      []Alert         `json:"anomalies"`
	Warnings       []string        `json:"warnings"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ExtractionDocument is the full result of one extraction attempt. Immutable
// once written; the ledger's audit document id points at the current one.
type ExtractionDocument struct {
	ID                uuid.UUID          `json:"id"`
	UploadID          uuid.UUID          `json:"upload_id"`
	BlobKey           string             `json:"blob_key"`
	OverallConfidence float64            `json:"overall_confidence"`
	FieldConfidence   map[string]float64 `json:"field_confidence"`
	ColumnMappings    []ColumnMapping    `json:"column_mappings"`
	Rows              []ExtractedRow     `json:"extracted_rows"`
	Anomalies         []Alert            `json:"anomalies"`
	Warnings          []string           `json:"warnings"`
	CreatedAt         time.Time          `json:"created_at"`
}
