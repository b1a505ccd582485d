package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hugamara/sheetaudit/internal/domain"
)

// extractionDocumentRepository stores each attempt's full result as one JSONB
// document row. Rows are written once; superseded documents stay queryable by
// id but GetLatestByUpload always reflects the newest attempt.
type extractionDocumentRepository struct {
	pool *pgxpool.Pool
}

// NewExtractionDocumentRepository wires the document store backed by pgxpool.
func NewExtractionDocumentRepository(pool *pgxpool.Pool) ExtractionDocumentRepository {
	return &extractionDocumentRepository{pool: pool}
}

func (r *extractionDocumentRepository) Create(ctx context.Context, doc domain.ExtractionDocument) error {
	if r.pool == nil {
		return fmt.Errorf("extraction document repository not initialized")
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal extraction document: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO extraction_documents (id, upload_id, body, created_at)
		 VALUES ($1, $2, $3, $4)`,
		doc.ID,
		doc.UploadID,
		body,
		doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create extraction document: %w", err)
	}

	return nil
}

func (r *extractionDocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ExtractionDocument, error) {
	if r.pool == nil {
		return domain.ExtractionDocument{}, fmt.Errorf("extraction document repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT body, created_at FROM extraction_documents WHERE id = $1`,
		id,
	)
	return scanDocument(row)
}

func (r *extractionDocumentRepository) GetLatestByUpload(ctx context.Context, uploadID uuid.UUID) (domain.ExtractionDocument, error) {
	if r.pool == nil {
		return domain.ExtractionDocument{}, fmt.Errorf("extraction document repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT body, created_at
		 FROM extraction_documents
		 WHERE upload_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		uploadID,
	)
	return scanDocument(row)
}

func scanDocument(row pgx.Row) (domain.ExtractionDocument, error) {
	var (
		body      []byte
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(&body, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExtractionDocument{}, domain.ErrAuditNotFound
		}
		return domain.ExtractionDocument{}, fmt.Errorf("failed to get extraction document: %w", err)
	}

	var doc domain.ExtractionDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return domain.ExtractionDocument{}, fmt.Errorf("failed to decode extraction document: %w", err)
	}
	if createdAt.Valid {
		doc.CreatedAt = createdAt.Time
	}

	return doc, nil
}
