package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hugamara/sheetaudit/internal/domain"
)

const uploadColumns = `id, original_filename, branch, document_kind, blob_key, content_hash,
	byte_size, processing_status, process_attempts, audit_score, audit_document_id,
	created_at, updated_at`

type uploadRepository struct {
	pool *pgxpool.Pool
}

// NewUploadRepository wires a ledger repository backed by pgxpool.
func NewUploadRepository(pool *pgxpool.Pool) UploadRepository {
	return &uploadRepository{pool: pool}
}

func (r *uploadRepository) Create(ctx context.Context, upload domain.Upload) error {
	if r.pool == nil {
		return fmt.Errorf("upload repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO uploads (id, original_filename, branch, document_kind, blob_key, content_hash,
			byte_size, processing_status, process_attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		upload.ID,
		upload.OriginalFilename,
		string(upload.Branch),
		string(upload.DocumentKind),
		upload.BlobKey,
		upload.ContentHash,
		upload.ByteSize,
		string(upload.Status),
		upload.ProcessAttempts,
		upload.CreatedAt,
		upload.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create upload: %w", err)
	}

	return nil
}

func (r *uploadRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Upload, error) {
	if r.pool == nil {
		return domain.Upload{}, fmt.Errorf("upload repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE id = $1`,
		id,
	)

	upload, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Upload{}, domain.ErrUploadNotFound
		}
		return domain.Upload{}, fmt.Errorf("failed to get upload: %w", err)
	}

	return upload, nil
}

func (r *uploadRepository) List(ctx context.Context, filter UploadFilter) ([]domain.Upload, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("upload repository not initialized")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE 1=1`
	args := []any{}

	if filter.Branch != "" {
		args = append(args, string(filter.Branch))
		query += fmt.Sprintf(" AND branch = $%d", len(args))
	}
	if filter.DocumentKind != "" {
		args = append(args, string(filter.DocumentKind))
		query += fmt.Sprintf(" AND document_kind = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND processing_status = $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	defer rows.Close()

	uploads := []domain.Upload{}
	for rows.Next() {
		upload, scanErr := scanUpload(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", scanErr)
		}
		uploads = append(uploads, upload)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate uploads: %w", rowsErr)
	}

	return uploads, nil
}

func (r *uploadRepository) ClaimForProcessing(ctx context.Context, id uuid.UUID) (domain.Upload, bool, error) {
	if r.pool == nil {
		return domain.Upload{}, false, fmt.Errorf("upload repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`UPDATE uploads
		 SET processing_status = $1,
		     process_attempts = process_attempts + 1,
		     updated_at = now()
		 WHERE id = $2 AND processing_status IN ($3, $4)
		 RETURNING `+uploadColumns,
		string(domain.StatusProcessing),
		id,
		string(domain.StatusPending),
		string(domain.StatusFailed),
	)

	upload, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Upload{}, false, nil
		}
		return domain.Upload{}, false, fmt.Errorf("failed to claim upload: %w", err)
	}

	return upload, true, nil
}

func (r *uploadRepository) CompleteAttempt(ctx context.Context, id uuid.UUID, status domain.ProcessingStatus, score float64, documentID uuid.UUID) error {
	if r.pool == nil {
		return fmt.Errorf("upload repository not initialized")
	}
	if !domain.StatusProcessing.CanTransition(status) {
		return fmt.Errorf("cannot finalize upload with status %q", status)
	}

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE uploads
		 SET processing_status = $1,
		     audit_score = $2,
		     audit_document_id = $3,
		     updated_at = now()
		 WHERE id = $4 AND processing_status = $5`,
		string(status),
		score,
		documentID,
		id,
		string(domain.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to finalize upload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUploadNotFound
	}

	return nil
}

func (r *uploadRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	if r.pool == nil {
		return fmt.Errorf("upload repository not initialized")
	}

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE uploads
		 SET processing_status = $1, updated_at = now()
		 WHERE id = $2 AND processing_status = $3`,
		string(domain.StatusFailed),
		id,
		string(domain.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to mark upload failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUploadNotFound
	}

	return nil
}

func (r *uploadRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Upload, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("upload repository not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+uploadColumns+`
		 FROM uploads
		 WHERE processing_status IN ($1, $2)
		   AND updated_at < $3
		 ORDER BY updated_at ASC
		 LIMIT $4`,
		string(domain.StatusPending),
		string(domain.StatusProcessing),
		cutoff,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale uploads: %w", err)
	}
	defer rows.Close()

	uploads := []domain.Upload{}
	for rows.Next() {
		upload, scanErr := scanUpload(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan stale upload: %w", scanErr)
		}
		uploads = append(uploads, upload)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate stale uploads: %w", rowsErr)
	}

	return uploads, nil
}

func scanUpload(row pgx.Row) (domain.Upload, error) {
	var (
		upload     domain.Upload
		branch     string
		kind       string
		status     string
		score      pgtype.Float8
		documentID pgtype.UUID
		createdAt  pgtype.Timestamptz
		updatedAt  pgtype.Timestamptz
	)

	if err := row.Scan(
		&upload.ID,
		&upload.OriginalFilename,
		&branch,
		&kind,
		&upload.BlobKey,
		&upload.ContentHash,
		&upload.ByteSize,
		&status,
		&upload.ProcessAttempts,
		&score,
		&documentID,
		&createdAt,
		&updatedAt,
	); err != nil {
		return domain.Upload{}, err
	}

	upload.Branch = domain.Branch(branch)
	upload.DocumentKind = domain.DocumentKind(kind)
	upload.Status = domain.ProcessingStatus(status)
	if score.Valid {
		value := score.Float64
		upload.AuditScore = &value
	}
	if documentID.Valid {
		value := uuid.UUID(documentID.Bytes)
		upload.AuditDocumentID = &value
	}
	if createdAt.Valid {
		upload.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		upload.UpdatedAt = updatedAt.Time
	}

	return upload, nil
}
