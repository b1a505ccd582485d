package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hugamara/sheetaudit/internal/domain"
)

type auditAttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAuditAttemptRepository wires the append-only audit log backed by pgxpool.
func NewAuditAttemptRepository(pool *pgxpool.Pool) AuditAttemptRepository {
	return &auditAttemptRepository{pool: pool}
}

func (r *auditAttemptRepository) Append(ctx context.Context, attempt domain.AuditAttempt) error {
	if r.pool == nil {
		return fmt.Errorf("audit attempt repository not initialized")
	}

	mappings, err := json.Marshal(attempt.ColumnMappings)
	if err != nil {
		return fmt.Errorf("failed to marshal column mappings: %w", err)
	}
	anomalies, err := json.Marshal(attempt.Anomalies)
	if err != nil {
		return fmt.Errorf("failed to marshal anomalies: %w", err)
	}
	warnings, err := json.Marshal(attempt.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO audit_attempts (id, upload_id, score, column_mappings, anomalies, warnings, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		attempt.ID,
		attempt.UploadID,
		attempt.Score,
		mappings,
		anomalies,
		warnings,
		attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit attempt: %w", err)
	}

	return nil
}

func (r *auditAttemptRepository) ListByUpload(ctx context.Context, uploadID uuid.UUID) ([]domain.AuditAttempt, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("audit attempt repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, upload_id, score, column_mappings, anomalies, warnings, created_at
		 FROM audit_attempts
		 WHERE upload_id = $1
		 ORDER BY created_at ASC`,
		uploadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit attempts: %w", err)
	}
	defer rows.Close()

	attempts := []domain.AuditAttempt{}
	for rows.Next() {
		var (
			attempt   domain.AuditAttempt
			mappings  []byte
			anomalies []byte
			warnings  []byte
			createdAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&attempt.ID,
			&attempt.UploadID,
			&attempt.Score,
			&mappings,
			&anomalies,
			&warnings,
			&createdAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan audit attempt: %w", scanErr)
		}

		if err := json.Unmarshal(mappings, &attempt.ColumnMappings); err != nil {
			return nil, fmt.Errorf("failed to decode column mappings: %w", err)
		}
		if err := json.Unmarshal(anomalies, &attempt.Anomalies); err != nil {
			return nil, fmt.Errorf("failed to decode anomalies: %w", err)
		}
		if err := json.Unmarshal(warnings, &attempt.Warnings); err != nil {
			return nil, fmt.Errorf("failed to decode warnings: %w", err)
		}
		if createdAt.Valid {
			attempt.CreatedAt = createdAt.Time
		}

		attempts = append(attempts, attempt)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate audit attempts: %w", rowsErr)
	}

	return attempts, nil
}
