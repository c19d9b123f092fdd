package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/change-desk-api/internal/models"
)

// AttachmentRepository provides persistence for attachment metadata.
type AttachmentRepository struct {
	db *sqlx.DB
}

// NewAttachmentRepository constructs the repository.
func NewAttachmentRepository(db *sqlx.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// Create inserts attachment metadata and assigns its identifier.
func (r *AttachmentRepository) Create(ctx context.Context, att *models.Attachment) error {
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	const query = `INSERT INTO attachments (id, request_id, name, file_path, mime_type, size_bytes, uploaded_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(ctx, query,
		att.ID, att.RequestID, att.Name, att.FilePath, att.MimeType, att.SizeBytes, att.UploadedBy, att.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

// GetByID fetches one attachment. sql.ErrNoRows is passed through.
func (r *AttachmentRepository) GetByID(ctx context.Context, id string) (*models.Attachment, error) {
	const query = `SELECT id, request_id, name, file_path, mime_type, size_bytes, uploaded_by, created_at
FROM attachments WHERE id = $1`
	var att models.Attachment
	if err := r.db.GetContext(ctx, &att, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return &att, nil
}

// ListByRequest returns a request's attachments in upload order.
func (r *AttachmentRepository) ListByRequest(ctx context.Context, requestID string) ([]models.Attachment, error) {
	const query = `SELECT id, request_id, name, file_path, mime_type, size_bytes, uploaded_by, created_at
FROM attachments WHERE request_id = $1 ORDER BY created_at ASC, id ASC`
	attachments := []models.Attachment{}
	if err := r.db.SelectContext(ctx, &attachments, query, requestID); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return attachments, nil
}

// Delete removes attachment metadata.
func (r *AttachmentRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete attachment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
