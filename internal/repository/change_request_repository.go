package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/change-desk-api/internal/models"
)

// ChangeRequestRepository provides persistence for change request records.
type ChangeRequestRepository struct {
	db *sqlx.DB
}

// NewChangeRequestRepository constructs the repository.
func NewChangeRequestRepository(db *sqlx.DB) *ChangeRequestRepository {
	return &ChangeRequestRepository{db: db}
}

// Create inserts a new change request and assigns its identifier.
func (r *ChangeRequestRepository) Create(ctx context.Context, req *models.ChangeRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	const query = `INSERT INTO change_requests
	(id, title, description, change_type, impact_level, expected_downtime, rollback_plan, approver_email, status, created_by, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	if _, err := r.db.ExecContext(ctx, query,
		req.ID, req.Title, req.Description, req.ChangeType, req.ImpactLevel,
		req.ExpectedDowntime, req.RollbackPlan, req.ApproverEmail, req.Status,
		req.CreatedBy, req.Version, req.CreatedAt, req.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert change request: %w", err)
	}
	return nil
}

// GetByID fetches one change request. sql.ErrNoRows is passed through.
func (r *ChangeRequestRepository) GetByID(ctx context.Context, id string) (*models.ChangeRequest, error) {
	const query = `SELECT id, title, description, change_type, impact_level, expected_downtime, rollback_plan, approver_email, status, created_by, version, created_at, updated_at
FROM change_requests WHERE id = $1`
	var req models.ChangeRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get change request: %w", err)
	}
	return &req, nil
}

// List returns change requests newest first, honoring optional filters.
func (r *ChangeRequestRepository) List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, title, description, change_type, impact_level, expected_downtime, rollback_plan, approver_email, status, created_by, version, created_at, updated_at
FROM change_requests WHERE 1=1`)

	args := []interface{}{}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		args = append(args, pq.Array(statuses))
		fmt.Fprintf(&query, " AND status = ANY($%d)", len(args))
	}
	if filter.ChangeType != "" {
		args = append(args, filter.ChangeType)
		fmt.Fprintf(&query, " AND change_type = $%d", len(args))
	}
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		fmt.Fprintf(&query, " AND created_by = $%d", len(args))
	}
	if filter.ApproverEmail != "" {
		args = append(args, filter.ApproverEmail)
		fmt.Fprintf(&query, " AND approver_email = $%d", len(args))
	}
	query.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&query, " LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&query, " OFFSET $%d", len(args))
	}

	requests := []models.ChangeRequest{}
	if err := r.db.SelectContext(ctx, &requests, query.String(), args...); err != nil {
		return nil, fmt.Errorf("list change requests: %w", err)
	}
	return requests, nil
}

// UpdateFieldsParams carries an edit of a pending request guarded by version.
type UpdateFieldsParams struct {
	ID               string
	Title            string
	Description      string
	ChangeType       models.ChangeType
	ImpactLevel      models.ImpactLevel
	ExpectedDowntime *string
	RollbackPlan     *string
	UpdatedAt        time.Time
	ExpectedVersion  int
}

// UpdateFields applies a field edit with an optimistic version check. When the
// version no longer matches (or the row is gone) sql.ErrNoRows is returned so
// the caller can distinguish a lost race after reloading.
func (r *ChangeRequestRepository) UpdateFields(ctx context.Context, params UpdateFieldsParams) error {
	const query = `UPDATE change_requests
SET title = $1, description = $2, change_type = $3, impact_level = $4, expected_downtime = $5, rollback_plan = $6, updated_at = $7, version = version + 1
WHERE id = $8 AND version = $9`
	result, err := r.db.ExecContext(ctx, query,
		params.Title, params.Description, params.ChangeType, params.ImpactLevel,
		params.ExpectedDowntime, params.RollbackPlan, params.UpdatedAt,
		params.ID, params.ExpectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update change request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update change request rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateStatusParams carries a status transition guarded by version.
type UpdateStatusParams struct {
	ID              string
	Status          models.RequestStatus
	UpdatedAt       time.Time
	ExpectedVersion int
}

// UpdateStatus performs the compare-and-swap status change. At most one caller
// can win for a given version; losers observe sql.ErrNoRows.
func (r *ChangeRequestRepository) UpdateStatus(ctx context.Context, params UpdateStatusParams) error {
	const query = `UPDATE change_requests
SET status = $1, updated_at = $2, version = version + 1
WHERE id = $3 AND version = $4`
	result, err := r.db.ExecContext(ctx, query, params.Status, params.UpdatedAt, params.ID, params.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("update change request status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update change request status rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes the request. Attachment metadata rows cascade via FK.
func (r *ChangeRequestRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM change_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete change request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete change request rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
