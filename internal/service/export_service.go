package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/change-desk-api/internal/models"
	appErrors "github.com/noah-isme/change-desk-api/pkg/errors"
	"github.com/noah-isme/change-desk-api/pkg/export"
)

type exportRequestReader interface {
	GetByID(ctx context.Context, id string) (*models.ChangeRequest, error)
}

type documentRenderer interface {
	Render(doc export.Document) ([]byte, error)
}

// ExportResult holds the rendered document and suggested filename.
type ExportResult struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ExportService renders a change request as a portable document. The field
// order is fixed so exported documents stay comparable across requests.
type ExportService struct {
	requests exportRequestReader
	renderer documentRenderer
	logger   *zap.Logger
}

// NewExportService constructs the service.
func NewExportService(requests exportRequestReader, renderer documentRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{requests: requests, renderer: renderer, logger: logger}
}

// Export renders the request as a PDF snapshot of its current state.
func (s *ExportService) Export(ctx context.Context, id string, actor *models.JWTClaims) (*ExportResult, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, wrapCollaborator(err, "failed to load change request")
	}

	doc := export.Document{
		Heading: "Change Request Document",
		Rows:    buildExportRows(request),
	}
	content, err := s.renderer.Render(doc)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status,
			"failed to render document")
	}

	s.logger.Info("change request exported",
		zap.String("request_id", request.ID),
		zap.String("actor", actor.Email))

	return &ExportResult{
		Filename:    fmt.Sprintf("change-request-%s.pdf", request.ID),
		ContentType: "application/pdf",
		Content:     content,
	}, nil
}

// buildExportRows lays out the document fields in their fixed order.
// Absent optional fields render as N/A rather than being dropped.
func buildExportRows(request *models.ChangeRequest) []export.Row {
	return []export.Row{
		{Label: "Title", Value: valueOrNA(request.Title)},
		{Label: "Description", Value: valueOrNA(request.Description)},
		{Label: "Change Type", Value: valueOrNA(request.ChangeType.Label())},
		{Label: "Impact Level", Value: valueOrNA(request.ImpactLevel.Label())},
		{Label: "Expected Downtime", Value: optionalOrNA(request.ExpectedDowntime)},
		{Label: "Rollback Plan", Value: optionalOrNA(request.RollbackPlan)},
		{Label: "Status", Value: valueOrNA(request.Status.Label())},
	}
}

func valueOrNA(v string) string {
	if v == "" {
		return "N/A"
	}
	return v
}

func optionalOrNA(v *string) string {
	if v == nil {
		return "N/A"
	}
	return valueOrNA(*v)
}
