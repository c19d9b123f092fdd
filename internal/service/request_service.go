package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/change-desk-api/internal/dto"
	"github.com/noah-isme/change-desk-api/internal/models"
	"github.com/noah-isme/change-desk-api/internal/repository"
	appErrors "github.com/noah-isme/change-desk-api/pkg/errors"
)

type changeRequestStore interface {
	Create(ctx context.Context, req *models.ChangeRequest) error
	GetByID(ctx context.Context, id string) (*models.ChangeRequest, error)
	List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error)
	UpdateFields(ctx context.Context, params repository.UpdateFieldsParams) error
	UpdateStatus(ctx context.Context, params repository.UpdateStatusParams) error
	Delete(ctx context.Context, id string) error
}

type requestAttachmentLister interface {
	ListByRequest(ctx context.Context, requestID string) ([]models.Attachment, error)
}

type requestBlobSweeper interface {
	DeletePrefix(prefix string) error
}

type requestCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RequestServiceConfig tunes read caching behaviour.
type RequestServiceConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// RequestService owns the change request lifecycle: creation, field edits
// while pending, and the approval state machine. Transitions carry no side
// effects of their own; notification is the caller's concern.
type RequestService struct {
	repo        changeRequestStore
	attachments requestAttachmentLister
	blobs       requestBlobSweeper
	cache       requestCache
	audit       auditLogger
	logger      *zap.Logger
	cfg         RequestServiceConfig
}

// NewRequestService builds a RequestService with sane defaults.
func NewRequestService(
	repo changeRequestStore,
	attachments requestAttachmentLister,
	blobs requestBlobSweeper,
	cache requestCache,
	audit auditLogger,
	logger *zap.Logger,
	cfg RequestServiceConfig,
) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	return &RequestService{
		repo:        repo,
		attachments: attachments,
		blobs:       blobs,
		cache:       cache,
		audit:       audit,
		logger:      logger,
		cfg:         cfg,
	}
}

// Create validates the payload and persists a new pending request.
func (s *RequestService) Create(ctx context.Context, req dto.CreateChangeRequestRequest, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	if actor == nil || actor.Email == "" {
		return nil, appErrors.ErrUnauthorized
	}
	changeType, impactLevel, err := validateRequestFields(req.Title, req.Description, req.ChangeType, req.ImpactLevel)
	if err != nil {
		return nil, err
	}
	approver := strings.TrimSpace(req.Approver)
	if approver == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "approver is required")
	}
	if _, err := mail.ParseAddress(approver); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "approver must be a valid email address")
	}

	now := time.Now().UTC()
	record := &models.ChangeRequest{
		Title:            strings.TrimSpace(req.Title),
		Description:      strings.TrimSpace(req.Description),
		ChangeType:       changeType,
		ImpactLevel:      impactLevel,
		ExpectedDowntime: normalizeOptional(req.ExpectedDowntime),
		RollbackPlan:     normalizeOptional(req.RollbackPlan),
		ApproverEmail:    approver,
		Status:           models.StatusPending,
		CreatedBy:        actor.Email,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
		Attachments:      []models.Attachment{},
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, wrapCollaborator(err, "failed to create change request")
	}

	s.emitAudit(ctx, actor, models.AuditActionRequestCreate, record.ID, nil, record)
	return record, nil
}

// Get returns one request with its attachments embedded.
func (s *RequestService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if s.cache != nil && s.cfg.CacheEnabled {
		var cached models.ChangeRequest
		hit, err := s.cache.Get(ctx, requestCacheKey(id), &cached)
		if err != nil {
			s.logger.Warn("request cache read failed", zap.Error(err), zap.String("request_id", id))
		} else if hit {
			return &cached, nil
		}
	}

	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	attachments, err := s.attachments.ListByRequest(ctx, id)
	if err != nil {
		return nil, wrapCollaborator(err, "failed to list attachments")
	}
	record.Attachments = attachments

	if s.cache != nil && s.cfg.CacheEnabled {
		if err := s.cache.Set(ctx, requestCacheKey(id), record, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("request cache write failed", zap.Error(err), zap.String("request_id", id))
		}
	}
	return record, nil
}

// List returns requests newest first with attachments embedded.
func (s *RequestService) List(ctx context.Context, query dto.ChangeRequestQuery, actor *models.JWTClaims) ([]models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.ChangeRequestFilter{
		Status: query.Status,
		Limit:  query.Limit,
		Offset: query.Offset,
	}
	if query.ChangeType != "" {
		changeType := models.ChangeType(strings.ToUpper(strings.TrimSpace(query.ChangeType)))
		if !changeType.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "changeType is not a known category")
		}
		filter.ChangeType = changeType
	}
	if query.Mine {
		filter.CreatedBy = actor.Email
	}
	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, wrapCollaborator(err, "failed to list change requests")
	}
	for i := range requests {
		attachments, err := s.attachments.ListByRequest(ctx, requests[i].ID)
		if err != nil {
			return nil, wrapCollaborator(err, "failed to list attachments")
		}
		requests[i].Attachments = attachments
	}
	return requests, nil
}

// Transition moves a request along the approval state machine and reports the
// status it moved from. Only the designated approver may transition; losers of
// a concurrent race get CONFLICT and must reload.
func (s *RequestService) Transition(ctx context.Context, id string, targetRaw string, actor *models.JWTClaims) (*models.ChangeRequest, models.RequestStatus, error) {
	if actor == nil || actor.Email == "" {
		return nil, "", appErrors.ErrUnauthorized
	}
	target := models.RequestStatus(strings.ToUpper(strings.TrimSpace(targetRaw)))
	if !target.Valid() {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "status is not a known lifecycle state")
	}

	record, err := s.load(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !strings.EqualFold(actor.Email, record.ApproverEmail) {
		return nil, "", appErrors.Clone(appErrors.ErrNotAuthorized, "only the designated approver may change status")
	}
	if !record.Status.CanTransitionTo(target) {
		return nil, "", appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot move from %s to %s", record.Status.Label(), target.Label()))
	}

	now := time.Now().UTC()
	err = s.repo.UpdateStatus(ctx, repository.UpdateStatusParams{
		ID:              record.ID,
		Status:          target,
		UpdatedAt:       now,
		ExpectedVersion: record.Version,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.Clone(appErrors.ErrConflict, "request changed concurrently, reload and retry")
		}
		return nil, "", wrapCollaborator(err, "failed to update request status")
	}

	previous := record.Status
	record.Status = target
	record.UpdatedAt = now
	record.Version++
	s.invalidate(ctx, record.ID)
	s.emitAudit(ctx, actor, models.AuditActionRequestTransition, record.ID,
		map[string]string{"status": string(previous)},
		map[string]string{"status": string(target)},
	)
	return record, previous, nil
}

// Update edits request fields. Permitted only while pending and only for the
// submitter; approver and status are immutable here.
func (s *RequestService) Update(ctx context.Context, id string, req dto.UpdateChangeRequestRequest, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	if actor == nil || actor.Email == "" {
		return nil, appErrors.ErrUnauthorized
	}
	changeType, impactLevel, err := validateRequestFields(req.Title, req.Description, req.ChangeType, req.ImpactLevel)
	if err != nil {
		return nil, err
	}

	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(actor.Email, record.CreatedBy) {
		return nil, appErrors.Clone(appErrors.ErrNotAuthorized, "only the submitter may edit the request")
	}
	if record.Status != models.StatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "request can only be edited while pending")
	}

	now := time.Now().UTC()
	params := repository.UpdateFieldsParams{
		ID:               record.ID,
		Title:            strings.TrimSpace(req.Title),
		Description:      strings.TrimSpace(req.Description),
		ChangeType:       changeType,
		ImpactLevel:      impactLevel,
		ExpectedDowntime: normalizeOptional(req.ExpectedDowntime),
		RollbackPlan:     normalizeOptional(req.RollbackPlan),
		UpdatedAt:        now,
		ExpectedVersion:  record.Version,
	}
	if err := s.repo.UpdateFields(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "request changed concurrently, reload and retry")
		}
		return nil, wrapCollaborator(err, "failed to update change request")
	}

	record.Title = params.Title
	record.Description = params.Description
	record.ChangeType = params.ChangeType
	record.ImpactLevel = params.ImpactLevel
	record.ExpectedDowntime = params.ExpectedDowntime
	record.RollbackPlan = params.RollbackPlan
	record.UpdatedAt = now
	record.Version++
	s.invalidate(ctx, record.ID)
	s.emitAudit(ctx, actor, models.AuditActionRequestUpdate, record.ID, nil, record)
	return record, nil
}

// Delete removes a request. Attachment metadata cascades via foreign key and
// the blobs are swept from storage so nothing dangles.
func (s *RequestService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil || actor.Email == "" {
		return appErrors.ErrUnauthorized
	}
	record, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actor.Email, record.CreatedBy) {
		return appErrors.Clone(appErrors.ErrNotAuthorized, "only the submitter may delete the request")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return wrapCollaborator(err, "failed to delete change request")
	}
	if s.blobs != nil {
		if err := s.blobs.DeletePrefix(id); err != nil {
			s.logger.Warn("attachment blobs left behind after request delete",
				zap.Error(err), zap.String("request_id", id))
		}
	}
	s.invalidate(ctx, id)
	s.emitAudit(ctx, actor, models.AuditActionRequestDelete, id, record, nil)
	return nil
}

func (s *RequestService) load(ctx context.Context, id string) (*models.ChangeRequest, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, wrapCollaborator(err, "failed to load change request")
	}
	return record, nil
}

func (s *RequestService) invalidate(ctx context.Context, id string) {
	if s.cache == nil || !s.cfg.CacheEnabled {
		return
	}
	if err := s.cache.Delete(ctx, requestCacheKey(id)); err != nil {
		s.logger.Warn("request cache invalidation failed", zap.Error(err), zap.String("request_id", id))
	}
}

func (s *RequestService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID string, oldValues, newValues interface{}) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:     action,
		Resource:   "change_request",
		ResourceID: &resourceID,
		IPAddress:  "system",
		UserAgent:  "request-service",
	}
	if actor != nil {
		userID := actor.UserID
		log.UserID = &userID
	}
	if oldValues != nil {
		if raw, err := json.Marshal(oldValues); err == nil {
			log.OldValues = raw
		}
	}
	if newValues != nil {
		if raw, err := json.Marshal(newValues); err == nil {
			log.NewValues = raw
		}
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to create request audit", zap.Error(err))
	}
}

// validateRequestFields checks the shared create/edit fields, reporting every
// offending field in one message.
func validateRequestFields(title, description, changeTypeRaw, impactLevelRaw string) (models.ChangeType, models.ImpactLevel, error) {
	missing := []string{}
	if strings.TrimSpace(title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(changeTypeRaw) == "" {
		missing = append(missing, "changeType")
	}
	if strings.TrimSpace(impactLevelRaw) == "" {
		missing = append(missing, "impactLevel")
	}
	if len(missing) > 0 {
		return "", "", appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("%s required", strings.Join(missing, ", ")))
	}

	changeType := models.ChangeType(strings.ToUpper(strings.TrimSpace(changeTypeRaw)))
	if !changeType.Valid() {
		return "", "", appErrors.Clone(appErrors.ErrValidation, "changeType is not a known category")
	}
	impactLevel := models.ImpactLevel(strings.ToUpper(strings.TrimSpace(impactLevelRaw)))
	if !impactLevel.Valid() {
		return "", "", appErrors.Clone(appErrors.ErrValidation, "impactLevel is not a known level")
	}
	return changeType, impactLevel, nil
}

func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func requestCacheKey(id string) string {
	return "change_request:" + id
}
