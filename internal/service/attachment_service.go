package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/change-desk-api/internal/models"
	appErrors "github.com/noah-isme/change-desk-api/pkg/errors"
)

type attachmentStore interface {
	Create(ctx context.Context, att *models.Attachment) error
	GetByID(ctx context.Context, id string) (*models.Attachment, error)
	ListByRequest(ctx context.Context, requestID string) ([]models.Attachment, error)
	Delete(ctx context.Context, id string) error
}

type attachmentRequestReader interface {
	GetByID(ctx context.Context, id string) (*models.ChangeRequest, error)
}

type attachmentBlobStorage interface {
	SaveStream(key string, r io.Reader) (string, error)
	Open(key string) (*os.File, error)
	Delete(key string) error
}

type attachmentSignedURLSigner interface {
	Generate(attachmentID, key string) (string, time.Time, error)
	Parse(token string) (attachmentID, key string, expiresAt time.Time, err error)
}

// AttachmentUpload carries upload metadata and the stream reader.
type AttachmentUpload struct {
	Filename string
	Size     int64
	MimeType string
	Content  io.ReadSeeker
}

// AttachmentDownload bundles a blob reader with metadata for streaming.
type AttachmentDownload struct {
	File      *os.File
	Filename  string
	MimeType  string
	SizeBytes int64
	ExpiresAt time.Time
}

// AttachmentServiceConfig holds validation parameters.
type AttachmentServiceConfig struct {
	MaxFileSize int64
	APIPrefix   string
}

// AttachmentService keeps attachment metadata and blobs consistent: both are
// written together and deleted together, and a partial failure is reported
// rather than hidden.
type AttachmentService struct {
	repo     attachmentStore
	requests attachmentRequestReader
	storage  attachmentBlobStorage
	signer   attachmentSignedURLSigner
	audit    auditLogger
	logger   *zap.Logger
	cfg      AttachmentServiceConfig
}

// NewAttachmentService constructs the service with defaults.
func NewAttachmentService(
	repo attachmentStore,
	requests attachmentRequestReader,
	storage attachmentBlobStorage,
	signer attachmentSignedURLSigner,
	audit auditLogger,
	logger *zap.Logger,
	cfg AttachmentServiceConfig,
) *AttachmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	return &AttachmentService{
		repo:     repo,
		requests: requests,
		storage:  storage,
		signer:   signer,
		audit:    audit,
		logger:   logger,
		cfg:      cfg,
	}
}

// Upload stores a blob and its metadata for an existing, non-frozen request.
// Attachments stay open through IMPLEMENTED and freeze at DENIED/COMPLETED.
func (s *AttachmentService) Upload(ctx context.Context, requestID string, upload AttachmentUpload, actor *models.JWTClaims) (*models.Attachment, error) {
	if actor == nil || actor.Email == "" {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, wrapCollaborator(err, "failed to load change request")
	}
	if request.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("attachments are frozen once the request is %s", request.Status.Label()))
	}
	if upload.Content == nil || upload.Size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if upload.Size > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge,
			fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}
	mimeType, err := s.detectMime(upload)
	if err != nil {
		return nil, err
	}

	key := s.blobKey(requestID, upload.Filename)
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	if _, err := s.storage.SaveStream(key, upload.Content); err != nil {
		return nil, wrapCollaborator(err, "failed to persist attachment blob")
	}

	att := &models.Attachment{
		RequestID:  requestID,
		Name:       filepath.Base(upload.Filename),
		FilePath:   key,
		MimeType:   mimeType,
		SizeBytes:  upload.Size,
		UploadedBy: actor.Email,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, att); err != nil {
		if cleanupErr := s.storage.Delete(key); cleanupErr != nil {
			s.logger.Error("orphan blob left after metadata failure",
				zap.Error(cleanupErr), zap.String("key", key))
		}
		return nil, wrapCollaborator(err, "failed to create attachment metadata")
	}

	s.emitAudit(ctx, actor, models.AuditActionAttachmentUpload, att.ID, att.RequestID)
	return att, nil
}

// List returns a request's attachments in upload order.
func (s *AttachmentService) List(ctx context.Context, requestID string, actor *models.JWTClaims) ([]models.Attachment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, wrapCollaborator(err, "failed to load change request")
	}
	attachments, err := s.repo.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, wrapCollaborator(err, "failed to list attachments")
	}
	return attachments, nil
}

// GetDownloadURL generates a signed URL for downloading the blob.
func (s *AttachmentService) GetDownloadURL(ctx context.Context, id string, actor *models.JWTClaims) (string, error) {
	if actor == nil {
		return "", appErrors.ErrUnauthorized
	}
	att, err := s.loadAttachment(ctx, id)
	if err != nil {
		return "", err
	}
	token, _, err := s.signer.Generate(att.ID, att.FilePath)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	return fmt.Sprintf("%s/attachments/%s/download?token=%s", base, att.ID, token), nil
}

// Download validates the token and opens the blob for streaming.
func (s *AttachmentService) Download(ctx context.Context, id, token string) (*AttachmentDownload, error) {
	att, err := s.loadAttachment(ctx, id)
	if err != nil {
		return nil, err
	}
	attachmentID, key, expiresAt, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotAuthorized, "invalid or expired token")
	}
	if attachmentID != att.ID || key != att.FilePath {
		return nil, appErrors.Clone(appErrors.ErrNotAuthorized, "token mismatch")
	}
	file, err := s.storage.Open(key)
	if err != nil {
		return nil, wrapCollaborator(err, "failed to open attachment blob")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat attachment blob")
	}
	return &AttachmentDownload{
		File:      file,
		Filename:  att.Name,
		MimeType:  att.MimeType,
		SizeBytes: info.Size(),
		ExpiresAt: expiresAt,
	}, nil
}

// Delete removes metadata and blob together. Only the uploader or the owning
// request's submitter may delete. A blob that survives metadata deletion is
// reported as a recoverable inconsistency, never swallowed.
func (s *AttachmentService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil || actor.Email == "" {
		return appErrors.ErrUnauthorized
	}
	att, err := s.loadAttachment(ctx, id)
	if err != nil {
		return err
	}
	request, err := s.requests.GetByID(ctx, att.RequestID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return wrapCollaborator(err, "failed to load change request")
	}
	allowed := strings.EqualFold(actor.Email, att.UploadedBy)
	if !allowed && request != nil {
		allowed = strings.EqualFold(actor.Email, request.CreatedBy)
	}
	if !allowed {
		return appErrors.Clone(appErrors.ErrNotAuthorized, "only the uploader or the submitter may delete the attachment")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return wrapCollaborator(err, "failed to delete attachment metadata")
	}
	if err := s.storage.Delete(att.FilePath); err != nil {
		s.logger.Error("attachment blob not removed, cleanup required",
			zap.Error(err), zap.String("attachment_id", id), zap.String("key", att.FilePath))
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status,
			"attachment removed but blob cleanup failed")
	}
	s.emitAudit(ctx, actor, models.AuditActionAttachmentDelete, id, att.RequestID)
	return nil
}

func (s *AttachmentService) loadAttachment(ctx context.Context, id string) (*models.Attachment, error) {
	att, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, wrapCollaborator(err, "failed to load attachment")
	}
	return att, nil
}

func (s *AttachmentService) detectMime(upload AttachmentUpload) (string, error) {
	if upload.MimeType != "" {
		return upload.MimeType, nil
	}
	header := make([]byte, 512)
	n, err := upload.Content.Read(header)
	if err != nil && err != io.EOF {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect file")
	}
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	if n == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "empty file")
	}
	return http.DetectContentType(header[:n]), nil
}

// blobKey scopes every blob under its request so deletes can cascade by prefix.
func (s *AttachmentService) blobKey(requestID, original string) string {
	name := sanitizeFilename(filepath.Base(original))
	if name == "" {
		name = "attachment"
	}
	return fmt.Sprintf("%s/%s_%s", requestID, uuid.NewString()[:8], name)
}

func sanitizeFilename(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "._")
}

func (s *AttachmentService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, attachmentID, requestID string) {
	if s.audit == nil {
		return
	}
	userID := actor.UserID
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "attachment",
		ResourceID: &attachmentID,
		NewValues:  []byte(fmt.Sprintf(`{"request_id":%q}`, requestID)),
		IPAddress:  "system",
		UserAgent:  "attachment-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to create attachment audit", zap.Error(err))
	}
}
