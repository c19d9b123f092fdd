package service

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/change-desk-api/internal/models"
	"github.com/noah-isme/change-desk-api/pkg/storage"
)

type attachmentRepoStub struct {
	attachments map[string]*models.Attachment
	failCreate  bool
	nextID      int
}

func newAttachmentRepoStub() *attachmentRepoStub {
	return &attachmentRepoStub{attachments: make(map[string]*models.Attachment)}
}

func (a *attachmentRepoStub) Create(ctx context.Context, att *models.Attachment) error {
	if a.failCreate {
		return sql.ErrConnDone
	}
	a.nextID++
	att.ID = fmt.Sprintf("%s-att-%d", att.RequestID, a.nextID)
	copy := *att
	a.attachments[att.ID] = &copy
	return nil
}

func (a *attachmentRepoStub) GetByID(ctx context.Context, id string) (*models.Attachment, error) {
	if att, ok := a.attachments[id]; ok {
		copy := *att
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (a *attachmentRepoStub) ListByRequest(ctx context.Context, requestID string) ([]models.Attachment, error) {
	result := []models.Attachment{}
	for _, att := range a.attachments {
		if att.RequestID == requestID {
			result = append(result, *att)
		}
	}
	return result, nil
}

func (a *attachmentRepoStub) Delete(ctx context.Context, id string) error {
	if _, ok := a.attachments[id]; !ok {
		return sql.ErrNoRows
	}
	delete(a.attachments, id)
	return nil
}

func newTestAttachmentService(t *testing.T, repo *attachmentRepoStub, requests *requestRepoStub, maxSize int64) (*AttachmentService, *storage.LocalStorage) {
	t.Helper()
	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Minute)
	svc := NewAttachmentService(repo, requests, blobs, signer, &auditStub{}, nil, AttachmentServiceConfig{MaxFileSize: maxSize})
	return svc, blobs
}

func seedRequest(repo *requestRepoStub, id string, status models.RequestStatus) *models.ChangeRequest {
	record := &models.ChangeRequest{
		ID:            id,
		Title:         "t",
		Description:   "d",
		ChangeType:    models.ChangeTypeOther,
		ImpactLevel:   models.ImpactLow,
		ApproverEmail: "ops@example.com",
		Status:        status,
		CreatedBy:     "dev@example.com",
		Version:       1,
	}
	repo.requests[id] = record
	return record
}

func TestAttachmentServiceUploadAndDownload(t *testing.T) {
	requests := newRequestRepoStub()
	seedRequest(requests, "req-1", models.StatusPending)
	repo := newAttachmentRepoStub()
	svc, _ := newTestAttachmentService(t, repo, requests, 1024)

	content := []byte("%PDF-1.4 fake body")
	att, err := svc.Upload(context.Background(), "req-1", AttachmentUpload{
		Filename: "runbook.pdf",
		Size:     int64(len(content)),
		MimeType: "application/pdf",
		Content:  bytes.NewReader(content),
	}, claimsFor("dev@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "runbook.pdf", att.Name)
	assert.Equal(t, "dev@example.com", att.UploadedBy)

	url, err := svc.GetDownloadURL(context.Background(), att.ID, claimsFor("dev@example.com"))
	require.NoError(t, err)
	assert.Contains(t, url, att.ID)

	// Extract the token query parameter for the download round trip.
	idx := bytes.LastIndexByte([]byte(url), '=')
	require.Greater(t, idx, 0)
	download, err := svc.Download(context.Background(), att.ID, url[idx+1:])
	require.NoError(t, err)
	defer download.File.Close() //nolint:errcheck

	body, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Equal(t, content, body)
	assert.Equal(t, "runbook.pdf", download.Filename)
}

func TestAttachmentServiceUploadRequestNotFound(t *testing.T) {
	svc, _ := newTestAttachmentService(t, newAttachmentRepoStub(), newRequestRepoStub(), 1024)

	_, err := svc.Upload(context.Background(), "missing", AttachmentUpload{
		Filename: "f.txt",
		Size:     4,
		MimeType: "text/plain",
		Content:  bytes.NewReader([]byte("data")),
	}, claimsFor("dev@example.com"))
	assert.Equal(t, "NOT_FOUND", errorCode(t, err))
}

func TestAttachmentServiceUploadFrozen(t *testing.T) {
	requests := newRequestRepoStub()
	seedRequest(requests, "req-denied", models.StatusDenied)
	seedRequest(requests, "req-done", models.StatusCompleted)
	seedRequest(requests, "req-impl", models.StatusImplemented)
	svc, _ := newTestAttachmentService(t, newAttachmentRepoStub(), requests, 1024)
	actor := claimsFor("dev@example.com")

	upload := func() AttachmentUpload {
		return AttachmentUpload{
			Filename: "f.txt",
			Size:     4,
			MimeType: "text/plain",
			Content:  bytes.NewReader([]byte("data")),
		}
	}

	_, err := svc.Upload(context.Background(), "req-denied", upload(), actor)
	assert.Equal(t, "INVALID_STATE", errorCode(t, err))

	_, err = svc.Upload(context.Background(), "req-done", upload(), actor)
	assert.Equal(t, "INVALID_STATE", errorCode(t, err))

	// Implemented requests still accept completion evidence.
	_, err = svc.Upload(context.Background(), "req-impl", upload(), actor)
	require.NoError(t, err)
}

func TestAttachmentServiceUploadTooLarge(t *testing.T) {
	requests := newRequestRepoStub()
	seedRequest(requests, "req-1", models.StatusPending)
	svc, _ := newTestAttachmentService(t, newAttachmentRepoStub(), requests, 8)

	_, err := svc.Upload(context.Background(), "req-1", AttachmentUpload{
		Filename: "big.bin",
		Size:     9,
		MimeType: "application/octet-stream",
		Content:  bytes.NewReader(make([]byte, 9)),
	}, claimsFor("dev@example.com"))
	assert.Equal(t, "PAYLOAD_TOO_LARGE", errorCode(t, err))
}

func TestAttachmentServiceUploadCompensatesOnMetadataFailure(t *testing.T) {
	requests := newRequestRepoStub()
	seedRequest(requests, "req-1", models.StatusPending)
	repo := newAttachmentRepoStub()
	repo.failCreate = true
	svc, blobs := newTestAttachmentService(t, repo, requests, 1024)

	_, err := svc.Upload(context.Background(), "req-1", AttachmentUpload{
		Filename: "f.txt",
		Size:     4,
		MimeType: "text/plain",
		Content:  bytes.NewReader([]byte("data")),
	}, claimsFor("dev@example.com"))
	require.Error(t, err)

	// The blob written before the metadata failure must be gone.
	require.NoError(t, blobs.DeletePrefix("req-1"))
}

func TestAttachmentServiceDeleteAuthorization(t *testing.T) {
	requests := newRequestRepoStub()
	seedRequest(requests, "req-1", models.StatusPending)
	repo := newAttachmentRepoStub()
	svc, _ := newTestAttachmentService(t, repo, requests, 1024)

	att, err := svc.Upload(context.Background(), "req-1", AttachmentUpload{
		Filename: "f.txt",
		Size:     4,
		MimeType: "text/plain",
		Content:  bytes.NewReader([]byte("data")),
	}, claimsFor("colleague@example.com"))
	require.NoError(t, err)

	err = svc.Delete(context.Background(), att.ID, claimsFor("intruder@example.com"))
	assert.Equal(t, "NOT_AUTHORIZED", errorCode(t, err))

	// The submitter of the owning request may remove any attachment on it.
	err = svc.Delete(context.Background(), att.ID, claimsFor("dev@example.com"))
	require.NoError(t, err)

	_, err = svc.List(context.Background(), "req-1", claimsFor("dev@example.com"))
	require.NoError(t, err)
	assert.Empty(t, repo.attachments)
}

func TestAttachmentServiceDownloadTokenMismatch(t *testing.T) {
	requests := newRequestRepoStub()
	seedRequest(requests, "req-1", models.StatusPending)
	repo := newAttachmentRepoStub()
	svc, _ := newTestAttachmentService(t, repo, requests, 1024)
	actor := claimsFor("dev@example.com")

	first, err := svc.Upload(context.Background(), "req-1", AttachmentUpload{
		Filename: "a.txt", Size: 1, MimeType: "text/plain", Content: bytes.NewReader([]byte("a")),
	}, actor)
	require.NoError(t, err)
	second, err := svc.Upload(context.Background(), "req-1", AttachmentUpload{
		Filename: "b.txt", Size: 1, MimeType: "text/plain", Content: bytes.NewReader([]byte("b")),
	}, actor)
	require.NoError(t, err)

	url, err := svc.GetDownloadURL(context.Background(), first.ID, actor)
	require.NoError(t, err)
	idx := bytes.LastIndexByte([]byte(url), '=')
	require.Greater(t, idx, 0)

	// A token minted for one attachment must not open another.
	_, err = svc.Download(context.Background(), second.ID, url[idx+1:])
	assert.Equal(t, "NOT_AUTHORIZED", errorCode(t, err))
}
