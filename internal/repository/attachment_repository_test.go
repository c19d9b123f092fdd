package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/change-desk-api/internal/models"
)

func TestAttachmentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttachmentRepository(db)

	att := &models.Attachment{
		RequestID:  "req-1",
		Name:       "maintenance-window.pdf",
		FilePath:   "req-1/maintenance-window.pdf",
		MimeType:   "application/pdf",
		SizeBytes:  2048,
		UploadedBy: "alice@example.com",
		CreatedAt:  time.Now().UTC(),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO attachments")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Create(context.Background(), att)
	require.NoError(t, err)
	assert.NotEmpty(t, att.ID)
}

func TestAttachmentRepositoryListByRequestOrder(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttachmentRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "request_id", "name", "file_path", "mime_type", "size_bytes", "uploaded_by", "created_at"}).
		AddRow("att-1", "req-1", "first.pdf", "req-1/first.pdf", "application/pdf", 100, "alice", now.Add(-time.Minute)).
		AddRow("att-2", "req-1", "second.pdf", "req-1/second.pdf", "application/pdf", 200, "bob", now)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at ASC")).
		WithArgs("req-1").
		WillReturnRows(rows)

	attachments, err := repo.ListByRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, attachments, 2)
	assert.Equal(t, "first.pdf", attachments[0].Name)
	assert.Equal(t, "second.pdf", attachments[1].Name)
}

func TestAttachmentRepositoryListByRequestEmpty(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttachmentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "request_id", "name", "file_path", "mime_type", "size_bytes", "uploaded_by", "created_at"})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("req-empty").
		WillReturnRows(rows)

	attachments, err := repo.ListByRequest(context.Background(), "req-empty")
	require.NoError(t, err)
	assert.Empty(t, attachments)
	assert.NotNil(t, attachments)
}

func TestAttachmentRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttachmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM attachments")).
		WithArgs("att-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "att-missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
