package models

import "time"

// Attachment is a supporting file owned by exactly one change request. The
// metadata row and the blob behind FilePath are created and deleted together.
type Attachment struct {
	ID         string    `db:"id" json:"id"`
	RequestID  string    `db:"request_id" json:"requestId"`
	Name       string    `db:"name" json:"name"`
	FilePath   string    `db:"file_path" json:"-"`
	MimeType   string    `db:"mime_type" json:"mimeType"`
	SizeBytes  int64     `db:"size_bytes" json:"sizeBytes"`
	UploadedBy string    `db:"uploaded_by" json:"uploadedBy"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}
