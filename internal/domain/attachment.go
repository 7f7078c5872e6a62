package domain

import "time"

// Attachment stores metadata for a file uploaded to a ticket. StorageKey is the
// handle returned by the blob store.
type Attachment struct {
	ID          string
	TicketID    string
	UploaderID  string
	FileName    string
	ContentType string
	SizeBytes   int64
	StorageKey  string
	UploadedAt  time.Time
}
