package domain

import "time"

// DocumentStatus represents the processing status of an evidence document.
// Values include DocumentStatusPending, DocumentStatusExtracted, and
// DocumentStatusFailed.
type DocumentStatus string

const (
	DocumentStatusPending   DocumentStatus = "pending"
	DocumentStatusExtracted DocumentStatus = "extracted"
	DocumentStatusFailed    DocumentStatus = "failed"
)

// Document represents an uploaded piece of evidence: a police report scan,
// witness statement, photo, or any other file attached to a case. The raw
// bytes live in object storage under StorageKey; ExtractedText holds the
// text recovered by the extraction pipeline.
type Document struct {
	ID            string         `gorm:"type:text;primaryKey" json:"id"`
	CaseID        string         `gorm:"type:text;not null;index" json:"case_id"`
	FileName      string         `gorm:"type:text;not null" json:"file_name"`
	StorageKey    string         `gorm:"type:text" json:"storage_key"`
	ContentType   string         `gorm:"type:text" json:"content_type"`
	FileSize      int64          `json:"file_size"`
	SHA256        string         `gorm:"column:sha256;uniqueIndex:idx_documents_sha256" json:"sha256"`
	Width         int            `json:"width,omitempty"`
	Height        int            `json:"height,omitempty"`
	ExtractedText string         `gorm:"type:text" json:"extracted_text,omitempty"`
	Status        DocumentStatus `gorm:"type:text;index;default:pending" json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Document.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Document) TableName() string {
	return "documents"
}
