package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Material lifecycle statuses. Transitions move forward only:
// uploaded -> queued -> processing -> {ready, failed, cancelled}.
// An explicit reparse re-enters processing from ready or failed.
const (
	StatusUploaded   = "uploaded"
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Material is one uploaded source file tracked through parsing. The parse
// orchestrator owns all status mutations; deletion is an administrative
// operation outside the parse pipeline.
type Material struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OriginalName    string         `gorm:"column:original_name;not null" json:"original_name"`
	MimeType        string         `gorm:"column:mime_type" json:"mime_type"`
	Suffix          string         `gorm:"column:suffix" json:"suffix"`
	SizeBytes       int64          `gorm:"column:size_bytes" json:"size_bytes"`
	Status          string         `gorm:"column:status;not null;default:'uploaded'" json:"status"`
	CancelRequested bool           `gorm:"column:cancel_requested;not null;default:false" json:"cancel_requested"`
	ParsedMarkdown  string         `gorm:"column:parsed_markdown;type:text" json:"parsed_markdown,omitempty"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Material) TableName() string { return "material" }
