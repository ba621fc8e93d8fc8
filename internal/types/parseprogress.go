package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ParseProgress always holds the latest pipeline stage for a material. It is
// written before and after every external call so a crash mid-call leaves an
// observable last-known stage.
type ParseProgress struct {
	MaterialID uuid.UUID      `gorm:"type:uuid;primaryKey" json:"material_id"`
	Stage      string         `gorm:"column:stage;not null" json:"stage"`
	Fraction   *float64       `gorm:"column:fraction" json:"fraction,omitempty"`
	Extras     datatypes.JSON `gorm:"column:extras;type:jsonb" json:"extras,omitempty"`
	UpdatedAt  time.Time      `gorm:"not null" json:"updated_at"`
}

func (ParseProgress) TableName() string { return "parse_progress" }

// ParseError records which stage failed and the raw upstream error text for
// the material's most recent failed parse.
type ParseError struct {
	MaterialID uuid.UUID `gorm:"type:uuid;primaryKey" json:"material_id"`
	Stage      string    `gorm:"column:stage;not null" json:"stage"`
	RawError   string    `gorm:"column:raw_error;type:text;not null" json:"raw_error"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

func (ParseError) TableName() string { return "parse_error" }
