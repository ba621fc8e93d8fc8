package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Chunk kinds as persisted in the chunk log.
const (
	ChunkKindText     = "text"
	ChunkKindTable    = "table_text"
	ChunkKindCaption  = "caption"
	ChunkKindSubtitle = "subtitle"
)

// MaterialChunk is one atomic extracted content unit. Chunks are immutable
// once written; Seq is the write order and the display order. ChunkID is the
// material-local id ("p3", "t1", "s12", "img_caption", ...).
type MaterialChunk struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	MaterialID uuid.UUID      `gorm:"type:uuid;not null;index" json:"material_id"`
	Seq        int            `gorm:"column:seq;not null" json:"seq"`
	ChunkID    string         `gorm:"column:chunk_id;not null" json:"chunk_id"`
	Kind       string         `gorm:"column:kind;not null" json:"kind"`
	Text       string         `gorm:"column:text;not null" json:"text"`
	Loc        datatypes.JSON `gorm:"column:loc;type:jsonb" json:"loc"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
}

func (MaterialChunk) TableName() string { return "material_chunk" }
