package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/9963KK/aiedu-backend/internal/apierr"
	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/repos"
	"github.com/9963KK/aiedu-backend/internal/types"
)

// WriteMode controls what a chunk write does to content already stored for
// the material.
type WriteMode int

const (
	// WriteReplace discards previously stored chunks and markdown first.
	// Document parses use it so a re-parse never duplicates pages.
	WriteReplace WriteMode = iota
	// WriteAppend keeps existing content and continues the sequence after
	// it. Audio and image parses add to whatever is already there.
	WriteAppend
)

// ChunkInput is one extracted chunk before it gets a row id and sequence.
type ChunkInput struct {
	ChunkID string
	Kind    string
	Text    string
	Loc     map[string]interface{}
}

// ChunkStore is the only writer of material chunks and of the concatenated
// markdown column. A Write lands atomically: either every chunk plus the
// markdown update, or nothing.
type ChunkStore interface {
	Write(ctx context.Context, materialID uuid.UUID, chunks []ChunkInput, markdown string, mode WriteMode) error
	List(ctx context.Context, materialID uuid.UUID, offset, limit int, kind string) ([]*types.MaterialChunk, int64, error)
	DeleteByMaterialID(ctx context.Context, tx *gorm.DB, materialID uuid.UUID) error
}

type chunkStore struct {
	log          *logger.Logger
	db           *gorm.DB
	chunkRepo    repos.MaterialChunkRepo
	materialRepo repos.MaterialRepo
}

func NewChunkStore(log *logger.Logger, db *gorm.DB, chunkRepo repos.MaterialChunkRepo, materialRepo repos.MaterialRepo) ChunkStore {
	return &chunkStore{
		log:          log.With("service", "ChunkStore"),
		db:           db,
		chunkRepo:    chunkRepo,
		materialRepo: materialRepo,
	}
}

func (s *chunkStore) Write(ctx context.Context, materialID uuid.UUID, chunks []ChunkInput, markdown string, mode WriteMode) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		material, err := s.materialRepo.GetByID(ctx, tx, materialID)
		if err != nil {
			return err
		}
		if material == nil {
			return apierr.NotFound("material %s not found", materialID)
		}

		nextSeq := 0
		if mode == WriteReplace {
			if err := s.chunkRepo.DeleteByMaterialID(ctx, tx, materialID); err != nil {
				return err
			}
		} else {
			maxSeq, err := s.chunkRepo.MaxSeq(ctx, tx, materialID)
			if err != nil {
				return err
			}
			nextSeq = maxSeq + 1
		}

		rows := make([]*types.MaterialChunk, 0, len(chunks))
		for i, in := range chunks {
			loc, err := encodeLoc(in.Loc)
			if err != nil {
				return err
			}
			rows = append(rows, &types.MaterialChunk{
				ID:         uuid.New(),
				MaterialID: material.ID,
				Seq:        nextSeq + i,
				ChunkID:    in.ChunkID,
				Kind:       in.Kind,
				Text:       in.Text,
				Loc:        loc,
			})
		}
		if len(rows) > 0 {
			if err := s.chunkRepo.Create(ctx, tx, rows); err != nil {
				return err
			}
		}

		// The markdown column follows the same policy as the chunks.
		newMarkdown := markdown
		if mode == WriteAppend {
			parts := []string{}
			if strings.TrimSpace(material.ParsedMarkdown) != "" {
				parts = append(parts, material.ParsedMarkdown)
			}
			if strings.TrimSpace(markdown) != "" {
				parts = append(parts, markdown)
			}
			newMarkdown = strings.Join(parts, "\n\n")
		}
		return s.materialRepo.SetParsedMarkdown(ctx, tx, materialID, newMarkdown)
	})
}

func (s *chunkStore) List(ctx context.Context, materialID uuid.UUID, offset, limit int, kind string) ([]*types.MaterialChunk, int64, error) {
	return s.chunkRepo.ListPage(ctx, nil, materialID, offset, limit, kind)
}

func (s *chunkStore) DeleteByMaterialID(ctx context.Context, tx *gorm.DB, materialID uuid.UUID) error {
	return s.chunkRepo.DeleteByMaterialID(ctx, tx, materialID)
}

func encodeLoc(loc map[string]interface{}) (datatypes.JSON, error) {
	if loc == nil {
		loc = map[string]interface{}{}
	}
	payload, err := json.Marshal(loc)
	if err != nil {
		return nil, apierr.Invalid("encode chunk loc: %v", err)
	}
	return datatypes.JSON(payload), nil
}
