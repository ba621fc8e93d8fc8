package services

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/9963KK/aiedu-backend/internal/apierr"
	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/repos"
	"github.com/9963KK/aiedu-backend/internal/types"
)

// allowedSuffixes is the upload allowlist. Anything else is rejected before
// a row or blob is written.
var allowedSuffixes = map[string]bool{
	"txt": true, "pdf": true, "ppt": true, "pptx": true, "doc": true, "docx": true,
	"jpg": true, "jpeg": true, "png": true,
	"mp3": true, "m4a": true, "wav": true,
	"mp4": true,
}

// UploadInput is one file from a multipart upload request.
type UploadInput struct {
	Filename string
	MimeType string
	Content  []byte
}

type MaterialService interface {
	Upload(ctx context.Context, inputs []UploadInput) ([]*types.Material, error)
	Get(ctx context.Context, id uuid.UUID) (*types.Material, error)
	List(ctx context.Context, offset, limit int) ([]*types.Material, int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type materialService struct {
	log          *logger.Logger
	db           *gorm.DB
	materialRepo repos.MaterialRepo
	progressRepo repos.ParseProgressRepo
	errorRepo    repos.ParseErrorRepo
	chunks       ChunkStore
	blobs        BlobService
}

func NewMaterialService(
	log *logger.Logger,
	db *gorm.DB,
	materialRepo repos.MaterialRepo,
	progressRepo repos.ParseProgressRepo,
	errorRepo repos.ParseErrorRepo,
	chunks ChunkStore,
	blobs BlobService,
) MaterialService {
	return &materialService{
		log:          log.With("service", "MaterialService"),
		db:           db,
		materialRepo: materialRepo,
		progressRepo: progressRepo,
		errorRepo:    errorRepo,
		chunks:       chunks,
		blobs:        blobs,
	}
}

func suffixOf(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

func (s *materialService) Upload(ctx context.Context, inputs []UploadInput) ([]*types.Material, error) {
	if len(inputs) == 0 {
		return nil, apierr.Invalid("no files in upload request")
	}
	for _, in := range inputs {
		suffix := suffixOf(in.Filename)
		if !allowedSuffixes[suffix] {
			return nil, apierr.Invalid("unsupported file type %q", suffix)
		}
	}

	materials := make([]*types.Material, 0, len(inputs))
	for _, in := range inputs {
		materials = append(materials, &types.Material{
			ID:           uuid.New(),
			OriginalName: in.Filename,
			MimeType:     in.MimeType,
			Suffix:       suffixOf(in.Filename),
			SizeBytes:    int64(len(in.Content)),
			Status:       types.StatusUploaded,
		})
	}

	created, err := s.materialRepo.Create(ctx, nil, materials)
	if err != nil {
		return nil, err
	}
	for i, material := range created {
		if err := s.blobs.Put(ctx, blobKey(material), bytes.NewReader(inputs[i].Content)); err != nil {
			// Undo the whole batch so a failed upload leaves nothing behind.
			for j := 0; j < i; j++ {
				if derr := s.blobs.Delete(ctx, blobKey(created[j])); derr != nil {
					s.log.Error("failed to remove blob after upload failure", "material_id", created[j].ID, "error", derr)
				}
			}
			for _, m := range created {
				if derr := s.materialRepo.Delete(ctx, nil, m.ID); derr != nil {
					s.log.Error("failed to remove material after upload failure", "material_id", m.ID, "error", derr)
				}
			}
			return nil, err
		}
	}
	s.log.Info("materials uploaded", "count", len(created))
	return created, nil
}

func (s *materialService) Get(ctx context.Context, id uuid.UUID) (*types.Material, error) {
	material, err := s.materialRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if material == nil {
		return nil, apierr.NotFound("material %s not found", id)
	}
	return material, nil
}

func (s *materialService) List(ctx context.Context, offset, limit int) ([]*types.Material, int64, error) {
	return s.materialRepo.List(ctx, nil, offset, limit)
}

func (s *materialService) Delete(ctx context.Context, id uuid.UUID) error {
	material, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.chunks.DeleteByMaterialID(ctx, tx, id); err != nil {
			return err
		}
		if err := s.progressRepo.DeleteByMaterialID(ctx, tx, id); err != nil {
			return err
		}
		if err := s.errorRepo.DeleteByMaterialID(ctx, tx, id); err != nil {
			return err
		}
		return s.materialRepo.Delete(ctx, tx, id)
	})
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, blobKey(material)); err != nil {
		s.log.Warn("failed to delete material blob", "material_id", id, "error", err)
	}
	return nil
}
