package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/types"
)

type MaterialChunkRepo interface {
	Create(ctx context.Context, tx *gorm.DB, chunks []*types.MaterialChunk) error
	DeleteByMaterialID(ctx context.Context, tx *gorm.DB, materialID uuid.UUID) error
	// MaxSeq returns the highest stored seq for the material, or -1 when the
	// material has no chunks yet.
	MaxSeq(ctx context.Context, tx *gorm.DB, materialID uuid.UUID) (int, error)
	// ListPage returns one page of the material's chunk log in strict seq
	// order. The kind filter is applied before pagination and the returned
	// total is the post-filter count.
	ListPage(ctx context.Context, tx *gorm.DB, materialID uuid.UUID, offset, limit int, kind string) ([]*types.MaterialChunk, int64, error)
}

type materialChunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMaterialChunkRepo(db *gorm.DB, baseLog *logger.Logger) MaterialChunkRepo {
	return &materialChunkRepo{db: db, log: baseLog.With("repo", "MaterialChunkRepo")}
}

func (r *materialChunkRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *materialChunkRepo) Create(ctx context.Context, tx *gorm.DB, chunks []*types.MaterialChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	// Keep batches small because Text is large.
	const batchSize = 100
	return r.conn(tx).WithContext(ctx).CreateInBatches(chunks, batchSize).Error
}

func (r *materialChunkRepo) DeleteByMaterialID(ctx context.Context, tx *gorm.DB, materialID uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).
		Where("material_id = ?", materialID).
		Delete(&types.MaterialChunk{}).Error
}

func (r *materialChunkRepo) MaxSeq(ctx context.Context, tx *gorm.DB, materialID uuid.UUID) (int, error) {
	var max *int
	err := r.conn(tx).WithContext(ctx).
		Model(&types.MaterialChunk{}).
		Where("material_id = ?", materialID).
		Select("MAX(seq)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return -1, nil
	}
	return *max, nil
}

func (r *materialChunkRepo) ListPage(ctx context.Context, tx *gorm.DB, materialID uuid.UUID, offset, limit int, kind string) ([]*types.MaterialChunk, int64, error) {
	base := r.conn(tx).WithContext(ctx).
		Model(&types.MaterialChunk{}).
		Where("material_id = ?", materialID)
	if kind != "" {
		base = base.Where("kind = ?", kind)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var results []*types.MaterialChunk
	if err := base.Session(&gorm.Session{}).
		Order("seq ASC").
		Offset(offset).
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, 0, err
	}
	return results, total, nil
}
