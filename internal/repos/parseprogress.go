package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/types"
)

type ParseProgressRepo interface {
	// Upsert overwrites the material's progress record: it always reflects
	// the latest stage, never a history.
	Upsert(ctx context.Context, tx *gorm.DB, progress *types.ParseProgress) error
	GetByMaterialID(ctx context.Context, tx *gorm.DB, materialID uuid.UUID) (*types.ParseProgress, error)
	DeleteByMaterialID(ctx context.Context, tx *gorm.DB, materialID uuid.UUID) error
}

type parseProgressRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewParseProgressRepo(db *gorm.DB, baseLog *logger.Logger) ParseProgressRepo {
	return &parseProgressRepo{db: db, log: baseLog.With("repo", "ParseProgressRepo")}
}

func (r *parseProgressRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *parseProgressRepo) Upsert(ctx context.Context, tx *gorm.DB, progress *types.ParseProgress) error {
	return r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "material_id"}},
			UpdateAll: true,
		}).
		Create(progress).Error
}

func (r *parseProgressRepo) GetByMaterialID(ctx context.Context, tx *gorm.DB, materialID uuid.UUID) (*types.ParseProgress, error) {
	var p types.ParseProgress
	err := r.conn(tx).WithContext(ctx).Where("material_id = ?", materialID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *parseProgressRepo) DeleteByMaterialID(ctx context.Context, tx *gorm.DB, materialID uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).
		Where("material_id = ?", materialID).
		Delete(&types.ParseProgress{}).Error
}

type ParseErrorRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, record *types.ParseError) error
	GetByMaterialID(ctx context.Context, tx *gorm.DB, materialID uuid.UUID) (*types.ParseError, error)
	DeleteByMaterialID(ctx context.Context, tx *gorm.DB, materialID uuid.UUID) error
}

type parseErrorRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewParseErrorRepo(db *gorm.DB, baseLog *logger.Logger) ParseErrorRepo {
	return &parseErrorRepo{db: db, log: baseLog.With("repo", "ParseErrorRepo")}
}

func (r *parseErrorRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *parseErrorRepo) Upsert(ctx context.Context, tx *gorm.DB, record *types.ParseError) error {
	return r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "material_id"}},
			UpdateAll: true,
		}).
		Create(record).Error
}

func (r *parseErrorRepo) GetByMaterialID(ctx context.Context, tx *gorm.DB, materialID uuid.UUID) (*types.ParseError, error) {
	var rec types.ParseError
	err := r.conn(tx).WithContext(ctx).Where("material_id = ?", materialID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *parseErrorRepo) DeleteByMaterialID(ctx context.Context, tx *gorm.DB, materialID uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).
		Where("material_id = ?", materialID).
		Delete(&types.ParseError{}).Error
}
