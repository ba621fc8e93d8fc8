package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/types"
)

type MaterialRepo interface {
	Create(ctx context.Context, tx *gorm.DB, materials []*types.Material) ([]*types.Material, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Material, error)
	List(ctx context.Context, tx *gorm.DB, offset, limit int) ([]*types.Material, int64, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error
	SetCancelRequested(ctx context.Context, tx *gorm.DB, id uuid.UUID, requested bool) error
	SetParsedMarkdown(ctx context.Context, tx *gorm.DB, id uuid.UUID, markdown string) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type materialRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMaterialRepo(db *gorm.DB, baseLog *logger.Logger) MaterialRepo {
	return &materialRepo{db: db, log: baseLog.With("repo", "MaterialRepo")}
}

func (r *materialRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *materialRepo) Create(ctx context.Context, tx *gorm.DB, materials []*types.Material) ([]*types.Material, error) {
	if len(materials) == 0 {
		return []*types.Material{}, nil
	}
	if err := r.conn(tx).WithContext(ctx).Create(materials).Error; err != nil {
		return nil, err
	}
	return materials, nil
}

func (r *materialRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Material, error) {
	var m types.Material
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *materialRepo) List(ctx context.Context, tx *gorm.DB, offset, limit int) ([]*types.Material, int64, error) {
	var total int64
	conn := r.conn(tx).WithContext(ctx).Model(&types.Material{})
	if err := conn.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var results []*types.Material
	if err := r.conn(tx).WithContext(ctx).
		Order("created_at ASC").
		Offset(offset).
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

func (r *materialRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error {
	return r.conn(tx).WithContext(ctx).
		Model(&types.Material{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()}).Error
}

func (r *materialRepo) SetCancelRequested(ctx context.Context, tx *gorm.DB, id uuid.UUID, requested bool) error {
	return r.conn(tx).WithContext(ctx).
		Model(&types.Material{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"cancel_requested": requested, "updated_at": time.Now()}).Error
}

func (r *materialRepo) SetParsedMarkdown(ctx context.Context, tx *gorm.DB, id uuid.UUID, markdown string) error {
	return r.conn(tx).WithContext(ctx).
		Model(&types.Material{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"parsed_markdown": markdown, "updated_at": time.Now()}).Error
}

func (r *materialRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).
		Unscoped().
		Where("id = ?", id).
		Delete(&types.Material{}).Error
}
