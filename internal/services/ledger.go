package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/9963KK/aiedu-backend/internal/apierr"
	redisbus "github.com/9963KK/aiedu-backend/internal/clients/redis"
	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/repos"
	"github.com/9963KK/aiedu-backend/internal/types"
)

// StatusLedger owns every status transition, progress record, and error
// record for materials. Nothing else writes those columns.
type StatusLedger interface {
	Get(ctx context.Context, materialID uuid.UUID) (*types.Material, error)
	SetStatus(ctx context.Context, tx *gorm.DB, materialID uuid.UUID, from, to string) error
	RecordProgress(ctx context.Context, materialID uuid.UUID, stage string, fraction *float64, extras map[string]interface{}) error
	RecordError(ctx context.Context, materialID uuid.UUID, stage, rawError string) error
	Progress(ctx context.Context, materialID uuid.UUID) (*types.ParseProgress, *types.ParseError, error)
	RequestCancel(ctx context.Context, materialID uuid.UUID) error
	ClearCancel(ctx context.Context, materialID uuid.UUID) error
	CancelRequested(ctx context.Context, materialID uuid.UUID) (bool, error)

	// TryBegin claims the in-process parse slot for a material. It returns
	// false when a parse already holds it. End releases the slot.
	TryBegin(materialID uuid.UUID) bool
	End(materialID uuid.UUID)
}

// validTransitions is the material status machine. Terminal states may be
// re-queued by a later parse request; active states may not.
var validTransitions = map[string][]string{
	types.StatusUploaded:   {types.StatusQueued},
	types.StatusQueued:     {types.StatusProcessing, types.StatusCancelled},
	types.StatusProcessing: {types.StatusReady, types.StatusFailed, types.StatusCancelled},
	types.StatusReady:      {types.StatusQueued},
	types.StatusFailed:     {types.StatusQueued},
	types.StatusCancelled:  {types.StatusQueued},
}

type statusLedger struct {
	log          *logger.Logger
	materialRepo repos.MaterialRepo
	progressRepo repos.ParseProgressRepo
	errorRepo    repos.ParseErrorRepo
	bus          *redisbus.ProgressBus

	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

func NewStatusLedger(
	log *logger.Logger,
	materialRepo repos.MaterialRepo,
	progressRepo repos.ParseProgressRepo,
	errorRepo repos.ParseErrorRepo,
	bus *redisbus.ProgressBus,
) StatusLedger {
	return &statusLedger{
		log:          log.With("service", "StatusLedger"),
		materialRepo: materialRepo,
		progressRepo: progressRepo,
		errorRepo:    errorRepo,
		bus:          bus,
		active:       make(map[uuid.UUID]struct{}),
	}
}

func (s *statusLedger) Get(ctx context.Context, materialID uuid.UUID) (*types.Material, error) {
	material, err := s.materialRepo.GetByID(ctx, nil, materialID)
	if err != nil {
		return nil, err
	}
	if material == nil {
		return nil, apierr.NotFound("material %s not found", materialID)
	}
	return material, nil
}

func (s *statusLedger) SetStatus(ctx context.Context, tx *gorm.DB, materialID uuid.UUID, from, to string) error {
	allowed := false
	for _, next := range validTransitions[from] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return apierr.Invalid("invalid status transition %s -> %s", from, to)
	}
	if err := s.materialRepo.UpdateStatus(ctx, tx, materialID, to); err != nil {
		return err
	}
	s.log.Info("material status changed", "material_id", materialID, "from", from, "to", to)
	return nil
}

func (s *statusLedger) RecordProgress(ctx context.Context, materialID uuid.UUID, stage string, fraction *float64, extras map[string]interface{}) error {
	progress := &types.ParseProgress{
		MaterialID: materialID,
		Stage:      stage,
		Fraction:   fraction,
	}
	if len(extras) > 0 {
		payload, err := json.Marshal(extras)
		if err != nil {
			return apierr.Invalid("encode progress extras: %v", err)
		}
		progress.Extras = datatypes.JSON(payload)
	}
	if err := s.progressRepo.Upsert(ctx, nil, progress); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(ctx, redisbus.ProgressUpdate{
			MaterialID: materialID.String(),
			Stage:      stage,
			Fraction:   fraction,
		})
	}
	return nil
}

func (s *statusLedger) RecordError(ctx context.Context, materialID uuid.UUID, stage, rawError string) error {
	if err := s.errorRepo.Upsert(ctx, nil, &types.ParseError{
		MaterialID: materialID,
		Stage:      stage,
		RawError:   rawError,
	}); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(ctx, redisbus.ProgressUpdate{
			MaterialID: materialID.String(),
			Stage:      stage,
			Error:      rawError,
		})
	}
	return nil
}

func (s *statusLedger) Progress(ctx context.Context, materialID uuid.UUID) (*types.ParseProgress, *types.ParseError, error) {
	progress, err := s.progressRepo.GetByMaterialID(ctx, nil, materialID)
	if err != nil {
		return nil, nil, err
	}
	parseErr, err := s.errorRepo.GetByMaterialID(ctx, nil, materialID)
	if err != nil {
		return nil, nil, err
	}
	return progress, parseErr, nil
}

func (s *statusLedger) RequestCancel(ctx context.Context, materialID uuid.UUID) error {
	return s.materialRepo.SetCancelRequested(ctx, nil, materialID, true)
}

func (s *statusLedger) ClearCancel(ctx context.Context, materialID uuid.UUID) error {
	return s.materialRepo.SetCancelRequested(ctx, nil, materialID, false)
}

func (s *statusLedger) CancelRequested(ctx context.Context, materialID uuid.UUID) (bool, error) {
	material, err := s.Get(ctx, materialID)
	if err != nil {
		return false, err
	}
	return material.CancelRequested, nil
}

func (s *statusLedger) TryBegin(materialID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[materialID]; busy {
		return false
	}
	s.active[materialID] = struct{}{}
	return true
}

func (s *statusLedger) End(materialID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, materialID)
}
