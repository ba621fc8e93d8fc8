package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/9963KK/aiedu-backend/internal/apierr"
	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/utils"
)

// BlobService stores the raw uploaded bytes of a material, keyed by the
// material id plus its original suffix.
type BlobService interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// NewBlobService picks the backend from the environment: a GCS bucket when
// MATERIAL_GCS_BUCKET is set, local disk otherwise.
func NewBlobService(log *logger.Logger) (BlobService, error) {
	if bucket := utils.GetEnv("MATERIAL_GCS_BUCKET", "", nil); bucket != "" {
		return newGCSBlobService(log, bucket)
	}
	return newLocalBlobService(log)
}

type localBlobService struct {
	log *logger.Logger
	dir string
}

func newLocalBlobService(log *logger.Logger) (BlobService, error) {
	dir := utils.GetEnv("MATERIAL_DATA_DIR", "./data/materials", log)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create material data dir: %w", err)
	}
	return &localBlobService{log: log.With("service", "BlobService"), dir: dir}, nil
}

func (s *localBlobService) path(key string) string {
	return filepath.Join(s.dir, filepath.Base(key))
}

func (s *localBlobService) Put(ctx context.Context, key string, r io.Reader) error {
	f, err := os.Create(s.path(key))
	if err != nil {
		return fmt.Errorf("create blob file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write blob file: %w", err)
	}
	return f.Close()
}

func (s *localBlobService) Get(ctx context.Context, key string) ([]byte, error) {
	content, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.NotFound("blob %s not found", key)
		}
		return nil, fmt.Errorf("read blob file: %w", err)
	}
	return content, nil
}

func (s *localBlobService) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob file: %w", err)
	}
	return nil
}

type gcsBlobService struct {
	log    *logger.Logger
	client *storage.Client
	bucket string
}

func newGCSBlobService(log *logger.Logger, bucket string) (BlobService, error) {
	serviceLog := log.With("service", "BlobService")
	ctx := context.Background()
	var client *storage.Client
	var err error
	if saPath := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"); saPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(saPath), option.WithScopes(storage.ScopeReadWrite))
	} else {
		client, err = storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	}
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &gcsBlobService{log: serviceLog, client: client, bucket: bucket}, nil
}

func (s *gcsBlobService) Put(ctx context.Context, key string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close object writer %q: %w", key, err)
	}
	return nil
}

func (s *gcsBlobService) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, apierr.NotFound("blob %s not found", key)
		}
		return nil, fmt.Errorf("open object %q: %w", key, err)
	}
	defer r.Close()
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	return content, nil
}

func (s *gcsBlobService) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.client.Bucket(s.bucket).Object(key).Delete(ctx); err != nil && err != storage.ErrObjectNotExist {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}
