package services

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/repos"
)

// failingBlobStore fails the nth Put and records every Delete it sees.
type failingBlobStore struct {
	inner   BlobService
	failAt  int
	puts    int
	deletes []string
}

func (f *failingBlobStore) Put(ctx context.Context, key string, r io.Reader) error {
	f.puts++
	if f.puts == f.failAt {
		return errors.New("blob store unavailable")
	}
	return f.inner.Put(ctx, key, r)
}

func (f *failingBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	return f.inner.Get(ctx, key)
}

func (f *failingBlobStore) Delete(ctx context.Context, key string) error {
	f.deletes = append(f.deletes, key)
	return f.inner.Delete(ctx, key)
}

func TestUploadBlobFailureLeavesNothingBehind(t *testing.T) {
	env := newParseEnv(t)
	log := logger.NewNop()

	inner, err := NewBlobService(log)
	if err != nil {
		t.Fatalf("blob service: %v", err)
	}
	blobs := &failingBlobStore{inner: inner, failAt: 2}
	materials := NewMaterialService(log, env.gdb,
		repos.NewMaterialRepo(env.gdb, log),
		repos.NewParseProgressRepo(env.gdb, log),
		repos.NewParseErrorRepo(env.gdb, log),
		env.chunks, blobs)

	_, err = materials.Upload(context.Background(), []UploadInput{
		{Filename: "a.pdf", Content: []byte("first")},
		{Filename: "b.pdf", Content: []byte("second")},
		{Filename: "c.pdf", Content: []byte("third")},
	})
	if err == nil {
		t.Fatal("upload succeeded despite blob write failure")
	}

	listed, total, err := materials.List(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 0 || len(listed) != 0 {
		t.Errorf("got %d materials (total %d) after failed upload, want 0", len(listed), total)
	}
	if len(blobs.deletes) != 1 {
		t.Errorf("got %d blob deletes, want 1 for the blob written before the failure", len(blobs.deletes))
	}
}
