package services

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/9963KK/aiedu-backend/internal/apierr"
	"github.com/9963KK/aiedu-backend/internal/types"
)

func TestChunkStoreReplaceThenAppend(t *testing.T) {
	env := newParseEnv(t)
	ctx := context.Background()
	id := env.upload(t, "mixed.pdf")

	first := []ChunkInput{
		{ChunkID: "p1", Kind: types.ChunkKindText, Text: "page one", Loc: map[string]interface{}{"page": 1}},
		{ChunkID: "p2", Kind: types.ChunkKindText, Text: "page two", Loc: map[string]interface{}{"page": 2}},
	}
	if err := env.chunks.Write(ctx, id, first, "## Page 1\n\npage one", WriteReplace); err != nil {
		t.Fatal(err)
	}

	appended := []ChunkInput{
		{ChunkID: "s1", Kind: types.ChunkKindSubtitle, Text: "spoken", Loc: map[string]interface{}{"startSec": 0.0, "endSec": 2.0}},
	}
	if err := env.chunks.Write(ctx, id, appended, "spoken", WriteAppend); err != nil {
		t.Fatal(err)
	}

	chunks := env.listChunks(t, id)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if chunks[2].ChunkID != "s1" || chunks[2].Seq != 2 {
		t.Errorf("appended chunk = id %q seq %d, want s1 seq 2", chunks[2].ChunkID, chunks[2].Seq)
	}

	material, _ := env.ledger.Get(ctx, id)
	want := "## Page 1\n\npage one\n\nspoken"
	if material.ParsedMarkdown != want {
		t.Errorf("markdown = %q, want %q", material.ParsedMarkdown, want)
	}

	// A replace wipes both chunks and markdown.
	replacement := []ChunkInput{{ChunkID: "p1", Kind: types.ChunkKindText, Text: "fresh", Loc: map[string]interface{}{"page": 1}}}
	if err := env.chunks.Write(ctx, id, replacement, "fresh", WriteReplace); err != nil {
		t.Fatal(err)
	}
	chunks = env.listChunks(t, id)
	if len(chunks) != 1 || chunks[0].Seq != 0 {
		t.Fatalf("after replace: %d chunks, first seq %d", len(chunks), chunks[0].Seq)
	}
	material, _ = env.ledger.Get(ctx, id)
	if material.ParsedMarkdown != "fresh" {
		t.Errorf("markdown = %q, want fresh", material.ParsedMarkdown)
	}
}

func TestChunkStoreAppendToEmptyStartsAtZero(t *testing.T) {
	env := newParseEnv(t)
	ctx := context.Background()
	id := env.upload(t, "empty.mp3")

	if err := env.chunks.Write(ctx, id, []ChunkInput{
		{ChunkID: "s1", Kind: types.ChunkKindSubtitle, Text: "first"},
	}, "first", WriteAppend); err != nil {
		t.Fatal(err)
	}
	chunks := env.listChunks(t, id)
	if len(chunks) != 1 || chunks[0].Seq != 0 {
		t.Fatalf("chunks = %d, first seq = %d, want seq 0", len(chunks), chunks[0].Seq)
	}
	material, _ := env.ledger.Get(ctx, id)
	if material.ParsedMarkdown != "first" {
		t.Errorf("markdown = %q, want no leading separator", material.ParsedMarkdown)
	}
}

func TestChunkStoreListKindFilter(t *testing.T) {
	env := newParseEnv(t)
	ctx := context.Background()
	id := env.upload(t, "filter.pdf")

	if err := env.chunks.Write(ctx, id, []ChunkInput{
		{ChunkID: "p1", Kind: types.ChunkKindText, Text: "a"},
		{ChunkID: "t1", Kind: types.ChunkKindTable, Text: "b"},
		{ChunkID: "p2", Kind: types.ChunkKindText, Text: "c"},
	}, "", WriteReplace); err != nil {
		t.Fatal(err)
	}

	chunks, total, err := env.chunks.List(ctx, id, 0, 10, types.ChunkKindText)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(chunks) != 2 {
		t.Fatalf("filtered list = %d chunks, total %d, want 2/2", len(chunks), total)
	}
	for _, chunk := range chunks {
		if chunk.Kind != types.ChunkKindText {
			t.Errorf("chunk %q kind = %q", chunk.ChunkID, chunk.Kind)
		}
	}

	// Pagination applies after the filter.
	chunks, total, err = env.chunks.List(ctx, id, 1, 10, types.ChunkKindText)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(chunks) != 1 || chunks[0].ChunkID != "p2" {
		t.Errorf("page 2 = %+v, total %d", chunks, total)
	}
}

func TestChunkStoreWriteUnknownMaterial(t *testing.T) {
	env := newParseEnv(t)
	err := env.chunks.Write(context.Background(), uuid.New(), []ChunkInput{
		{ChunkID: "p1", Kind: types.ChunkKindText, Text: "x"},
	}, "x", WriteReplace)
	if !apierr.IsCode(err, apierr.CodeNotFound) {
		t.Fatalf("err = %v, want not_found", err)
	}
}
