package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/9963KK/aiedu-backend/internal/apierr"
	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/types"
	"github.com/9963KK/aiedu-backend/internal/utils"
)

// Parse stages, in the order a material moves through them.
const (
	StageResolveFile    = "resolve_file"
	StageMineruDocument = "mineru_document"
	StageVQAClassify    = "vqa_classify"
	StageMineruImage    = "mineru_image"
	StageASRTranscribe  = "asr_transcribe"
	StageWriteChunks    = "write_chunks"
	StageDone           = "done"
)

// DocumentParser extracts page text and tables from an office document.
type DocumentParser interface {
	ParseDocument(ctx context.Context, content []byte, filename, docType string) (*types.DocumentParseResult, error)
}

// ImageParser runs OCR and table extraction over a single image.
type ImageParser interface {
	ParseImage(ctx context.Context, content []byte, filename string) (*types.ImageParseResult, error)
}

// Transcriber turns audio into timed transcript segments.
type Transcriber interface {
	Transcribe(ctx context.Context, content []byte, filename string) (*types.TranscriptResult, error)
}

var (
	documentSuffixes = map[string]bool{"pdf": true, "ppt": true, "pptx": true, "doc": true, "docx": true}
	audioSuffixes    = map[string]bool{"mp3": true, "m4a": true, "wav": true}
	imageSuffixes    = map[string]bool{"jpg": true, "jpeg": true, "png": true}
)

// BatchItem is the outcome of one material inside a batch parse.
type BatchItem struct {
	MaterialID uuid.UUID `json:"material_id"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// ParseService runs the full extraction pipeline for one material: resolve
// the stored file, route by suffix to a backend, and land the results
// through the chunk store.
type ParseService interface {
	Parse(ctx context.Context, materialID uuid.UUID) error
	ParseBatch(ctx context.Context, materialIDs []uuid.UUID) []BatchItem
	Cancel(ctx context.Context, materialID uuid.UUID) error
}

type parseService struct {
	log            *logger.Logger
	ledger         StatusLedger
	blobs          BlobService
	chunks         ChunkStore
	router         VisionRouter
	documentParser DocumentParser
	imageParser    ImageParser
	transcriber    Transcriber
	maxConcurrency int
}

func NewParseService(
	log *logger.Logger,
	ledger StatusLedger,
	blobs BlobService,
	chunks ChunkStore,
	router VisionRouter,
	documentParser DocumentParser,
	imageParser ImageParser,
	transcriber Transcriber,
) ParseService {
	return &parseService{
		log:            log.With("service", "ParseService"),
		ledger:         ledger,
		blobs:          blobs,
		chunks:         chunks,
		router:         router,
		documentParser: documentParser,
		imageParser:    imageParser,
		transcriber:    transcriber,
		maxConcurrency: utils.GetEnvAsInt("PARSE_MAX_CONCURRENCY", 3, log),
	}
}

func (s *parseService) Parse(ctx context.Context, materialID uuid.UUID) error {
	material, err := s.ledger.Get(ctx, materialID)
	if err != nil {
		return err
	}
	if material.Status == types.StatusQueued || material.Status == types.StatusProcessing {
		return apierr.ParseInProgress("material %s is already being parsed", materialID)
	}
	if !s.ledger.TryBegin(materialID) {
		return apierr.ParseInProgress("material %s is already being parsed", materialID)
	}
	defer s.ledger.End(materialID)

	if err := s.ledger.SetStatus(ctx, nil, materialID, material.Status, types.StatusQueued); err != nil {
		return err
	}

	// A flag raised before this run starts cancels it here, before any
	// backend is reached. The flag is consumed only when it is honored, so
	// a later Parse on the same material runs normally.
	flagged, err := s.ledger.CancelRequested(ctx, materialID)
	if err != nil {
		return err
	}
	if flagged {
		if cerr := s.ledger.ClearCancel(ctx, materialID); cerr != nil {
			return cerr
		}
		if serr := s.ledger.SetStatus(ctx, nil, materialID, types.StatusQueued, types.StatusCancelled); serr != nil {
			s.log.Error("failed to mark material cancelled", "material_id", materialID, "error", serr)
		}
		return apierr.Cancelled("parse cancelled for material %s", materialID)
	}

	if err := s.ledger.SetStatus(ctx, nil, materialID, types.StatusQueued, types.StatusProcessing); err != nil {
		return err
	}

	if err := s.run(ctx, material); err != nil {
		if apierr.IsCode(err, apierr.CodeCancelled) {
			if cerr := s.ledger.ClearCancel(ctx, materialID); cerr != nil {
				s.log.Error("failed to clear cancel flag", "material_id", materialID, "error", cerr)
			}
			if serr := s.ledger.SetStatus(ctx, nil, materialID, types.StatusProcessing, types.StatusCancelled); serr != nil {
				s.log.Error("failed to mark material cancelled", "material_id", materialID, "error", serr)
			}
			return err
		}
		if serr := s.ledger.SetStatus(ctx, nil, materialID, types.StatusProcessing, types.StatusFailed); serr != nil {
			s.log.Error("failed to mark material failed", "material_id", materialID, "error", serr)
		}
		return err
	}

	fraction := 1.0
	if err := s.ledger.RecordProgress(ctx, materialID, StageDone, &fraction, nil); err != nil {
		return err
	}
	return s.ledger.SetStatus(ctx, nil, materialID, types.StatusProcessing, types.StatusReady)
}

// run executes the pipeline stages while the material is in "processing".
// It records the failing stage before returning any error.
func (s *parseService) run(ctx context.Context, material *types.Material) error {
	materialID := material.ID
	suffix := strings.ToLower(material.Suffix)

	if err := s.checkpoint(ctx, materialID); err != nil {
		return err
	}
	if err := s.ledger.RecordProgress(ctx, materialID, StageResolveFile, nil, nil); err != nil {
		return err
	}
	content, err := s.blobs.Get(ctx, blobKey(material))
	if err != nil {
		return s.fail(ctx, materialID, StageResolveFile, err)
	}

	switch {
	case documentSuffixes[suffix]:
		return s.runDocument(ctx, material, content)
	case audioSuffixes[suffix]:
		return s.runAudio(ctx, material, content)
	case imageSuffixes[suffix]:
		return s.runImage(ctx, material, content)
	default:
		// Unrecognized suffixes are accepted without extraction.
		s.log.Info("no extraction backend for suffix, accepting as-is", "material_id", materialID, "suffix", suffix)
		return nil
	}
}

func (s *parseService) runDocument(ctx context.Context, material *types.Material, content []byte) error {
	materialID := material.ID
	if err := s.checkpoint(ctx, materialID); err != nil {
		return err
	}
	if err := s.ledger.RecordProgress(ctx, materialID, StageMineruDocument, nil, nil); err != nil {
		return err
	}

	docType := strings.ToLower(material.Suffix)
	result, err := s.documentParser.ParseDocument(ctx, content, material.OriginalName, docType)
	if err != nil {
		return s.fail(ctx, materialID, StageMineruDocument, err)
	}

	var chunks []ChunkInput
	var md []string
	for i, page := range result.Pages {
		text := strings.TrimSpace(page.Text)
		if text == "" {
			continue
		}
		pageNum := i + 1
		md = append(md, fmt.Sprintf("## Page %d\n\n%s", pageNum, text))
		chunks = append(chunks, ChunkInput{
			ChunkID: fmt.Sprintf("p%d", pageNum),
			Kind:    types.ChunkKindText,
			Text:    text,
			Loc:     map[string]interface{}{"page": pageNum},
		})
	}
	for i, table := range result.Tables {
		tableMD := strings.TrimSpace(table.Markdown)
		if tableMD == "" {
			continue
		}
		md = append(md, fmt.Sprintf("### Table %d\n\n%s", i+1, tableMD))
		chunks = append(chunks, ChunkInput{
			ChunkID: fmt.Sprintf("t%d", i+1),
			Kind:    types.ChunkKindTable,
			Text:    tableMD,
			Loc:     map[string]interface{}{},
		})
	}

	// A re-parse of a document replaces its earlier extraction wholesale.
	return s.write(ctx, materialID, chunks, strings.Join(md, "\n\n"), WriteReplace)
}

func (s *parseService) runAudio(ctx context.Context, material *types.Material, content []byte) error {
	materialID := material.ID
	if err := s.checkpoint(ctx, materialID); err != nil {
		return err
	}
	if err := s.ledger.RecordProgress(ctx, materialID, StageASRTranscribe, nil, nil); err != nil {
		return err
	}

	result, err := s.transcriber.Transcribe(ctx, content, material.OriginalName)
	if err != nil {
		return s.fail(ctx, materialID, StageASRTranscribe, err)
	}

	var chunks []ChunkInput
	var md []string
	for i, seg := range result.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		md = append(md, text)
		chunks = append(chunks, ChunkInput{
			ChunkID: fmt.Sprintf("s%d", i+1),
			Kind:    types.ChunkKindSubtitle,
			Text:    text,
			Loc:     map[string]interface{}{"startSec": seg.Start, "endSec": seg.End},
		})
	}

	// Transcripts add to whatever the material already holds.
	return s.write(ctx, materialID, chunks, strings.Join(md, "\n"), WriteAppend)
}

func (s *parseService) runImage(ctx context.Context, material *types.Material, content []byte) error {
	materialID := material.ID
	if err := s.checkpoint(ctx, materialID); err != nil {
		return err
	}
	if err := s.ledger.RecordProgress(ctx, materialID, StageVQAClassify, nil, nil); err != nil {
		return err
	}

	cls := s.router.Classify(ctx, content, material.OriginalName)
	s.log.Info("image classified", "material_id", materialID, "label", cls.Label, "confidence", cls.Confidence)

	var chunks []ChunkInput
	var md []string
	if cls.Label == types.LabelTextHeavy || cls.Label == types.LabelTable {
		if err := s.checkpoint(ctx, materialID); err != nil {
			return err
		}
		if err := s.ledger.RecordProgress(ctx, materialID, StageMineruImage, nil, nil); err != nil {
			return err
		}
		result, err := s.imageParser.ParseImage(ctx, content, material.OriginalName)
		if err != nil {
			return s.fail(ctx, materialID, StageMineruImage, err)
		}
		if text := strings.TrimSpace(result.Text); text != "" {
			md = append(md, text)
			chunks = append(chunks, ChunkInput{
				ChunkID: "img_text",
				Kind:    types.ChunkKindText,
				Text:    text,
				Loc:     map[string]interface{}{},
			})
		}
		for i, table := range result.Tables {
			tableMD := strings.TrimSpace(table.Markdown)
			if tableMD == "" {
				continue
			}
			md = append(md, fmt.Sprintf("### Table %d\n\n%s", i+1, tableMD))
			chunks = append(chunks, ChunkInput{
				ChunkID: fmt.Sprintf("img_tbl_%d", i+1),
				Kind:    types.ChunkKindTable,
				Text:    tableMD,
				Loc:     map[string]interface{}{},
			})
		}
	} else {
		caption := fmt.Sprintf("Image classified as %s (p=%.2f).", cls.Label, cls.Confidence)
		md = append(md, caption)
		chunks = append(chunks, ChunkInput{
			ChunkID: "img_caption",
			Kind:    types.ChunkKindCaption,
			Text:    caption,
			Loc:     map[string]interface{}{},
		})
	}

	return s.write(ctx, materialID, chunks, strings.Join(md, "\n\n"), WriteAppend)
}

func (s *parseService) write(ctx context.Context, materialID uuid.UUID, chunks []ChunkInput, markdown string, mode WriteMode) error {
	if err := s.checkpoint(ctx, materialID); err != nil {
		return err
	}
	if err := s.ledger.RecordProgress(ctx, materialID, StageWriteChunks, nil, map[string]interface{}{"chunks": len(chunks)}); err != nil {
		return err
	}
	if err := s.chunks.Write(ctx, materialID, chunks, markdown, mode); err != nil {
		return s.fail(ctx, materialID, StageWriteChunks, err)
	}
	return nil
}

// checkpoint runs between stages: a parse never stops mid-backend-call, only
// at the next stage boundary.
func (s *parseService) checkpoint(ctx context.Context, materialID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return apierr.Cancelled("parse interrupted: %v", err)
	}
	requested, err := s.ledger.CancelRequested(ctx, materialID)
	if err != nil {
		return err
	}
	if requested {
		return apierr.Cancelled("parse cancelled for material %s", materialID)
	}
	return nil
}

func (s *parseService) fail(ctx context.Context, materialID uuid.UUID, stage string, err error) error {
	if rerr := s.ledger.RecordError(ctx, materialID, stage, err.Error()); rerr != nil {
		s.log.Error("failed to record parse error", "material_id", materialID, "stage", stage, "error", rerr)
	}
	return err
}

// ParseBatch parses several materials concurrently, bounded by
// PARSE_MAX_CONCURRENCY. One material failing does not stop the others; the
// returned items preserve input order.
func (s *parseService) ParseBatch(ctx context.Context, materialIDs []uuid.UUID) []BatchItem {
	items := make([]BatchItem, len(materialIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)
	for i, id := range materialIDs {
		i, id := i, id
		g.Go(func() error {
			if err := s.Parse(gctx, id); err != nil {
				items[i] = BatchItem{MaterialID: id, Status: "error", Error: err.Error()}
				return nil
			}
			items[i] = BatchItem{MaterialID: id, Status: "ok"}
			return nil
		})
	}
	_ = g.Wait()
	return items
}

func (s *parseService) Cancel(ctx context.Context, materialID uuid.UUID) error {
	material, err := s.ledger.Get(ctx, materialID)
	if err != nil {
		return err
	}
	if material.Status != types.StatusQueued && material.Status != types.StatusProcessing {
		return apierr.Invalid("material %s is not being parsed", materialID)
	}
	return s.ledger.RequestCancel(ctx, materialID)
}

func blobKey(material *types.Material) string {
	if material.Suffix == "" {
		return material.ID.String()
	}
	return material.ID.String() + "." + strings.ToLower(material.Suffix)
}
