package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/9963KK/aiedu-backend/internal/apierr"
	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/services"
)

type MaterialHandler struct {
	log             *logger.Logger
	materialService services.MaterialService
	parseService    services.ParseService
	chunkStore      services.ChunkStore
	ledger          services.StatusLedger
}

func NewMaterialHandler(
	log *logger.Logger,
	materialService services.MaterialService,
	parseService services.ParseService,
	chunkStore services.ChunkStore,
	ledger services.StatusLedger,
) *MaterialHandler {
	return &MaterialHandler{
		log:             log.With("handler", "MaterialHandler"),
		materialService: materialService,
		parseService:    parseService,
		chunkStore:      chunkStore,
		ledger:          ledger,
	}
}

func materialID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondAPIError(c, apierr.Invalid("invalid material id %q", c.Param("id")))
		return uuid.Nil, false
	}
	return id, true
}

func pagination(c *gin.Context) (offset, limit int) {
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return offset, limit
}

// POST /api/materials
// Multipart upload, one or more "file" fields.
func (h *MaterialHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		RespondAPIError(c, apierr.Invalid("invalid multipart form: %v", err))
		return
	}
	files := form.File["file"]
	if len(files) == 0 {
		RespondAPIError(c, apierr.Invalid("no files in upload request"))
		return
	}

	inputs := make([]services.UploadInput, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			RespondAPIError(c, apierr.Invalid("open uploaded file %q: %v", fh.Filename, err))
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			RespondAPIError(c, apierr.Invalid("read uploaded file %q: %v", fh.Filename, err))
			return
		}
		inputs = append(inputs, services.UploadInput{
			Filename: fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Content:  content,
		})
	}

	materials, err := h.materialService.Upload(c.Request.Context(), inputs)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"materials": materials})
}

// GET /api/materials
func (h *MaterialHandler) List(c *gin.Context) {
	offset, limit := pagination(c)
	materials, total, err := h.materialService.List(c.Request.Context(), offset, limit)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{"materials": materials, "total": total, "offset": offset, "limit": limit})
}

// GET /api/materials/:id
// Includes the latest parse progress and error records.
func (h *MaterialHandler) Get(c *gin.Context) {
	id, ok := materialID(c)
	if !ok {
		return
	}
	material, err := h.materialService.Get(c.Request.Context(), id)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	progress, parseErr, err := h.ledger.Progress(c.Request.Context(), id)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{"material": material, "progress": progress, "last_error": parseErr})
}

// DELETE /api/materials/:id
func (h *MaterialHandler) Delete(c *gin.Context) {
	id, ok := materialID(c)
	if !ok {
		return
	}
	if err := h.materialService.Delete(c.Request.Context(), id); err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": id})
}

// GET /api/materials/:id/chunks?offset&limit&type
func (h *MaterialHandler) Chunks(c *gin.Context) {
	id, ok := materialID(c)
	if !ok {
		return
	}
	if _, err := h.materialService.Get(c.Request.Context(), id); err != nil {
		RespondAPIError(c, err)
		return
	}
	offset, limit := pagination(c)
	chunks, total, err := h.chunkStore.List(c.Request.Context(), id, offset, limit, c.Query("type"))
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{"chunks": chunks, "total": total, "offset": offset, "limit": limit})
}

// POST /api/materials/:id/parse
// Runs the parse synchronously and reports the final status.
func (h *MaterialHandler) Parse(c *gin.Context) {
	id, ok := materialID(c)
	if !ok {
		return
	}
	if err := h.parseService.Parse(c.Request.Context(), id); err != nil {
		RespondAPIError(c, err)
		return
	}
	material, err := h.materialService.Get(c.Request.Context(), id)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{"material": material})
}

type parseBatchRequest struct {
	MaterialIDs []uuid.UUID `json:"material_ids" binding:"required"`
}

// POST /api/materials/parse-batch
func (h *MaterialHandler) ParseBatch(c *gin.Context) {
	var req parseBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondAPIError(c, apierr.Invalid("invalid request body: %v", err))
		return
	}
	if len(req.MaterialIDs) == 0 {
		RespondAPIError(c, apierr.Invalid("material_ids must not be empty"))
		return
	}
	items := h.parseService.ParseBatch(c.Request.Context(), req.MaterialIDs)
	RespondOK(c, gin.H{"results": items})
}

// POST /api/materials/:id/cancel
// Asks a running parse to stop at its next stage boundary.
func (h *MaterialHandler) Cancel(c *gin.Context) {
	id, ok := materialID(c)
	if !ok {
		return
	}
	if err := h.parseService.Cancel(c.Request.Context(), id); err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{"cancel_requested": id})
}
