package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/edwin0419/particlelab/internal/codec"
	"github.com/edwin0419/particlelab/internal/db"
	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/internal/params"
	"github.com/edwin0419/particlelab/internal/preview"
	"github.com/edwin0419/particlelab/internal/stages"
	"github.com/edwin0419/particlelab/internal/store"
	"github.com/edwin0419/particlelab/pkg/models"
)

// previewableStages is the set of stage ids a client may request a
// preview for (spec §6 "n ∈ {3,4,6,7,9,10}").
var previewableStages = map[models.StageID]bool{
	models.Stage3: true, models.Stage4: true, models.Stage6: true,
	models.Stage7: true, models.Stage9: true, models.Stage10: true,
}

// APIHandler wires the HTTP transport to the core collaborators: the SQL
// store for Image/Run rows, the versioned artifact store, the stage
// executors, and the preview renderer.
type APIHandler struct {
	DB       *db.PostgresStore
	Store    *store.ArtifactStore
	Executor *stages.Executor
	Preview  *preview.Renderer
}

// SetupRouter builds the Gin engine for the whole HTTP surface (spec §6).
func SetupRouter(h *APIHandler, authToken, ginMode string, rateLimitPerMin, rateLimitBurst int) *gin.Engine {
	gin.SetMode(ginMode)
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	r.GET("/health", h.handleHealth)

	api := r.Group("/api")
	api.GET("/health", h.handleHealth)
	api.Use(AuthMiddleware(authToken, ginMode))
	api.Use(NewRateLimiter(rateLimitPerMin, rateLimitBurst).Middleware())
	{
		api.POST("/images", h.handleUploadImage)
		api.GET("/images", h.handleListImages)
		api.GET("/images/:id", h.handleGetImage)
		api.GET("/images/:id/original", h.handleGetImageOriginal)
		api.DELETE("/images/:id", h.handleDeleteImage)

		api.POST("/runs", h.handleCreateRun)
		api.GET("/runs", h.handleListRuns)
		api.GET("/runs/:id", h.handleGetRun)

		api.GET("/runs/:id/history/export", h.handleExportHistory)
		api.POST("/runs/:id/history/import", h.handleImportHistory)

		api.POST("/runs/:id/steps/:n/execute", h.handleExecuteStep)
		api.POST("/runs/:id/steps/:n/preview", h.handlePreviewStep)

		api.GET("/runs/:id/artifacts", h.handleListArtifacts)
		api.GET("/artifacts/:id", h.handleGetArtifact)
		api.GET("/artifacts/:id/file", h.handleGetArtifactFile)
		api.PATCH("/artifacts/:id/name", h.handleRenameArtifact)
		api.DELETE("/artifacts/:id", h.handleDeleteArtifact)
	}

	return r
}

// writeError maps an errs.Error (or any error) onto the HTTP status its
// Kind carries (spec §7 "Error Handling Design").
func writeError(c *gin.Context, err error) {
	kind := errs.Internal
	msg := err.Error()
	var classified *errs.Error
	if errors.As(err, &classified) {
		kind = classified.Kind
		msg = classified.Message
	}
	c.JSON(kind.StatusCode(), gin.H{"error": msg, "kind": kind.String()})
}

// ── Images ──────────────────────────────────────────────────────────

func (h *APIHandler) handleUploadImage(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "missing multipart field \"file\""})
		return
	}

	data, err := readMultipartFile(fileHeader)
	if err != nil {
		writeError(c, errs.InvalidInputf("failed to read uploaded file: %v", err))
		return
	}
	gray, err := codec.DecodeAny(data)
	if err != nil {
		writeError(c, err)
		return
	}

	id := uuid.NewString()
	storagePath := id + "/original/" + fileHeader.Filename
	if err := h.Store.Blob.WriteFile(storagePath, data); err != nil {
		writeError(c, errs.Internalf(err, "failed to store uploaded image"))
		return
	}

	img := &models.Image{
		ID:          id,
		Filename:    fileHeader.Filename,
		Mime:        fileHeader.Header.Get("Content-Type"),
		Width:       gray.W,
		Height:      gray.H,
		StoragePath: storagePath,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.DB.InsertImage(c.Request.Context(), img); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, img)
}

func readMultipartFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func bindJSONBytes(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (h *APIHandler) handleListImages(c *gin.Context) {
	imgs, err := h.DB.ListImages(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, imgs)
}

func (h *APIHandler) handleGetImage(c *gin.Context) {
	img, err := h.DB.GetImage(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, img)
}

func (h *APIHandler) handleGetImageOriginal(c *gin.Context) {
	img, err := h.DB.GetImage(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	data, err := h.Store.Blob.ReadFile(img.StoragePath)
	if err != nil {
		writeError(c, errs.NotFoundf("original file missing for image %s", img.ID))
		return
	}
	c.Data(http.StatusOK, mimeOrDefault(img.Mime), data)
}

func (h *APIHandler) handleDeleteImage(c *gin.Context) {
	id := c.Param("id")
	if err := h.DB.DeleteImage(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	_ = h.Store.Blob.RemoveAll(id)
	c.Status(http.StatusNoContent)
}

func mimeOrDefault(m string) string {
	if m == "" {
		return "application/octet-stream"
	}
	return m
}

// ── Runs ────────────────────────────────────────────────────────────

func (h *APIHandler) handleCreateRun(c *gin.Context) {
	var req struct {
		ImageID string `json:"image_id"`
		Name    string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ImageID == "" {
		writeError(c, errs.InvalidInputf("image_id is required"))
		return
	}
	if _, err := h.DB.GetImage(c.Request.Context(), req.ImageID); err != nil {
		writeError(c, err)
		return
	}
	run := &models.Run{
		ID:        uuid.NewString(),
		ImageID:   req.ImageID,
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.DB.InsertRun(c.Request.Context(), run); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

func (h *APIHandler) handleListRuns(c *gin.Context) {
	imageID := c.Query("image_id")
	if imageID == "" {
		writeError(c, errs.InvalidInputf("image_id query parameter is required"))
		return
	}
	runs, err := h.DB.ListRunsByImage(c.Request.Context(), imageID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (h *APIHandler) handleGetRun(c *gin.Context) {
	run, err := h.DB.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// ── History ─────────────────────────────────────────────────────────

func (h *APIHandler) handleExportHistory(c *gin.Context) {
	run, err := h.DB.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	doc, err := h.Store.ExportHistory(c.Request.Context(), run)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *APIHandler) handleImportHistory(c *gin.Context) {
	run, err := h.DB.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		writeError(c, errs.InvalidInputf("missing multipart field \"file\""))
		return
	}
	data, err := readMultipartFile(fileHeader)
	if err != nil {
		writeError(c, errs.InvalidInputf("failed to read uploaded history file: %v", err))
		return
	}

	var doc store.ExportDocument
	if err := bindJSONBytes(data, &doc); err != nil {
		writeError(c, errs.InvalidInputf("malformed history export document: %v", err))
		return
	}

	count, err := h.Store.ImportHistory(c.Request.Context(), run, &doc)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported_count": count})
}

// stageExecutorFunc is the uniform signature shared by every
// ExecuteStageN method (spec §4.4).
type stageExecutorFunc func(ctx context.Context, run *models.Run, raw params.Raw) (*models.Artifact, error)

// stageExecutors builds the stage-id → executor dispatch table.
func stageExecutors(e *stages.Executor) map[models.StageID]stageExecutorFunc {
	return map[models.StageID]stageExecutorFunc{
		models.Stage1:  e.ExecuteStage1,
		models.Stage2:  e.ExecuteStage2,
		models.Stage3:  e.ExecuteStage3,
		models.Stage4:  e.ExecuteStage4,
		models.Stage45: e.ExecuteStage45,
		models.Stage5:  e.ExecuteStage5,
		models.Stage6:  e.ExecuteStage6,
		models.Stage7:  e.ExecuteStage7,
		models.Stage8:  e.ExecuteStage8,
		models.Stage9:  e.ExecuteStage9,
		models.Stage10: e.ExecuteStage10,
	}
}

// ── Stage execute / preview ─────────────────────────────────────────

func (h *APIHandler) handleExecuteStep(c *gin.Context) {
	run, stage, ok := h.loadRunAndStage(c)
	if !ok {
		return
	}
	var raw params.Raw
	if err := c.ShouldBindJSON(&raw); err != nil {
		raw = params.Raw{}
	}

	fn, ok := stageExecutors(h.Executor)[stage]
	if !ok {
		writeError(c, errs.InvalidInputf("stage %d has no executor", stage))
		return
	}
	artifact, err := fn(c.Request.Context(), run, raw)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, artifact)
}

func (h *APIHandler) handlePreviewStep(c *gin.Context) {
	run, stage, ok := h.loadRunAndStage(c)
	if !ok {
		return
	}
	if !previewableStages[stage] {
		writeError(c, errs.InvalidInputf("stage %d has no preview renderer", stage))
		return
	}
	var raw params.Raw
	if err := c.ShouldBindJSON(&raw); err != nil {
		raw = params.Raw{}
	}
	data, mime, err := h.Preview.Render(c.Request.Context(), run, stage, raw)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, mime, data)
}

// loadRunAndStage resolves the :id/:n path params shared by execute and
// preview, accepting "4.5" or "45" for the auxiliary passthrough stage.
func (h *APIHandler) loadRunAndStage(c *gin.Context) (*models.Run, models.StageID, bool) {
	run, err := h.DB.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, 0, false
	}
	stage, err := parseStageParam(c.Param("n"))
	if err != nil {
		writeError(c, err)
		return nil, 0, false
	}
	return run, stage, true
}

func parseStageParam(raw string) (models.StageID, error) {
	if raw == "4.5" {
		return models.Stage45, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.InvalidInputf("invalid step id %q", raw)
	}
	stage := models.StageID(n)
	if !stage.Valid() {
		return 0, errs.InvalidInputf("unrecognized step id %d", n)
	}
	return stage, nil
}

// ── Artifacts ───────────────────────────────────────────────────────

func (h *APIHandler) handleListArtifacts(c *gin.Context) {
	run, err := h.DB.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	groups, err := h.Store.ListGrouped(c.Request.Context(), run.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

func (h *APIHandler) handleGetArtifact(c *gin.Context) {
	a, err := h.Store.GetArtifact(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *APIHandler) handleGetArtifactFile(c *gin.Context) {
	a, err := h.Store.GetArtifact(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	idx, err := strconv.Atoi(c.DefaultQuery("file_index", "0"))
	if err != nil {
		writeError(c, errs.InvalidInputf("file_index must be an integer"))
		return
	}
	data, mime, err := h.Store.GetFile(c.Request.Context(), a, idx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, mimeOrDefault(mime), data)
}

func (h *APIHandler) handleRenameArtifact(c *gin.Context) {
	a, err := h.Store.GetArtifact(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		writeError(c, errs.InvalidInputf("name is required"))
		return
	}
	if err := h.Store.RenameVersion(c.Request.Context(), a, req.Name); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *APIHandler) handleDeleteArtifact(c *gin.Context) {
	a, err := h.Store.GetArtifact(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.Store.DeleteVersion(c.Request.Context(), a); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ── Health ──────────────────────────────────────────────────────────

func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
