package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/whiskeygoggles/goggles/internal/apperr"
	"github.com/whiskeygoggles/goggles/internal/assets"
	"github.com/whiskeygoggles/goggles/internal/catalog"
	"github.com/whiskeygoggles/goggles/internal/logging"
	"github.com/whiskeygoggles/goggles/internal/pipeline"
	"github.com/whiskeygoggles/goggles/internal/ranking"
)

// Handler serves the model assets and runs the classification pipeline on
// uploaded photos.
type Handler struct {
	orchestrator   *pipeline.Orchestrator
	catalog        catalog.Source
	assetDir       *assets.DirStore
	maxUploadBytes int64
	logger         zerolog.Logger

	// slot queues uploads; the orchestrator itself rejects overlapping runs.
	slot chan struct{}
}

// Options configures a Handler.
type Options struct {
	Orchestrator   *pipeline.Orchestrator
	Catalog        catalog.Source
	AssetDir       *assets.DirStore
	MaxUploadBytes int64
	Logger         zerolog.Logger
}

func NewHandler(opts Options) *Handler {
	return &Handler{
		orchestrator:   opts.Orchestrator,
		catalog:        opts.Catalog,
		assetDir:       opts.AssetDir,
		maxUploadBytes: opts.MaxUploadBytes,
		logger:         logging.WithComponent(opts.Logger, "http"),
		slot:           make(chan struct{}, 1),
	}
}

// RegisterRoutes wires the handlers to the Gin router.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", h.Health)
	router.GET(assets.RootPath+"/:file", h.Asset)
	router.HEAD(assets.RootPath+"/:file", h.Asset)
	router.POST("/predict/image", h.PredictFromImage)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Asset serves one of the three fixed asset files from the asset directory.
func (h *Handler) Asset(c *gin.Context) {
	a, ok := assets.LookupFile(c.Param("file"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown asset"})
		return
	}
	present, err := h.assetDir.Has(c.Request.Context(), a.Key)
	if err != nil {
		h.logger.Error().Err(err).Str("asset", string(a.Key)).Msg("asset lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "asset lookup failed"})
		return
	}
	if !present {
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not published", "asset": a.FileName})
		return
	}
	if a.JSON {
		c.Header("Content-Type", "application/json")
	} else {
		c.Header("Content-Type", "application/octet-stream")
	}
	c.File(h.assetDir.FilePath(a.Key))
}

// PredictResponse is the body of a successful /predict/image call.
type PredictResponse struct {
	RunID          string          `json:"run_id"`
	ModelDigest    string          `json:"model_digest"`
	ElapsedMS      int64           `json:"elapsed_ms"`
	Total          int             `json:"total"`
	HighConfidence int             `json:"high_confidence"`
	Query          string          `json:"query,omitempty"`
	Candidates     []CandidateJSON `json:"candidates"`
}

// CandidateJSON is a ranked candidate with its bottle size tag.
type CandidateJSON struct {
	ranking.Candidate
	Size string `json:"size,omitempty"`
}

// ErrorResponse carries a classified failure and what the user can do about it.
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Remedy string `json:"remedy"`
}

// PredictFromImage classifies the multipart "image" upload. The optional
// "q" field filters candidates by name; without it the top candidates are
// returned.
func (h *Handler) PredictFromImage(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		// Multipart framing adds a little on top of the file itself.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+64<<10)
	}

	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds the upload limit"})
			return
		}
		h.fail(c, apperr.Newf(apperr.KindNoImage, "upload", "no image file provided; use 'image' as the form field name"))
		return
	}
	if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds the upload limit"})
		return
	}

	src, err := file.Open()
	if err != nil {
		h.fail(c, apperr.New(apperr.KindInvalidImage, "upload", err))
		return
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		h.fail(c, apperr.New(apperr.KindInvalidImage, "upload", err))
		return
	}

	ctx := c.Request.Context()
	cat, err := h.catalog.Load(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("catalog load failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:  "catalog unavailable",
			Kind:   apperr.KindInternal.String(),
			Remedy: apperr.Remedy(apperr.KindInternal),
		})
		return
	}

	select {
	case h.slot <- struct{}{}:
		defer func() { <-h.slot }()
	case <-ctx.Done():
		h.fail(c, apperr.New(apperr.KindCanceled, "queue", ctx.Err()))
		return
	}

	h.logger.Debug().
		Str("file", file.Filename).
		Int64("size", file.Size).
		Msg("classifying upload")

	res, err := h.orchestrator.Run(ctx, pipeline.Request{Image: data, Catalog: cat})
	if err != nil {
		h.fail(c, err)
		return
	}

	query := strings.TrimSpace(c.PostForm("q"))
	view := res.Ranking.View(query)
	out := PredictResponse{
		RunID:          res.RunID,
		ModelDigest:    res.ModelDigest,
		ElapsedMS:      res.Elapsed.Milliseconds(),
		Total:          res.Ranking.Len(),
		HighConfidence: res.Ranking.HighConfidence(),
		Query:          query,
		Candidates:     make([]CandidateJSON, 0, len(view)),
	}
	for _, cand := range view {
		out.Candidates = append(out.Candidates, CandidateJSON{Candidate: cand, Size: cand.Size()})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("kind", kind.String()).Msg("request failed")
	}
	if kind == apperr.KindBusy {
		c.Header("Retry-After", retryAfter)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Kind: kind.String(), Remedy: apperr.Remedy(kind)})
}

// retryAfter is the Retry-After value, in seconds, sent with Busy.
const retryAfter = "5"

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNoImage:
		return http.StatusBadRequest
	case apperr.KindInvalidImage:
		return http.StatusUnprocessableEntity
	case apperr.KindAssetsNotCached, apperr.KindNotCached, apperr.KindBusy:
		return http.StatusServiceUnavailable
	case apperr.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
