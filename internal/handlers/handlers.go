package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/ich-api/internal/inference"
	"github.com/Brownie44l1/ich-api/internal/normalize"
	"github.com/Brownie44l1/ich-api/internal/usecase"
	"github.com/Brownie44l1/ich-api/internal/web"
)

// DefaultMaxUploadSize caps multipart uploads at 10 MiB.
const DefaultMaxUploadSize = 10 << 20

// uploadFields lists accepted multipart field names in lookup order.
var uploadFields = []string{"file", "image"}

type Handler struct {
	uc             *usecase.ClassificationUseCase
	maxUploadBytes int64
	logger         *zap.Logger
}

func NewHandler(uc *usecase.ClassificationUseCase, maxUploadBytes int64, logger *zap.Logger) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadSize
	}
	return &Handler{uc: uc, maxUploadBytes: maxUploadBytes, logger: logger.Named("handlers")}
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, h *Handler) {
	router.GET("/", h.Index)
	router.GET("/health", h.Health)
	router.GET("/labels", h.Labels)
	router.POST("/predict", h.Predict)
	router.POST("/predict/tensor", h.PredictTensor)
}

func (h *Handler) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", web.IndexHTML)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) Labels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"labels": inference.Labels()})
}

// Predict classifies a multipart upload. Classification failures are
// reported as {"error": ...} with status 200.
func (h *Handler) Predict(c *gin.Context) {
	requestID := requestIDFrom(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	header, err := formFile(c)
	if err != nil {
		if isTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File too large (max %d bytes)", h.maxUploadBytes)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided. Use 'file' as the form field name"})
		return
	}

	data, err := readFile(header)
	if err != nil {
		h.logger.Error("failed to read upload", zap.String("request_id", requestID), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"error": "Failed to read uploaded file"})
		return
	}

	upload := normalize.RawUpload{
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
		Filename:    header.Filename,
	}
	pred, err := h.uc.ClassifyUpload(c.Request.Context(), requestID, upload)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": publicMessage(err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"class_label": pred.Label})
}

type tensorRequest struct {
	Image []float32 `json:"image" binding:"required"`
}

// PredictTensor classifies a preprocessed 1×1×224×224 array.
func (h *Handler) PredictTensor(c *gin.Context) {
	var req tensorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	if len(req.Image) != inference.InputLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Expected %d values, got %d", inference.InputLen, len(req.Image))})
		return
	}

	pred, err := h.uc.ClassifyTensor(c.Request.Context(), requestIDFrom(c), req.Image)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": publicMessage(err)})
		return
	}

	probabilities := make(map[string]float32, len(pred.Probabilities))
	for i, p := range pred.Probabilities {
		if label, ok := inference.Label(i); ok {
			probabilities[label] = p
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"class_label":   pred.Label,
		"class_index":   pred.Index,
		"probabilities": probabilities,
	})
}

func formFile(c *gin.Context) (*multipart.FileHeader, error) {
	var firstErr error
	for _, field := range uploadFields {
		header, err := c.FormFile(field)
		if err == nil {
			return header, nil
		}
		if isTooLarge(err) {
			return nil, err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func readFile(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

// publicMessage strips operation prefixes and keeps the domain error text.
func publicMessage(err error) string {
	var unsupported *normalize.UnsupportedFormatError
	if errors.As(err, &unsupported) {
		return unsupported.Error()
	}
	var infErr *inference.InferenceError
	if errors.As(err, &infErr) {
		return infErr.Error()
	}
	return err.Error()
}
