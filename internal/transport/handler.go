package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"go-gender-classifier/internal/config"
	apperrors "go-gender-classifier/internal/errors"
	"go-gender-classifier/internal/logger"
	"go-gender-classifier/internal/observer"
	"go-gender-classifier/internal/predictor"
	"go-gender-classifier/pkg/models"
	"go-gender-classifier/pkg/validation"
)

// NewHandler wires the HTTP routes over the prediction orchestrator
func NewHandler(pred *predictor.Predictor, stats *observer.StatsObserver, cfg *config.Config) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(
		requestID(),
		requestSizeLimiter(cfg.MaxRequestBodySize),
		requestTimeout(cfg.RequestTimeout),
	)
	r.MaxMultipartMemory = cfg.MaxRequestBodySize

	validator := validation.NewUploadValidator(cfg.MaxRequestBodySize)

	r.GET("/health", healthCheck(pred))
	r.GET("/stats", statsSnapshot(stats))
	r.POST("/predict", predictImage(pred, validator))
	r.POST("/predict-batch", predictBatch(pred, validator, cfg))

	return r
}

func healthCheck(pred *predictor.Predictor) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot := pred.Health()

		status := "degraded"
		if snapshot.Healthy() {
			status = "healthy"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:          status,
			ModelLoaded:     snapshot.ClassifierLoaded,
			ProcessorLoaded: snapshot.PreprocessorLoaded,
			DetectorLoaded:  snapshot.DetectorLoaded,
		})
	}
}

func statsSnapshot(stats *observer.StatsObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, stats.Snapshot())
	}
}

func predictImage(pred *predictor.Predictor, validator *validation.UploadValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		file, err := c.FormFile("file")
		if err != nil {
			respondError(c, apperrors.NewValidationError(
				"image file is required (use 'file' as the form field name)", err))
			return
		}

		if err := validator.Validate(file); err != nil {
			respondError(c, err)
			return
		}

		data, err := readPart(file)
		if err != nil {
			respondError(c, apperrors.NewValidationError("failed to read uploaded file", err))
			return
		}

		outcome := pred.Predict(c.Request.Context(), data)

		logger.WithFields(logrus.Fields{
			"path":               c.Request.URL.Path,
			"filename":           file.Filename,
			"outcome":            string(outcome.Kind),
			"person_count":       outcome.PersonCount,
			"processing_time_ms": time.Since(start).Milliseconds(),
		}).Info("Processed prediction request")

		c.JSON(http.StatusOK, toResponse(outcome))
	}
}

func predictBatch(pred *predictor.Predictor, validator *validation.UploadValidator, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			respondError(c, apperrors.NewValidationError("invalid multipart form", err))
			return
		}

		files := form.File["files"]
		if len(files) == 0 {
			respondError(c, apperrors.NewValidationError(
				"at least one file is required (use 'files' as the form field name)", nil))
			return
		}
		if len(files) > cfg.MaxBatchSize {
			respondError(c, apperrors.NewValidationError(
				fmt.Sprintf("Maximum %d images per batch", cfg.MaxBatchSize), nil))
			return
		}

		// Invalid or unreadable parts stay in the batch as empty payloads;
		// they fail decode individually without aborting their siblings.
		items := make([][]byte, len(files))
		for i, file := range files {
			if err := validator.Validate(file); err != nil {
				continue
			}
			if data, err := readPart(file); err == nil {
				items[i] = data
			}
		}

		outcomes := pred.PredictBatch(c.Request.Context(), items)

		results := make([]models.BatchItemResponse, len(outcomes))
		for i, outcome := range outcomes {
			results[i] = models.BatchItemResponse{
				Filename:           files[i].Filename,
				PredictionResponse: toResponse(outcome),
			}
		}

		c.JSON(http.StatusOK, models.BatchPredictionResponse{Results: results})
	}
}

// toResponse flattens a tagged outcome into the documented response shape.
// Rejections and failures keep HTTP 200 with the error field populated.
func toResponse(outcome predictor.Outcome) models.PredictionResponse {
	switch outcome.Kind {
	case predictor.OutcomeSuccess:
		label := outcome.Label
		return models.PredictionResponse{
			Prediction:    &label,
			Confidence:    outcome.Confidence,
			PersonCount:   outcome.PersonCount,
			Probabilities: outcome.Probabilities,
			LowConfidence: outcome.LowConfidence,
		}

	case predictor.OutcomeRejected:
		msg := rejectionMessage(outcome)
		return models.PredictionResponse{
			PersonCount: outcome.PersonCount,
			Error:       &msg,
		}

	default:
		msg := outcome.Message
		return models.PredictionResponse{
			PersonCount: outcome.PersonCount,
			Error:       &msg,
		}
	}
}

func rejectionMessage(outcome predictor.Outcome) string {
	switch outcome.Reason {
	case predictor.RejectNoPerson:
		return "No person detected"
	case predictor.RejectMultiplePeople:
		return fmt.Sprintf("Multiple people detected (%d people). Please use single-person images.", outcome.PersonCount)
	default:
		return string(outcome.Reason)
	}
}

func readPart(file *multipart.FileHeader) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func requestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Header("X-Request-ID", id)
		c.Request = c.Request.WithContext(
			predictor.ContextWithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// respondError maps an application error to its HTTP status. Only boundary
// validation failures reach here; pipeline outcomes keep HTTP 200.
func respondError(c *gin.Context, err error) {
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	c.JSON(apperrors.GetStatusCode(err), models.ErrorResponse{Error: message})
}
