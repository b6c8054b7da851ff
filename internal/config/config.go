package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Artifact source backends supported by the artifact store client.
const (
	SourceAzure = "azure"
	SourceHTTP  = "http"
)

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	MaxBatchSize       int

	// Model artifact acquisition
	ArtifactSource  string
	ModelBucket     string
	ModelPrefix     string
	AzureAccount    string
	AzureKey        string
	ArtifactBaseURL string
	ModelCacheDir   string

	// Model loading
	ModelLoadTimeout time.Duration
	EagerLoad        bool
	OnnxLibraryPath  string

	// Inference behavior
	DetectorScoreThreshold float64
	DetectorNMSIoU         float64
	LowConfidenceThreshold float64
	InferenceWorkers       int
	InferenceQueueDepth    int
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

func LoadFromEnv() (*Config, error) {
	// Pick up a local .env when present; absence is not an error
	_ = godotenv.Load()

	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "8080"),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second),
		MaxRequestBodySize: parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 10*1024*1024), // 10MB
		MaxBatchSize:       int(parseIntOrDefault("MAX_BATCH_SIZE", 10)),

		ArtifactSource:  getEnvOrDefault("ARTIFACT_SOURCE", SourceAzure),
		ModelBucket:     getEnvOrDefault("MODEL_BUCKET", "models"),
		ModelPrefix:     getEnvOrDefault("MODEL_PREFIX", "gender-classification-final/"),
		AzureAccount:    os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureKey:        os.Getenv("AZURE_STORAGE_KEY"),
		ArtifactBaseURL: os.Getenv("ARTIFACT_BASE_URL"),
		ModelCacheDir:   getEnvOrDefault("MODEL_CACHE_DIR", "./model"),

		ModelLoadTimeout: parseDurationOrDefault("MODEL_LOAD_TIMEOUT", 120*time.Second),
		EagerLoad:        parseBoolOrDefault("MODEL_EAGER_LOAD", true),
		OnnxLibraryPath:  os.Getenv("ONNXRUNTIME_SHARED_LIBRARY"),

		DetectorScoreThreshold: parseFloatOrDefault("DETECTOR_SCORE_THRESHOLD", 0.70),
		DetectorNMSIoU:         parseFloatOrDefault("DETECTOR_NMS_IOU", 0.50),
		LowConfidenceThreshold: parseFloatOrDefault("LOW_CONFIDENCE_THRESHOLD", 0.60),
		InferenceWorkers:       int(parseIntOrDefault("INFERENCE_WORKERS", 1)),
		InferenceQueueDepth:    int(parseIntOrDefault("INFERENCE_QUEUE_DEPTH", 16)),
	}

	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(cfg.Port))
	if err != nil || p < 1 || p > 65535 {
		return nil, fmt.Errorf("invalid PORT: %q", cfg.Port)
	}
	if cfg.MaxRequestBodySize <= 0 {
		return nil, fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", cfg.MaxRequestBodySize)
	}
	if cfg.MaxBatchSize < 1 {
		return nil, fmt.Errorf("MAX_BATCH_SIZE must be >= 1 (got %d)", cfg.MaxBatchSize)
	}
	if cfg.RequestTimeout <= 0 || cfg.ModelLoadTimeout <= 0 {
		return nil, fmt.Errorf("timeouts must be > 0 (got request=%s, load=%s)",
			cfg.RequestTimeout, cfg.ModelLoadTimeout)
	}
	switch cfg.ArtifactSource {
	case SourceAzure:
		if cfg.AzureAccount == "" || cfg.AzureKey == "" {
			return nil, fmt.Errorf("AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY are required when ARTIFACT_SOURCE=%s", SourceAzure)
		}
	case SourceHTTP:
		if cfg.ArtifactBaseURL == "" {
			return nil, fmt.Errorf("ARTIFACT_BASE_URL is required when ARTIFACT_SOURCE=%s", SourceHTTP)
		}
	default:
		return nil, fmt.Errorf("invalid ARTIFACT_SOURCE: %q (want %s or %s)", cfg.ArtifactSource, SourceAzure, SourceHTTP)
	}
	if cfg.DetectorScoreThreshold <= 0 || cfg.DetectorScoreThreshold >= 1 {
		return nil, fmt.Errorf("DETECTOR_SCORE_THRESHOLD must be in (0,1) (got %f)", cfg.DetectorScoreThreshold)
	}
	if cfg.DetectorNMSIoU <= 0 || cfg.DetectorNMSIoU > 1 {
		return nil, fmt.Errorf("DETECTOR_NMS_IOU must be in (0,1] (got %f)", cfg.DetectorNMSIoU)
	}
	if cfg.LowConfidenceThreshold < 0.5 || cfg.LowConfidenceThreshold > 1 {
		return nil, fmt.Errorf("LOW_CONFIDENCE_THRESHOLD must be in [0.5,1] (got %f)", cfg.LowConfidenceThreshold)
	}
	if cfg.InferenceWorkers < 1 {
		return nil, fmt.Errorf("INFERENCE_WORKERS must be >= 1 (got %d)", cfg.InferenceWorkers)
	}
	if cfg.InferenceQueueDepth < 0 {
		return nil, fmt.Errorf("INFERENCE_QUEUE_DEPTH must be >= 0 (got %d)", cfg.InferenceQueueDepth)
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
