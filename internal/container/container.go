package container

import (
	"fmt"
	"net/http"

	"go-gender-classifier/internal/artifact"
	"go-gender-classifier/internal/bundle"
	"go-gender-classifier/internal/classifier"
	"go-gender-classifier/internal/config"
	"go-gender-classifier/internal/detector"
	"go-gender-classifier/internal/inference"
	"go-gender-classifier/internal/logger"
	"go-gender-classifier/internal/observer"
	"go-gender-classifier/internal/predictor"
	"go-gender-classifier/internal/transport"
)

// Container holds all application dependencies
type Container struct {
	config    *config.Config
	store     *artifact.Store
	loader    *bundle.Loader
	pool      *inference.Pool
	predictor *predictor.Predictor
	stats     *observer.StatsObserver
	handler   http.Handler
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config) (*Container, error) {
	source, err := newArtifactSource(cfg)
	if err != nil {
		return nil, err
	}

	store := artifact.NewStore(source, cfg.ModelCacheDir)
	loader := bundle.NewLoader(store, cfg.OnnxLibraryPath, cfg.ModelLoadTimeout)
	pool := inference.NewPool(cfg.InferenceWorkers, cfg.InferenceQueueDepth)

	gate := detector.NewGate(detector.Config{
		ScoreThreshold:    float32(cfg.DetectorScoreThreshold),
		NMSIoU:            float32(cfg.DetectorNMSIoU),
		MinRelativeArea:   detector.DefaultConfig().MinRelativeArea,
		MinRelativeHeight: detector.DefaultConfig().MinRelativeHeight,
	})
	cls := classifier.New(cfg.LowConfidenceThreshold)

	events := observer.NewEventPublisher()
	stats := observer.NewStatsObserver()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(stats)

	pred := predictor.New(loader, pool, gate, cls, events)
	handler := transport.NewHandler(pred, stats, cfg)

	return &Container{
		config:    cfg,
		store:     store,
		loader:    loader,
		pool:      pool,
		predictor: pred,
		stats:     stats,
		handler:   handler,
	}, nil
}

func newArtifactSource(cfg *config.Config) (artifact.Source, error) {
	switch cfg.ArtifactSource {
	case config.SourceAzure:
		return artifact.NewAzureSource(cfg.AzureAccount, cfg.AzureKey, cfg.ModelBucket, cfg.ModelPrefix)
	case config.SourceHTTP:
		return artifact.NewHTTPSource(cfg.ArtifactBaseURL, cfg.ModelPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported artifact source: %q", cfg.ArtifactSource)
	}
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Predictor returns the prediction orchestrator
func (c *Container) Predictor() *predictor.Predictor {
	return c.predictor
}

// Loader returns the model loader
func (c *Container) Loader() *bundle.Loader {
	return c.loader
}

// Close releases loaded model resources
func (c *Container) Close() {
	c.loader.Close()
}
