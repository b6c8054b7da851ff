package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"go-gender-classifier/internal/logger"
)

// Source downloads a single named artifact file from remote storage.
// Implementations classify their own transport failures into FetchError.
type Source interface {
	Download(ctx context.Context, name string, dest io.Writer) error
}

// Store fetches the required bundle files from a Source into a local cache
// directory. The bundle appears in its final location only via an atomic
// rename, so a partially downloaded bundle is never observed as complete.
type Store struct {
	source   Source
	cacheDir string
}

// NewStore creates a cache-backed artifact store over the given source
func NewStore(source Source, cacheDir string) *Store {
	return &Store{source: source, cacheDir: cacheDir}
}

// BundleDir is where a complete bundle lives once fetched
func (s *Store) BundleDir() string {
	return filepath.Join(s.cacheDir, "bundle")
}

// Fetch ensures the complete bundle is present locally and returns its
// directory. An already-complete cache short-circuits the download.
// No retry policy lives here; reload attempts are owned by the model loader.
func (s *Store) Fetch(ctx context.Context) (string, error) {
	dir := s.BundleDir()
	if bundleComplete(dir) {
		logger.WithComponent("artifact").WithField("dir", dir).Debug("model bundle already cached")
		return dir, nil
	}

	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache dir: %w", err)
	}

	tmp, err := os.MkdirTemp(s.cacheDir, "bundle-download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	for _, name := range RequiredFiles {
		if err := s.downloadFile(ctx, name, tmp); err != nil {
			return "", err
		}
		logger.WithComponent("artifact").WithFields(logrus.Fields{
			"file": name,
		}).Info("downloaded model artifact")
	}

	// Replace any stale or partial bundle in a single rename
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to clear stale bundle: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return "", fmt.Errorf("failed to install bundle: %w", err)
	}

	logger.WithComponent("artifact").WithField("dir", dir).Info("model bundle download completed")
	return dir, nil
}

func (s *Store) downloadFile(ctx context.Context, name, dir string) error {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer f.Close()

	if err := s.source.Download(ctx, name, f); err != nil {
		if _, ok := err.(*FetchError); ok {
			return err
		}
		return &FetchError{Kind: ErrNetwork, File: name, Err: err}
	}
	return f.Sync()
}

func bundleComplete(dir string) bool {
	for _, name := range RequiredFiles {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.Size() == 0 {
			return false
		}
	}
	return true
}
