// Package cache keeps downloaded files keyed by their expected checksum so that
// content already on disk is never fetched again.
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/sap-gg/azrelay/internal/checksum"
)

// Fetcher downloads a URL into a local file.
type Fetcher interface {
	Fetch(ctx context.Context, url, dst string) (string, error)
}

// Stats counts cache activity.
type Stats struct {
	Hits    int64
	Fetches int64
}

// Cache resolves checksum references to verified local files.
type Cache struct {
	dir     string
	fetcher Fetcher

	hits    atomic.Int64
	fetches atomic.Int64
}

// DefaultDir returns the shared cache directory below tmpDir.
func DefaultDir(tmpDir string) string {
	return filepath.Join(tmpDir, "azrelay-cache")
}

// New creates a Cache rooted at dir.
func New(dir string, fetcher Fetcher) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache dir is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Cache{dir: dir, fetcher: fetcher}, nil
}

// PathFor returns the deterministic location of ref inside the cache.
// The key is the pair (checksum, filename) so two remote files sharing a name
// never collide.
func (c *Cache) PathFor(ref checksum.Reference) (string, error) {
	filename, err := ref.Filename()
	if err != nil {
		return "", err
	}
	return filepath.Join(c.dir, ref.Checksum.Algorithm, ref.Checksum.Expected, filename), nil
}

// Resolve returns a local path whose content matches ref.Checksum. A matching
// file on disk is returned without any network access; otherwise the content
// is fetched exactly once.
func (c *Cache) Resolve(ctx context.Context, ref checksum.Reference) (string, error) {
	cachePath, err := c.PathFor(ref)
	if err != nil {
		return "", err
	}

	if _, statErr := os.Stat(cachePath); statErr == nil {
		actual, err := checksum.Compute(cachePath, ref.Checksum.Algorithm)
		if err != nil {
			return "", fmt.Errorf("hashing cached file: %w", err)
		}
		if checksum.Equal(ref.Checksum.Expected, actual) {
			c.hits.Add(1)
			log.Info().
				Str("path", cachePath).
				Msg("artifact found in cache")
			return cachePath, nil
		}
		log.Warn().
			Str("path", cachePath).
			Str("expected", ref.Checksum.Expected).
			Str("actual", actual).
			Msg("cached file does not match its checksum, fetching again")
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return "", fmt.Errorf("stat cached file: %w", statErr)
	}

	log.Info().
		Str("path", cachePath).
		Str("url", ref.URL).
		Msg("artifact not found in cache, downloading")
	if err := c.download(ctx, cachePath, ref); err != nil {
		return "", err
	}
	return cachePath, nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Fetches: c.fetches.Load()}
}

func (c *Cache) download(ctx context.Context, cachePath string, ref checksum.Reference) error {
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(cachePath), ".download-*")
	if err != nil {
		return fmt.Errorf("creating temp file for download: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath) // clean up if it didn't get moved

	c.fetches.Add(1)
	if _, err := c.fetcher.Fetch(ctx, ref.URL, tmpPath); err != nil {
		return fmt.Errorf("fetching %s: %w", ref.URL, err)
	}

	actual, err := checksum.Compute(tmpPath, ref.Checksum.Algorithm)
	if err != nil {
		return fmt.Errorf("hashing downloaded file: %w", err)
	}
	if !checksum.Equal(ref.Checksum.Expected, actual) {
		// a stale file at cachePath is known bad at this point
		if rmErr := os.Remove(cachePath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Debug().Err(rmErr).Str("path", cachePath).Msg("failed to remove stale cache entry")
		}
		return &checksum.MismatchError{
			Path:      ref.URL,
			Algorithm: ref.Checksum.Algorithm,
			Expected:  ref.Checksum.Expected,
			Actual:    actual,
		}
	}

	if err := os.Rename(tmpPath, cachePath); err != nil {
		return fmt.Errorf("moving file to cache: %w", err)
	}

	log.Info().
		Str("path", cachePath).
		Msg("artifact downloaded and cached")
	return nil
}
