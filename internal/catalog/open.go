package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ivlev/beat2video/internal/config"
	"github.com/ivlev/beat2video/internal/logging"
	"github.com/ivlev/beat2video/internal/metrics"
	"github.com/ivlev/beat2video/internal/montage"
)

// Stack is the catalog the director talks to together with the store
// underneath it.
type Stack struct {
	Catalog Catalog
	Store   Catalog
}

// Close releases the store.
func (s *Stack) Close() error {
	if c, ok := s.Store.(Closer); ok {
		return c.Close()
	}
	return nil
}

// Open builds the configured catalog: a YAML manifest is served from
// memory, anything else is a SQLite database. Searches go through the
// cache, then retries, then latency recording.
func Open(ctx context.Context, cfg config.Catalog, logger logging.Logger, recorder *metrics.Recorder) (*Stack, error) {
	if cfg.Path == "" {
		return nil, &montage.ConfigError{Field: "catalog.path", Reason: "required"}
	}
	logger = logging.OrNop(logger)

	var store Catalog
	switch strings.ToLower(filepath.Ext(cfg.Path)) {
	case ".yaml", ".yml":
		clips, err := ReadManifest(cfg.Path)
		if err != nil {
			return nil, err
		}
		store = NewMemory(clips)
		logger.Info("loaded %d clips from manifest %s", len(clips), cfg.Path)
	default:
		var index *VectorIndex
		if cfg.VectorPath != "" {
			var err error
			if index, err = NewVectorIndex(cfg.VectorPath); err != nil {
				return nil, err
			}
		}
		db, err := OpenSQLite(ctx, cfg.Path, index, logger)
		if err != nil {
			return nil, err
		}
		store = db
	}

	retrying := NewRetrying(NewInstrumented(store, recorder), RetryConfig{
		Retries:     cfg.Retries,
		Timeout:     cfg.Timeout,
		BaseBackoff: cfg.BaseBackoff,
	}, logger, recorder)
	cached, err := NewCached(retrying, cfg.CacheSize, recorder)
	if err != nil {
		if c, ok := store.(Closer); ok {
			c.Close()
		}
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return &Stack{Catalog: cached, Store: store}, nil
}
