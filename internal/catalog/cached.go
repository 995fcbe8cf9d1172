package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ivlev/beat2video/internal/metrics"
	"github.com/ivlev/beat2video/internal/montage"
)

const defaultCacheSize = 512

// Cached memoizes search results by query fingerprint, limit and exclusion
// set. The wrapped catalog must not change while the cache is in use.
type Cached struct {
	next     Catalog
	cache    *lru.Cache[string, []montage.Candidate]
	recorder *metrics.Recorder
}

// NewCached wraps next with an LRU cache of size entries.
func NewCached(next Catalog, size int, recorder *metrics.Recorder) (*Cached, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, []montage.Candidate](size)
	if err != nil {
		return nil, fmt.Errorf("create search cache: %w", err)
	}
	return &Cached{next: next, cache: cache, recorder: recorder}, nil
}

func (c *Cached) Search(ctx context.Context, q montage.AestheticQuery, limit int, excluded []string) ([]montage.Candidate, error) {
	key := cacheKey(q, limit, excluded)
	if hit, ok := c.cache.Get(key); ok {
		c.recorder.ObserveCache(true)
		return append([]montage.Candidate(nil), hit...), nil
	}
	c.recorder.ObserveCache(false)

	res, err := c.next.Search(ctx, q, limit, excluded)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, append([]montage.Candidate(nil), res...))
	return res, nil
}

// Len returns the number of cached results.
func (c *Cached) Len() int {
	return c.cache.Len()
}

func cacheKey(q montage.AestheticQuery, limit int, excluded []string) string {
	ex := append([]string(nil), excluded...)
	sort.Strings(ex)
	return fmt.Sprintf("%s|k=%d|f=%s", q.Fingerprint(), limit, strings.Join(ex, ","))
}
