package director

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ivlev/beat2video/internal/catalog"
	"github.com/ivlev/beat2video/internal/montage"
)

type prefetchResult struct {
	candidates []montage.Candidate
	err        error
}

// prefetcher runs the base searches of upcoming slots ahead of the
// director. It never excludes anything, so its answers do not depend on
// decisions that have not been made yet; the director applies exclusions
// when it consumes a result.
type prefetcher struct {
	cat     catalog.Catalog
	queries []montage.AestheticQuery
	limit   int
	window  int

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	sem    *semaphore.Weighted

	results  []chan prefetchResult
	launched int
}

func newPrefetcher(ctx context.Context, cat catalog.Catalog, queries []montage.AestheticQuery, limit, window, workers int) *prefetcher {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	results := make([]chan prefetchResult, len(queries))
	for i := range results {
		results[i] = make(chan prefetchResult, 1)
	}
	return &prefetcher{
		cat:     cat,
		queries: queries,
		limit:   limit,
		window:  window,
		ctx:     gctx,
		cancel:  cancel,
		group:   group,
		sem:     semaphore.NewWeighted(int64(workers)),
		results: results,
	}
}

// advance starts the searches for slots up to current+window.
func (p *prefetcher) advance(current int) {
	end := current + p.window
	if end >= len(p.queries) {
		end = len(p.queries) - 1
	}
	for ; p.launched <= end; p.launched++ {
		i := p.launched
		q := p.queries[i]
		out := p.results[i]
		p.group.Go(func() error {
			if err := p.sem.Acquire(p.ctx, 1); err != nil {
				out <- prefetchResult{err: err}
				return nil
			}
			defer p.sem.Release(1)
			res, err := p.cat.Search(p.ctx, q, p.limit, nil)
			out <- prefetchResult{candidates: res, err: err}
			return nil
		})
	}
}

// take waits for the prefetched result of slot i. ok is false when slot i
// was never launched.
func (p *prefetcher) take(ctx context.Context, i int) (prefetchResult, bool) {
	if i >= p.launched {
		return prefetchResult{}, false
	}
	select {
	case r := <-p.results[i]:
		return r, true
	case <-ctx.Done():
		return prefetchResult{err: ctx.Err()}, true
	}
}

// close discards outstanding searches and waits for them to return.
func (p *prefetcher) close() {
	p.cancel()
	_ = p.group.Wait()
}
