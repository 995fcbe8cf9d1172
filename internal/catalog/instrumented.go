package catalog

import (
	"context"
	"time"

	"github.com/ivlev/beat2video/internal/metrics"
	"github.com/ivlev/beat2video/internal/montage"
)

// Instrumented records the latency of every search.
type Instrumented struct {
	next     Catalog
	recorder *metrics.Recorder
}

func NewInstrumented(next Catalog, recorder *metrics.Recorder) *Instrumented {
	return &Instrumented{next: next, recorder: recorder}
}

func (i *Instrumented) Search(ctx context.Context, q montage.AestheticQuery, limit int, excluded []string) ([]montage.Candidate, error) {
	start := time.Now()
	res, err := i.next.Search(ctx, q, limit, excluded)
	i.recorder.ObserveSearch(time.Since(start), err)
	return res, err
}
