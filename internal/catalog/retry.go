package catalog

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ivlev/beat2video/internal/logging"
	"github.com/ivlev/beat2video/internal/metrics"
	"github.com/ivlev/beat2video/internal/montage"
)

// RetryConfig bounds how hard a failing search is retried.
type RetryConfig struct {
	// Retries is the number of extra attempts after the first one.
	Retries int
	// Timeout caps a single attempt. Zero disables the per-call deadline.
	Timeout time.Duration
	// BaseBackoff is the first wait; later waits grow exponentially.
	BaseBackoff time.Duration
}

// Retrying retries transient search failures with exponential backoff.
// Permanent errors and cancellation of the caller's context are returned
// at once.
type Retrying struct {
	next     Catalog
	cfg      RetryConfig
	logger   logging.Logger
	recorder *metrics.Recorder
}

// NewRetrying wraps next.
func NewRetrying(next Catalog, cfg RetryConfig, logger logging.Logger, recorder *metrics.Recorder) *Retrying {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	return &Retrying{next: next, cfg: cfg, logger: logging.OrNop(logger), recorder: recorder}
}

func (r *Retrying) Search(ctx context.Context, q montage.AestheticQuery, limit int, excluded []string) ([]montage.Candidate, error) {
	op := func() ([]montage.Candidate, error) {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.cfg.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		}
		defer cancel()

		res, err := r.next.Search(callCtx, q, limit, excluded)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		if !montage.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.BaseBackoff
	b.MaxInterval = 16 * r.cfg.BaseBackoff

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.cfg.Retries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.recorder.ObserveRetry()
			r.logger.Warn("catalog search failed, retrying in %s: %v", wait.Round(time.Millisecond), err)
		}),
	)
}
