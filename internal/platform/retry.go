package platform

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = 1 * time.Second
	DefaultMaxBackoff  = 8 * time.Second
)

// RetryingFetcher retries transient failures of the wrapped Fetcher with
// exponential backoff. Every error it returns is a *FetchError.
type RetryingFetcher struct {
	next        Fetcher
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	logger      *zap.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewRetryingFetcher wraps next. Non-positive settings fall back to the
// package defaults.
func NewRetryingFetcher(next Fetcher, maxRetries int, base, maxDelay time.Duration, logger *zap.Logger) *RetryingFetcher {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingFetcher{
		next:        next,
		maxRetries:  maxRetries,
		baseBackoff: base,
		maxBackoff:  maxDelay,
		logger:      logger,
		sleep:       sleepContext,
	}
}

// FetchPage implements Fetcher.
func (f *RetryingFetcher) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			delay := f.Backoff(attempt)
			f.logger.Warn("retrying page fetch",
				zap.String("resource", req.Resource),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.String("signature", Signature(lastErr)),
				zap.Error(lastErr),
			)
			if err := f.sleep(ctx, delay); err != nil {
				return nil, &FetchError{Resource: req.Resource, Attempts: attempt, Err: err}
			}
		}

		page, err := f.next.FetchPage(ctx, req)
		if err == nil {
			return page, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &FetchError{Resource: req.Resource, Attempts: attempt + 1, Err: errors.Join(ctxErr, err)}
		}
		if !IsTransient(err) {
			return nil, &FetchError{Resource: req.Resource, Attempts: attempt + 1, Err: err}
		}
	}

	return nil, &FetchError{
		Resource:  req.Resource,
		Attempts:  f.maxRetries + 1,
		Transient: true,
		Err:       lastErr,
	}
}

// Backoff returns the delay before retry number attempt (1-based): the base
// delay doubled for each prior retry, capped at the maximum.
func (f *RetryingFetcher) Backoff(attempt int) time.Duration {
	delay := f.baseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= f.maxBackoff {
			return f.maxBackoff
		}
	}
	if delay > f.maxBackoff {
		delay = f.maxBackoff
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
