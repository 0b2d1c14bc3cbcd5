package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/desertthunder/universal/internal/shared"
	"golang.org/x/time/rate"
)

// Retrier bounds provider calls: each attempt waits on a shared rate limiter,
// and only [shared.ErrProviderUnavailable] failures are retried, with
// exponential backoff, up to a fixed number of attempts.
type Retrier struct {
	attempts int
	initial  time.Duration
	max      time.Duration
	limiter  *rate.Limiter
}

// NewRetrier creates a [Retrier] from the http section of the config.
func NewRetrier(cfg shared.HTTPConfig) *Retrier {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := max(1, int(cfg.RequestsPerSecond))
	return &Retrier{
		attempts: max(1, cfg.MaxAttempts),
		initial:  cfg.InitialBackoff(),
		max:      cfg.MaxBackoff(),
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// Do runs op until it succeeds, fails permanently, or attempts run out.
// The last error is returned unchanged.
func (r *Retrier) Do(ctx context.Context, op func(context.Context) error) error {
	if r == nil {
		return op(ctx)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxInterval = r.max
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.attempts-1)), ctx)

	return backoff.Retry(func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := op(ctx)
		if err == nil || errors.Is(err, shared.ErrProviderUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

// Page is one page of a provider listing. Next is empty on the last page.
type Page[T any] struct {
	Items []T
	Next  string
}

// PageFunc fetches the page identified by token; the first page has token "".
type PageFunc[T any] func(ctx context.Context, token string) (Page[T], error)

// Pages iterates fetch until the next-page token is empty. A repeated token or
// more than maxPages pages ends the sequence with [shared.ErrProviderRejected].
func Pages[T any](ctx context.Context, fetch PageFunc[T], maxPages int) iter.Seq2[Page[T], error] {
	return func(yield func(Page[T], error) bool) {
		seen := map[string]bool{}
		token := ""
		for n := 0; ; n++ {
			if n >= maxPages {
				yield(Page[T]{}, fmt.Errorf("%w: listing exceeded %d pages", shared.ErrProviderRejected, maxPages))
				return
			}
			if err := ctx.Err(); err != nil {
				yield(Page[T]{}, err)
				return
			}

			page, err := fetch(ctx, token)
			if err != nil {
				yield(Page[T]{}, err)
				return
			}
			if !yield(page, nil) || page.Next == "" {
				return
			}
			if seen[page.Next] {
				yield(Page[T]{}, fmt.Errorf("%w: page token %q repeated", shared.ErrProviderRejected, page.Next))
				return
			}
			seen[page.Next] = true
			token = page.Next
		}
	}
}

// Collect drains [Pages] into one slice.
func Collect[T any](ctx context.Context, fetch PageFunc[T], maxPages int) ([]T, error) {
	var all []T
	for page, err := range Pages(ctx, fetch, maxPages) {
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
	}
	return all, nil
}

// statusError maps an HTTP status from a provider onto the error taxonomy.
func statusError(provider string, status int, msg string) error {
	switch {
	case status == 401:
		return fmt.Errorf("%w: %s: %s", shared.ErrUnauthenticated, provider, msg)
	case status == 404:
		return fmt.Errorf("%w: %s: %s", shared.ErrNotFound, provider, msg)
	case status == 429, status >= 500:
		return fmt.Errorf("%w: %s returned %d: %s", shared.ErrProviderUnavailable, provider, status, msg)
	case status >= 400:
		return fmt.Errorf("%w: %s returned %d: %s", shared.ErrProviderRejected, provider, status, msg)
	}
	return fmt.Errorf("%w: %s returned %d: %s", shared.ErrProviderUnavailable, provider, status, msg)
}

// transportError wraps network and timeout failures as unavailable.
// Cancellation of the caller's context passes through.
func transportError(ctx context.Context, provider string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %s: %v", shared.ErrProviderUnavailable, provider, err)
}
