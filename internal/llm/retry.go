package llm

import (
	"context"
	"errors"
	"time"
)

const (
	defaultRetryBase = 500 * time.Millisecond
	maxRetryBackoff  = 30 * time.Second
)

// WithRetry retries retryable failures up to maxRetries extra attempts with
// capped exponential backoff. A Retry-After hint from the provider overrides
// the computed delay. Non-retryable errors and context cancellation return
// immediately.
func WithRetry(maxRetries int, base time.Duration) Middleware {
	if base <= 0 {
		base = defaultRetryBase
	}
	return func(next CompleteFunc) CompleteFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			var lastErr error
			for attempt := 0; ; attempt++ {
				resp, err := next(ctx, req)
				if err == nil {
					return resp, nil
				}
				lastErr = err
				if attempt >= maxRetries || !IsRetryable(err) || ctx.Err() != nil {
					return Response{}, lastErr
				}
				delay := backoffDelay(base, attempt)
				var le Error
				if errors.As(err, &le) {
					if ra := le.RetryAfter(); ra != nil && *ra > delay {
						delay = *ra
					}
				}
				select {
				case <-ctx.Done():
					return Response{}, ctx.Err()
				case <-time.After(delay):
				}
			}
		}
	}
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt && d < maxRetryBackoff; i++ {
		d *= 2
	}
	if d > maxRetryBackoff {
		d = maxRetryBackoff
	}
	return d
}
