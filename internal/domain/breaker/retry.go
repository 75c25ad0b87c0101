package breaker

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/sentinelgate/ruleengine/internal/errs"
)

// RetryConfig controls the exponential-backoff envelope wrapping the
// evaluator (spec §4.F). It composes with, but is independent of, the
// breaker state machine: a retried call still counts as a single execution
// for breaker purposes.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig matches spec §4.F's defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Do runs fn, retrying on retryable errors with exponential backoff capped
// at cfg.MaxDelay, up to cfg.MaxRetries retries after the first attempt. A non-retryable error
// aborts immediately without consuming a retry. Backoff and retry counting
// are delegated to sethvargo/go-retry; the policy of which errors are
// retryable comes from the closed taxonomy in internal/errs.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	backoff := goretry.NewExponential(cfg.BaseDelay)
	backoff = goretry.WithCappedDuration(cfg.MaxDelay, backoff)
	backoff = goretry.WithMaxRetries(uint64(cfg.MaxRetries), backoff)

	return goretry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errs.Retryable(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
}
