package retry

import (
	"context"
	"fmt"
	"time"

	"taskpilot/pkg/llm"
	"taskpilot/pkg/llm/llmerrors"
	"taskpilot/pkg/logx"
)

// Middleware retries failed completions according to policy. When retries on a retryable error
// are exhausted the caller receives an ErrorTypeServiceUnavailable error wrapping the last one.
func Middleware(policy *Policy, logger *logx.Logger) llm.Middleware {
	return func(next llm.Client) llm.Client {
		return llm.WrapClient(
			func(ctx context.Context, req llm.Request) (llm.Response, error) {
				var lastErr error

				for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
					if delay := policy.CalculateDelay(attempt, lastErr); delay > 0 {
						if logger != nil {
							logger.Warn("Retrying %s call (attempt %d/%d) in %v: %v",
								req.Purpose, attempt, policy.Config.MaxAttempts, delay, lastErr)
						}
						timer := time.NewTimer(delay)
						select {
						case <-ctx.Done():
							timer.Stop()
							return llm.Response{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
						case <-timer.C:
						}
					}

					resp, err := next.Complete(ctx, req)
					if err == nil {
						return resp, nil
					}
					lastErr = err

					if !policy.ShouldRetry(err) {
						return llm.Response{}, err
					}
				}

				return llm.Response{}, llmerrors.NewServiceUnavailableError(lastErr, policy.Config.MaxAttempts)
			},
			next.GetModelName,
		)
	}
}
