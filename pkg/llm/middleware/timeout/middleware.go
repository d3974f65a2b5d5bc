// Package timeout provides per-request timeout middleware for model clients.
package timeout

import (
	"context"
	"time"

	"taskpilot/pkg/llm"
)

// Middleware bounds each Complete call by duration. A non-positive duration disables it.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.Client) llm.Client {
		if duration <= 0 {
			return next
		}
		return llm.WrapClient(
			func(ctx context.Context, req llm.Request) (llm.Response, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()
				return next.Complete(timeoutCtx, req)
			},
			next.GetModelName,
		)
	}
}
