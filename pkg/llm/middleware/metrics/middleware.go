// Package metrics provides metrics middleware for model clients.
package metrics

import (
	"context"
	"time"

	"taskpilot/pkg/config"
	"taskpilot/pkg/llm"
	"taskpilot/pkg/llm/llmerrors"
	"taskpilot/pkg/logx"
	"taskpilot/pkg/utils"
)

// Recorder receives one observation per completed model call.
type Recorder interface {
	ObserveLLMRequest(
		model, purpose string,
		promptTokens, completionTokens int,
		cost float64,
		success bool,
		errorType string,
		duration time.Duration,
	)
}

// UsageExtractor estimates usage when a provider reports none.
type UsageExtractor func(req llm.Request, resp llm.Response) llm.Usage

// TokenCountingExtractor counts prompt and completion tokens with counter.
func TokenCountingExtractor(counter *utils.TokenCounter) UsageExtractor {
	return func(req llm.Request, resp llm.Response) llm.Usage {
		return llm.Usage{
			PromptTokens:     counter.CountTokens(llm.PromptText(req.Messages)),
			CompletionTokens: counter.CountTokens(resp.Content),
		}
	}
}

// Middleware records latency, token usage, cost and error class for each call. Responses with
// zero usage get an estimate from usageExtractor so downstream totals stay meaningful.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, logger *logx.Logger) llm.Middleware {
	return func(next llm.Client) llm.Client {
		return llm.WrapClient(
			func(ctx context.Context, req llm.Request) (llm.Response, error) {
				start := time.Now()
				model := next.GetModelName()

				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				if err == nil && resp.Usage.Total() == 0 && usageExtractor != nil {
					resp.Usage = usageExtractor(req, resp)
				}

				errorType := ""
				if err != nil {
					errorType = llmerrors.TypeOf(err).String()
				}
				cost := config.CalculateCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

				if recorder != nil {
					recorder.ObserveLLMRequest(model, req.Purpose,
						resp.Usage.PromptTokens, resp.Usage.CompletionTokens,
						cost, err == nil, errorType, duration)
				}

				if logger != nil {
					status := "success"
					if err != nil {
						status = "error:" + errorType
					}
					logger.Debug("LLM %s: model=%s tokens=%d+%d status=%s duration=%dms",
						req.Purpose, model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens,
						status, duration.Milliseconds())
				}

				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}

type multiRecorder []Recorder

func (m multiRecorder) ObserveLLMRequest(model, purpose string, promptTokens, completionTokens int,
	cost float64, success bool, errorType string, duration time.Duration) {
	for _, r := range m {
		r.ObserveLLMRequest(model, purpose, promptTokens, completionTokens, cost, success, errorType, duration)
	}
}

// MultiRecorder fans every observation out to recorders. Nil entries are dropped.
func MultiRecorder(recorders ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
