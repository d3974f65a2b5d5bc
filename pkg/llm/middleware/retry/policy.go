// Package retry provides retry middleware with exponential backoff for model clients.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"taskpilot/pkg/llm/llmerrors"
)

// Config defines retry behavior.
type Config struct {
	MaxAttempts   int           // including the initial attempt
	InitialDelay  time.Duration // before the first retry
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultConfig provides reasonable defaults.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// ShouldRetry retries classified errors whose class is retryable. Cancellation is never retried.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return llmerrors.Classify(err, 0).IsRetryable()
}

// Policy combines a Config with a Classifier.
type Policy struct {
	Config     Config
	Classifier Classifier
}

// NewPolicy creates a policy. A nil classifier means ShouldRetry.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &Policy{Config: config, Classifier: classifier}
}

// CalculateDelay computes the wait before attempt (1-based). The first attempt never waits.
// Rate limit errors use the longer schedule from llmerrors.
func (p *Policy) CalculateDelay(attempt int, lastErr error) time.Duration {
	if attempt <= 1 {
		return 0
	}

	initial, maxDelay, factor := p.Config.InitialDelay, p.Config.MaxDelay, p.Config.BackoffFactor
	if llmerrors.Is(lastErr, llmerrors.ErrorTypeRateLimit) {
		rc := llmerrors.DefaultRetryConfigs[llmerrors.ErrorTypeRateLimit]
		initial, maxDelay, factor = rc.InitialDelay, rc.MaxDelay, rc.BackoffFactor
	}
	if factor < 1 {
		factor = 1
	}

	delay := time.Duration(float64(initial) * math.Pow(factor, float64(attempt-2)))
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	if p.Config.Jitter && delay > 0 {
		// +/-10%
		jitter := time.Duration((rand.Float64()*0.2 - 0.1) * float64(delay))
		delay += jitter
	}
	return delay
}

// ShouldRetry applies the policy's classifier.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}
