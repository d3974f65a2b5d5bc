// Package limiter enforces a tokens-per-minute rate and a spending cap on model calls.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"taskpilot/pkg/config"
	"taskpilot/pkg/llm"
	"taskpilot/pkg/logx"
)

var (
	// ErrRateLimit is returned by Reserve when the token bucket cannot cover a request.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrBudgetExceeded is returned once the spending cap of a run is used up.
	ErrBudgetExceeded = errors.New("budget exceeded")
)

// Limits configures a Limiter. Zero values disable the corresponding limit.
type Limits struct {
	TokensPerMinute int
	MaxCostUSD      float64
}

// LimitsFromConfig reads the limits of the model config.
func LimitsFromConfig(m *config.ModelConfig) Limits {
	return Limits{TokensPerMinute: m.MaxTPM, MaxCostUSD: m.MaxCostUSD}
}

// Enabled reports whether any limit is set.
func (l Limits) Enabled() bool {
	return l.TokensPerMinute > 0 || l.MaxCostUSD > 0
}

// Limiter is a token bucket refilled once per minute plus a running cost total.
type Limiter struct {
	mu         sync.Mutex
	limits     Limits
	tokens     int
	spentUSD   float64
	lastRefill time.Time
	now        func() time.Time
	logger     *logx.Logger
}

// New creates a limiter with a full bucket and nothing spent.
func New(limits Limits) *Limiter {
	return &Limiter{
		limits:     limits,
		tokens:     limits.TokensPerMinute,
		lastRefill: time.Now(),
		now:        time.Now,
		logger:     logx.NewLogger("limiter"),
	}
}

// Reserve takes tokens from the bucket. Requests larger than the whole bucket are clamped to it.
func (l *Limiter) Reserve(tokens int) error {
	if l.limits.TokensPerMinute <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillTokens()
	tokens = min(tokens, l.limits.TokensPerMinute)
	if l.tokens < tokens {
		return ErrRateLimit
	}
	l.tokens -= tokens
	return nil
}

// Wait reserves tokens, sleeping until the next refill while the bucket is short.
func (l *Limiter) Wait(ctx context.Context, tokens int) error {
	for {
		err := l.Reserve(tokens)
		if !errors.Is(err, ErrRateLimit) {
			return err
		}
		delay := l.untilRefill()
		l.logger.Info("Token budget of %d/min used up, waiting %s", l.limits.TokensPerMinute, delay.Round(time.Second))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// CheckBudget fails once the spending cap is reached.
func (l *Limiter) CheckBudget() error {
	if l.limits.MaxCostUSD <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.spentUSD >= l.limits.MaxCostUSD {
		return fmt.Errorf("%w: spent $%.4f of $%.4f", ErrBudgetExceeded, l.spentUSD, l.limits.MaxCostUSD)
	}
	return nil
}

// Spend adds the cost of a finished call.
func (l *Limiter) Spend(costUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spentUSD += costUSD
}

// Status returns the tokens left in the bucket and the amount spent.
func (l *Limiter) Status() (tokens int, spentUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillTokens()
	return l.tokens, l.spentUSD
}

// refillTokens adds a full minute's worth of tokens per elapsed minute, capped at the bucket size.
func (l *Limiter) refillTokens() {
	elapsed := l.now().Sub(l.lastRefill)
	if elapsed < time.Minute {
		return
	}
	minutes := int(elapsed / time.Minute)
	l.tokens = min(l.tokens+minutes*l.limits.TokensPerMinute, l.limits.TokensPerMinute)
	l.lastRefill = l.lastRefill.Add(time.Duration(minutes) * time.Minute)
}

func (l *Limiter) untilRefill() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := l.lastRefill.Add(time.Minute).Sub(l.now())
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

// EstimateTokens is a rough upper bound for a request: four characters per prompt token plus
// the completion allowance.
func EstimateTokens(req llm.Request) int {
	return len(llm.PromptText(req.Messages))/4 + req.MaxTokens
}

// Middleware checks the spending cap and waits for rate budget before each call, then charges
// the call's cost.
func Middleware(l *Limiter) llm.Middleware {
	return func(next llm.Client) llm.Client {
		return llm.WrapClient(
			func(ctx context.Context, req llm.Request) (llm.Response, error) {
				if err := l.CheckBudget(); err != nil {
					return llm.Response{}, err
				}
				if err := l.Wait(ctx, EstimateTokens(req)); err != nil {
					return llm.Response{}, err
				}
				resp, err := next.Complete(ctx, req)
				if err == nil {
					l.Spend(config.CalculateCost(next.GetModelName(), resp.Usage.PromptTokens, resp.Usage.CompletionTokens))
				}
				return resp, err
			},
			next.GetModelName,
		)
	}
}
