package services

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// CompletionRateLimiter bounds outbound completion calls: a global cap to
// protect the provider quota plus a per-model cap so one chatty persona
// cannot starve the rest.
type CompletionRateLimiter struct {
	globalLimiter    *rate.Limiter
	perModelLimiters *sync.Map // map[string]*rate.Limiter
	perModelRate     float64
}

// NewCompletionRateLimiter creates a limiter with the given requests/second.
func NewCompletionRateLimiter(globalRate, perModelRate float64) *CompletionRateLimiter {
	return &CompletionRateLimiter{
		globalLimiter:    rate.NewLimiter(rate.Limit(globalRate), int(globalRate*2)),
		perModelLimiters: &sync.Map{},
		perModelRate:     perModelRate,
	}
}

// Wait blocks until both tiers admit a request or the context is cancelled.
func (rl *CompletionRateLimiter) Wait(ctx context.Context, modelID string) error {
	if err := rl.globalLimiter.Wait(ctx); err != nil {
		return err
	}

	modelLimiter := rl.getOrCreateModelLimiter(modelID)
	return modelLimiter.Wait(ctx)
}

func (rl *CompletionRateLimiter) getOrCreateModelLimiter(modelID string) *rate.Limiter {
	if limiter, ok := rl.perModelLimiters.Load(modelID); ok {
		return limiter.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(rate.Limit(rl.perModelRate), int(rl.perModelRate*2))
	actual, _ := rl.perModelLimiters.LoadOrStore(modelID, limiter)
	return actual.(*rate.Limiter)
}
