// Package quota enforces per-organization budgets for external API calls.
// A Registry is passed explicitly into every component that talks to a
// provider; there is no process-wide singleton.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/meridian-group/lpmatch-cli/internal/config"
)

// ExceededError reports an exhausted budget together with a retry-after hint.
// Callers fail fast on it rather than queueing.
type ExceededError struct {
	OrgID      string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota: org %s exceeded token budget, retry after %s", e.OrgID, e.RetryAfter.Round(time.Second))
}

// IsExceeded reports whether err is a quota exhaustion.
func IsExceeded(err error) bool {
	var qe *ExceededError
	return errors.As(err, &qe)
}

// orgBudget tracks one organization's request rate and daily token spend.
type orgBudget struct {
	limiter   *rate.Limiter
	mu        sync.Mutex
	used      int
	windowEnd time.Time
}

// Registry tracks budgets for all organizations.
type Registry struct {
	cfg config.QuotaConfig
	now func() time.Time

	mu   sync.Mutex
	orgs map[string]*orgBudget
}

// NewRegistry creates a Registry with the given limits.
func NewRegistry(cfg config.QuotaConfig) *Registry {
	return &Registry{
		cfg:  cfg,
		now:  time.Now,
		orgs: make(map[string]*orgBudget),
	}
}

func (r *Registry) budget(orgID string) *orgBudget {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.orgs[orgID]
	if !ok {
		b = &orgBudget{
			limiter:   rate.NewLimiter(rate.Limit(r.cfg.RequestsPerSecond), r.cfg.Burst),
			windowEnd: r.now().Add(24 * time.Hour),
		}
		r.orgs[orgID] = b
	}
	return b
}

// Acquire checks the budget before an external call. It blocks briefly on
// the request rate limiter (bounded by ctx) and fails fast with an
// ExceededError when the estimated tokens would overrun the daily budget.
func (r *Registry) Acquire(ctx context.Context, orgID string, estTokens int) error {
	b := r.budget(orgID)

	b.mu.Lock()
	now := r.now()
	if now.After(b.windowEnd) {
		b.used = 0
		b.windowEnd = now.Add(24 * time.Hour)
	}
	if r.cfg.TokensPerDay > 0 && b.used+estTokens > r.cfg.TokensPerDay {
		retryAfter := b.windowEnd.Sub(now)
		b.mu.Unlock()
		return &ExceededError{OrgID: orgID, RetryAfter: retryAfter}
	}
	b.mu.Unlock()

	return b.limiter.Wait(ctx)
}

// Consume records the actual token usage reported by a provider response.
func (r *Registry) Consume(orgID string, tokens int) {
	b := r.budget(orgID)
	b.mu.Lock()
	b.used += tokens
	b.mu.Unlock()
}

// Used returns the tokens consumed by an org in the current window.
func (r *Registry) Used(orgID string) int {
	b := r.budget(orgID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}
