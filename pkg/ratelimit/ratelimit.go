// Package ratelimit gates upstream calls with a sliding-window quota per
// client kind. Limiters are shared by every concurrent pipeline run.
package ratelimit

import (
	"sync"
	"time"

	"carebot/pkg/config"
	providertypes "carebot/pkg/provider/types"
)

// Rule is the quota for one client kind.
type Rule struct {
	Window time.Duration
	Quota  int
}

type window struct {
	mu         sync.Mutex
	rule       Rule
	timestamps []time.Time
}

// Limiter holds one independent window per client kind. The set of kinds is
// fixed at construction so lookups need no lock.
type Limiter struct {
	windows map[providertypes.ClientKind]*window
	now     func() time.Time
}

// New builds a limiter from explicit rules. Kinds with a non-positive quota
// or window are left unlimited.
func New(rules map[providertypes.ClientKind]Rule) *Limiter {
	l := &Limiter{
		windows: make(map[providertypes.ClientKind]*window, len(rules)),
		now:     time.Now,
	}
	for kind, rule := range rules {
		if rule.Quota <= 0 || rule.Window <= 0 {
			continue
		}
		l.windows[kind] = &window{rule: rule, timestamps: make([]time.Time, 0, rule.Quota)}
	}

	return l
}

// FromConfig builds a limiter from the per-upstream rate limit blocks.
func FromConfig(cfg config.ProvidersConfig) *Limiter {
	return New(map[providertypes.ClientKind]Rule{
		providertypes.KindReasoning:  ruleFromConfig(cfg.Reasoning.RateLimit),
		providertypes.KindSearch:     ruleFromConfig(cfg.Search.RateLimit),
		providertypes.KindSummarizer: ruleFromConfig(cfg.Summarizer.RateLimit),
	})
}

func ruleFromConfig(cfg config.RateLimitConfig) Rule {
	return Rule{Window: cfg.Window(), Quota: cfg.Quota}
}

// Allow records one call for kind and reports whether it fits the quota.
// Check and record happen under the kind's own lock.
func (l *Limiter) Allow(kind providertypes.ClientKind) bool {
	if l == nil {
		return true
	}
	w, ok := l.windows[kind]
	if !ok {
		return true
	}

	now := l.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)
	if len(w.timestamps) >= w.rule.Quota {
		return false
	}
	w.timestamps = append(w.timestamps, now)
	return true
}

// Remaining returns how many calls kind may still make in the current
// window, or -1 when kind is unlimited.
func (l *Limiter) Remaining(kind providertypes.ClientKind) int {
	if l == nil {
		return -1
	}
	w, ok := l.windows[kind]
	if !ok {
		return -1
	}

	now := l.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)
	return w.rule.Quota - len(w.timestamps)
}

// prune drops timestamps that fell out of the window. Caller holds w.mu.
func (w *window) prune(now time.Time) {
	windowStart := now.Add(-w.rule.Window)
	keep := 0
	for keep < len(w.timestamps) && !w.timestamps[keep].After(windowStart) {
		keep++
	}
	if keep == 0 {
		return
	}
	w.timestamps = append(w.timestamps[:0], w.timestamps[keep:]...)
}
