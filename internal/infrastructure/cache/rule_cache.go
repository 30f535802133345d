package cache

import (
	"sync"
	"time"

	"github.com/clinicore/clinical-governance-backend/internal/domain/rules"
)

// GlobalKey is the cache key for rules that apply to every clinic.
const GlobalKey = "global"

// DefaultRuleTTL bounds how stale a cached rule set may get. Writes to the
// rule store must invalidate explicitly; the TTL is the backstop, never the
// primary mechanism.
const DefaultRuleTTL = 60 * time.Second

type ruleEntry struct {
	rules     []rules.ClinicalRule
	expiresAt time.Time
}

// RuleCache is the process-local TTL cache over business rules, keyed by
// clinic id or GlobalKey. It is constructed by the composition root and
// injected; there is no package-level instance, so tests run in isolation.
type RuleCache struct {
	mu      sync.RWMutex
	entries map[string]ruleEntry
	ttl     time.Duration
	now     func() time.Time
}

// RuleCacheOption configures a RuleCache.
type RuleCacheOption func(*RuleCache)

// WithTTL overrides the default 60-second TTL.
func WithTTL(ttl time.Duration) RuleCacheOption {
	return func(c *RuleCache) { c.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) RuleCacheOption {
	return func(c *RuleCache) { c.now = now }
}

// NewRuleCache builds an empty cache.
func NewRuleCache(opts ...RuleCacheOption) *RuleCache {
	c := &RuleCache{
		entries: make(map[string]ruleEntry),
		ttl:     DefaultRuleTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func keyFor(clinicID string) string {
	if clinicID == "" {
		return GlobalKey
	}
	return clinicID
}

// Get returns the cached rules for a clinic, or false on miss or expiry.
func (c *RuleCache) Get(clinicID string) ([]rules.ClinicalRule, bool) {
	c.mu.RLock()
	entry, ok := c.entries[keyFor(clinicID)]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}

	out := make([]rules.ClinicalRule, len(entry.rules))
	copy(out, entry.rules)
	return out, true
}

// Set stores the rules for a clinic with the cache TTL.
func (c *RuleCache) Set(clinicID string, ruleSet []rules.ClinicalRule) {
	stored := make([]rules.ClinicalRule, len(ruleSet))
	copy(stored, ruleSet)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[keyFor(clinicID)] = ruleEntry{
		rules:     stored,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Invalidate drops the entry for one clinic. Rule-store writes call this so
// readers never see a write shadowed for longer than one TTL.
func (c *RuleCache) Invalidate(clinicID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, keyFor(clinicID))
}

// InvalidateAll drops every entry. Used for destructive store operations.
func (c *RuleCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]ruleEntry)
}

// Len reports how many clinic entries are cached, expired or not.
func (c *RuleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
