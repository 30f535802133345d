package content

import (
	"sort"
	"sync"
)

// Registry is the in-memory index over a validated bundle. It is built by
// the composition root and injected into consumers; there is no package
// level instance. Replacing the bundle swaps the whole index atomically.
type Registry struct {
	mu       sync.RWMutex
	manifest Manifest
	byID     map[string]RuleRecord
	byDomain map[Domain][]RuleRecord
	loaded   bool
}

// NewRegistry returns an empty registry. Until a bundle is indexed every
// query reports not-found and Loaded returns false.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]RuleRecord),
		byDomain: make(map[Domain][]RuleRecord),
	}
}

// Index replaces the registry contents with the given validated bundle.
// Callers must only pass bundles produced by LoadBundle.
func (r *Registry) Index(bundle *Bundle) {
	byID := make(map[string]RuleRecord, len(bundle.Rules))
	byDomain := make(map[Domain][]RuleRecord)
	for _, rule := range bundle.Rules {
		byID[rule.RuleID] = rule
		byDomain[rule.Domain] = append(byDomain[rule.Domain], rule)
	}
	for _, rules := range byDomain {
		sort.Slice(rules, func(i, j int) bool { return rules[i].RuleID < rules[j].RuleID })
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifest = bundle.Manifest
	r.byID = byID
	r.byDomain = byDomain
	r.loaded = true
}

// Loaded reports whether a bundle has been indexed.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Manifest returns the manifest of the indexed bundle.
func (r *Registry) Manifest() Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.manifest
}

// GetRule looks a rule record up by id.
func (r *Registry) GetRule(ruleID string) (RuleRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.byID[ruleID]
	return rule, ok
}

// RulesForDomain returns the records for one clinical domain, ordered by
// rule id.
func (r *Registry) RulesForDomain(domain Domain) []RuleRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rules := r.byDomain[domain]
	out := make([]RuleRecord, len(rules))
	copy(out, rules)
	return out
}

// Count returns the number of indexed rule records.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
