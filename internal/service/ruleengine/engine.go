package ruleengine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	domainerrors "github.com/clinicore/clinical-governance-backend/internal/domain/errors"
	"github.com/clinicore/clinical-governance-backend/internal/domain/rules"
	"github.com/clinicore/clinical-governance-backend/internal/infrastructure/cache"
	"github.com/clinicore/clinical-governance-backend/internal/metrics"
)

// SecurityReporter receives the rules skipped at the expression security
// boundary, so they land in the audit trail and not only in the log stream.
type SecurityReporter interface {
	ReportSkippedRule(ctx context.Context, rule rules.ClinicalRule, reason string)
}

type noopReporter struct{}

func (noopReporter) ReportSkippedRule(context.Context, rules.ClinicalRule, string) {}

// Engine evaluates administrator-authored business rules. Rule expressions
// are data from a store a non-developer can write to; every expression goes
// through the closed-AST parser before it may run, and a rule that fails
// there is skipped without aborting its batch.
type Engine struct {
	logger   *zap.Logger
	repo     rules.Repository
	cache    *cache.RuleCache
	metrics  *metrics.Registry
	reporter SecurityReporter
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSecurityReporter routes skipped-rule events to the audit trail.
func WithSecurityReporter(r SecurityReporter) EngineOption {
	return func(e *Engine) { e.reporter = r }
}

// NewEngine creates a business rule engine.
func NewEngine(logger *zap.Logger, repo rules.Repository, ruleCache *cache.RuleCache, registry *metrics.Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		logger:   logger,
		repo:     repo,
		cache:    ruleCache,
		metrics:  registry,
		reporter: noopReporter{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetBusinessRules returns the active rules for a clinic, merged so that a
// clinic-specific row overrides the global row sharing its rule id. Results
// are cached per clinic with the cache's TTL; writes to the rule store must
// invalidate the corresponding key.
func (e *Engine) GetBusinessRules(ctx context.Context, clinicID string) ([]rules.ClinicalRule, error) {
	if cached, ok := e.cache.Get(clinicID); ok {
		return cached, nil
	}

	rows, err := e.repo.ActiveRules(ctx, clinicID)
	if err != nil {
		return nil, domainerrors.Wrap(err, "loading business rules")
	}

	merged := mergeClinicOverrides(rows)
	e.cache.Set(clinicID, merged)
	return merged, nil
}

// mergeClinicOverrides resolves rule-id collisions in favor of the
// clinic-scoped row and orders the result by priority, then rule id.
func mergeClinicOverrides(rows []rules.ClinicalRule) []rules.ClinicalRule {
	byID := make(map[string]rules.ClinicalRule, len(rows))
	for _, rule := range rows {
		existing, seen := byID[rule.RuleID]
		if !seen || (existing.Global() && !rule.Global()) {
			byID[rule.RuleID] = rule
		}
	}

	merged := make([]rules.ClinicalRule, 0, len(byID))
	for _, rule := range byID {
		merged = append(merged, rule)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Priority != merged[j].Priority {
			return merged[i].Priority > merged[j].Priority
		}
		return merged[i].RuleID < merged[j].RuleID
	})
	return merged
}

// Invalidate drops the cached rules for a clinic after a store write.
func (e *Engine) Invalidate(clinicID string) {
	e.cache.Invalidate(clinicID)
}

// batchResult is one business-rule pass before merging into the hybrid
// result.
type batchResult struct {
	Outcomes []rules.RuleOutcome
	Actions  []string
	Warnings []string
}

// evaluateBatch runs every rule against the context. Per-rule failures are
// isolated: a disallowed operator or malformed expression records a nil
// outcome and the batch continues.
func (e *Engine) evaluateBatch(ctx context.Context, ruleSet []rules.ClinicalRule, rctx *rules.RuleContext) batchResult {
	result := batchResult{
		Outcomes: make([]rules.RuleOutcome, 0, len(ruleSet)),
		Actions:  []string{},
		Warnings: []string{},
	}
	evaluated := make([]string, 0, len(ruleSet))

	for _, rule := range ruleSet {
		started := time.Now()
		outcome := rules.RuleOutcome{
			RuleID:   rule.RuleID,
			RuleName: rule.Name,
			Category: rule.Category,
			Source:   rules.SourceDatabase,
		}

		node, err := rules.Parse(rule.Logic)
		if err != nil {
			outcome.ExecutionTime = time.Since(started)
			result.Outcomes = append(result.Outcomes, outcome)

			if domainerrors.IsType(err, domainerrors.ErrorTypeSecurity) {
				e.logger.Warn("business rule skipped: disallowed operation",
					zap.String("rule_id", rule.RuleID),
					zap.Int("rule_version", rule.Version),
					zap.Error(err))
				e.metrics.RecordSkippedRule(ctx, rule.RuleID)
				e.reporter.ReportSkippedRule(ctx, rule, err.Error())
			} else {
				e.logger.Warn("business rule logic is malformed",
					zap.String("rule_id", rule.RuleID),
					zap.Error(err))
				e.metrics.RuleEvalFailures.Add(ctx, 1)
			}
			continue
		}

		value, err := safeEval(node, rctx)
		outcome.ExecutionTime = time.Since(started)
		evaluated = append(evaluated, rule.RuleID)

		if err != nil {
			e.logger.Warn("business rule failed to evaluate",
				zap.String("rule_id", rule.RuleID),
				zap.Error(err))
			e.metrics.RuleEvalFailures.Add(ctx, 1)
			result.Outcomes = append(result.Outcomes, outcome)
			continue
		}

		outcome.Outcome = value
		result.Outcomes = append(result.Outcomes, outcome)

		if action, ok := actionable(value); ok {
			result.Actions = append(result.Actions, action)
			e.metrics.ActionsEmitted.Add(ctx, 1)
		}
	}

	// Bookkeeping is best effort; a store hiccup must not fail the pass.
	if err := e.repo.RecordEvaluation(ctx, evaluated); err != nil {
		e.logger.Warn("recording rule evaluations failed", zap.Error(err))
	}

	return result
}

// safeEval converts a panic inside one rule's evaluation into that rule's
// error. A stored expression must never take the batch down with it.
func safeEval(node rules.Node, rctx *rules.RuleContext) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domainerrors.NewInternalError(fmt.Sprintf("rule evaluation panicked: %v", r))
		}
	}()
	return node.Eval(rctx)
}

// actionable filters evaluation outcomes down to advisory actions: null,
// false and the CONTINUE sentinel all mean "nothing to do".
func actionable(value interface{}) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case bool:
		return "", false
	case string:
		if v == "" || v == rules.OutcomeContinue {
			return "", false
		}
		return v, true
	}
	return "", false
}
