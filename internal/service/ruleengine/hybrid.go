package ruleengine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clinicore/clinical-governance-backend/internal/domain/compliance"
	"github.com/clinicore/clinical-governance-backend/internal/domain/rules"
)

// Outcome values recorded for compliance rules.
const (
	compliancePass  = "PASS"
	complianceBlock = "BLOCK"
)

// HybridEngine runs the two rule tiers in their only legal order: the
// compliance registry first, and business rules only if compliance allowed
// the action. A legal block is never second-guessed by operational rules.
type HybridEngine struct {
	logger   *zap.Logger
	registry *compliance.Registry
	business *Engine
}

// NewHybridEngine creates the orchestrator over both tiers.
func NewHybridEngine(logger *zap.Logger, registry *compliance.Registry, business *Engine) *HybridEngine {
	return &HybridEngine{
		logger:   logger,
		registry: registry,
		business: business,
	}
}

// EvaluateRules runs compliance then business rules against the context
// and merges both into one result. Compliance outcomes always precede
// business outcomes; when compliance blocks, no business outcome exists.
func (h *HybridEngine) EvaluateRules(ctx context.Context, rctx *rules.RuleContext) rules.RuleEngineResult {
	started := time.Now()

	complianceResult := h.registry.Evaluate(rctx.Compliance)

	result := rules.RuleEngineResult{
		Allowed:  complianceResult.Allowed,
		Outcomes: complianceOutcomes(h.registry, complianceResult),
		Actions:  []string{},
		Warnings: append([]string{}, complianceResult.Warnings...),
	}

	if !complianceResult.Allowed {
		result.BlockedByRule = complianceResult.BlockedByRule
		result.UserMessage = complianceResult.UserMessage
		result.TotalTime = time.Since(started)

		h.logger.Info("evaluation blocked by compliance rule",
			zap.String("rule_id", complianceResult.BlockedByRule),
			zap.String("actor_id", rctx.Compliance.ActorID),
			zap.String("access_type", string(rctx.Compliance.AccessType)),
			zap.Duration("total_time", result.TotalTime))
		h.business.metrics.RecordEvaluation(ctx, float64(result.TotalTime.Milliseconds()), true)
		return result
	}

	ruleSet, err := h.business.GetBusinessRules(ctx, rctx.ClinicID)
	if err != nil {
		// A rule-store outage degrades to compliance-only evaluation;
		// it must never turn into a block or an exception.
		h.logger.Error("business rules unavailable, continuing with compliance only",
			zap.String("clinic_id", rctx.ClinicID),
			zap.Error(err))
		result.Warnings = append(result.Warnings, "business rules unavailable for this evaluation")
		result.TotalTime = time.Since(started)
		h.business.metrics.RecordEvaluation(ctx, float64(result.TotalTime.Milliseconds()), false)
		return result
	}

	batch := h.business.evaluateBatch(ctx, ruleSet, rctx)
	result.Outcomes = append(result.Outcomes, batch.Outcomes...)
	result.Actions = append(result.Actions, batch.Actions...)
	result.Warnings = append(result.Warnings, batch.Warnings...)
	result.TotalTime = time.Since(started)

	h.logger.Debug("hybrid evaluation complete",
		zap.Int("compliance_rules", len(complianceResult.RulesEvaluated)),
		zap.Int("business_rules", len(ruleSet)),
		zap.Int("actions", len(result.Actions)),
		zap.Duration("total_time", result.TotalTime))
	h.business.metrics.RecordEvaluation(ctx, float64(result.TotalTime.Milliseconds()), false)

	return result
}

// complianceOutcomes converts a compliance result into outcome records so
// both tiers share one audit shape.
func complianceOutcomes(registry *compliance.Registry, result compliance.ComplianceResult) []rules.RuleOutcome {
	names := make(map[string]compliance.ComplianceRule, len(registry.Rules()))
	for _, rule := range registry.Rules() {
		names[rule.ID] = rule
	}

	outcomes := make([]rules.RuleOutcome, 0, len(result.RulesEvaluated))
	for _, id := range result.RulesEvaluated {
		outcome := compliancePass
		if id == result.BlockedByRule {
			outcome = complianceBlock
		}
		outcomes = append(outcomes, rules.RuleOutcome{
			RuleID:   id,
			RuleName: names[id].Description,
			Category: names[id].AuditCategory,
			Outcome:  outcome,
			Source:   rules.SourceCompliance,
		})
	}
	return outcomes
}
