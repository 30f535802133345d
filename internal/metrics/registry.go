package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the governance-core metrics. It is built once at the
// composition root and injected into the services that record into it.
type Registry struct {
	meter metric.Meter

	// Rule evaluation
	EvaluationDuration  metric.Float64Histogram
	ComplianceBlocks    metric.Int64Counter
	RulesSkippedCounter metric.Int64Counter
	RuleEvalFailures    metric.Int64Counter
	ActionsEmitted      metric.Int64Counter

	// Decision pipeline
	FallbackInvocations metric.Int64Counter
	QualityQueueDrops   metric.Int64Counter

	// Audit
	AuditWriteFailures metric.Int64Counter
}

// NewRegistry creates all instruments on the global meter provider.
func NewRegistry(serviceName string) (*Registry, error) {
	meter := otel.Meter(serviceName)
	r := &Registry{meter: meter}

	var err error

	if r.EvaluationDuration, err = meter.Float64Histogram(
		"governance.rule_evaluation.duration",
		metric.WithDescription("Duration of one hybrid rule evaluation pass"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("creating evaluation duration histogram: %w", err)
	}

	if r.ComplianceBlocks, err = meter.Int64Counter(
		"governance.compliance.blocks",
		metric.WithDescription("Evaluations blocked by a compliance rule"),
	); err != nil {
		return nil, fmt.Errorf("creating compliance block counter: %w", err)
	}

	if r.RulesSkippedCounter, err = meter.Int64Counter(
		"governance.rules.skipped",
		metric.WithDescription("Business rules skipped for disallowed operators"),
	); err != nil {
		return nil, fmt.Errorf("creating skipped rule counter: %w", err)
	}

	if r.RuleEvalFailures, err = meter.Int64Counter(
		"governance.rules.eval_failures",
		metric.WithDescription("Business rules whose logic failed to evaluate"),
	); err != nil {
		return nil, fmt.Errorf("creating eval failure counter: %w", err)
	}

	if r.ActionsEmitted, err = meter.Int64Counter(
		"governance.rules.actions",
		metric.WithDescription("Advisory actions emitted by business rules"),
	); err != nil {
		return nil, fmt.Errorf("creating action counter: %w", err)
	}

	if r.FallbackInvocations, err = meter.Int64Counter(
		"governance.decision.fallbacks",
		metric.WithDescription("Primary-path failures that fell back to the deterministic path"),
	); err != nil {
		return nil, fmt.Errorf("creating fallback counter: %w", err)
	}

	if r.QualityQueueDrops, err = meter.Int64Counter(
		"governance.decision.quality_queue_drops",
		metric.WithDescription("Quality evaluation tasks rejected by a full queue"),
	); err != nil {
		return nil, fmt.Errorf("creating quality queue drop counter: %w", err)
	}

	if r.AuditWriteFailures, err = meter.Int64Counter(
		"governance.audit.write_failures",
		metric.WithDescription("Audit chain writes that failed and were logged for reconciliation"),
	); err != nil {
		return nil, fmt.Errorf("creating audit failure counter: %w", err)
	}

	return r, nil
}

// RecordEvaluation records one evaluation pass.
func (r *Registry) RecordEvaluation(ctx context.Context, durationMs float64, blocked bool) {
	r.EvaluationDuration.Record(ctx, durationMs)
	if blocked {
		r.ComplianceBlocks.Add(ctx, 1)
	}
}

// RecordSkippedRule records a rule skipped at the security boundary.
func (r *Registry) RecordSkippedRule(ctx context.Context, ruleID string) {
	r.RulesSkippedCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("rule_id", ruleID)))
}
