package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	auditdomain "github.com/clinicore/clinical-governance-backend/internal/domain/audit"
	"github.com/clinicore/clinical-governance-backend/internal/domain/rules"
	"github.com/clinicore/clinical-governance-backend/internal/metrics"
)

// SafetyLogger persists safety-relevant decisions as three-level audit
// chains. Its failure mode is fail open, log loud: a broken audit store
// never stops a clinical decision, but every miss is logged at error level
// with the complete event so operations can reconcile the gap.
type SafetyLogger struct {
	logger  *zap.Logger
	repo    auditdomain.Repository
	metrics *metrics.Registry
	now     func() time.Time
}

// Option configures a SafetyLogger.
type Option func(*SafetyLogger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *SafetyLogger) { l.now = now }
}

// NewSafetyLogger creates the logger over an audit repository.
func NewSafetyLogger(logger *zap.Logger, repo auditdomain.Repository, registry *metrics.Registry, opts ...Option) *SafetyLogger {
	l := &SafetyLogger{
		logger:  logger,
		repo:    repo,
		metrics: registry,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogSafetyEvent writes the event to the log stream first, then persists
// the audit chain in one transaction. Persistence failures are absorbed
// here; the caller never sees them.
func (l *SafetyLogger) LogSafetyEvent(ctx context.Context, event auditdomain.SafetyEventContext) {
	l.logger.Info("safety event",
		zap.String("user_id", event.UserID),
		zap.String("rule_id", event.RuleID),
		zap.String("severity", event.Severity),
		zap.String("action", event.Action),
		zap.Bool("human_override", event.OverrideReason != nil))

	chain := l.buildChain(event)
	if err := l.repo.SaveChain(ctx, chain); err != nil {
		l.metrics.AuditWriteFailures.Add(ctx, 1)
		l.logger.Error("safety audit persistence failed, event preserved in log stream only",
			zap.String("session_id", chain.Session.ID.String()),
			zap.String("user_id", event.UserID),
			zap.String("patient_id", event.PatientID),
			zap.String("rule_id", event.RuleID),
			zap.String("rule_name", event.RuleName),
			zap.String("severity", event.Severity),
			zap.String("action", event.Action),
			zap.String("rationale", event.Rationale),
			zap.Error(err))
	}
}

// ReportSkippedRule records a business rule rejected at the expression
// security boundary. A rule author pushing disallowed operators is a
// security signal, not an operational hiccup.
func (l *SafetyLogger) ReportSkippedRule(ctx context.Context, rule rules.ClinicalRule, reason string) {
	l.LogSafetyEvent(ctx, auditdomain.SafetyEventContext{
		UserID:    "rule-engine",
		RuleID:    rule.RuleID,
		RuleName:  rule.Name,
		Severity:  "SECURITY",
		Action:    "RULE_SKIPPED",
		Rationale: reason,
	})
}

func (l *SafetyLogger) buildChain(event auditdomain.SafetyEventContext) auditdomain.Chain {
	now := l.now().UTC()

	session := auditdomain.InteractionSession{
		ID:        uuid.New(),
		UserID:    event.UserID,
		PatientID: event.PatientID,
		StartedAt: now,
	}

	raw, _ := json.Marshal(event)
	sanitized := event
	sanitized.PatientID = "[REDACTED]"
	clean, _ := json.Marshal(sanitized)

	log := auditdomain.GovernanceLog{
		ID:               uuid.New(),
		SessionID:        session.ID,
		RawOutput:        string(raw),
		SanitizedOutput:  string(clean),
		ValidationStatus: auditdomain.ValidationVerified,
		ModelIdentifier:  auditdomain.NonModelMarker,
		OverrideReason:   event.OverrideReason,
		CreatedAt:        now,
	}

	events := []auditdomain.GovernanceEvent{{
		ID:            uuid.New(),
		LogID:         log.ID,
		RuleID:        event.RuleID,
		RuleName:      event.RuleName,
		Severity:      event.Severity,
		Action:        event.Action,
		HumanOverride: event.OverrideReason != nil,
		CreatedAt:     now,
	}}
	auditdomain.SealEvents(events)

	return auditdomain.Chain{Session: session, Log: log, Events: events}
}
