package rules

import (
	"context"
	"encoding/json"
	"time"
)

// OutcomeContinue is the sentinel a rule returns to mean "no action". It is
// filtered out of the aggregated actions list along with null and false.
const OutcomeContinue = "CONTINUE"

// ClinicalRule is a data-driven, administrator-editable operational rule.
// Clinic-specific rows (ClinicID set) take precedence over global rows
// (ClinicID nil) sharing a RuleID.
type ClinicalRule struct {
	RuleID   string          `json:"ruleId"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Logic    json.RawMessage `json:"logic"`
	Priority int             `json:"priority"`
	IsActive bool            `json:"isActive"`
	ClinicID *string         `json:"clinicId,omitempty"`
	Version  int             `json:"version"`
}

// Global reports whether the rule applies to every clinic.
func (r ClinicalRule) Global() bool {
	return r.ClinicID == nil
}

// OutcomeSource distinguishes where an outcome came from.
type OutcomeSource string

const (
	SourceCompliance OutcomeSource = "compliance"
	SourceDatabase   OutcomeSource = "database"
)

// RuleOutcome records one evaluated rule. Outcome is nil when the rule was
// skipped (security) or failed to evaluate (malformed for this context).
type RuleOutcome struct {
	RuleID        string        `json:"ruleId"`
	RuleName      string        `json:"ruleName"`
	Category      string        `json:"category"`
	Outcome       interface{}   `json:"outcome"`
	Source        OutcomeSource `json:"source"`
	ExecutionTime time.Duration `json:"executionTimeMs"`
}

// RuleEngineResult aggregates one full evaluation pass. Compliance outcomes
// always precede database outcomes; if compliance blocked, no database
// outcome is present at all.
type RuleEngineResult struct {
	Allowed       bool          `json:"allowed"`
	BlockedByRule string        `json:"blockedByRule,omitempty"`
	UserMessage   string        `json:"userMessage,omitempty"`
	Outcomes      []RuleOutcome `json:"outcomes"`
	Actions       []string      `json:"actions"`
	Warnings      []string      `json:"warnings"`
	TotalTime     time.Duration `json:"totalTimeMs"`
}

// Repository is the read surface over the business-rule store. Evaluation
// bookkeeping (RecordEvaluation) is best effort: callers log failures and
// move on.
type Repository interface {
	// ActiveRules returns active global rules plus active rules for the
	// given clinic. clinicID empty means global only.
	ActiveRules(ctx context.Context, clinicID string) ([]ClinicalRule, error)

	// RecordEvaluation increments the evaluation counter and stamps
	// last-evaluated for the given rules.
	RecordEvaluation(ctx context.Context, ruleIDs []string) error
}
