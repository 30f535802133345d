package ruleengine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/clinicore/clinical-governance-backend/internal/domain/compliance"
	"github.com/clinicore/clinical-governance-backend/internal/domain/rules"
	"github.com/clinicore/clinical-governance-backend/internal/infrastructure/cache"
	"github.com/clinicore/clinical-governance-backend/internal/metrics"
)

type fakeRuleRepo struct {
	rules     []rules.ClinicalRule
	err       error
	loads     int
	recorded  [][]string
	recordErr error
}

func (f *fakeRuleRepo) ActiveRules(_ context.Context, _ string) ([]rules.ClinicalRule, error) {
	f.loads++
	return f.rules, f.err
}

func (f *fakeRuleRepo) RecordEvaluation(_ context.Context, ruleIDs []string) error {
	f.recorded = append(f.recorded, ruleIDs)
	return f.recordErr
}

type capturingReporter struct {
	skipped []string
}

func (c *capturingReporter) ReportSkippedRule(_ context.Context, rule rules.ClinicalRule, _ string) {
	c.skipped = append(c.skipped, rule.RuleID)
}

func newTestMetrics(t *testing.T) *metrics.Registry {
	t.Helper()
	registry, err := metrics.NewRegistry("governance-test")
	require.NoError(t, err)
	return registry
}

func strPtr(s string) *string { return &s }

func businessRule(id string, priority int, clinicID *string, logic string) rules.ClinicalRule {
	return rules.ClinicalRule{
		RuleID:   id,
		Name:     "rule " + id,
		Category: "clinical",
		Logic:    json.RawMessage(logic),
		Priority: priority,
		IsActive: true,
		ClinicID: clinicID,
		Version:  1,
	}
}

func testContext(t *testing.T, attrs map[string]interface{}) *rules.RuleContext {
	t.Helper()
	builder := rules.NewContext(compliance.ComplianceContext{
		ActorID:        "dr-souza",
		PatientID:      "pat-100",
		AccessType:     compliance.AccessView,
		HasLGPDConsent: true,
	}).ForClinic("clinic-7")
	for name, value := range attrs {
		builder.WithAttribute(name, value)
	}
	rctx, err := builder.Build()
	require.NoError(t, err)
	return rctx
}

func TestGetBusinessRulesCachesPerClinic(t *testing.T) {
	repo := &fakeRuleRepo{rules: []rules.ClinicalRule{
		businessRule("BR-001", 1, nil, `{"var": "riskScore"}`),
	}}
	engine := NewEngine(zaptest.NewLogger(t), repo, cache.NewRuleCache(), newTestMetrics(t))

	first, err := engine.GetBusinessRules(context.Background(), "clinic-7")
	require.NoError(t, err)
	second, err := engine.GetBusinessRules(context.Background(), "clinic-7")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.loads, "second read must come from cache")

	engine.Invalidate("clinic-7")
	_, err = engine.GetBusinessRules(context.Background(), "clinic-7")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.loads, "invalidation must force a store read")
}

func TestGetBusinessRulesClinicOverridesGlobal(t *testing.T) {
	repo := &fakeRuleRepo{rules: []rules.ClinicalRule{
		businessRule("BR-001", 5, nil, `"CONTINUE"`),
		businessRule("BR-001", 5, strPtr("clinic-7"), `"FLAG_CLINIC_SPECIFIC"`),
		businessRule("BR-002", 9, nil, `"CONTINUE"`),
	}}
	engine := NewEngine(zaptest.NewLogger(t), repo, cache.NewRuleCache(), newTestMetrics(t))

	merged, err := engine.GetBusinessRules(context.Background(), "clinic-7")
	require.NoError(t, err)

	require.Len(t, merged, 2)
	assert.Equal(t, "BR-002", merged[0].RuleID, "higher priority first")
	assert.Equal(t, "BR-001", merged[1].RuleID)
	assert.NotNil(t, merged[1].ClinicID, "clinic row must win over global row")
}

func TestEvaluateBatchSkipsDisallowedRuleButKeepsSiblings(t *testing.T) {
	repo := &fakeRuleRepo{}
	reporter := &capturingReporter{}
	engine := NewEngine(zaptest.NewLogger(t), repo, cache.NewRuleCache(), newTestMetrics(t),
		WithSecurityReporter(reporter))

	ruleSet := []rules.ClinicalRule{
		businessRule("BR-EVIL", 9, nil, `{"map": [[1, 2], {"var": ""}]}`),
		businessRule("BR-RISK", 5, nil,
			`{"if": [{">": [{"var": "riskScore"}, 0.7]}, "FLAG_HIGH_RISK", "CONTINUE"]}`),
	}

	batch := engine.evaluateBatch(context.Background(), ruleSet,
		testContext(t, map[string]interface{}{"riskScore": 0.9}))

	require.Len(t, batch.Outcomes, 2)
	assert.Nil(t, batch.Outcomes[0].Outcome, "skipped rule records a nil outcome")
	assert.Equal(t, "FLAG_HIGH_RISK", batch.Outcomes[1].Outcome)
	assert.Equal(t, []string{"FLAG_HIGH_RISK"}, batch.Actions)
	assert.Equal(t, []string{"BR-EVIL"}, reporter.skipped)

	// Only the rule that actually evaluated is counted.
	require.Len(t, repo.recorded, 1)
	assert.Equal(t, []string{"BR-RISK"}, repo.recorded[0])
}

func TestEvaluateBatchIsolatesEvaluationErrors(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t), &fakeRuleRepo{}, cache.NewRuleCache(), newTestMetrics(t))

	ruleSet := []rules.ClinicalRule{
		businessRule("BR-DIV", 9, nil, `{"/": [10, {"var": ["zero", 0]}]}`),
		businessRule("BR-OK", 5, nil, `"FLAG_REVIEW"`),
	}

	batch := engine.evaluateBatch(context.Background(), ruleSet,
		testContext(t, nil))

	require.Len(t, batch.Outcomes, 2)
	assert.Nil(t, batch.Outcomes[0].Outcome)
	assert.Equal(t, "FLAG_REVIEW", batch.Outcomes[1].Outcome)
	assert.Equal(t, []string{"FLAG_REVIEW"}, batch.Actions)
}

func TestEvaluateBatchSurvivesListValuedOperands(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t), &fakeRuleRepo{}, cache.NewRuleCache(), newTestMetrics(t))

	// Both operands evaluate to lists; the batch must treat them as not
	// equal and keep going, never crash.
	ruleSet := []rules.ClinicalRule{
		businessRule("BR-LISTS", 9, nil,
			`{"==": [{"missing": ["inr"]}, {"missing": ["lactate"]}]}`),
		businessRule("BR-OK", 5, nil, `"FLAG_REVIEW"`),
	}

	batch := engine.evaluateBatch(context.Background(), ruleSet, testContext(t, nil))

	require.Len(t, batch.Outcomes, 2)
	assert.Equal(t, false, batch.Outcomes[0].Outcome)
	assert.Equal(t, []string{"FLAG_REVIEW"}, batch.Actions)
}

func TestEvaluateBatchFiltersNonActions(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t), &fakeRuleRepo{}, cache.NewRuleCache(), newTestMetrics(t))

	ruleSet := []rules.ClinicalRule{
		businessRule("BR-CONT", 5, nil, `"CONTINUE"`),
		businessRule("BR-FALSE", 5, nil, `{"<": [1, 0]}`),
		businessRule("BR-NULL", 5, nil, `{"if": [false, "X"]}`),
		businessRule("BR-ACT", 5, nil, `"ORDER_RENAL_PANEL"`),
	}

	batch := engine.evaluateBatch(context.Background(), ruleSet, testContext(t, nil))

	assert.Equal(t, []string{"ORDER_RENAL_PANEL"}, batch.Actions)
}

func TestEvaluateBatchRecordEvaluationFailureIsNonFatal(t *testing.T) {
	repo := &fakeRuleRepo{recordErr: errors.New("store down")}
	engine := NewEngine(zaptest.NewLogger(t), repo, cache.NewRuleCache(), newTestMetrics(t))

	batch := engine.evaluateBatch(context.Background(),
		[]rules.ClinicalRule{businessRule("BR-OK", 5, nil, `"FLAG_REVIEW"`)},
		testContext(t, nil))

	assert.Equal(t, []string{"FLAG_REVIEW"}, batch.Actions)
}
