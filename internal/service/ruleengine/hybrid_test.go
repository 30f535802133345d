package ruleengine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/clinicore/clinical-governance-backend/internal/domain/compliance"
	"github.com/clinicore/clinical-governance-backend/internal/domain/rules"
	"github.com/clinicore/clinical-governance-backend/internal/infrastructure/cache"
)

func newHybrid(t *testing.T, repo *fakeRuleRepo) *HybridEngine {
	t.Helper()
	logger := zaptest.NewLogger(t)
	engine := NewEngine(logger, repo, cache.NewRuleCache(), newTestMetrics(t))
	return NewHybridEngine(logger, compliance.NewRegistry(), engine)
}

func TestEvaluateRulesComplianceBlockSkipsBusinessRules(t *testing.T) {
	repo := &fakeRuleRepo{rules: []rules.ClinicalRule{
		businessRule("BR-001", 5, nil, `"FLAG_SHOULD_NEVER_RUN"`),
	}}
	hybrid := newHybrid(t, repo)

	rctx, err := rules.NewContext(compliance.ComplianceContext{
		ActorID:    "dr-souza",
		PatientID:  "pat-100",
		AccessType: compliance.AccessView,
	}).Build()
	require.NoError(t, err)

	result := hybrid.EvaluateRules(context.Background(), rctx)

	assert.False(t, result.Allowed)
	assert.Equal(t, "LGPD-001", result.BlockedByRule)
	assert.NotEmpty(t, result.UserMessage)
	assert.Empty(t, result.Actions)
	assert.Zero(t, repo.loads, "business rules must not even be loaded after a legal block")

	for _, outcome := range result.Outcomes {
		assert.Equal(t, rules.SourceCompliance, outcome.Source)
	}
}

func TestEvaluateRulesMergesBothTiers(t *testing.T) {
	repo := &fakeRuleRepo{rules: []rules.ClinicalRule{
		businessRule("BR-RISK", 5, nil,
			`{"if": [{">": [{"var": "riskScore"}, 0.7]}, "FLAG_HIGH_RISK", "CONTINUE"]}`),
	}}
	hybrid := newHybrid(t, repo)

	rctx := testContext(t, map[string]interface{}{"riskScore": 0.9})
	result := hybrid.EvaluateRules(context.Background(), rctx)

	assert.True(t, result.Allowed)
	assert.Empty(t, result.BlockedByRule)
	assert.Equal(t, []string{"FLAG_HIGH_RISK"}, result.Actions)
	assert.Greater(t, result.TotalTime.Nanoseconds(), int64(0))

	// Compliance outcomes strictly precede database outcomes.
	sawDatabase := false
	for _, outcome := range result.Outcomes {
		if outcome.Source == rules.SourceDatabase {
			sawDatabase = true
		} else {
			require.False(t, sawDatabase, "compliance outcome after a database outcome")
		}
	}
	assert.True(t, sawDatabase)
}

func TestEvaluateRulesExportResidency(t *testing.T) {
	makeContext := func(region string) *rules.RuleContext {
		rctx, err := rules.NewContext(compliance.ComplianceContext{
			ActorID:           "dr-souza",
			PatientID:         "pat-100",
			AccessType:        compliance.AccessExport,
			HasLGPDConsent:    true,
			DestinationRegion: region,
		}).Build()
		require.NoError(t, err)
		return rctx
	}

	repo := &fakeRuleRepo{}
	hybrid := newHybrid(t, repo)

	blocked := hybrid.EvaluateRules(context.Background(), makeContext("us-east-1"))
	assert.False(t, blocked.Allowed)
	assert.Equal(t, "LGPD-003", blocked.BlockedByRule)

	allowed := hybrid.EvaluateRules(context.Background(), makeContext("sa-east-1"))
	assert.True(t, allowed.Allowed)
	assert.Equal(t, 1, repo.loads, "only the allowed export may reach business rules")
}

func TestEvaluateRulesIsIdempotent(t *testing.T) {
	repo := &fakeRuleRepo{rules: []rules.ClinicalRule{
		businessRule("BR-RISK", 5, nil,
			`{"if": [{">": [{"var": "riskScore"}, 0.7]}, "FLAG_HIGH_RISK", "CONTINUE"]}`),
	}}
	hybrid := newHybrid(t, repo)

	rctx := testContext(t, map[string]interface{}{"riskScore": 0.9})

	first := hybrid.EvaluateRules(context.Background(), rctx)
	second := hybrid.EvaluateRules(context.Background(), rctx)

	assert.Equal(t, first.Allowed, second.Allowed)
	assert.Equal(t, first.BlockedByRule, second.BlockedByRule)
	assert.Equal(t, first.Actions, second.Actions)
}

func TestEvaluateRulesDegradesWhenStoreUnavailable(t *testing.T) {
	repo := &fakeRuleRepo{err: errors.New("connection refused")}
	hybrid := newHybrid(t, repo)

	rctx := testContext(t, nil)
	result := hybrid.EvaluateRules(context.Background(), rctx)

	assert.True(t, result.Allowed, "a store outage must not become a block")
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[len(result.Warnings)-1], "business rules unavailable")
}
