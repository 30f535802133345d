package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	auditdomain "github.com/clinicore/clinical-governance-backend/internal/domain/audit"
	"github.com/clinicore/clinical-governance-backend/internal/domain/rules"
	"github.com/clinicore/clinical-governance-backend/internal/metrics"
)

type fakeChainRepo struct {
	chains []auditdomain.Chain
	err    error
}

func (f *fakeChainRepo) SaveChain(_ context.Context, chain auditdomain.Chain) error {
	if f.err != nil {
		return f.err
	}
	f.chains = append(f.chains, chain)
	return nil
}

func newTestMetrics(t *testing.T) *metrics.Registry {
	t.Helper()
	registry, err := metrics.NewRegistry("audit-test")
	require.NoError(t, err)
	return registry
}

func TestLogSafetyEventPersistsFullChain(t *testing.T) {
	repo := &fakeChainRepo{}
	logger := NewSafetyLogger(zaptest.NewLogger(t), repo, newTestMetrics(t),
		WithClock(func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }))

	logger.LogSafetyEvent(context.Background(), auditdomain.SafetyEventContext{
		UserID:    "dr-souza",
		PatientID: "pat-100",
		RuleID:    "LGPD-003",
		RuleName:  "Data residency enforcement",
		Severity:  "BLOCKING",
		Action:    "BLOCK_TRANSFER",
		Rationale: "destination region outside Brazil",
	})

	require.Len(t, repo.chains, 1)
	chain := repo.chains[0]

	assert.Equal(t, "dr-souza", chain.Session.UserID)
	assert.Equal(t, chain.Session.ID, chain.Log.SessionID)
	assert.Equal(t, auditdomain.ValidationVerified, chain.Log.ValidationStatus)
	assert.Equal(t, auditdomain.NonModelMarker, chain.Log.ModelIdentifier)
	assert.Contains(t, chain.Log.RawOutput, "pat-100")
	assert.NotContains(t, chain.Log.SanitizedOutput, "pat-100")

	require.Len(t, chain.Events, 1)
	assert.Equal(t, chain.Log.ID, chain.Events[0].LogID)
	assert.Equal(t, "LGPD-003", chain.Events[0].RuleID)
	assert.False(t, chain.Events[0].HumanOverride)
	assert.Equal(t, -1, auditdomain.VerifyEvents(chain.Events), "events must be sealed")
}

func TestLogSafetyEventRecordsOverride(t *testing.T) {
	repo := &fakeChainRepo{}
	logger := NewSafetyLogger(zaptest.NewLogger(t), repo, newTestMetrics(t))

	reason := "emergency access, patient unconscious"
	logger.LogSafetyEvent(context.Background(), auditdomain.SafetyEventContext{
		UserID:         "dr-souza",
		RuleID:         "LGPD-004",
		RuleName:       "Emergency justification",
		Severity:       "BLOCKING",
		Action:         "REQUIRE_REASON",
		OverrideReason: &reason,
	})

	require.Len(t, repo.chains, 1)
	require.NotNil(t, repo.chains[0].Log.OverrideReason)
	assert.Equal(t, reason, *repo.chains[0].Log.OverrideReason)
	assert.True(t, repo.chains[0].Events[0].HumanOverride)
}

func TestLogSafetyEventAbsorbsPersistenceFailure(t *testing.T) {
	repo := &fakeChainRepo{err: errors.New("audit store unreachable")}
	logger := NewSafetyLogger(zaptest.NewLogger(t), repo, newTestMetrics(t))

	// Must neither panic nor propagate; the decision path already moved on.
	logger.LogSafetyEvent(context.Background(), auditdomain.SafetyEventContext{
		UserID:   "dr-souza",
		RuleID:   "LGPD-001",
		Severity: "BLOCKING",
		Action:   "REQUIRE_CONSENT",
	})

	assert.Empty(t, repo.chains)
}

func TestReportSkippedRuleBecomesSecurityEvent(t *testing.T) {
	repo := &fakeChainRepo{}
	logger := NewSafetyLogger(zaptest.NewLogger(t), repo, newTestMetrics(t))

	logger.ReportSkippedRule(context.Background(), rules.ClinicalRule{
		RuleID: "BR-042",
		Name:   "suspicious rule",
	}, "disallowed operator: map")

	require.Len(t, repo.chains, 1)
	event := repo.chains[0].Events[0]
	assert.Equal(t, "BR-042", event.RuleID)
	assert.Equal(t, "SECURITY", event.Severity)
	assert.Equal(t, "RULE_SKIPPED", event.Action)
	assert.Contains(t, repo.chains[0].Log.RawOutput, "disallowed operator")
}
