package audit_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinical-governance-backend/internal/domain/audit"
)

func makeEvents(logID uuid.UUID, n int) []audit.GovernanceEvent {
	events := make([]audit.GovernanceEvent, n)
	for i := range events {
		events[i] = audit.GovernanceEvent{
			ID:        uuid.New(),
			LogID:     logID,
			RuleID:    "BR-00" + string(rune('1'+i)),
			RuleName:  "rule",
			Severity:  "high",
			Action:    "FLAG_HIGH_RISK",
			CreatedAt: time.Now().UTC(),
		}
	}
	return events
}

func TestSealAndVerifyEvents(t *testing.T) {
	events := makeEvents(uuid.New(), 3)
	audit.SealEvents(events)

	assert.Empty(t, events[0].PreviousHash)
	assert.NotEmpty(t, events[0].EventHash)
	assert.Equal(t, events[0].EventHash, events[1].PreviousHash)
	assert.Equal(t, events[1].EventHash, events[2].PreviousHash)

	assert.Equal(t, -1, audit.VerifyEvents(events))
}

func TestVerifyEventsDetectsTampering(t *testing.T) {
	events := makeEvents(uuid.New(), 3)
	audit.SealEvents(events)

	events[1].Action = "SUPPRESSED"

	assert.Equal(t, 1, audit.VerifyEvents(events))
}

func TestVerifyEventsDetectsBrokenLink(t *testing.T) {
	events := makeEvents(uuid.New(), 3)
	audit.SealEvents(events)

	events[2].PreviousHash = "forged"

	assert.Equal(t, 2, audit.VerifyEvents(events))
}

func TestVerifyEmptyChain(t *testing.T) {
	require.Equal(t, -1, audit.VerifyEvents(nil))
}
