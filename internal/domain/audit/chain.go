package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ValidationStatus says how a governance log's output was validated.
// Deterministic rule evaluations are VERIFIED; model-produced output moves
// from MODEL_UNVALIDATED to MODEL_VALIDATED once a deterministic check has
// run over it.
type ValidationStatus string

const (
	ValidationVerified         ValidationStatus = "VERIFIED"
	ValidationModelUnvalidated ValidationStatus = "MODEL_UNVALIDATED"
	ValidationModelValidated   ValidationStatus = "MODEL_VALIDATED"
)

// NonModelMarker is the sentinel stored in GovernanceLog.ModelIdentifier
// for deterministic evaluations, so audit consumers can tell them apart
// from LLM-produced entries.
const NonModelMarker = "deterministic:rule-engine"

// InteractionSession is the root of one audit chain: one logical clinical
// interaction.
type InteractionSession struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"userId"`
	PatientID string    `json:"patientId,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// GovernanceLog captures one rule-evaluation pass within a session.
type GovernanceLog struct {
	ID               uuid.UUID        `json:"id"`
	SessionID        uuid.UUID        `json:"sessionId"`
	RawOutput        string           `json:"rawOutput"`
	SanitizedOutput  string           `json:"sanitizedOutput"`
	ValidationStatus ValidationStatus `json:"validationStatus"`
	ModelIdentifier  string           `json:"modelIdentifier"`
	OverrideReason   *string          `json:"overrideReason,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// GovernanceEvent is the granular record of one triggered rule. Events are
// hash-chained within their log so tampering with one breaks every event
// after it.
type GovernanceEvent struct {
	ID            uuid.UUID `json:"id"`
	LogID         uuid.UUID `json:"logId"`
	RuleID        string    `json:"ruleId"`
	RuleName      string    `json:"ruleName"`
	Severity      string    `json:"severity"`
	Action        string    `json:"action"`
	HumanOverride bool      `json:"humanOverride"`
	PreviousHash  string    `json:"previousHash"`
	EventHash     string    `json:"eventHash"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ComputeHash seals the event against the previous event's hash. Only
// fields that must never change afterwards participate.
func (e *GovernanceEvent) ComputeHash(previousHash string) string {
	e.PreviousHash = previousHash
	payload, _ := json.Marshal(map[string]interface{}{
		"id":            e.ID.String(),
		"logId":         e.LogID.String(),
		"ruleId":        e.RuleID,
		"severity":      e.Severity,
		"action":        e.Action,
		"humanOverride": e.HumanOverride,
		"previousHash":  e.PreviousHash,
	})
	sum := sha256.Sum256(payload)
	e.EventHash = hex.EncodeToString(sum[:])
	return e.EventHash
}

// SealEvents hash-chains a slice of events in order, starting from the
// empty hash.
func SealEvents(events []GovernanceEvent) {
	previous := ""
	for i := range events {
		previous = events[i].ComputeHash(previous)
	}
}

// VerifyEvents recomputes the chain and reports the index of the first
// event whose hash does not match, or -1 if the chain is intact.
func VerifyEvents(events []GovernanceEvent) int {
	previous := ""
	for i, e := range events {
		check := e // copy so recomputation does not repair the stored hash
		check.ComputeHash(previous)
		if check.EventHash != e.EventHash || e.PreviousHash != previous {
			return i
		}
		previous = e.EventHash
	}
	return -1
}

// Chain bundles the three levels created in one transaction. Invariant: an
// event never exists without its log, a log never without its session.
type Chain struct {
	Session InteractionSession
	Log     GovernanceLog
	Events  []GovernanceEvent
}

// Repository persists audit chains. SaveChain must create all three levels
// inside one transaction or none of them.
type Repository interface {
	SaveChain(ctx context.Context, chain Chain) error
}

// SafetyEventContext is everything the safety audit logger needs to persist
// one safety-relevant decision. It is also what gets attached to the error
// log line when persistence fails, so operations can backfill the gap.
type SafetyEventContext struct {
	UserID         string  `json:"userId"`
	PatientID      string  `json:"patientId,omitempty"`
	RuleID         string  `json:"ruleId"`
	RuleName       string  `json:"ruleName"`
	Severity       string  `json:"severity"`
	Action         string  `json:"action"`
	Rationale      string  `json:"rationale"`
	OverrideReason *string `json:"overrideReason,omitempty"`
}
