package compliance

// EnforcementAction is what a compliance rule does when it applies.
type EnforcementAction string

const (
	ActionBlockAccess    EnforcementAction = "BLOCK_ACCESS"
	ActionBlockTransfer  EnforcementAction = "BLOCK_TRANSFER"
	ActionLogAlways      EnforcementAction = "LOG_ALWAYS"
	ActionRequireReason  EnforcementAction = "REQUIRE_REASON"
	ActionRequireConsent EnforcementAction = "REQUIRE_CONSENT"
	ActionAnonymize      EnforcementAction = "ANONYMIZE"
	ActionWarn           EnforcementAction = "WARN"
)

// AccessType classifies the clinical action being checked.
type AccessType string

const (
	AccessView      AccessType = "view"
	AccessEdit      AccessType = "edit"
	AccessExport    AccessType = "export"
	AccessDelete    AccessType = "delete"
	AccessAIProcess AccessType = "ai-process"
)

// ComplianceRule is a legally mandated access rule. Rules are compiled into
// the binary; there is no API to disable one, change its enforcement, or
// load one at runtime. Changing a rule means a source change and redeploy.
type ComplianceRule struct {
	ID               string
	Description      string
	Enforcement      EnforcementAction
	RegulatorySource string
	UserMessage      string
	AuditCategory    string

	check func(ComplianceContext) verdict

	// Always false. Kept as an explicit field so the law-vs-database
	// distinction is visible at the type level; no setter exists.
	canDisable bool
}

// CanDisable reports whether the rule may be disabled at runtime.
// It returns false for every compliance rule.
func (r ComplianceRule) CanDisable() bool {
	return r.canDisable
}

type verdictKind int

const (
	verdictPass verdictKind = iota
	verdictDeny
	verdictWarn
)

type verdict struct {
	kind    verdictKind
	warning string
}

func pass() verdict               { return verdict{kind: verdictPass} }
func deny() verdict               { return verdict{kind: verdictDeny} }
func warn(message string) verdict { return verdict{kind: verdictWarn, warning: message} }

// ComplianceContext is the ephemeral per-request value a caller builds for
// one evaluation. It is discarded after the pass; evaluation never mutates it.
type ComplianceContext struct {
	ActorID               string
	PatientID             string
	AccessType            AccessType
	HasLGPDConsent        bool
	HasAIConsent          bool
	EmergencyOverride     bool
	OverrideJustification string
	DestinationRegion     string
}

// ComplianceResult is the outcome of one evaluation pass.
// If Allowed is false, BlockedByRule and UserMessage are always set.
type ComplianceResult struct {
	Allowed        bool
	BlockedByRule  string
	Enforcement    EnforcementAction
	UserMessage    string
	RulesEvaluated []string
	Warnings       []string
}
