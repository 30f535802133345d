package compliance

// brazilRegions are the storage regions considered inside the LGPD
// jurisdiction. Cross-border transfer outside this set is blocked.
var brazilRegions = map[string]bool{
	"sa-east-1":          true,
	"southamerica-east1": true,
	"brazilsouth":        true,
}

// Registry holds the fixed, ordered table of compliance rules. The order is
// significant: consent checks run before data-residency, residency before
// emergency justification, and logging markers last. Evaluation stops at
// the first rule that denies.
type Registry struct {
	rules []ComplianceRule
}

// NewRegistry builds the registry with the compiled-in rule table.
func NewRegistry() *Registry {
	return &Registry{rules: []ComplianceRule{
		{
			ID:               "LGPD-001",
			Description:      "Patient data access requires recorded LGPD consent",
			Enforcement:      ActionRequireConsent,
			RegulatorySource: "LGPD Art. 7, I",
			UserMessage:      "Access denied: no valid LGPD consent is on record for this patient.",
			AuditCategory:    "consent",
			check: func(ctx ComplianceContext) verdict {
				if ctx.PatientID == "" {
					return pass()
				}
				if ctx.HasLGPDConsent {
					return pass()
				}
				if ctx.EmergencyOverride {
					return warn("patient data accessed under emergency override without consent")
				}
				return deny()
			},
		},
		{
			ID:               "LGPD-005",
			Description:      "AI processing of patient data requires specific consent",
			Enforcement:      ActionRequireConsent,
			RegulatorySource: "LGPD Art. 20",
			UserMessage:      "AI-assisted processing denied: the patient has not consented to automated processing.",
			AuditCategory:    "consent",
			check: func(ctx ComplianceContext) verdict {
				if ctx.AccessType != AccessAIProcess {
					return pass()
				}
				if ctx.HasAIConsent {
					return pass()
				}
				return deny()
			},
		},
		{
			ID:               "LGPD-003",
			Description:      "Patient data may not leave the national jurisdiction",
			Enforcement:      ActionBlockTransfer,
			RegulatorySource: "LGPD Art. 33",
			UserMessage:      "Export denied: the destination region is outside the permitted jurisdiction.",
			AuditCategory:    "residency",
			check: func(ctx ComplianceContext) verdict {
				if ctx.AccessType != AccessExport {
					return pass()
				}
				if ctx.DestinationRegion == "" || brazilRegions[ctx.DestinationRegion] {
					return pass()
				}
				return deny()
			},
		},
		{
			ID:               "LGPD-004",
			Description:      "Emergency override requires a written justification",
			Enforcement:      ActionRequireReason,
			RegulatorySource: "LGPD Art. 11, II(e)",
			UserMessage:      "Emergency override denied: a justification must be provided.",
			AuditCategory:    "override",
			check: func(ctx ComplianceContext) verdict {
				if !ctx.EmergencyOverride {
					return pass()
				}
				if ctx.OverrideJustification == "" {
					return deny()
				}
				return warn("emergency override in effect: " + ctx.OverrideJustification)
			},
		},
		{
			ID:               "LGPD-009",
			Description:      "Export, deletion and AI processing are always audited",
			Enforcement:      ActionLogAlways,
			RegulatorySource: "LGPD Art. 37",
			UserMessage:      "",
			AuditCategory:    "audit-marker",
			check: func(ctx ComplianceContext) verdict {
				switch ctx.AccessType {
				case AccessExport, AccessDelete, AccessAIProcess:
					return warn("action recorded in the permanent audit trail")
				}
				return pass()
			},
		},
		{
			ID:               "CFM-021",
			Description:      "AI-assisted output must be reviewed by a licensed physician",
			Enforcement:      ActionWarn,
			RegulatorySource: "CFM Resolution 2.227",
			UserMessage:      "",
			AuditCategory:    "audit-marker",
			check: func(ctx ComplianceContext) verdict {
				if ctx.AccessType == AccessAIProcess {
					return warn("AI output is advisory and requires physician review")
				}
				return pass()
			},
		},
	}}
}

// Rules returns the fixed rule table in evaluation order.
func (r *Registry) Rules() []ComplianceRule {
	out := make([]ComplianceRule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Evaluate runs the ordered rule table against the context. It is a pure,
// total function: no I/O, never panics, never returns an error. Every rule
// considered before the short-circuit point is recorded in RulesEvaluated,
// including ones that passed.
func (r *Registry) Evaluate(ctx ComplianceContext) ComplianceResult {
	result := ComplianceResult{
		Allowed:        true,
		RulesEvaluated: make([]string, 0, len(r.rules)),
		Warnings:       []string{},
	}

	for _, rule := range r.rules {
		result.RulesEvaluated = append(result.RulesEvaluated, rule.ID)

		v := rule.check(ctx)
		switch v.kind {
		case verdictDeny:
			result.Allowed = false
			result.BlockedByRule = rule.ID
			result.Enforcement = rule.Enforcement
			result.UserMessage = rule.UserMessage
			return result
		case verdictWarn:
			result.Warnings = append(result.Warnings, rule.ID+": "+v.warning)
		}
	}

	return result
}
