package rules

import (
	"fmt"

	"github.com/clinicore/clinical-governance-backend/internal/domain/compliance"
	"github.com/clinicore/clinical-governance-backend/internal/domain/errors"
)

// allowedAttributes is the closed schema of clinical attributes a business
// rule may reference. Unknown names are rejected at context-build time, not
// silently accepted and resolved to null at evaluation time.
var allowedAttributes = map[string]bool{
	"heartRate":           true,
	"systolicBP":          true,
	"diastolicBP":         true,
	"temperature":         true,
	"respiratoryRate":     true,
	"spo2":                true,
	"creatinine":          true,
	"creatinineClearance": true,
	"egfr":                true,
	"potassium":           true,
	"sodium":              true,
	"inr":                 true,
	"glucose":             true,
	"hba1c":               true,
	"riskScore":           true,
	"medicationCount":     true,
	"activeMedications":   true,
	"allergyCount":        true,
	"age":                 true,
	"weightKg":            true,
	"pregnant":            true,
	"renalImpairment":     true,
	"hepaticImpairment":   true,
}

// RuleContext is what one evaluation pass sees: the compliance context plus
// clinical attributes. It is immutable per pass; rule evaluation never
// writes to it.
type RuleContext struct {
	Compliance compliance.ComplianceContext
	ClinicID   string

	attributes map[string]interface{}
}

// ContextBuilder assembles a RuleContext, validating attribute names
// against the closed schema.
type ContextBuilder struct {
	ctx  RuleContext
	errs []string
}

// NewContext starts a builder from the compliance context.
func NewContext(cc compliance.ComplianceContext) *ContextBuilder {
	return &ContextBuilder{ctx: RuleContext{
		Compliance: cc,
		attributes: make(map[string]interface{}),
	}}
}

// ForClinic scopes the context to a clinic.
func (b *ContextBuilder) ForClinic(clinicID string) *ContextBuilder {
	b.ctx.ClinicID = clinicID
	return b
}

// WithAttribute adds one clinical attribute. Unknown names fail the build.
func (b *ContextBuilder) WithAttribute(name string, value interface{}) *ContextBuilder {
	if !allowedAttributes[name] {
		b.errs = append(b.errs, name)
		return b
	}
	b.ctx.attributes[name] = value
	return b
}

// Build returns the immutable context or a validation error naming every
// rejected attribute.
func (b *ContextBuilder) Build() (*RuleContext, error) {
	if len(b.errs) > 0 {
		return nil, errors.NewValidationError("UNKNOWN_ATTRIBUTE",
			fmt.Sprintf("unknown clinical attributes: %v", b.errs))
	}
	ctx := b.ctx
	return &ctx, nil
}

// Lookup resolves an attribute path for the expression evaluator. Clinical
// attributes resolve by name; a small set of compliance fields is exposed
// under fixed names so rules can branch on the action being taken.
func (c *RuleContext) Lookup(path string) (interface{}, bool) {
	switch path {
	case "actorId":
		return c.Compliance.ActorID, true
	case "patientId":
		return c.Compliance.PatientID, true
	case "accessType":
		return string(c.Compliance.AccessType), true
	case "clinicId":
		return c.ClinicID, true
	case "emergencyOverride":
		return c.Compliance.EmergencyOverride, true
	}

	value, ok := c.attributes[path]
	return value, ok
}

// Attribute reads one clinical attribute directly.
func (c *RuleContext) Attribute(name string) (interface{}, bool) {
	value, ok := c.attributes[name]
	return value, ok
}
