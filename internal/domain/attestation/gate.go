package attestation

import (
	"fmt"
	"strings"
	"time"
)

// Reasons an attestation can be required.
const (
	ReasonMissingCriticalFields = "MISSING_CRITICAL_FIELDS"
	ReasonStaleRenalLabs        = "STALE_RENAL_LABS"
)

// DefaultFreshnessThreshold is how old renal labs may be before a clinician
// must attest to them.
const DefaultFreshnessThreshold = 72 * time.Hour

const legalBasis = "CFM Resolution 2.227/2018; RDC 657/2022"

// Field bounds for the critical inputs. A value outside its bound is
// treated the same as a missing value: it cannot be trusted.
const (
	minWeightKg = 30.0
	maxWeightKg = 300.0
	maxAgeYears = 130
	maxCrCl     = 300.0
)

// PatientInput carries the safety-critical fields the gate validates.
// Pointers distinguish absent from zero.
type PatientInput struct {
	CreatinineClearance *float64   `json:"creatinineClearance,omitempty"`
	Weight              *float64   `json:"weight,omitempty"`
	Age                 *int       `json:"age,omitempty"`
	LabTimestamp        *time.Time `json:"labTimestamp,omitempty"`
}

// GateInput is one attestation check request.
type GateInput struct {
	Medication string       `json:"medication,omitempty"`
	Patient    PatientInput `json:"patient"`
}

// GateResult is produced fresh per evaluation and never persisted by the
// gate itself; persisting the outcome is the caller's job.
type GateResult struct {
	Required      bool     `json:"required"`
	Reason        string   `json:"reason,omitempty"`
	MissingFields []string `json:"missingFields,omitempty"`
	StaleSinceHrs float64  `json:"staleSince,omitempty"`
	ThresholdHrs  float64  `json:"threshold,omitempty"`
	Message       string   `json:"message"`
	LegalBasis    string   `json:"legalBasis"`
}

// Gate validates safety-critical clinical inputs. It never blocks by
// itself: it returns a requirement and the calling workflow decides whether
// to halt, prompt for attestation, or proceed under an auditable override.
type Gate struct {
	freshness time.Duration
	now       func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithFreshnessThreshold overrides the renal-lab freshness threshold.
func WithFreshnessThreshold(d time.Duration) Option {
	return func(g *Gate) { g.freshness = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate builds a gate with the default 72-hour freshness threshold.
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		freshness: DefaultFreshnessThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckAttestation validates each critical field and then lab freshness.
// All failing fields are collected, not just the first. Missing-data checks
// take priority over staleness: a clinician cannot attest to data that does
// not exist.
func (g *Gate) CheckAttestation(input GateInput) GateResult {
	missing := g.collectInvalidFields(input.Patient)
	if len(missing) > 0 {
		return GateResult{
			Required:      true,
			Reason:        ReasonMissingCriticalFields,
			MissingFields: missing,
			Message: fmt.Sprintf(
				"Clinician attestation required: critical fields missing or out of range (%s).",
				strings.Join(missing, ", ")),
			LegalBasis: legalBasis,
		}
	}

	age := g.now().Sub(*input.Patient.LabTimestamp)
	if age > g.freshness {
		return GateResult{
			Required:      true,
			Reason:        ReasonStaleRenalLabs,
			StaleSinceHrs: age.Hours(),
			ThresholdHrs:  g.freshness.Hours(),
			Message: fmt.Sprintf(
				"Clinician attestation required: renal labs are %.0f hours old (threshold %.0f hours).",
				age.Hours(), g.freshness.Hours()),
			LegalBasis: legalBasis,
		}
	}

	return GateResult{
		Required:   false,
		Message:    "All critical inputs present and current.",
		LegalBasis: legalBasis,
	}
}

func (g *Gate) collectInvalidFields(p PatientInput) []string {
	var missing []string

	if p.Weight == nil {
		missing = append(missing, "weight")
	} else if *p.Weight < minWeightKg || *p.Weight > maxWeightKg {
		missing = append(missing, fmt.Sprintf("weight (%.1f outside [%.0f, %.0f])", *p.Weight, minWeightKg, maxWeightKg))
	}

	if p.Age == nil {
		missing = append(missing, "age")
	} else if *p.Age <= 0 || *p.Age > maxAgeYears {
		missing = append(missing, fmt.Sprintf("age (%d outside (0, %d])", *p.Age, maxAgeYears))
	}

	if p.CreatinineClearance == nil {
		missing = append(missing, "creatinineClearance")
	} else if *p.CreatinineClearance <= 0 || *p.CreatinineClearance > maxCrCl {
		missing = append(missing, fmt.Sprintf("creatinineClearance (%.1f outside (0, %.0f])", *p.CreatinineClearance, maxCrCl))
	}

	if p.LabTimestamp == nil {
		missing = append(missing, "labTimestamp")
	}

	return missing
}
