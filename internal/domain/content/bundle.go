package content

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Domain is the clinical area a rule record belongs to. Closed enum:
// records carrying any other value are rejected at load time.
type Domain string

const (
	DomainMedicationSafety Domain = "medication-safety"
	DomainRenal            Domain = "renal"
	DomainCardiology       Domain = "cardiology"
	DomainObstetrics       Domain = "obstetrics"
	DomainOncology         Domain = "oncology"
	DomainGeneral          Domain = "general"
)

func (d Domain) Valid() bool {
	switch d {
	case DomainMedicationSafety, DomainRenal, DomainCardiology,
		DomainObstetrics, DomainOncology, DomainGeneral:
		return true
	}
	return false
}

// Severity grades the clinical impact of a rule firing. Closed enum.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityModerate, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Provenance proves the origin and approval chain of a rule record. Every
// field is required; a record with any field missing is unverifiable and
// poisons its whole bundle.
type Provenance struct {
	Source        string `json:"source" validate:"required"`
	Author        string `json:"author" validate:"required"`
	ReviewedBy    string `json:"reviewedBy" validate:"required"`
	ApprovedBy    string `json:"approvedBy" validate:"required"`
	ApprovedAt    string `json:"approvedAt" validate:"required"`
	EvidenceGrade string `json:"evidenceGrade" validate:"required"`
}

// Manifest describes a bundle as a whole.
type Manifest struct {
	BundleVersion string `json:"bundleVersion" validate:"required"`
	GeneratedAt   string `json:"generatedAt" validate:"required"`
	Checksum      string `json:"checksum" validate:"required"`
	RuleCount     int    `json:"ruleCount"`
}

// RuleRecord is one versioned clinical rule inside a bundle.
type RuleRecord struct {
	RuleID      string     `json:"ruleId" validate:"required"`
	Name        string     `json:"name" validate:"required"`
	Domain      Domain     `json:"domain" validate:"required"`
	Severity    Severity   `json:"severity" validate:"required"`
	ContentHash string     `json:"contentHash" validate:"required"`
	Provenance  Provenance `json:"provenance"`
	References  []string   `json:"references,omitempty"`
}

// Bundle is a validated, versioned collection of clinical rule records.
// Invariant: Manifest.RuleCount == len(Rules) and every record passed
// provenance validation. Construct only through LoadBundle.
type Bundle struct {
	Manifest Manifest     `json:"manifest"`
	Rules    []RuleRecord `json:"rules"`
}

// ComputeChecksum derives the bundle checksum from the ordered content
// hashes of its records. The generator and the loader must agree on this.
func ComputeChecksum(rules []RuleRecord) string {
	hashes := make([]string, len(rules))
	for i, r := range rules {
		hashes[i] = r.ContentHash
	}
	sum := sha256.Sum256([]byte(strings.Join(hashes, "\n")))
	return hex.EncodeToString(sum[:])
}

// ValidationError is one problem found while validating a bundle.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// BundleValidationError carries every problem found in one validation pass,
// not just the first. A bundle that produces one is rejected wholesale.
type BundleValidationError struct {
	Errors []ValidationError
}

func (e *BundleValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.String()
	}
	return fmt.Sprintf("content bundle rejected with %d validation error(s): %s",
		len(e.Errors), strings.Join(msgs, "; "))
}
