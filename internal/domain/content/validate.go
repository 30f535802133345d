package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidateBundle checks a raw JSON bundle exhaustively in one pass and
// returns every problem found. An empty slice means the bundle is valid.
//
// A partially trustworthy bundle is worse than no bundle: downstream
// consumers would treat unverifiable rules as verified. So any error here
// rejects the bundle in its entirety.
func ValidateBundle(raw []byte) []ValidationError {
	var errs []ValidationError

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var bundle Bundle
	if err := dec.Decode(&bundle); err != nil {
		return []ValidationError{{Field: "bundle", Message: fmt.Sprintf("malformed JSON: %v", err)}}
	}

	errs = append(errs, validateManifest(bundle.Manifest, len(bundle.Rules))...)

	for i, rule := range bundle.Rules {
		errs = append(errs, validateRuleRecord(i, rule)...)
	}

	if bundle.Manifest.Checksum != "" && len(bundle.Rules) > 0 {
		if computed := ComputeChecksum(bundle.Rules); computed != bundle.Manifest.Checksum {
			errs = append(errs, ValidationError{
				Field:   "manifest.checksum",
				Message: fmt.Sprintf("checksum mismatch: manifest declares %s, content hashes to %s", bundle.Manifest.Checksum, computed),
			})
		}
	}

	return errs
}

func validateManifest(m Manifest, ruleCount int) []ValidationError {
	var errs []ValidationError

	if err := structValidator.Struct(m); err != nil {
		for _, fe := range err.(validator.ValidationErrors) {
			errs = append(errs, ValidationError{
				Field:   "manifest." + jsonField(fe.Field()),
				Message: "required field is missing or empty",
			})
		}
	}

	if m.GeneratedAt != "" {
		if _, err := time.Parse(time.RFC3339, m.GeneratedAt); err != nil {
			errs = append(errs, ValidationError{
				Field:   "manifest.generatedAt",
				Message: fmt.Sprintf("not a valid ISO-8601 timestamp: %q", m.GeneratedAt),
			})
		}
	}

	if m.RuleCount != ruleCount {
		errs = append(errs, ValidationError{
			Field:   "manifest.ruleCount",
			Message: fmt.Sprintf("manifest declares %d rules but bundle contains %d", m.RuleCount, ruleCount),
		})
	}

	return errs
}

func validateRuleRecord(index int, rule RuleRecord) []ValidationError {
	var errs []ValidationError
	prefix := fmt.Sprintf("rules[%d]", index)

	if err := structValidator.Struct(rule); err != nil {
		for _, fe := range err.(validator.ValidationErrors) {
			field := jsonField(fe.Field())
			if fe.StructNamespace() != "" && containsProvenance(fe.StructNamespace()) {
				field = "provenance." + field
			}
			errs = append(errs, ValidationError{
				Field:   prefix + "." + field,
				Message: "required field is missing or empty",
			})
		}
	}

	if rule.Domain != "" && !rule.Domain.Valid() {
		errs = append(errs, ValidationError{
			Field:   prefix + ".domain",
			Message: fmt.Sprintf("unknown domain %q", rule.Domain),
		})
	}

	if rule.Severity != "" && !rule.Severity.Valid() {
		errs = append(errs, ValidationError{
			Field:   prefix + ".severity",
			Message: fmt.Sprintf("unknown severity %q", rule.Severity),
		})
	}

	return errs
}

// LoadBundle validates and decodes a raw bundle. On any validation failure
// it returns a *BundleValidationError carrying all collected errors; no
// rule from a failed bundle is ever returned.
func LoadBundle(raw []byte) (*Bundle, error) {
	if errs := ValidateBundle(raw); len(errs) > 0 {
		return nil, &BundleValidationError{Errors: errs}
	}

	var bundle Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, &BundleValidationError{Errors: []ValidationError{
			{Field: "bundle", Message: err.Error()},
		}}
	}
	return &bundle, nil
}

func containsProvenance(namespace string) bool {
	return strings.Contains(namespace, "Provenance")
}

// jsonField maps Go struct field names to their wire names.
func jsonField(name string) string {
	switch name {
	case "BundleVersion":
		return "bundleVersion"
	case "GeneratedAt":
		return "generatedAt"
	case "Checksum":
		return "checksum"
	case "RuleCount":
		return "ruleCount"
	case "RuleID":
		return "ruleId"
	case "Name":
		return "name"
	case "Domain":
		return "domain"
	case "Severity":
		return "severity"
	case "ContentHash":
		return "contentHash"
	case "Source":
		return "source"
	case "Author":
		return "author"
	case "ReviewedBy":
		return "reviewedBy"
	case "ApprovedBy":
		return "approvedBy"
	case "ApprovedAt":
		return "approvedAt"
	case "EvidenceGrade":
		return "evidenceGrade"
	}
	return name
}
