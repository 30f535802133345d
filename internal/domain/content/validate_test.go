package content_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinical-governance-backend/internal/domain/content"
)

func validProvenance() content.Provenance {
	return content.Provenance{
		Source:        "renal-dosing-handbook-v4",
		Author:        "dr.lima",
		ReviewedBy:    "dr.carvalho",
		ApprovedBy:    "clinical-board",
		ApprovedAt:    "2026-05-10T09:00:00Z",
		EvidenceGrade: "A",
	}
}

func validRecord(id string) content.RuleRecord {
	return content.RuleRecord{
		RuleID:      id,
		Name:        "Renal dose adjustment for " + id,
		Domain:      content.DomainRenal,
		Severity:    content.SeverityHigh,
		ContentHash: "hash-" + id,
		Provenance:  validProvenance(),
	}
}

func validBundle(t *testing.T, rules ...content.RuleRecord) []byte {
	t.Helper()
	bundle := content.Bundle{
		Manifest: content.Manifest{
			BundleVersion: "2026.08.1",
			GeneratedAt:   "2026-08-01T12:00:00Z",
			Checksum:      content.ComputeChecksum(rules),
			RuleCount:     len(rules),
		},
		Rules: rules,
	}
	raw, err := json.Marshal(bundle)
	require.NoError(t, err)
	return raw
}

func TestValidateBundleAcceptsValidBundle(t *testing.T) {
	raw := validBundle(t, validRecord("CR-001"), validRecord("CR-002"))
	assert.Empty(t, content.ValidateBundle(raw))
}

func TestValidateBundleRuleCountMismatch(t *testing.T) {
	rules := []content.RuleRecord{validRecord("CR-001"), validRecord("CR-002")}
	bundle := content.Bundle{
		Manifest: content.Manifest{
			BundleVersion: "2026.08.1",
			GeneratedAt:   "2026-08-01T12:00:00Z",
			Checksum:      content.ComputeChecksum(rules),
			RuleCount:     3,
		},
		Rules: rules,
	}
	raw, err := json.Marshal(bundle)
	require.NoError(t, err)

	errs := content.ValidateBundle(raw)
	require.NotEmpty(t, errs)

	found := false
	for _, ve := range errs {
		if ve.Field == "manifest.ruleCount" {
			found = true
		}
	}
	assert.True(t, found, "expected an error referencing manifest.ruleCount, got %v", errs)
}

func TestValidateBundleCollectsAllErrors(t *testing.T) {
	bad := validRecord("CR-002")
	bad.Severity = "catastrophic"
	bad.Provenance.ApprovedBy = ""

	rules := []content.RuleRecord{validRecord("CR-001"), bad}
	bundle := content.Bundle{
		Manifest: content.Manifest{
			BundleVersion: "2026.08.1",
			GeneratedAt:   "not-a-timestamp",
			Checksum:      content.ComputeChecksum(rules),
			RuleCount:     2,
		},
		Rules: rules,
	}
	raw, err := json.Marshal(bundle)
	require.NoError(t, err)

	errs := content.ValidateBundle(raw)

	fields := make(map[string]bool)
	for _, ve := range errs {
		fields[ve.Field] = true
	}
	assert.True(t, fields["manifest.generatedAt"])
	assert.True(t, fields["rules[1].severity"])
	assert.True(t, fields["rules[1].provenance.approvedBy"])
}

func TestLoadBundleRejectsMissingProvenanceWholesale(t *testing.T) {
	provenanceFields := []func(*content.Provenance){
		func(p *content.Provenance) { p.Source = "" },
		func(p *content.Provenance) { p.Author = "" },
		func(p *content.Provenance) { p.ReviewedBy = "" },
		func(p *content.Provenance) { p.ApprovedBy = "" },
		func(p *content.Provenance) { p.ApprovedAt = "" },
		func(p *content.Provenance) { p.EvidenceGrade = "" },
	}

	for i, clear := range provenanceFields {
		good := validRecord("CR-001")
		bad := validRecord("CR-002")
		clear(&bad.Provenance)

		raw := validBundle(t, good, bad)
		bundle, err := content.LoadBundle(raw)

		require.Error(t, err, "provenance field %d", i)
		assert.Nil(t, bundle, "no partial load: field %d", i)

		var verr *content.BundleValidationError
		require.ErrorAs(t, err, &verr)
		assert.NotEmpty(t, verr.Errors)
	}
}

func TestLoadBundleRejectsChecksumMismatch(t *testing.T) {
	rules := []content.RuleRecord{validRecord("CR-001")}
	bundle := content.Bundle{
		Manifest: content.Manifest{
			BundleVersion: "2026.08.1",
			GeneratedAt:   "2026-08-01T12:00:00Z",
			Checksum:      "deadbeef",
			RuleCount:     1,
		},
		Rules: rules,
	}
	raw, err := json.Marshal(bundle)
	require.NoError(t, err)

	_, loadErr := content.LoadBundle(raw)
	require.Error(t, loadErr)
	assert.Contains(t, loadErr.Error(), "checksum")
}

func TestValidateBundleRejectsUnknownFields(t *testing.T) {
	raw := []byte(`{"manifest":{"bundleVersion":"1","generatedAt":"2026-08-01T12:00:00Z","checksum":"x","ruleCount":0},"rules":[],"extra":true}`)
	errs := content.ValidateBundle(raw)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "malformed JSON")
}

func TestLoadBundleValid(t *testing.T) {
	raw := validBundle(t, validRecord("CR-001"), validRecord("CR-002"), validRecord("CR-003"))
	bundle, err := content.LoadBundle(raw)
	require.NoError(t, err)
	require.NotNil(t, bundle)
	assert.Equal(t, 3, bundle.Manifest.RuleCount)
	assert.Len(t, bundle.Rules, 3)
}
