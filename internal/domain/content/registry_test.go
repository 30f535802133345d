package content_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinical-governance-backend/internal/domain/content"
)

func TestRegistryIndexAndQuery(t *testing.T) {
	renal := validRecord("CR-RENAL-01")
	renal.Domain = content.DomainRenal
	cardio := validRecord("CR-CARD-01")
	cardio.Domain = content.DomainCardiology
	cardio2 := validRecord("CR-CARD-00")
	cardio2.Domain = content.DomainCardiology

	raw := validBundle(t, renal, cardio, cardio2)
	bundle, err := content.LoadBundle(raw)
	require.NoError(t, err)

	registry := content.NewRegistry()
	assert.False(t, registry.Loaded())

	registry.Index(bundle)

	assert.True(t, registry.Loaded())
	assert.Equal(t, 3, registry.Count())
	assert.Equal(t, bundle.Manifest, registry.Manifest())

	got, ok := registry.GetRule("CR-RENAL-01")
	require.True(t, ok)
	assert.Equal(t, content.DomainRenal, got.Domain)

	_, ok = registry.GetRule("CR-MISSING")
	assert.False(t, ok)

	cardioRules := registry.RulesForDomain(content.DomainCardiology)
	require.Len(t, cardioRules, 2)
	assert.Equal(t, "CR-CARD-00", cardioRules[0].RuleID)
	assert.Equal(t, "CR-CARD-01", cardioRules[1].RuleID)

	assert.Empty(t, registry.RulesForDomain(content.DomainOncology))
}

func TestRegistryIndexReplacesPreviousBundle(t *testing.T) {
	registry := content.NewRegistry()

	first, err := content.LoadBundle(validBundle(t, validRecord("CR-001"), validRecord("CR-002")))
	require.NoError(t, err)
	registry.Index(first)
	require.Equal(t, 2, registry.Count())

	second, err := content.LoadBundle(validBundle(t, validRecord("CR-100")))
	require.NoError(t, err)
	registry.Index(second)

	assert.Equal(t, 1, registry.Count())
	_, ok := registry.GetRule("CR-001")
	assert.False(t, ok, "old bundle contents must be gone after reindex")
}
