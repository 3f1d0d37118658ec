package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentis-labs/paygate/pkg/policy"
)

const researchProfile = `
name: research
principals:
  - id: agent-1
    allowlist:
      - api.example.com
      - data.example.org
    policy:
      currency: USD
      per_transaction_limit: 500
      periodic_limits:
        DAY: 1000
      timezone: America/New_York
      require_approval_above: 400
fallbacks:
  - url: https://mirror.example.net/v1/data
    floor_minor: 50
methods:
  - x402-exact
budget_ceiling_minor: 2000
budget_currency: USD
`

func writeProfile(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, "profile_"+name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "research", researchProfile)

	p, err := LoadProfile(dir, "Research")
	require.NoError(t, err)

	assert.Equal(t, "research", p.Name)
	assert.Equal(t, int64(2000), p.BudgetCeilingMinor)
	require.Len(t, p.Fallbacks, 1)
	assert.Equal(t, int64(50), p.Fallbacks[0].FloorMinor)

	pr, ok := p.Principal("agent-1")
	require.True(t, ok)
	assert.Equal(t, int64(500), pr.Policy.PerTransactionLimit)
	assert.Equal(t, int64(1000), pr.Policy.PeriodicLimits[policy.WindowDay])
	assert.Contains(t, pr.Allowlist, "api.example.com")
}

func TestLoadProfileMissing(t *testing.T) {
	_, err := LoadProfile(t.TempDir(), "nope")
	assert.Error(t, err)
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "research", researchProfile)
	writeProfile(t, dir, "ops", "principals: []\n")

	profiles, err := LoadAllProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	// Name falls back to the filename when the document omits it.
	assert.Equal(t, "ops", profiles["ops"].Name)
	assert.Equal(t, "research", profiles["research"].Name)
}

func TestPrincipalLookupMiss(t *testing.T) {
	p := &Profile{}
	_, ok := p.Principal("ghost")
	assert.False(t, ok)
}
