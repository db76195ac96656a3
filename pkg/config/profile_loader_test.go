package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gevidence-labs/gevidence/core/pkg/config"
	"github.com/gevidence-labs/gevidence/core/pkg/domain"
)

const validProfile = `
schema_version: "1.0.0"
name: dev
treasury: acct:treasury
reward_rate: "1000000000000000000000"
min_goal_wei: "10000000000000000"
min_duration_seconds: 3600
min_stake: "50000000000000000000"
engines:
  crowdfund: system:crowdfund
  offcycle: system:offcycle
  certificate: system:certificate
grants:
  - role: COMPANY
    principal: acct:acme
  - role: VERIFIER
    principal: acct:vera
`

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile_test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadProfile_Valid(t *testing.T) {
	p, err := config.LoadProfile(writeProfile(t, validProfile))
	require.NoError(t, err)

	require.Equal(t, "dev", p.Name)
	require.Equal(t, "acct:treasury", p.Treasury)
	require.Equal(t, "system:crowdfund", p.Engines.Crowdfund)
	require.Len(t, p.Grants, 2)
	require.Equal(t, "COMPANY", p.Grants[0].Role)

	require.Equal(t, domain.MustParseUnits("1000", 18), p.RewardRateWei())
	require.Equal(t, domain.MustParseUnits("0.01", 18), p.MinGoal())
	require.Equal(t, domain.MustParseUnits("50", 18), p.MinStakeWei())
}

func TestLoadProfile_DefaultsWhenOmitted(t *testing.T) {
	p, err := config.LoadProfile(writeProfile(t, `
schema_version: "1.2.3"
name: minimal
treasury: acct:treasury
engines:
  crowdfund: system:crowdfund
  offcycle: system:offcycle
  certificate: system:certificate
`))
	require.NoError(t, err)
	require.Equal(t, domain.MustParseUnits("1000", 18), p.RewardRateWei())
	require.Zero(t, p.MinGoal().Sign())
	require.Equal(t, domain.MustParseUnits("50", 18), p.MinStakeWei())
}

func TestLoadProfile_RejectsMissingEngines(t *testing.T) {
	_, err := config.LoadProfile(writeProfile(t, `
schema_version: "1.0.0"
name: broken
treasury: acct:treasury
`))
	require.Error(t, err)
}

func TestLoadProfile_RejectsBadRole(t *testing.T) {
	_, err := config.LoadProfile(writeProfile(t, `
schema_version: "1.0.0"
name: broken
treasury: acct:treasury
engines:
  crowdfund: a
  offcycle: b
  certificate: c
grants:
  - role: SUPERUSER
    principal: acct:evil
`))
	require.Error(t, err)
}

func TestLoadProfile_RejectsFutureSchema(t *testing.T) {
	_, err := config.LoadProfile(writeProfile(t, `
schema_version: "2.0.0"
name: future
treasury: acct:treasury
engines:
  crowdfund: a
  offcycle: b
  certificate: c
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "schema_version")
}

func TestLoadProfile_MissingFile(t *testing.T) {
	_, err := config.LoadProfile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
