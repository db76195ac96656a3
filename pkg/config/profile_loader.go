package config

import (
	"fmt"
	"math/big"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/gevidence-labs/gevidence/core/pkg/domain"
)

// profileSchema constrains the wiring profile shape before it is decoded.
const profileSchema = `{
  "type": "object",
  "required": ["schema_version", "name", "treasury", "engines"],
  "properties": {
    "schema_version": {"type": "string"},
    "name": {"type": "string", "minLength": 1},
    "treasury": {"type": "string", "minLength": 1},
    "reward_rate": {"type": "string", "pattern": "^[0-9]+$"},
    "min_goal_wei": {"type": "string", "pattern": "^[0-9]+$"},
    "min_duration_seconds": {"type": "integer", "minimum": 0},
    "min_stake": {"type": "string", "pattern": "^[0-9]+$"},
    "engines": {
      "type": "object",
      "required": ["crowdfund", "offcycle", "certificate"],
      "properties": {
        "crowdfund": {"type": "string", "minLength": 1},
        "offcycle": {"type": "string", "minLength": 1},
        "certificate": {"type": "string", "minLength": 1}
      }
    },
    "grants": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["role", "principal"],
        "properties": {
          "role": {"enum": ["ADMIN", "COMPANY", "VERIFIER", "IOT_OPERATOR"]},
          "principal": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

// currentSchema is the profile schema line this build understands.
const currentSchema = "1.x"

// Grant is one role assignment applied at bootstrap.
type Grant struct {
	Role      string `yaml:"role" json:"role"`
	Principal string `yaml:"principal" json:"principal"`
}

// Engines names the system principals each engine acts under.
type Engines struct {
	Crowdfund   string `yaml:"crowdfund" json:"crowdfund"`
	OffCycle    string `yaml:"offcycle" json:"offcycle"`
	Certificate string `yaml:"certificate" json:"certificate"`
}

// WiringProfile is the deployment wiring: engine principals, economic
// parameters and initial role grants.
type WiringProfile struct {
	SchemaVersion      string  `yaml:"schema_version" json:"schema_version"`
	Name               string  `yaml:"name" json:"name"`
	Treasury           string  `yaml:"treasury" json:"treasury"`
	RewardRate         string  `yaml:"reward_rate" json:"reward_rate"`
	MinGoalWei         string  `yaml:"min_goal_wei" json:"min_goal_wei"`
	MinDurationSeconds int64   `yaml:"min_duration_seconds" json:"min_duration_seconds"`
	MinStake           string  `yaml:"min_stake" json:"min_stake"`
	Engines            Engines `yaml:"engines" json:"engines"`
	Grants             []Grant `yaml:"grants" json:"grants"`
}

// LoadProfile reads, schema-validates and decodes a wiring profile.
func LoadProfile(path string) (*WiringProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}

	schema, err := jsonschema.CompileString("wiring_profile.json", profileSchema)
	if err != nil {
		return nil, fmt.Errorf("compile profile schema: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("validate profile %s: %w", path, err)
	}

	var profile WiringProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", path, err)
	}

	if err := checkSchemaVersion(profile.SchemaVersion); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return &profile, nil
}

// checkSchemaVersion rejects profiles written for a different major line.
func checkSchemaVersion(v string) error {
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("invalid schema_version %q: %w", v, err)
	}
	constraint, err := semver.NewConstraint(currentSchema)
	if err != nil {
		return fmt.Errorf("invalid schema constraint: %w", err)
	}
	if !constraint.Check(ver) {
		return fmt.Errorf("schema_version %s outside supported range %s", v, currentSchema)
	}
	return nil
}

// RewardRateWei returns the reward rate, defaulting to 1000 tokens per ETH.
func (p *WiringProfile) RewardRateWei() *big.Int {
	return weiOrDefault(p.RewardRate, domain.MustParseUnits("1000", 18))
}

// MinGoal returns the campaign goal floor, defaulting to zero.
func (p *WiringProfile) MinGoal() *big.Int {
	return weiOrDefault(p.MinGoalWei, new(big.Int))
}

// MinStakeWei returns the off-cycle stake, defaulting to 50 GEVR.
func (p *WiringProfile) MinStakeWei() *big.Int {
	return weiOrDefault(p.MinStake, domain.MustParseUnits("50", 18))
}

func weiOrDefault(s string, def *big.Int) *big.Int {
	if s == "" {
		return def
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return def
	}
	return v
}
