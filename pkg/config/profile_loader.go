package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agentis-labs/paygate/pkg/policy"
	"github.com/agentis-labs/paygate/pkg/retry"
)

// Profile is a named deployment profile binding principals to their
// spending policies and the fallback chain for a class of resources.
type Profile struct {
	Name       string             `yaml:"name" json:"name"`
	Principals []policy.Principal `yaml:"principals" json:"principals"`

	// Fallbacks are substitute targets tried in order, cheapest first.
	Fallbacks []retry.Target `yaml:"fallbacks" json:"fallbacks"`

	// Methods the configured signer supports, in no particular order.
	Methods []string `yaml:"methods" json:"methods"`

	// BudgetCeilingMinor bounds cumulative spend per logical request, in
	// minor units of BudgetCurrency. Zero means unbounded.
	BudgetCeilingMinor int64  `yaml:"budget_ceiling_minor" json:"budget_ceiling_minor"`
	BudgetCurrency     string `yaml:"budget_currency" json:"budget_currency"`
}

// LoadProfile loads a profile YAML by name. It reads
// <profilesDir>/profile_<name>.yaml.
func LoadProfile(profilesDir, name string) (*Profile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load profile %q: %w", name, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("config: parse profile %q: %w", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}
	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in the profiles directory,
// keyed by profile name.
func LoadAllProfiles(profilesDir string) (map[string]*Profile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*Profile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}

		var profile Profile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if profile.Name == "" {
			base := filepath.Base(path)
			profile.Name = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Name] = &profile
	}
	return profiles, nil
}

// Principal looks up a principal by ID in the profile.
func (p *Profile) Principal(id string) (*policy.Principal, bool) {
	for i := range p.Principals {
		if p.Principals[i].ID == id {
			return &p.Principals[i], true
		}
	}
	return nil, false
}
