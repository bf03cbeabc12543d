package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/getvergo/autoflow/pkg/boundary"
)

// PolicyProfile is a named destination policy: the sanctioned base
// domain plus its allowlist and SSO providers.
type PolicyProfile struct {
	Name           string   `yaml:"name" json:"name"`
	BaseDomain     string   `yaml:"base_domain" json:"base_domain"`
	AllowedDomains []string `yaml:"allowed_domains,omitempty" json:"allowed_domains,omitempty"`
	SSOProviders   []string `yaml:"sso_providers,omitempty" json:"sso_providers,omitempty"`
}

// Policy converts the profile into a guard policy.
func (p *PolicyProfile) Policy() boundary.Policy {
	return boundary.Policy{
		BaseDomain:          p.BaseDomain,
		AllowedDomains:      append([]string(nil), p.AllowedDomains...),
		SSOProviderPatterns: append([]string(nil), p.SSOProviders...),
	}
}

// LoadProfile loads a destination-policy profile YAML by name. It
// searches the profiles directory for profile_<name>.yaml.
func LoadProfile(profilesDir, name string) (*PolicyProfile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile PolicyProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if profile.BaseDomain == "" {
		return nil, fmt.Errorf("profile %q has no base_domain", name)
	}
	if profile.Name == "" {
		profile.Name = name
	}
	return &profile, nil
}

// ListProfiles returns the profile names available in the directory.
func ListProfiles(profilesDir string) ([]string, error) {
	entries, err := os.ReadDir(profilesDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		base := e.Name()
		if after, ok := strings.CutPrefix(base, "profile_"); ok && strings.HasSuffix(after, ".yaml") {
			names = append(names, strings.TrimSuffix(after, ".yaml"))
		}
	}
	return names, nil
}
