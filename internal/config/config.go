// Package config loads the route policy file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/wolfeidau/famblog/internal/authz"
	"github.com/wolfeidau/famblog/internal/gate"
	"github.com/wolfeidau/famblog/internal/models"
	"gopkg.in/yaml.v3"
)

// File is the YAML policy file.
//
// Paths that no rule matches require DefaultPrivilege, which is "none"
// (public) when the key is absent.
type File struct {
	Rules               []authz.RouteRule `yaml:"rules"`
	DefaultPrivilege    authz.Privilege   `yaml:"default_privilege"`
	SuperAdminFamilyIDs []string          `yaml:"super_admin_family_ids"`

	LoginPath    string `yaml:"login_path"`
	FallbackPath string `yaml:"fallback_path"`
	HomePath     string `yaml:"home_path"`

	// Profiles seed the in-memory profile store.
	Profiles []ProfileSeed `yaml:"profiles"`
}

// ProfileSeed is one profile row in the policy file.
type ProfileSeed struct {
	ID       string `yaml:"id"`
	Role     string `yaml:"role"`
	FamilyID string `yaml:"family_id"`
	Name     string `yaml:"name"`
}

// Load reads and validates the policy file at path.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a policy file. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg File
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.LoginPath == "" {
		cfg.LoginPath = gate.DefaultLoginPath
	}
	if cfg.FallbackPath == "" {
		cfg.FallbackPath = gate.DefaultFallbackPath
	}
	if cfg.HomePath == "" {
		cfg.HomePath = gate.DefaultHomePath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the policy builds and the seed profiles are usable.
func (c *File) Validate() error {
	if _, err := c.Policy(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	seen := make(map[uuid.UUID]struct{}, len(c.Profiles))
	for i, seed := range c.Profiles {
		p, err := seed.Profile()
		if err != nil {
			return fmt.Errorf("profiles[%d]: %w", i, err)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("profiles[%d]: duplicate id %s", i, p.ID)
		}
		seen[p.ID] = struct{}{}
	}

	return nil
}

// Policy builds the authorization policy described by the file.
func (c *File) Policy() (*authz.Policy, error) {
	return authz.NewPolicy(authz.Config{
		Rules:               c.Rules,
		DefaultPrivilege:    c.DefaultPrivilege,
		SuperAdminFamilyIDs: c.SuperAdminFamilyIDs,
	})
}

// Gate returns the gate redirect configuration.
func (c *File) Gate() gate.Config {
	return gate.Config{
		LoginPath:    c.LoginPath,
		FallbackPath: c.FallbackPath,
		HomePath:     c.HomePath,
	}
}

// SeedProfiles returns the validated seed profiles.
func (c *File) SeedProfiles() ([]*models.Profile, error) {
	profiles := make([]*models.Profile, 0, len(c.Profiles))
	for i, seed := range c.Profiles {
		p, err := seed.Profile()
		if err != nil {
			return nil, fmt.Errorf("profiles[%d]: %w", i, err)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Profile converts the seed into a validated profile.
func (s ProfileSeed) Profile() (*models.Profile, error) {
	id, err := uuid.Parse(s.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid id %q: %w", s.ID, err)
	}

	p := &models.Profile{ID: id, Role: s.Role, FamilyID: s.FamilyID, Name: s.Name}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
