// Package profile defines the provider registry: named upstream providers,
// their optional model-tier mappings, and the active-provider selection.
//
// A *Config handed out by the gateway is a snapshot and must be treated as
// read-only. Callers that want to change it take a Clone first and persist the
// clone with Save; the running gateway picks the change up on reload.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DefaultProviderName is the provider every fresh registry starts with.
const DefaultProviderName = "claude"

// DefaultBaseURL is the upstream used by the default provider.
const DefaultBaseURL = "https://api.anthropic.com"

// ModelMapping maps the three model tiers to provider-specific identifiers.
type ModelMapping struct {
	Haiku  string `json:"haiku"`
	Sonnet string `json:"sonnet"`
	Opus   string `json:"opus"`
}

// Provider is a named upstream HTTP API endpoint.
// A provider without Models is a passthrough provider.
type Provider struct {
	BaseURL   string        `json:"base_url"`
	APIKey    string        `json:"api_key,omitempty"`
	AuthToken string        `json:"auth_token,omitempty"`
	Models    *ModelMapping `json:"models,omitempty"`
}

// HasCredentials reports whether the provider declares its own credentials.
func (p Provider) HasCredentials() bool {
	return p.APIKey != "" || p.AuthToken != ""
}

// IsPassthrough reports whether model identifiers are forwarded unchanged.
func (p Provider) IsPassthrough() bool {
	return p.Models == nil
}

// clone returns a copy that shares no pointers with p.
func (p Provider) clone() Provider {
	if p.Models != nil {
		m := *p.Models
		p.Models = &m
	}
	return p
}

// Config is the registry snapshot: the active provider name plus all providers.
type Config struct {
	Active    string              `json:"active"`
	Providers map[string]Provider `json:"providers"`
}

// Default returns the registry used when no profile file exists yet.
func Default() *Config {
	return &Config{
		Active: DefaultProviderName,
		Providers: map[string]Provider{
			DefaultProviderName: {BaseURL: DefaultBaseURL},
		},
	}
}

// DefaultPath returns ~/.claude/model-profiles.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "model-profiles.json"), nil
}

// Load reads the registry from path. A missing file yields Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes a registry document. source is only used in error messages.
func Parse(data []byte, source string) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", source, err)
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]Provider)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", source, err)
	}
	return &cfg, nil
}

// Validate checks the fields every provider must carry: a base URL and, when
// a mapping is present, all three tiers. A stale Active is not an error.
func (c *Config) Validate() error {
	var errs []error
	for _, name := range c.Names() {
		p := c.Providers[name]
		if p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("provider '%s': base_url is required", name))
		}
		if m := p.Models; m != nil {
			for _, tier := range []struct{ key, value string }{
				{"haiku", m.Haiku}, {"sonnet", m.Sonnet}, {"opus", m.Opus},
			} {
				if tier.value == "" {
					errs = append(errs, fmt.Errorf("provider '%s': models.%s is required", name, tier.key))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// Save writes the registry to path as indented JSON. The file is replaced
// atomically so a concurrent reader never sees a partial document.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".model-profiles-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// ActiveProvider returns a copy of the active provider.
func (c *Config) ActiveProvider() (Provider, error) {
	p, ok := c.Providers[c.Active]
	if !ok {
		return Provider{}, fmt.Errorf("active provider '%s' not found in profiles", c.Active)
	}
	return p.clone(), nil
}

// Provider returns a copy of the named provider.
func (c *Config) Provider(name string) (Provider, error) {
	p, ok := c.Providers[name]
	if !ok {
		return Provider{}, fmt.Errorf("provider '%s' not found in profiles", name)
	}
	return p.clone(), nil
}

// Lookup is the non-erroring form of Provider.
func (c *Config) Lookup(name string) (Provider, bool) {
	p, ok := c.Providers[name]
	if !ok {
		return Provider{}, false
	}
	return p.clone(), true
}

// Has reports whether a provider with this exact name exists.
func (c *Config) Has(name string) bool {
	_, ok := c.Providers[name]
	return ok
}

// Names returns the provider names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the registry.
func (c *Config) Clone() *Config {
	out := &Config{
		Active:    c.Active,
		Providers: make(map[string]Provider, len(c.Providers)),
	}
	for name, p := range c.Providers {
		out.Providers[name] = p.clone()
	}
	return out
}
