package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tjfontaine/model-switch-gateway/internal/profile"
)

// BaseURLEnv is the Claude settings variable pointing the client at the gateway.
const BaseURLEnv = "ANTHROPIC_BASE_URL"

// DefaultSettingsPath returns ~/.claude/settings.json.
func DefaultSettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "settings.json"), nil
}

// GatewayURL is the base URL clients use to reach a local gateway. The client
// appends /v1/... itself.
func GatewayURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

// Init points the Claude client at the gateway by setting env.ANTHROPIC_BASE_URL
// in settingsPath, then seeds the built-in providers into the profile file.
// Existing providers and the active selection are kept.
func (r *Runner) Init(settingsPath string, port int) error {
	baseURL := GatewayURL(port)
	if err := setSettingsEnv(settingsPath, BaseURLEnv, baseURL); err != nil {
		return err
	}

	cfg, err := r.load()
	if err != nil {
		return err
	}
	added := 0
	for name, p := range profile.BuiltinProviders() {
		if cfg.Has(name) {
			continue
		}
		cfg.Providers[name] = p
		added++
	}
	if !cfg.Has(cfg.Active) {
		cfg.Active = profile.DefaultProviderName
	}
	if err := cfg.Save(r.ProfilePath); err != nil {
		return err
	}

	r.printf("Initialized %s!\n", Binary)
	r.printf("  - Set %s=%s in %s\n", BaseURLEnv, baseURL, settingsPath)
	r.printf("  - Added %d built-in providers to %s\n", added, r.ProfilePath)
	r.printf("\nNext steps:\n")
	r.printf("  1. %s setup <provider> --api-key <key>\n", Binary)
	r.printf("  2. %s start\n", Binary)
	r.printf("  3. %s use <provider>\n", Binary)
	return nil
}

// setSettingsEnv sets env.<key> in the JSON settings file, keeping every other
// field as written. key must not contain gjson path characters.
func setSettingsEnv(path, key, value string) error {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		data = []byte("{}")
	case err != nil:
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	if !gjson.ValidBytes(data) {
		return fmt.Errorf("failed to parse %s: invalid JSON", path)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return fmt.Errorf("%s is not an object", filepath.Base(path))
	}
	if env := root.Get("env"); env.Exists() && !env.IsObject() {
		return errors.New("env is not an object")
	}

	out, err := sjson.SetBytes(data, "env."+key, value)
	if err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	out = []byte(gjson.GetBytes(out, "@pretty").Raw)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}
