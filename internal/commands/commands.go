// Package commands implements the model-switch CLI subcommands. Every command
// loads the profile file, works on a private copy and saves it back; a
// running gateway is told to reload through the daemon package.
package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tjfontaine/model-switch-gateway/internal/daemon"
	"github.com/tjfontaine/model-switch-gateway/internal/profile"
)

// Binary is the executable name used in user-facing hints.
const Binary = "model-switch"

// Runner executes CLI commands against one profile file.
type Runner struct {
	ProfilePath string
	Daemon      *daemon.Daemon
	Out         io.Writer
}

// New returns a Runner writing to out.
func New(profilePath string, d *daemon.Daemon, out io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	return &Runner{ProfilePath: profilePath, Daemon: d, Out: out}
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.Out, format, args...)
}

func (r *Runner) load() (*profile.Config, error) {
	cfg, err := profile.Load(r.ProfilePath)
	if err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

// List prints every provider with its base URL and tier mapping.
func (r *Runner) List() error {
	cfg, err := r.load()
	if err != nil {
		return err
	}
	r.printf("Available providers:\n")
	for _, name := range cfg.Names() {
		p := cfg.Providers[name]
		marker := ""
		if name == cfg.Active {
			marker = " (active)"
		}
		models := "(passthrough)"
		if m := p.Models; m != nil {
			models = fmt.Sprintf("%s / %s / %s", m.Haiku, m.Sonnet, m.Opus)
		}
		r.printf("  %s%s - %s [%s]\n", name, marker, p.BaseURL, models)
	}
	return nil
}

// Status prints the active provider and whether the gateway is running.
func (r *Runner) Status() error {
	cfg, err := r.load()
	if err != nil {
		return err
	}
	p, err := cfg.ActiveProvider()
	if err != nil {
		return err
	}
	r.printf("Active provider: %s\n", cfg.Active)
	r.printf("Base URL: %s\n", p.BaseURL)
	if m := p.Models; m != nil {
		r.printf("Haiku  -> %s\n", m.Haiku)
		r.printf("Sonnet -> %s\n", m.Sonnet)
		r.printf("Opus   -> %s\n", m.Opus)
	} else {
		r.printf("Models: passthrough (no rewriting)\n")
	}

	pid, running, err := r.Daemon.IsRunning()
	switch {
	case err != nil:
		r.printf("Proxy: unknown (%v)\n", err)
	case running:
		r.printf("Proxy: running (PID %d)\n", pid)
	case pid != 0:
		r.printf("Proxy: not running (stale PID file for %d)\n", pid)
	default:
		r.printf("Proxy: not running\n")
	}
	return nil
}

// Use makes name the active provider and asks the gateway to reload.
func (r *Runner) Use(name string) error {
	cfg, err := r.load()
	if err != nil {
		return err
	}
	if !cfg.Has(name) {
		return fmt.Errorf("Unknown provider '%s'. Run '%s list' to see available providers.\n"+
			"To add a new provider: %s add %s <base-url> <api-key>\n"+
			"Or for built-in presets: %s add %s <api-key>",
			name, Binary, Binary, name, Binary, name)
	}
	cfg.Active = name
	if err := cfg.Save(r.ProfilePath); err != nil {
		return err
	}
	r.printf("Switched to: %s\n", name)
	r.notify()
	return nil
}

func (r *Runner) notify() {
	notified, err := r.Daemon.NotifyReload()
	switch {
	case err != nil:
		r.printf("Note: could not notify proxy (%v). Restart it to apply the change.\n", err)
	case notified:
		r.printf("Proxy notified to reload configuration.\n")
	default:
		r.printf("Note: Proxy is not running. Start it with: %s start\n", Binary)
	}
}

// Setup stores credentials for an existing provider.
func (r *Runner) Setup(name, apiKey, authToken string) error {
	if apiKey == "" && authToken == "" {
		return errors.New("Provide --api-key or --auth-token")
	}
	cfg, err := r.load()
	if err != nil {
		return err
	}
	p, ok := cfg.Lookup(name)
	if !ok {
		return fmt.Errorf("Unknown provider '%s'. Add it first with: %s add %s <base-url> <api-key>\n"+
			"Or for built-in presets: %s add %s <api-key>",
			name, Binary, name, Binary, name)
	}
	if apiKey != "" {
		p.APIKey = apiKey
	}
	if authToken != "" {
		p.AuthToken = authToken
	}
	cfg.Providers[name] = p
	if err := cfg.Save(r.ProfilePath); err != nil {
		return err
	}
	r.printf("Credentials saved for '%s'.\n", name)
	r.reloadIfRunning()
	return nil
}

// reloadIfRunning signals a running gateway and stays silent otherwise.
func (r *Runner) reloadIfRunning() {
	if notified, err := r.Daemon.NotifyReload(); err == nil && notified {
		r.printf("Proxy notified to reload configuration.\n")
	}
}

// AddOptions carries the arguments of `add`. Input1 and Input2 are the
// positional values after the name.
type AddOptions struct {
	Name      string
	Input1    string
	Input2    string
	BaseURL   string
	Haiku     string
	Sonnet    string
	Opus      string
	APIKey    string
	AuthToken string
}

// Add creates or updates a provider.
func (r *Runner) Add(opts AddOptions) error {
	name := opts.Name

	var posBaseURL, posCredential string
	switch {
	case opts.Input1 != "" && opts.Input2 != "":
		posBaseURL, posCredential = opts.Input1, opts.Input2
	case opts.Input1 != "":
		if strings.HasPrefix(opts.Input1, "http://") || strings.HasPrefix(opts.Input1, "https://") {
			posBaseURL = opts.Input1
		} else {
			posCredential = opts.Input1
		}
	}

	if posBaseURL != "" && opts.BaseURL != "" {
		return errors.New("Provide base URL either positionally (`add <name> <base-url> <api-key>`) or with --base-url, not both")
	}

	apiKey, authToken := opts.APIKey, opts.AuthToken
	if posCredential != "" {
		if apiKey != "" || authToken != "" {
			return errors.New("Use either positional credential (`add <name> [<base-url>] <credential>`) or --api-key/--auth-token flags, not both")
		}
		var err error
		apiKey, authToken, err = profile.ParseCredential(posCredential)
		if err != nil {
			return err
		}
	}

	cfg, err := r.load()
	if err != nil {
		return err
	}
	existing, existed := cfg.Lookup(name)

	var reusedBaseURL bool
	var preset *profile.Preset
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = posBaseURL
	}
	if baseURL == "" {
		if existed {
			baseURL = existing.BaseURL
			reusedBaseURL = true
		} else if p, ok := profile.LookupPreset(name); ok {
			baseURL = p.BaseURL
			preset = &p
		} else {
			return fmt.Errorf("Missing base URL for provider '%s'. Use: %s add %s <base-url> <api-key>\n"+
				"Or for built-in presets: %s add %s <api-key>",
				name, Binary, name, Binary, name)
		}
	}

	var models *profile.ModelMapping
	switch {
	case opts.Haiku == "" && opts.Sonnet == "" && opts.Opus == "":
		if existed {
			models = existing.Models
		}
	case opts.Haiku != "" && opts.Sonnet != "" && opts.Opus != "":
		models = &profile.ModelMapping{Haiku: opts.Haiku, Sonnet: opts.Sonnet, Opus: opts.Opus}
	default:
		return errors.New("If you provide model mappings, pass all three flags: --haiku <model> --sonnet <model> --opus <model>")
	}

	if apiKey == "" && existed {
		apiKey = existing.APIKey
	}
	if authToken == "" && existed {
		authToken = existing.AuthToken
	}

	p := profile.Provider{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		AuthToken: authToken,
		Models:    models,
	}
	cfg.Providers[name] = p
	if err := cfg.Save(r.ProfilePath); err != nil {
		return err
	}

	if existed {
		r.printf("Updated provider '%s'.\n", name)
	} else {
		r.printf("Added provider '%s'.\n", name)
	}
	if reusedBaseURL {
		r.printf("Base URL reused from existing provider: %s\n", baseURL)
	} else if preset != nil {
		r.printf("Base URL preset applied: %s -> %s\n", preset.Name, preset.BaseURL)
	}
	if models != nil {
		r.printf("Model rewriting: enabled for Claude tiers (haiku/sonnet/opus).\n")
	} else {
		r.printf("Model rewriting: passthrough (all model IDs forwarded as-is).\n")
	}
	if p.HasCredentials() {
		r.printf("Credentials saved for '%s'.\n", name)
	} else {
		r.printf("Now run: %s setup %s --api-key <YOUR_KEY>\n", Binary, name)
	}
	r.reloadIfRunning()
	return nil
}

// Remove deletes a provider. Removing the active provider switches back to
// the default provider.
func (r *Runner) Remove(name string) error {
	if name == profile.DefaultProviderName {
		return fmt.Errorf("Cannot remove the default '%s' provider.", profile.DefaultProviderName)
	}
	cfg, err := r.load()
	if err != nil {
		return err
	}
	if !cfg.Has(name) {
		return fmt.Errorf("Provider '%s' not found.", name)
	}
	delete(cfg.Providers, name)
	if cfg.Active == name {
		cfg.Active = profile.DefaultProviderName
		r.printf("Active provider was '%s', switched back to '%s'.\n", name, profile.DefaultProviderName)
	}
	if err := cfg.Save(r.ProfilePath); err != nil {
		return err
	}
	r.printf("Removed provider '%s'.\n", name)
	r.reloadIfRunning()
	return nil
}
