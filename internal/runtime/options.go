package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/model-switch-gateway/internal/core/ports"
	"github.com/tjfontaine/model-switch-gateway/internal/pkg/config"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithProfileFile reads provider profiles from the JSON file at path.
func WithProfileFile(path string) Option {
	return func(g *Gateway) error {
		if path == "" {
			return fmt.Errorf("profile file path cannot be empty")
		}
		g.profilePath = path
		return nil
	}
}

// WithProfileSource sets a custom profile source. It takes precedence over
// WithProfileFile.
func WithProfileSource(source ports.ProfileSource) Option {
	return func(g *Gateway) error {
		g.source = source
		return nil
	}
}

// WithSettings applies the gateway settings: listener address, profile
// location, upstream limits and journal.
func WithSettings(cfg *config.Config) Option {
	return func(g *Gateway) error {
		if cfg == nil {
			return fmt.Errorf("settings cannot be nil")
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}
		g.settings = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithJournal records forwarded requests to j. The gateway closes it on shutdown.
func WithJournal(j ports.RequestJournal) Option {
	return func(g *Gateway) error {
		g.journal = j
		return nil
	}
}

// WithHTTPClient sets the client used for upstream calls.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) error {
		g.client = c
		return nil
	}
}
