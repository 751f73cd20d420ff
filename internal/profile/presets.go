package profile

import (
	"errors"
	"strings"
)

// Preset is a built-in base URL that `add <name> <credential>` can fill in.
type Preset struct {
	Name    string
	BaseURL string
}

var presets = map[string]Preset{
	"glm":        {Name: "glm", BaseURL: "https://open.z.ai/api/paas/v4"},
	"openrouter": {Name: "openrouter", BaseURL: "https://openrouter.ai/api/v1"},
	"minimax":    {Name: "minimax", BaseURL: "https://api.minimax.io/anthropic/v1"},
}

// LookupPreset returns the preset for name, matched case-insensitively.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[strings.ToLower(name)]
	return p, ok
}

// BuiltinProviders returns the providers seeded by `init`, without credentials.
func BuiltinProviders() map[string]Provider {
	const (
		zai     = "https://open.z.ai/api/paas/v4"
		minimax = "https://api.minimax.io/anthropic/v1"
	)
	return map[string]Provider{
		"claude": {BaseURL: DefaultBaseURL},
		"glm": {BaseURL: zai, Models: &ModelMapping{
			Haiku: "glm-4.5-air", Sonnet: "glm-4.7", Opus: "glm-4.7",
		}},
		"glm-flash": {BaseURL: zai, Models: &ModelMapping{
			Haiku: "glm-4.7-flashx", Sonnet: "glm-4.7-flashx", Opus: "glm-4.7-flashx",
		}},
		"glm-5": {BaseURL: zai, Models: &ModelMapping{
			Haiku: "glm-4.7-flashx", Sonnet: "glm-5-code", Opus: "glm-5",
		}},
		"minimax": {BaseURL: minimax, Models: &ModelMapping{
			Haiku: "MiniMax-M2", Sonnet: "MiniMax-M2.5", Opus: "MiniMax-M2.5",
		}},
		"minimax-fast": {BaseURL: minimax, Models: &ModelMapping{
			Haiku: "MiniMax-M2", Sonnet: "MiniMax-M2.5-Lightning", Opus: "MiniMax-M2.5",
		}},
	}
}

// ErrEmptyBearer is returned for a "bearer:" credential without a token.
var ErrEmptyBearer = errors.New("Bearer credential cannot be empty. Use: add <name> bearer:<token>")

// ParseCredential splits a positional credential into an API key or, for the
// "bearer:<token>" form, an auth token.
func ParseCredential(credential string) (apiKey, authToken string, err error) {
	if !strings.HasPrefix(strings.ToLower(credential), "bearer:") {
		return credential, "", nil
	}
	_, token, _ := strings.Cut(credential, ":")
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "", ErrEmptyBearer
	}
	return "", token, nil
}
