// Package route decides which provider and upstream path serve an inbound path.
package route

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tjfontaine/model-switch-gateway/internal/profile"
)

// ProviderPrefix marks an explicit provider override: /p/<provider>/<rest>.
const ProviderPrefix = "/p/"

// Kind classifies route failures.
type Kind int

const (
	KindMissingProviderSegment Kind = iota + 1
	KindUnknownProvider
	KindNoActiveProvider
)

// Error is a request-scoped routing failure.
type Error struct {
	Kind     Kind
	Provider string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindMissingProviderSegment:
		return "missing provider name in /p/<provider>/ path"
	case KindUnknownProvider:
		return fmt.Sprintf("provider '%s' not found in profiles", e.Provider)
	case KindNoActiveProvider:
		return fmt.Sprintf("no active provider configured: '%s' not found in profiles", e.Provider)
	default:
		return "route error"
	}
}

// Is matches route errors by kind, so errors.Is(err, ErrUnknownProvider) works
// regardless of the provider name carried.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrMissingProviderSegment = &Error{Kind: KindMissingProviderSegment}
	ErrUnknownProvider        = &Error{Kind: KindUnknownProvider}
	ErrNoActiveProvider       = &Error{Kind: KindNoActiveProvider}
)

// Resolution is the outcome of resolving one request path.
// Provider is a copy; it does not alias the snapshot it came from.
type Resolution struct {
	ProviderName string
	Provider     profile.Provider
	UpstreamPath string
}

// Resolve maps path onto a provider in cfg. It performs no I/O.
//
// path is the escaped request path. UpstreamPath keeps its escaping so it can
// be appended to a base URL as is; only the provider segment is unescaped.
func Resolve(path string, cfg *profile.Config) (Resolution, error) {
	if rest, ok := strings.CutPrefix(path, ProviderPrefix); ok {
		name, remainder, _ := strings.Cut(rest, "/")
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
		if name == "" {
			return Resolution{}, &Error{Kind: KindMissingProviderSegment}
		}
		p, ok := cfg.Lookup(name)
		if !ok {
			return Resolution{}, &Error{Kind: KindUnknownProvider, Provider: name}
		}
		return Resolution{
			ProviderName: name,
			Provider:     p,
			UpstreamPath: "/" + remainder,
		}, nil
	}

	p, ok := cfg.Lookup(cfg.Active)
	if !ok {
		return Resolution{}, &Error{Kind: KindNoActiveProvider, Provider: cfg.Active}
	}
	return Resolution{
		ProviderName: cfg.Active,
		Provider:     p,
		UpstreamPath: path,
	}, nil
}

// IsRouteError reports whether err is any route failure.
func IsRouteError(err error) bool {
	var re *Error
	return errors.As(err, &re)
}
