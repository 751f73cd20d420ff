package gateway

import (
	"net/http"
	"strings"

	"github.com/tjfontaine/model-switch-gateway/internal/profile"
)

const versionSegment = "/v1"

// DiagnosticHeader names the provider that served a response.
const DiagnosticHeader = "X-Model-Switch-Provider"

var (
	hopByHopRequest = map[string]bool{
		"Host":              true,
		"Connection":        true,
		"Transfer-Encoding": true,
		"Keep-Alive":        true,
	}
	hopByHopResponse = map[string]bool{
		"Transfer-Encoding": true,
		"Connection":        true,
	}
	inboundAuth = map[string]bool{
		"Authorization": true,
		"X-Api-Key":     true,
	}
)

// UpstreamURL joins baseURL and upstreamPath and appends rawQuery verbatim.
//
// When baseURL already ends in /v1, one leading /v1 segment is removed from
// upstreamPath so the version is not doubled. Only the base URL's suffix is
// consulted; a path beginning with /v1 is otherwise left alone.
func UpstreamURL(baseURL, upstreamPath, rawQuery string) string {
	base := strings.TrimRight(baseURL, "/")
	path := upstreamPath

	if strings.HasSuffix(base, versionSegment) {
		if path == versionSegment {
			path = ""
		} else if strings.HasPrefix(path, versionSegment+"/") {
			path = path[len(versionSegment):]
		}
	}

	u := base + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

// FilterRequestHeaders copies in, minus the hop-by-hop set. With dropAuth the
// caller's Authorization and x-api-key headers are removed as well.
func FilterRequestHeaders(in http.Header, dropAuth bool) http.Header {
	out := make(http.Header, len(in))
	for name, values := range in {
		key := http.CanonicalHeaderKey(name)
		if hopByHopRequest[key] {
			continue
		}
		if dropAuth && inboundAuth[key] {
			continue
		}
		out[key] = append([]string(nil), values...)
	}
	return out
}

// InjectCredentials sets the provider's credentials on h. auth_token is
// applied last and so owns Authorization when both are configured.
func InjectCredentials(h http.Header, p profile.Provider) {
	if p.APIKey != "" {
		h.Set("X-Api-Key", p.APIKey)
		h.Set("Authorization", "Bearer "+p.APIKey)
	}
	if p.AuthToken != "" {
		h.Set("Authorization", "Bearer "+p.AuthToken)
	}
}

func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		if hopByHopResponse[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
