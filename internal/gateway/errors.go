package gateway

import (
	"encoding/json"
	"net/http"
)

// Kind classifies a request-scoped forwarding failure.
type Kind int

const (
	KindRoute Kind = iota + 1
	KindBodyRead
	KindSerialization
	KindUpstreamUnreachable
	KindUpstreamRead
)

func (k Kind) String() string {
	switch k {
	case KindRoute:
		return "route"
	case KindBodyRead:
		return "body_read"
	case KindSerialization:
		return "serialization"
	case KindUpstreamUnreachable:
		return "upstream_unreachable"
	case KindUpstreamRead:
		return "upstream_read"
	default:
		return "unknown"
	}
}

// ProxyError is any failure while forwarding a single request. It always ends
// as a 502 envelope and never escapes the Forwarder.
type ProxyError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *ProxyError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ProxyError) Unwrap() error { return e.Err }

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WriteError writes the 502 proxy_error envelope for err.
func WriteError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{Type: "proxy_error", Message: err.Error()},
	})
}

// MaskKey masks a credential for logging, keeping the first 8 and last 4 characters.
func MaskKey(key string) string {
	if key == "" {
		return "(empty)"
	}
	if len(key) < 16 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
