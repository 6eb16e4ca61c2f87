package domain

import (
	"net/http"
	"strings"
)

// Transport names stamped on Metadata by the adapters.
const (
	TransportHTTP   = "http"
	TransportSSE    = "sse"
	TransportWS     = "ws"
	TransportMCP    = "mcp"
	TransportInproc = "inproc"
)

// Metadata carries the transport facts of one call into context derivation.
// It is built fresh per call and never shared between calls.
type Metadata struct {
	Transport  string
	Kind       RequestKind
	Header     http.Header
	RemoteAddr string
	Values     map[string]any
}

// Get returns a value attached by transport middleware.
func (m Metadata) Get(key string) (any, bool) {
	if m.Values == nil {
		return nil, false
	}
	v, ok := m.Values[key]
	return v, ok
}

// With returns a copy of m with key set.
func (m Metadata) With(key string, value any) Metadata {
	values := make(map[string]any, len(m.Values)+1)
	for k, v := range m.Values {
		values[k] = v
	}
	values[key] = value
	m.Values = values
	return m
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func (m Metadata) BearerToken() (string, bool) {
	if m.Header == nil {
		return "", false
	}
	auth := m.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ClientKey identifies the caller for per-client limits.
func (m Metadata) ClientKey() string {
	if v, ok := m.Get("client"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if m.RemoteAddr == "" {
		return "unknown"
	}
	return m.RemoteAddr
}
