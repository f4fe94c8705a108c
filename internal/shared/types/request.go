package types

import (
	"encoding/base64"
	"fmt"

	"github.com/bytedance/sonic"
)

// Header is a single (name, value) pair. Lists of headers keep order and
// duplicates.
type Header = [2]string

// RequestDescriptor describes one outbound request. It is consumed once by
// the connection builder.
type RequestDescriptor struct {
	Method  string   `json:"method"`
	URL     string   `json:"url"`
	Headers []Header `json:"headers"`
	Data    Bytes    `json:"data,omitempty"`
	// ConnectTimeout is in milliseconds and bounds connection setup only.
	ConnectTimeout *uint64 `json:"connectTimeout,omitempty"`
	// MaxRedirections of 0 disables redirects; nil keeps the client default.
	MaxRedirections *int    `json:"maxRedirections,omitempty"`
	Proxy           *Proxy  `json:"proxy,omitempty"`
	Danger          *Danger `json:"danger,omitempty"`
	UserAgent       *string `json:"userAgent,omitempty"`
}

// Danger relaxes TLS verification for a single request.
type Danger struct {
	AcceptInvalidCerts     bool `json:"acceptInvalidCerts"`
	AcceptInvalidHostnames bool `json:"acceptInvalidHostnames"`
}

// Proxy holds the per-scheme proxy overrides. A nil entry means no override
// for that scheme.
type Proxy struct {
	All   *ProxyEntry `json:"all,omitempty"`
	HTTP  *ProxyEntry `json:"http,omitempty"`
	HTTPS *ProxyEntry `json:"https,omitempty"`
}

// ProxyEntry is either a bare proxy URL or a structured config. Both JSON
// forms decode into the same struct.
type ProxyEntry struct {
	URL       string     `json:"url"`
	BasicAuth *BasicAuth `json:"basicAuth,omitempty"`
	// NoProxy is a comma separated list of hosts, domains and CIDRs.
	NoProxy string `json:"noProxy,omitempty"`
}

// BasicAuth holds proxy credentials.
type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UnmarshalJSON accepts either "http://proxy:8080" or {"url": ...}.
func (p *ProxyEntry) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var url string
		if err := sonic.Unmarshal(data, &url); err != nil {
			return fmt.Errorf("proxy url: %w", err)
		}
		*p = ProxyEntry{URL: url}
		return nil
	}

	type plain ProxyEntry
	var cfg plain
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("proxy config: %w", err)
	}
	*p = ProxyEntry(cfg)
	return nil
}

// Bytes is a request body. It decodes from a JSON array of byte values or a
// base64 string and encodes as base64.
type Bytes []byte

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*b = nil
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := sonic.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("body: %w", err)
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("body: invalid base64: %w", err)
		}
		*b = decoded
		return nil
	}

	var values []int
	if err := sonic.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("body: %w", err)
	}
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("body: byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// StreamCommand types.
const (
	CommandFetch  = "fetch"
	CommandCancel = "cancel"
	CommandPing   = "ping"
)

// StreamCommand is a client frame on the streaming channel.
type StreamCommand struct {
	Type      string             `json:"type"`
	RequestID uint64             `json:"requestId"`
	Request   *RequestDescriptor `json:"request,omitempty"`
}
