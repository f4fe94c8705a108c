// Package types provides the wire data structures shared by the fetch
// bridge packages and its API surface.
//
// Request Types:
//   - RequestDescriptor: everything needed to build one outbound request
//   - Proxy, ProxyEntry, BasicAuth: per-scheme proxy overrides
//   - Danger: opt-in TLS verification relaxations
//   - StreamCommand: client frame on the streaming channel
//
// Response Types:
//   - FetchResponse: status line, headers and body handle of an awaited fetch
//   - Event: server frame on the streaming channel
//
// JSON field names are camelCase to match the webview shim. Body bytes are
// accepted either as a JSON array of numbers or as a base64 string:
//
//	{"method":"POST","url":"https://example.com","headers":[["content-type","text/plain"]],"data":[104,105]}
package types
