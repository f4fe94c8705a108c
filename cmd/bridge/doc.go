// Package main is the entry point for the AgentOS fetch bridge.
//
// The bridge performs HTTP requests on behalf of the front end, which cannot
// make cross-origin requests on its own:
//
//	Frontend → Bridge API (sessions, fetch, body) → upstream servers
//	        → Streaming endpoint (WebSocket)
//	        → CORS proxy (/cors/proxy/x-https://host/path)
//
// Configuration:
//   - Environment variables (12-factor)
//   - Optional YAML file (--config), overlaid on the environment
//   - CLI flags (override both)
//
// Usage:
//
//	# Serve on the default address
//	./bridge serve
//
//	# Development mode (colored logs, debug level)
//	./bridge serve --dev --port 9000
//
//	# Show what the persistent jar sends to a site
//	./bridge cookies https://example.com/
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown, cookie jar flushed
package main
