// Package config provides 12-factor configuration for the fetch bridge.
//
// Configuration is loaded from environment variables with defaults, an
// optional YAML file may overlay it, and CLI flags override both.
//
// Configuration Sections:
//   - Server: bridge API listen address
//   - Logging: log level and output format
//   - RateLimit: per-IP limit on bridge API calls
//   - Fetch: outbound user agent, throttling and chunk size
//   - Cookies: persistent cookie jar location
//   - Session: idle expiry of client sessions
//
// Environment Variables:
//   - PORT, HOST
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - FETCH_USER_AGENT, FETCH_RPS, FETCH_BURST, FETCH_CHUNK_SIZE
//   - COOKIE_JAR_PATH, COOKIE_JAR_ENABLED
//   - SESSION_IDLE_TTL
package config
