// Package middleware holds the gin middleware shared by every bridge route:
// CORS, per-client rate limiting and request logging.
package middleware
