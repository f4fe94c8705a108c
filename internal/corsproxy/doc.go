/*
Package corsproxy forwards front-end requests to arbitrary origins and
rewrites the response so the browser accepts it.

A request to /cors/proxy/x-https://host/path is sent to https://host/path
with Host, Referer and Origin set for the target. Frame and transport
security headers are removed from the answer and every CORS allow header
is set to "*". Each request carries a numeric X-Request-Id that can be
used to cancel it; a canceled request gets no body.

Calls to one upstream host share a circuit breaker, so a dead host fails
fast instead of tying up a connection for the full timeout.
*/
package corsproxy
