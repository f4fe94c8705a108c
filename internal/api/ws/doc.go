// Package ws provides the push channel for streaming fetches.
//
// A client opens /sessions/:sid/stream and sends commands; the server pushes
// every step of each fetch back as it happens.
//
// Message Types (Client → Server):
//   - fetch: start a request {type, requestId, request}
//   - cancel: abort a request {type, requestId}
//   - ping: keep-alive ping
//
// Message Types (Server → Client), all tagged with requestId:
//   - response: status, statusText, headers, url
//   - data: one body chunk, base64
//   - done: body finished
//   - error: the request failed or was canceled
//   - rejected: a command that started nothing
//   - pong: reply to ping
//
// A request's frames are one response, any number of data frames, then one
// done or error frame. Closing the socket cancels every request it started.
//
// Example Usage:
//
//	handler := ws.NewHandler(sessions, ws.WithLogger(logger))
//	router.GET("/sessions/:sid/stream", handler.HandleConnection)
package ws
