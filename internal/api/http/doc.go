/*
Package http exposes the fetch bridge to the front end.

Every fetch lives in a session. The front end creates a session, starts
fetches in it and drives them by handle:

	POST   /sessions                         -> {session_id}
	POST   /sessions/:sid/fetch              -> {rid}
	POST   /sessions/:sid/fetch/:rid/cancel  -> 204
	POST   /sessions/:sid/fetch/:rid/send    -> {status, statusText, headers, url, rid}
	GET    /sessions/:sid/body/:rid          -> chunk, or 204 with X-Body-Eof at the end
	DELETE /sessions/:sid/body/:rid          -> 204
	DELETE /sessions/:sid                    -> 204

Errors are JSON objects {error, kind} where kind is the fetch error kind.
*/
package http
