/*
Package cookies provides the process-wide persistent cookie jar.

The jar keeps cookies in memory and mirrors persistent ones to a JSON file.
Every mutation schedules an asynchronous save; a newer save supersedes one
that has not finished, so the file always holds the latest snapshot once
the last save completes. Flush issues a final save and waits for it.

	jar := cookies.Open(path, cookies.WithLogger(logger))
	builder := fetch.NewBuilder(fetch.WithCookieJar(jar))
	defer jar.Flush(ctx)
*/
package cookies
