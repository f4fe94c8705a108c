/*
Package session owns per-client fetch state.

Each session has its own resource table, orchestrator and streamer, so
handles from one client are meaningless to another. Sessions expire after
an idle period; closing a session drops every connection it still holds.
*/
package session
