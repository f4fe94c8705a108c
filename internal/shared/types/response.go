package types

// FetchResponse is the result of awaiting a fetch. RID is the handle of the
// response body in the session's resource table.
type FetchResponse struct {
	Status     int      `json:"status"`
	StatusText string   `json:"statusText"`
	Headers    []Header `json:"headers"`
	URL        string   `json:"url"`
	RID        uint32   `json:"rid"`
}

// EventType tags a streaming event.
type EventType string

const (
	EventResponse EventType = "response"
	EventData     EventType = "data"
	EventError    EventType = "error"
	EventDone     EventType = "done"

	// EventRejected answers a command that started nothing. It is not part
	// of any request's event sequence.
	EventRejected EventType = "rejected"
	EventPong     EventType = "pong"
)

// Event is a server frame on the streaming channel. A request produces
// exactly one response event, any number of data events and then exactly
// one error or done event.
type Event struct {
	RequestID  uint64    `json:"requestId"`
	Type       EventType `json:"type"`
	Status     int       `json:"status,omitempty"`
	StatusText string    `json:"statusText,omitempty"`
	Headers    []Header  `json:"headers,omitempty"`
	URL        string    `json:"url,omitempty"`
	Data       []byte    `json:"data,omitempty"`
	Message    string    `json:"message,omitempty"`
	Kind       string    `json:"kind,omitempty"`
}

// Terminal reports whether no further events follow e.
func (e Event) Terminal() bool {
	return e.Type == EventError || e.Type == EventDone
}
