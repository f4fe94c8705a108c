package fetch

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/vincent-petithory/dataurl"

	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/shared/types"
)

// response is a received status line and header block with an unread body.
type response struct {
	status     int
	statusText string
	headers    []types.Header
	url        string
	body       io.ReadCloser
}

func newResponse(raw *http.Response, decode bool) *response {
	body := raw.Body
	if decode {
		body = newDecodingBody(body, raw.Header.Get("Content-Encoding"))
	}
	return &response{
		status:     raw.StatusCode,
		statusText: http.StatusText(raw.StatusCode),
		headers:    headerList(raw.Header),
		url:        raw.Request.URL.String(),
		body:       body,
	}
}

// headerList flattens h into lower-case (name, value) pairs sorted by name.
// Values of one name keep their received order.
func headerList(h http.Header) []types.Header {
	byName := make(map[string][]string, len(h))
	names := make([]string, 0, len(h))
	for name, values := range h {
		lower := strings.ToLower(name)
		if _, seen := byName[lower]; !seen {
			names = append(names, lower)
		}
		byName[lower] = append(byName[lower], values...)
	}
	slices.Sort(names)

	out := make([]types.Header, 0, len(h))
	for _, name := range names {
		for _, value := range byName[name] {
			out = append(out, types.Header{name, value})
		}
	}
	return out
}

func (b *Builder) buildData(method string, u *url.URL, raw string, header http.Header) (*Request, error) {
	d, err := dataurl.DecodeString(raw)
	if err != nil {
		return nil, newError(KindDataURLDecode, "build", err)
	}
	return &Request{
		Method: method,
		URL:    u,
		Header: header,
		data:   d,
		rawURL: raw,
	}, nil
}

// dataResponse synthesizes the response for a data: URL.
func dataResponse(raw string, d *dataurl.DataURL) *response {
	contentType := d.MediaType.String()
	if !explicitMediaType(raw) {
		contentType = mimetype.Detect(d.Data).String()
	}
	return &response{
		status:     http.StatusOK,
		statusText: http.StatusText(http.StatusOK),
		headers:    []types.Header{{"content-type", contentType}},
		url:        raw,
		body:       io.NopCloser(bytes.NewReader(d.Data)),
	}
}

// explicitMediaType reports whether a data: URL names its media type.
func explicitMediaType(raw string) bool {
	_, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return false
	}
	meta, _, ok := strings.Cut(rest, ",")
	if !ok {
		return false
	}
	meta = strings.TrimSpace(meta)
	return meta != "" && !strings.HasPrefix(meta, ";")
}
