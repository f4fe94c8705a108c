package fetch

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/resource"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/shared/types"
)

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name string
		desc *types.RequestDescriptor
		kind Kind
	}{
		{
			name: "method with space",
			desc: &types.RequestDescriptor{Method: "GE T", URL: "http://a.test/"},
			kind: KindInvalidMethod,
		},
		{
			name: "empty method",
			desc: &types.RequestDescriptor{Method: "", URL: "http://a.test/"},
			kind: KindInvalidMethod,
		},
		{
			name: "header name",
			desc: get("http://a.test/", types.Header{"Bad Header", "x"}),
			kind: KindInvalidHeader,
		},
		{
			name: "header value",
			desc: get("http://a.test/", types.Header{"X-Line", "a\nb"}),
			kind: KindInvalidHeader,
		},
		{
			name: "user agent override",
			desc: &types.RequestDescriptor{Method: "GET", URL: "http://a.test/", UserAgent: strPtr("bad\x00agent")},
			kind: KindInvalidHeader,
		},
		{
			name: "relative url",
			desc: get("/relative"),
			kind: KindInvalidURL,
		},
		{
			name: "unparseable url",
			desc: get("http://[::1"),
			kind: KindInvalidURL,
		},
		{
			name: "missing host",
			desc: get("http:///path"),
			kind: KindInvalidURL,
		},
		{
			name: "ftp scheme",
			desc: get("ftp://a.test/file"),
			kind: KindSchemeNotSupported,
		},
		{
			name: "proxy scheme",
			desc: &types.RequestDescriptor{
				Method: "GET",
				URL:    "http://a.test/",
				Proxy:  &types.Proxy{All: &types.ProxyEntry{URL: "ftp://proxy.test:21"}},
			},
			kind: KindProxyConfig,
		},
		{
			name: "data url without comma",
			desc: get("data:text/plain"),
			kind: KindDataURLDecode,
		},
	}

	b := NewBuilder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(tt.desc)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err), "error: %v", err)
			assert.True(t, tt.kind.Construction())
		})
	}
}

func TestBuildHeaderDefaults(t *testing.T) {
	b := NewBuilder(WithUserAgent(testUserAgent))

	req, err := b.Build(&types.RequestDescriptor{Method: "post", URL: "https://a.test/upload"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https", req.Scheme())
	assert.Equal(t, "0", req.Header.Get("Content-Length"))
	assert.Equal(t, DefaultAcceptEncoding, req.Header.Get("Accept-Encoding"))
	assert.Equal(t, testUserAgent, req.Header.Get("User-Agent"))

	req, err = b.Build(&types.RequestDescriptor{Method: "PUT", URL: "https://a.test/", Data: types.Bytes("x")})
	require.NoError(t, err)
	assert.Empty(t, req.Header.Get("Content-Length"), "body present")

	req, err = b.Build(&types.RequestDescriptor{Method: "PATCH", URL: "https://a.test/"})
	require.NoError(t, err)
	assert.Empty(t, req.Header.Get("Content-Length"), "only POST and PUT are forced")

	req, err = b.Build(get("https://a.test/", types.Header{"Range", "bytes=0-99"}, types.Header{"Accept-Encoding", "gzip"}))
	require.NoError(t, err)
	assert.Equal(t, "identity", req.Header.Get("Accept-Encoding"))
	assert.False(t, req.decode)

	req, err = b.Build(&types.RequestDescriptor{Method: "GET", URL: "https://a.test/", UserAgent: strPtr("override/2")})
	require.NoError(t, err)
	assert.Equal(t, "override/2", req.Header.Get("User-Agent"))

	req, err = b.Build(&types.RequestDescriptor{
		Method:    "GET",
		URL:       "https://a.test/",
		Headers:   []types.Header{{"user-agent", "explicit/3"}},
		UserAgent: strPtr("override/2"),
	})
	require.NoError(t, err)
	assert.Equal(t, "explicit/3", req.Header.Get("User-Agent"))

	req, err = b.Build(&types.RequestDescriptor{Method: "PROPFIND", URL: "https://a.test/"})
	require.NoError(t, err)
	assert.Equal(t, "PROPFIND", req.Method)
}

func TestPostWithoutBodySendsZeroContentLength(t *testing.T) {
	type seen struct {
		method        string
		contentLength string
		length        int64
	}
	got := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- seen{r.Method, r.Header.Get("Content-Length"), r.ContentLength}
	}))
	defer srv.Close()

	o, _ := newTestOrchestrator(t)
	h, err := o.Start(&types.RequestDescriptor{Method: "POST", URL: srv.URL})
	require.NoError(t, err)
	fetchAll(t, o, h)

	s := <-got
	assert.Equal(t, http.MethodPost, s.method)
	assert.Equal(t, "0", s.contentLength)
	assert.Equal(t, int64(0), s.length)
}

func TestOutboundHeaders(t *testing.T) {
	got := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Clone()
	}))
	defer srv.Close()

	o, _ := newTestOrchestrator(t)

	t.Run("range forces identity", func(t *testing.T) {
		h, err := o.Start(get(srv.URL, types.Header{"Range", "bytes=0-99"}))
		require.NoError(t, err)
		fetchAll(t, o, h)

		header := <-got
		assert.Equal(t, "identity", header.Get("Accept-Encoding"))
		assert.Equal(t, "bytes=0-99", header.Get("Range"))
	})

	t.Run("defaults", func(t *testing.T) {
		h, err := o.Start(&types.RequestDescriptor{Method: "POST", URL: srv.URL, Data: types.Bytes(`{"a":1}`)})
		require.NoError(t, err)
		fetchAll(t, o, h)

		header := <-got
		assert.Equal(t, testUserAgent, header.Get("User-Agent"))
		assert.Equal(t, DefaultAcceptEncoding, header.Get("Accept-Encoding"))
		assert.Empty(t, header.Get("Content-Type"), "no content type is invented")
		assert.Empty(t, header.Get("Accept"))
	})

	t.Run("duplicates kept", func(t *testing.T) {
		h, err := o.Start(get(srv.URL, types.Header{"X-Multi", "a"}, types.Header{"x-multi", "b"}))
		require.NoError(t, err)
		fetchAll(t, o, h)

		header := <-got
		assert.Equal(t, []string{"a", "b"}, header.Values("X-Multi"))
	})

	t.Run("user agent override", func(t *testing.T) {
		h, err := o.Start(&types.RequestDescriptor{Method: "GET", URL: srv.URL, UserAgent: strPtr("shim/9")})
		require.NoError(t, err)
		fetchAll(t, o, h)

		header := <-got
		assert.Equal(t, "shim/9", header.Get("User-Agent"))
	})
}

func TestResponseShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Custom", "v")
		w.Header().Add("X-Dup", "1")
		w.Header().Add("X-Dup", "2")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	defer srv.Close()

	o, _ := newTestOrchestrator(t)
	h, err := o.Start(get(srv.URL + "/pot"))
	require.NoError(t, err)

	resp, body := fetchAll(t, o, h)
	assert.Equal(t, http.StatusTeapot, resp.Status)
	assert.Equal(t, "I'm a teapot", resp.StatusText)
	assert.Equal(t, srv.URL+"/pot", resp.URL)
	assert.Equal(t, "short and stout", string(body))

	v, ok := headerValue(resp.Headers, "x-custom")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	var dups []string
	for i, pair := range resp.Headers {
		assert.Equal(t, strings.ToLower(pair[0]), pair[0])
		if i > 0 {
			assert.LessOrEqual(t, resp.Headers[i-1][0], pair[0], "headers sorted by name")
		}
		if pair[0] == "x-dup" {
			dups = append(dups, pair[1])
		}
	}
	assert.Equal(t, []string{"1", "2"}, dups)
}

func redirectServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/c", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("done"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRedirectPolicy(t *testing.T) {
	srv := redirectServer(t)
	o, _ := newTestOrchestrator(t)

	t.Run("zero returns the redirect", func(t *testing.T) {
		desc := get(srv.URL + "/a")
		desc.MaxRedirections = intPtr(0)
		h, err := o.Start(desc)
		require.NoError(t, err)

		resp, _ := fetchAll(t, o, h)
		assert.Equal(t, http.StatusFound, resp.Status)
		assert.Equal(t, srv.URL+"/a", resp.URL)
		loc, ok := headerValue(resp.Headers, "location")
		assert.True(t, ok)
		assert.Equal(t, "/b", loc)
	})

	t.Run("cap exceeded", func(t *testing.T) {
		desc := get(srv.URL + "/a")
		desc.MaxRedirections = intPtr(1)
		h, err := o.Start(desc)
		require.NoError(t, err)

		_, err = o.Await(context.Background(), h)
		require.Error(t, err)
		assert.Equal(t, KindNetwork, KindOf(err))
	})

	t.Run("exact cap", func(t *testing.T) {
		desc := get(srv.URL + "/a")
		desc.MaxRedirections = intPtr(2)
		h, err := o.Start(desc)
		require.NoError(t, err)

		resp, body := fetchAll(t, o, h)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, srv.URL+"/c", resp.URL)
		assert.Equal(t, "done", string(body))
	})

	t.Run("default follows", func(t *testing.T) {
		h, err := o.Start(get(srv.URL + "/a"))
		require.NoError(t, err)

		resp, _ := fetchAll(t, o, h)
		assert.Equal(t, http.StatusOK, resp.Status)
	})
}

func TestDataURL(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	tests := []struct {
		name        string
		url         string
		contentType string
		body        []byte
	}{
		{
			name:        "explicit media type",
			url:         "data:text/html,%3Cb%3Ehi%3C%2Fb%3E",
			contentType: "text/html",
			body:        []byte("<b>hi</b>"),
		},
		{
			name:        "sniffed png",
			url:         "data:;base64,iVBORw0KGgo=",
			contentType: "image/png",
			body:        []byte("\x89PNG\r\n\x1a\n"),
		},
		{
			name:        "sniffed text",
			url:         "data:,hello",
			contentType: "text/plain",
			body:        []byte("hello"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := o.Start(get(tt.url))
			require.NoError(t, err)

			resp, body := fetchAll(t, o, h)
			assert.Equal(t, http.StatusOK, resp.Status)
			assert.Equal(t, tt.url, resp.URL)
			ct, ok := headerValue(resp.Headers, "content-type")
			require.True(t, ok)
			assert.True(t, strings.HasPrefix(ct, tt.contentType), "content-type %q", ct)
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestContentDecoding(t *testing.T) {
	payload := bytes.Repeat([]byte("fetch bridge payload "), 200)

	encoders := map[string]func(t *testing.T) []byte{
		"gzip": func(t *testing.T) []byte {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			_, err := zw.Write(payload)
			require.NoError(t, err)
			require.NoError(t, zw.Close())
			return buf.Bytes()
		},
		"deflate": func(t *testing.T) []byte {
			var buf bytes.Buffer
			zw := zlib.NewWriter(&buf)
			_, err := zw.Write(payload)
			require.NoError(t, err)
			require.NoError(t, zw.Close())
			return buf.Bytes()
		},
		"zstd": func(t *testing.T) []byte {
			enc, err := zstd.NewWriter(nil)
			require.NoError(t, err)
			defer enc.Close()
			return enc.EncodeAll(payload, nil)
		},
	}

	for encoding, encode := range encoders {
		t.Run(encoding, func(t *testing.T) {
			encoded := encode(t)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", encoding)
				_, _ = w.Write(encoded)
			}))
			defer srv.Close()

			o, _ := newTestOrchestrator(t, WithChunkSize(512))

			h, err := o.Start(get(srv.URL))
			require.NoError(t, err)
			resp, body := fetchAll(t, o, h)
			assert.Equal(t, payload, body)
			ce, _ := headerValue(resp.Headers, "content-encoding")
			assert.Equal(t, encoding, ce, "headers pass through unchanged")

			h, err = o.Start(get(srv.URL, types.Header{"Accept-Encoding", encoding}))
			require.NoError(t, err)
			_, body = fetchAll(t, o, h)
			assert.Equal(t, encoded, body, "caller-chosen encodings are not decoded")
		})
	}
}

func TestEmptyEncodedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	o, _ := newTestOrchestrator(t)
	h, err := o.Start(get(srv.URL))
	require.NoError(t, err)
	resp, body := fetchAll(t, o, h)
	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Empty(t, body)
}

func TestCookieJarAttached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/set" {
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
			return
		}
		c, err := r.Cookie("sid")
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(c.Value))
	}))
	defer srv.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	table := resource.NewTable()
	builder := NewBuilder(WithCookieJar(jar))
	o := NewOrchestrator(table, builder)
	defer builder.CloseIdleConnections()
	defer table.CloseAll()

	h, err := o.Start(get(srv.URL + "/set"))
	require.NoError(t, err)
	fetchAll(t, o, h)

	h, err = o.Start(get(srv.URL + "/check"))
	require.NoError(t, err)
	resp, body := fetchAll(t, o, h)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "abc", string(body))
}

func TestConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	o, table := newTestOrchestrator(t)
	desc := get("http://" + addr + "/")
	timeout := uint64(2000)
	desc.ConnectTimeout = &timeout

	h, err := o.Start(desc)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = o.Await(ctx, h)
	require.Error(t, err)

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindNetwork, fe.Kind)
	assert.Equal(t, PhaseConnect, fe.Phase)
	assert.False(t, table.Has(h), "failed await closes the handle")
}
