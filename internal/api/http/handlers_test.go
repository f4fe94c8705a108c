package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/cookies"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/fetch"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/session"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/shared/types"
)

type bridge struct {
	t      *testing.T
	router *gin.Engine
	jar    *cookies.Jar
}

func newBridge(t *testing.T) *bridge {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jar := cookies.Open("")
	builder := fetch.NewBuilder(fetch.WithCookieJar(jar))
	sessions := session.NewManager(builder)
	t.Cleanup(func() {
		sessions.CloseAll()
		builder.CloseIdleConnections()
	})

	router := gin.New()
	NewHandlers(sessions, jar).Register(router)
	return &bridge{t: t, router: router, jar: jar}
}

func (b *bridge) do(method, path string, body []byte) *httptest.ResponseRecorder {
	b.t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)
	return w
}

func (b *bridge) decode(w *httptest.ResponseRecorder, v interface{}) {
	b.t.Helper()
	require.NoError(b.t, sonic.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (b *bridge) session() string {
	b.t.Helper()
	w := b.do(http.MethodPost, "/sessions", nil)
	require.Equal(b.t, http.StatusCreated, w.Code)
	var out struct {
		SessionID string `json:"session_id"`
	}
	b.decode(w, &out)
	require.NotEmpty(b.t, out.SessionID)
	return out.SessionID
}

func (b *bridge) start(sid string, desc string) uint32 {
	b.t.Helper()
	w := b.do(http.MethodPost, "/sessions/"+sid+"/fetch", []byte(desc))
	require.Equal(b.t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		RID uint32 `json:"rid"`
	}
	b.decode(w, &out)
	return out.RID
}

type apiError struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Phase string `json:"phase"`
}

func rid(n uint32) string {
	return strconv.FormatUint(uint64(n), 10)
}

func TestFetchLifecycle(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		w.Header().Add("X-Multi", "1")
		w.Header().Add("X-Multi", "2")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hello bridge"))
	}))
	defer upstream.Close()

	b := newBridge(t)
	sid := b.session()

	h := b.start(sid, `{"method":"get","url":"`+upstream.URL+`/x","headers":[["X-A","1"]]}`)

	w := b.do(http.MethodPost, "/sessions/"+sid+"/fetch/"+rid(h)+"/send", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp types.FetchResponse
	b.decode(w, &resp)
	assert.Equal(t, http.StatusTeapot, resp.Status)
	assert.Equal(t, "I'm a teapot", resp.StatusText)
	assert.Equal(t, upstream.URL+"/x", resp.URL)
	assert.Contains(t, resp.Headers, types.Header{"x-multi", "1"})
	assert.Contains(t, resp.Headers, types.Header{"x-multi", "2"})

	var body []byte
	for i := 0; ; i++ {
		require.Less(t, i, 100)
		w = b.do(http.MethodGet, "/sessions/"+sid+"/body/"+rid(resp.RID), nil)
		if w.Code == http.StatusNoContent {
			assert.Equal(t, "true", w.Header().Get(EOFHeader))
			break
		}
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
		body = append(body, w.Body.Bytes()...)
	}
	assert.Equal(t, "hello bridge", string(body))

	w = b.do(http.MethodGet, "/sessions/"+sid+"/body/"+rid(resp.RID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var e apiError
	b.decode(w, &e)
	assert.Equal(t, "ResourceNotFound", e.Kind)

	u, _ := url.Parse(upstream.URL)
	v, ok := b.jar.CookieHeader(u)
	assert.True(t, ok, "response cookies land in the jar")
	assert.Equal(t, "sid=abc", v)

	w = b.do(http.MethodGet, "/cookies?url="+url.QueryEscape(upstream.URL+"/"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cookie":"sid=abc"}`, w.Body.String())
}

func TestConstructionErrors(t *testing.T) {
	b := newBridge(t)
	sid := b.session()

	tests := []struct {
		desc string
		kind string
	}{
		{`{"method":"GE T","url":"http://a.test/"}`, "InvalidMethod"},
		{`{"method":"GET","url":"http://a.test/","headers":[["Bad Name","1"]]}`, "InvalidHeader"},
		{`{"method":"GET","url":"/relative"}`, "InvalidUrl"},
		{`{"method":"GET","url":"ftp://a.test/"}`, "SchemeNotSupported"},
		{`{"method":"GET","url":"http://a.test/","proxy":{"all":"ftp://p.test"}}`, "ProxyConfigError"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			w := b.do(http.MethodPost, "/sessions/"+sid+"/fetch", []byte(tt.desc))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			var e apiError
			b.decode(w, &e)
			assert.Equal(t, tt.kind, e.Kind)
			assert.NotEmpty(t, e.Error)
		})
	}

	w := b.do(http.MethodPost, "/sessions/"+sid+"/fetch", []byte(`{"method":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var e apiError
	b.decode(w, &e)
	assert.Equal(t, kindInvalidRequest, e.Kind)
}

func TestCancelThenSend(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer upstream.Close()
	defer close(release)

	b := newBridge(t)
	sid := b.session()
	h := b.start(sid, `{"method":"GET","url":"`+upstream.URL+`"}`)

	w := b.do(http.MethodPost, "/sessions/"+sid+"/fetch/"+rid(h)+"/cancel", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = b.do(http.MethodPost, "/sessions/"+sid+"/fetch/"+rid(h)+"/cancel", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = b.do(http.MethodPost, "/sessions/"+sid+"/fetch/"+rid(h)+"/send", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	var e apiError
	b.decode(w, &e)
	assert.Equal(t, "RequestCanceled", e.Kind)

	w = b.do(http.MethodPost, "/sessions/"+sid+"/fetch/"+rid(h)+"/send", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNetworkError(t *testing.T) {
	b := newBridge(t)
	sid := b.session()
	h := b.start(sid, `{"method":"GET","url":"http://127.0.0.1:1/","connectTimeout":2000}`)

	w := b.do(http.MethodPost, "/sessions/"+sid+"/fetch/"+rid(h)+"/send", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	var e apiError
	b.decode(w, &e)
	assert.Equal(t, "Network", e.Kind)
	assert.Equal(t, "connect", e.Phase)
}

func TestCloseBodyAlwaysSucceeds(t *testing.T) {
	b := newBridge(t)
	sid := b.session()

	for _, path := range []string{"/body/12345", "/body/not-a-number"} {
		w := b.do(http.MethodDelete, "/sessions/"+sid+path, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	b := newBridge(t)
	first := b.session()
	second := b.session()

	h := b.start(first, `{"method":"GET","url":"`+upstream.URL+`"}`)
	w := b.do(http.MethodPost, "/sessions/"+second+"/fetch/"+rid(h)+"/send", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionRoutes(t *testing.T) {
	b := newBridge(t)

	w := b.do(http.MethodPost, "/sessions/missing/fetch", []byte(`{}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
	var e apiError
	b.decode(w, &e)
	assert.Equal(t, kindSessionNotFound, e.Kind)

	sid := b.session()
	w = b.do(http.MethodDelete, "/sessions/"+sid, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = b.do(http.MethodDelete, "/sessions/"+sid, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendHonorsCallerDisconnect(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer upstream.Close()
	defer close(release)

	b := newBridge(t)
	sid := b.session()
	h := b.start(sid, `{"method":"GET","url":"`+upstream.URL+`"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sid+"/fetch/"+rid(h)+"/send", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHealthAndRoot(t *testing.T) {
	b := newBridge(t)
	b.session()

	w := b.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	b.decode(w, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Sessions)

	w = b.do(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), Version)
}

func TestCookiesEndpoint(t *testing.T) {
	b := newBridge(t)

	w := b.do(http.MethodGet, "/cookies?url=relative", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = b.do(http.MethodGet, "/cookies?url="+url.QueryEscape("https://none.test/"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cookie":null}`, w.Body.String())
}
