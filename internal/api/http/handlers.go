package http

import (
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/cookies"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/resource"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/session"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/shared/types"
)

const (
	// MaxDescriptorSize bounds the JSON body of a fetch call.
	MaxDescriptorSize = 32 * 1024 * 1024

	// EOFHeader marks the end of a response body.
	EOFHeader = "X-Body-Eof"

	sessionKey = "session"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions *session.Manager
	jar      *cookies.Jar
}

// NewHandlers creates a new handler set. jar may be nil.
func NewHandlers(sessions *session.Manager, jar *cookies.Jar) *Handlers {
	return &Handlers{
		sessions: sessions,
		jar:      jar,
	}
}

// Register mounts the bridge routes on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/cookies", h.Cookies)

	r.POST("/sessions", h.CreateSession)
	s := r.Group("/sessions/:sid", h.requireSession)
	s.DELETE("", h.DeleteSession)
	s.POST("/fetch", h.StartFetch)
	s.POST("/fetch/:rid/cancel", h.CancelFetch)
	s.POST("/fetch/:rid/send", h.SendFetch)
	s.GET("/body/:rid", h.ReadBody)
	s.DELETE("/body/:rid", h.CloseBody)
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "AgentOS fetch bridge",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	jar := gin.H{"enabled": h.jar != nil}
	if h.jar != nil {
		jar["persistent"] = h.jar.Path() != ""
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": h.sessions.Len(),
		"cookies":  jar,
	})
}

// CreateSession starts a session
func (h *Handlers) CreateSession(c *gin.Context) {
	s, err := h.sessions.Create()
	if err != nil {
		abortWith(c, http.StatusServiceUnavailable, kindUnavailable, err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": s.ID})
}

// DeleteSession closes a session and everything it holds
func (h *Handlers) DeleteSession(c *gin.Context) {
	h.sessions.Delete(c.Param("sid"))
	c.Status(http.StatusNoContent)
}

// StartFetch builds a request from the descriptor in the body and starts it
func (h *Handlers) StartFetch(c *gin.Context) {
	s := sessionFrom(c)

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxDescriptorSize+1))
	if err != nil {
		abortWith(c, http.StatusBadRequest, kindInvalidRequest, "failed to read request body")
		return
	}
	if len(data) > MaxDescriptorSize {
		abortWith(c, http.StatusRequestEntityTooLarge, kindInvalidRequest, "request descriptor too large")
		return
	}

	var desc types.RequestDescriptor
	if err := sonic.Unmarshal(data, &desc); err != nil {
		abortWith(c, http.StatusBadRequest, kindInvalidRequest, "invalid request descriptor: "+err.Error())
		return
	}

	rid, err := s.Orchestrator.Start(&desc)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rid": uint32(rid)})
}

// CancelFetch fires the abort signal of a fetch. It always succeeds.
func (h *Handlers) CancelFetch(c *gin.Context) {
	if rid, ok := parseHandle(c); ok {
		sessionFrom(c).Orchestrator.Cancel(rid)
	}
	c.Status(http.StatusNoContent)
}

// SendFetch waits for the response headers of a fetch
func (h *Handlers) SendFetch(c *gin.Context) {
	rid, ok := parseHandle(c)
	if !ok {
		abortWith(c, http.StatusBadRequest, kindInvalidRequest, "invalid rid")
		return
	}

	resp, err := sessionFrom(c).Orchestrator.Await(c.Request.Context(), rid)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ReadBody returns the next chunk of a response body
func (h *Handlers) ReadBody(c *gin.Context) {
	rid, ok := parseHandle(c)
	if !ok {
		abortWith(c, http.StatusBadRequest, kindInvalidRequest, "invalid rid")
		return
	}

	chunk, eof, err := sessionFrom(c).Orchestrator.ReadChunk(c.Request.Context(), rid)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if eof {
		c.Header(EOFHeader, "true")
		c.Status(http.StatusNoContent)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", chunk)
}

// CloseBody releases a response body. It always succeeds.
func (h *Handlers) CloseBody(c *gin.Context) {
	if rid, ok := parseHandle(c); ok {
		sessionFrom(c).Orchestrator.CloseBody(rid)
	}
	c.Status(http.StatusNoContent)
}

// Cookies returns the Cookie header the jar would send to ?url=
func (h *Handlers) Cookies(c *gin.Context) {
	if h.jar == nil {
		abortWith(c, http.StatusNotFound, kindUnavailable, "cookie jar disabled")
		return
	}
	u, err := url.Parse(c.Query("url"))
	if err != nil || !u.IsAbs() {
		abortWith(c, http.StatusBadRequest, kindInvalidRequest, "url must be absolute")
		return
	}

	value, ok := h.jar.CookieHeader(u)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"cookie": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cookie": value})
}

func (h *Handlers) requireSession(c *gin.Context) {
	s, ok := h.sessions.Get(c.Param("sid"))
	if !ok {
		abortWith(c, http.StatusNotFound, kindSessionNotFound, "session not found")
		return
	}
	c.Set(sessionKey, s)
	c.Next()
}

func sessionFrom(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}

func parseHandle(c *gin.Context) (resource.Handle, bool) {
	n, err := strconv.ParseUint(c.Param("rid"), 10, 32)
	if err != nil {
		return 0, false
	}
	return resource.Handle(n), true
}
