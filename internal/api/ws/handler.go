package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/fetch"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/session"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/shared/types"
)

const (
	// MaxCommandSize bounds one client frame; it carries a whole request body.
	MaxCommandSize = 32 * 1024 * 1024

	writeTimeout = 10 * time.Second
	eventBuffer  = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // The front end runs on a custom scheme
	},
}

// Handler manages WebSocket connections
type Handler struct {
	sessions *session.Manager
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithMetrics records connection counts.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler creates a new WebSocket handler
func NewHandler(sessions *session.Manager, opts ...Option) *Handler {
	h := &Handler{
		sessions: sessions,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleConnection upgrades the request and serves streaming commands
// until the client goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	sid := c.Param("sid")
	s, ok := h.sessions.Get(sid)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found", "kind": "SessionNotFound"})
		return
	}
	streamer, err := s.OpenStream()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error(), "kind": "SessionNotFound"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.CloseStream(streamer)
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(MaxCommandSize)

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	events := make(chan types.Event, eventBuffer)
	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, events, stop)
	}()

	h.readLoop(conn, streamer, events, stop)

	// No run sends after Close returns.
	s.CloseStream(streamer)
	close(stop)
	<-writerDone
	h.logger.Debug("stream closed", zap.String("session_id", sid))
}

func (h *Handler) readLoop(conn *websocket.Conn, streamer *fetch.Streamer, events chan<- types.Event, stop <-chan struct{}) {
	reply := func(ev types.Event) {
		select {
		case events <- ev:
		case <-stop:
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}

		var cmd types.StreamCommand
		if err := sonic.Unmarshal(data, &cmd); err != nil {
			reply(rejected(0, "InvalidRequest", "invalid command: "+err.Error()))
			continue
		}

		switch cmd.Type {
		case types.CommandFetch:
			if cmd.Request == nil {
				reply(rejected(cmd.RequestID, "InvalidRequest", "missing request"))
				continue
			}
			if err := streamer.Start(cmd.Request, cmd.RequestID, events); err != nil {
				reply(rejected(cmd.RequestID, rejectKind(err), err.Error()))
			}
		case types.CommandCancel:
			streamer.Cancel(cmd.RequestID)
		case types.CommandPing:
			reply(types.Event{RequestID: cmd.RequestID, Type: types.EventPong})
		default:
			reply(rejected(cmd.RequestID, "InvalidRequest", "unknown message type"))
		}
	}
}

// writeLoop is the only writer on conn.
func (h *Handler) writeLoop(conn *websocket.Conn, events <-chan types.Event, stop <-chan struct{}) {
	broken := false
	for {
		select {
		case ev := <-events:
			if broken {
				continue
			}
			if err := h.send(conn, ev); err != nil {
				h.logger.Debug("WebSocket write error", zap.Error(err))
				broken = true
				// Unblock the read loop.
				conn.Close()
			}
		case <-stop:
			return
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, ev types.Event) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func rejected(id uint64, kind, msg string) types.Event {
	return types.Event{RequestID: id, Type: types.EventRejected, Kind: kind, Message: msg}
}

func rejectKind(err error) string {
	switch {
	case errors.Is(err, fetch.ErrDuplicateRequest):
		return "DuplicateRequest"
	case errors.Is(err, fetch.ErrStreamerClosed):
		return "StreamClosed"
	default:
		return fetch.KindOf(err).String()
	}
}
