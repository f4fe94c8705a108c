package corsproxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/infrastructure/resilience"
)

const (
	// RequestIDHeader carries the caller's cancellation id.
	RequestIDHeader = "X-Request-Id"
	// DefaultTimeout bounds a whole proxied exchange.
	DefaultTimeout = 30 * time.Second

	// StatusClientClosedRequest answers a request canceled by its caller.
	StatusClientClosedRequest = 499
)

var (
	// ErrDuplicateRequest is returned when a request id is already in flight.
	ErrDuplicateRequest = errors.New("request id already in flight")
	errCanceled         = errors.New("request canceled")
)

// strippedHeaders are upstream response headers that would stop the page
// from embedding or reusing the response.
var strippedHeaders = []string{
	"X-Frame-Options",
	"Strict-Transport-Security",
	"Content-Security-Policy",
	"Content-Security-Policy-Report-Only",
}

// hopHeaders are connection-level and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Content-Length",
	"Keep-Alive",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

var allowHeaders = []string{
	"Access-Control-Allow-Origin",
	"Access-Control-Allow-Methods",
	"Access-Control-Allow-Headers",
	"Access-Control-Allow-Credentials",
}

// Proxy is the CORS rewrite proxy.
type Proxy struct {
	client   *resty.Client
	breakers *resilience.Group
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	mu       sync.Mutex
	inflight map[uint64]context.CancelFunc
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Proxy) {
		p.logger = l
	}
}

// WithMetrics records proxied requests.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(p *Proxy) {
		p.metrics = m
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		if d > 0 {
			p.client.SetTimeout(d)
		}
	}
}

// New creates a proxy with its own pooled client.
func New(opts ...Option) *Proxy {
	retryClient := retryablehttp.NewClient()

	p := &Proxy{
		client: resty.New().
			SetTransport(retryClient.HTTPClient.Transport).
			SetTimeout(DefaultTimeout).
			SetCookieJar(nil).
			SetAllowGetMethodPayload(true),
		logger:   logging.Nop(),
		inflight: make(map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.client.SetLogger(p.logger.Resty())

	p.breakers = resilience.NewGroup(resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 10 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
		},
		OnStateChange: func(host string, from, to resilience.State) {
			p.logger.Warn("upstream breaker changed state",
				zap.String("host", host),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return p
}

// Close stops background work and drops idle connections.
func (p *Proxy) Close() {
	p.mu.Lock()
	for id, cancel := range p.inflight {
		cancel()
		delete(p.inflight, id)
	}
	p.mu.Unlock()

	p.breakers.Stop()
	p.client.GetClient().CloseIdleConnections()
}

// Cancel aborts the request with id. It reports whether it was running.
func (p *Proxy) Cancel(id uint64) bool {
	p.mu.Lock()
	cancel, ok := p.inflight[id]
	delete(p.inflight, id)
	p.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

func (p *Proxy) register(id uint64, cancel context.CancelFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, dup := p.inflight[id]; dup {
		return ErrDuplicateRequest
	}
	p.inflight[id] = cancel
	return nil
}

// finish unregisters id and reports whether it was still registered, i.e.
// not canceled.
func (p *Proxy) finish(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.inflight[id]
	delete(p.inflight, id)
	return ok
}

// Handle serves /cors/proxy/*target.
func (p *Proxy) Handle(c *gin.Context) {
	id, err := strconv.ParseUint(c.GetHeader(RequestIDHeader), 10, 64)
	if err != nil {
		p.metrics.RecordProxyRequest("bad_request")
		c.Status(http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	if err := p.register(id, cancel); err != nil {
		p.metrics.RecordProxyRequest("duplicate")
		c.String(http.StatusConflict, err.Error())
		return
	}

	status, header, body, err := p.forward(ctx, c)

	if !p.finish(id) {
		// The caller gave up on this id; nobody reads the answer.
		p.metrics.RecordProxyRequest("canceled")
		c.Status(StatusClientClosedRequest)
		return
	}

	if err != nil {
		status = http.StatusBadRequest
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
			status = http.StatusServiceUnavailable
		}
		p.logger.Debug("proxy request failed", zap.Uint64("request_id", id), zap.Error(err))
		header = http.Header{}
		body = []byte(err.Error())
	}

	out := c.Writer.Header()
	for name, values := range header {
		out[name] = values
	}
	for _, name := range allowHeaders {
		out.Set(name, "*")
	}

	p.metrics.RecordProxyRequest(strconv.Itoa(status))
	c.Status(status)
	if len(body) > 0 && c.Request.Method != http.MethodHead {
		_, _ = c.Writer.Write(body)
	}
}

// HandleCancel serves POST /cors/cancel/:id. It always answers 204.
func (p *Proxy) HandleCancel(c *gin.Context) {
	if id, err := strconv.ParseUint(c.Param("id"), 10, 64); err == nil {
		p.Cancel(id)
	}
	c.Status(http.StatusNoContent)
}

func (p *Proxy) forward(ctx context.Context, c *gin.Context) (int, http.Header, []byte, error) {
	if c.Request.Method == http.MethodOptions {
		return http.StatusOK, http.Header{}, nil, nil
	}

	target, err := Rewrite(c.Param("target"), c.Request.URL.RawQuery)
	if err != nil {
		return 0, nil, nil, err
	}

	header := c.Request.Header.Clone()
	header.Del(RequestIDHeader)
	for _, name := range hopHeaders {
		header.Del(name)
	}
	header.Set("Referer", target.String())
	header.Set("Origin", target.Scheme+"://"+target.Host)

	var body []byte
	if c.Request.Body != nil {
		body, err = c.GetRawData()
		if err != nil {
			return 0, nil, nil, fmt.Errorf("read request body: %w", err)
		}
	}

	req := p.client.R().SetContext(ctx)
	req.Header = header
	if len(body) > 0 {
		req.SetBody(body)
	}

	resp, err := resilience.Call(p.breakers.Get(target.Host), func() (*resty.Response, error) {
		return req.Execute(c.Request.Method, target.String())
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, nil, errCanceled
		}
		return 0, nil, nil, err
	}

	out := resp.Header().Clone()
	for _, name := range strippedHeaders {
		out.Del(name)
	}
	for _, name := range hopHeaders {
		out.Del(name)
	}
	return resp.StatusCode(), out, resp.Body(), nil
}

// Rewrite turns the proxied path into the upstream URL. x-http and x-https
// stand for http and https; plain schemes are accepted as well.
func Rewrite(path, rawQuery string) (*url.URL, error) {
	raw := strings.TrimPrefix(path, "/")
	switch {
	case strings.HasPrefix(raw, "x-https://"):
		raw = "https://" + strings.TrimPrefix(raw, "x-https://")
	case strings.HasPrefix(raw, "x-http://"):
		raw = "http://" + strings.TrimPrefix(raw, "x-http://")
	}
	if rawQuery != "" {
		raw += "?" + rawQuery
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid target %q", raw)
	}
	return u, nil
}
