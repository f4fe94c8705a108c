package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/vincent-petithory/dataurl"
	"golang.org/x/net/http/httpguts"

	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/shared/types"
)

// DefaultAcceptEncoding is advertised when the caller sets no
// Accept-Encoding. Matching response bodies are decoded transparently.
const DefaultAcceptEncoding = "gzip, deflate, zstd"

// Methods normalized to upper case, as browsers do.
var normalizedMethods = []string{
	http.MethodDelete,
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPost,
	http.MethodPut,
}

// Builder turns request descriptors into prepared requests. It performs no
// I/O and is safe for concurrent use.
type Builder struct {
	base      *http.Transport
	jar       http.CookieJar
	userAgent string
	logger    *logging.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithCookieJar attaches a cookie jar to every prepared request.
func WithCookieJar(jar http.CookieJar) BuilderOption {
	return func(b *Builder) {
		b.jar = jar
	}
}

// WithUserAgent sets the User-Agent used when neither the headers nor the
// descriptor carry one.
func WithUserAgent(ua string) BuilderOption {
	return func(b *Builder) {
		b.userAgent = ua
	}
}

// WithLogger sets the logger handed to the HTTP client.
func WithLogger(l *logging.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = l
	}
}

// NewBuilder creates a Builder on top of a pooled transport.
func NewBuilder(opts ...BuilderOption) *Builder {
	// Only the pooled transport is used; fetches are never retried.
	retryClient := retryablehttp.NewClient()
	base := retryClient.HTTPClient.Transport.(*http.Transport)
	base.DisableCompression = true

	b := &Builder{
		base:   base,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CloseIdleConnections closes idle pooled connections.
func (b *Builder) CloseIdleConnections() {
	b.base.CloseIdleConnections()
}

// Request is a prepared outbound request.
type Request struct {
	Method string
	URL    *url.URL
	// Header is the outbound header set after defaults were applied.
	Header http.Header

	decode bool
	req    *resty.Request
	data   *dataurl.DataURL
	rawURL string
}

// Scheme returns the URL scheme of the request.
func (r *Request) Scheme() string {
	return r.URL.Scheme
}

// Build validates desc and prepares the request it describes.
func (b *Builder) Build(desc *types.RequestDescriptor) (*Request, error) {
	const op = "build"

	method, err := normalizeMethod(desc.Method)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(desc.URL)
	if err != nil {
		return nil, newError(KindInvalidURL, op, err)
	}
	if !u.IsAbs() {
		return nil, errorf(KindInvalidURL, op, "relative url %q", desc.URL)
	}

	header, err := buildHeader(desc.Headers)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return nil, errorf(KindInvalidURL, op, "missing host in %q", desc.URL)
		}
	case "data":
		return b.buildData(method, u, desc.URL, header)
	default:
		return nil, errorf(KindSchemeNotSupported, op, "scheme %q", u.Scheme)
	}

	if desc.Data == nil && (method == http.MethodPost || method == http.MethodPut) {
		header.Set("Content-Length", "0")
	}

	decode := false
	if header.Get("Range") != "" {
		header.Set("Accept-Encoding", "identity")
	} else if header.Get("Accept-Encoding") == "" {
		header.Set("Accept-Encoding", DefaultAcceptEncoding)
		decode = true
	}

	if header.Get("User-Agent") == "" {
		ua := b.userAgent
		if desc.UserAgent != nil && *desc.UserAgent != "" {
			ua = *desc.UserAgent
		}
		if ua != "" {
			if !httpguts.ValidHeaderFieldValue(ua) {
				return nil, errorf(KindInvalidHeader, op, "invalid user agent %q", ua)
			}
			header.Set("User-Agent", ua)
		}
	}

	transport, err := b.transport(desc)
	if err != nil {
		return nil, err
	}

	client := resty.New().
		SetTransport(transport).
		SetLogger(b.logger.Resty()).
		SetDoNotParseResponse(true).
		SetAllowGetMethodPayload(true).
		SetCookieJar(b.jar).
		SetPreRequestHook(outboundHook(header))

	if desc.MaxRedirections != nil {
		client.SetRedirectPolicy(redirectCap(*desc.MaxRedirections))
	}

	req := client.R()
	req.Header = header.Clone()
	if desc.Data != nil {
		req.SetBody([]byte(desc.Data))
	}

	return &Request{
		Method: method,
		URL:    u,
		Header: header,
		decode: decode,
		req:    req,
		rawURL: desc.URL,
	}, nil
}

// outboundHook undoes headers the client library adds on its own, so the
// wire request carries only what the caller asked for.
func outboundHook(header http.Header) resty.PreRequestHook {
	keepContentType := header.Get("Content-Type") != ""
	keepAccept := header.Get("Accept") != ""
	host := header.Get("Host")

	return func(_ *resty.Client, req *http.Request) error {
		if !keepContentType {
			req.Header.Del("Content-Type")
		}
		if !keepAccept {
			req.Header.Del("Accept")
		}
		if host != "" {
			req.Host = host
		}
		return nil
	}
}

// redirectCap follows at most n redirects. With n <= 0 the redirect response
// itself is returned.
func redirectCap(n int) resty.RedirectPolicy {
	return resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
		if n <= 0 {
			return http.ErrUseLastResponse
		}
		if len(via) > n {
			return fmt.Errorf("stopped after %d redirects", n)
		}
		return nil
	})
}

// transport returns the shared pooled transport when the descriptor needs
// nothing special, otherwise a private clone that does not keep connections.
func (b *Builder) transport(desc *types.RequestDescriptor) (*http.Transport, error) {
	danger := desc.Danger != nil && (desc.Danger.AcceptInvalidCerts || desc.Danger.AcceptInvalidHostnames)
	if desc.ConnectTimeout == nil && desc.Proxy == nil && !danger {
		return b.base, nil
	}

	t := b.base.Clone()
	t.DisableKeepAlives = true

	if desc.ConnectTimeout != nil {
		dialer := &net.Dialer{
			Timeout:   time.Duration(*desc.ConnectTimeout) * time.Millisecond,
			KeepAlive: 30 * time.Second,
		}
		t.DialContext = dialer.DialContext
	}

	if desc.Proxy != nil {
		proxy, err := proxyFunc(desc.Proxy)
		if err != nil {
			return nil, err
		}
		t.Proxy = proxy
	}

	if danger {
		t.TLSClientConfig = dangerTLS(t.TLSClientConfig, desc.Danger)
	}
	return t, nil
}

// Send performs the request. The response body belongs to the caller.
func (r *Request) Send(ctx context.Context) (*response, error) {
	if r.data != nil {
		return dataResponse(r.rawURL, r.data), nil
	}

	resp, err := r.req.SetContext(ctx).Execute(r.Method, r.URL.String())
	if err != nil {
		if resp != nil && resp.RawResponse != nil {
			resp.RawResponse.Body.Close()
		}
		return nil, err
	}
	return newResponse(resp.RawResponse, r.decode), nil
}

func normalizeMethod(method string) (string, error) {
	if !httpguts.ValidHeaderFieldName(method) {
		return "", errorf(KindInvalidMethod, "build", "invalid method %q", method)
	}
	for _, std := range normalizedMethods {
		if strings.EqualFold(method, std) {
			return std, nil
		}
	}
	return method, nil
}

func buildHeader(pairs []types.Header) (http.Header, error) {
	header := make(http.Header, len(pairs))
	for _, pair := range pairs {
		name, value := pair[0], pair[1]
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, errorf(KindInvalidHeader, "build", "invalid header name %q", name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, errorf(KindInvalidHeader, "build", "invalid value for header %q", name)
		}
		header.Add(name, value)
	}
	return header, nil
}

func dangerTLS(base *tls.Config, danger *types.Danger) *tls.Config {
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{}
	}

	cfg.InsecureSkipVerify = true
	if !danger.AcceptInvalidCerts {
		cfg.VerifyConnection = verifyChainOnly(cfg.RootCAs)
	}
	return cfg
}
