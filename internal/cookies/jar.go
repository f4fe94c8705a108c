package cookies

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	cookiejar "github.com/juju/persistent-cookiejar"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/infrastructure/monitoring"
)

// ErrSaveSuperseded is delivered to a save that was replaced by a newer one
// before it reached the disk.
var ErrSaveSuperseded = errors.New("cookie save superseded")

// DefaultSaveDelay is how long a save waits for further mutations.
const DefaultSaveDelay = 250 * time.Millisecond

// Jar is a cookie store backed by a file. It implements http.CookieJar.
type Jar struct {
	path    string
	delay   time.Duration
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu    sync.Mutex
	store *cookiejar.Jar

	// taskMu is always acquired before mu.
	taskMu sync.Mutex
	task   *saveTask
}

type saveTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Jar.
type Option func(*Jar)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(j *Jar) {
		j.logger = l
	}
}

// WithMetrics records save results.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(j *Jar) {
		j.metrics = m
	}
}

// WithSaveDelay sets the debounce delay of RequestSave. Zero saves at once.
func WithSaveDelay(d time.Duration) Option {
	return func(j *Jar) {
		if d >= 0 {
			j.delay = d
		}
	}
}

// Open loads the jar stored at path. An empty path gives a memory-only jar.
// A missing file gives an empty jar; so does an unreadable or corrupt one,
// which is logged and overwritten by the next save.
func Open(path string, opts ...Option) *Jar {
	j := &Jar{
		path:   path,
		delay:  DefaultSaveDelay,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(j)
	}

	if path != "" {
		// The engine takes a lock file next to the jar while loading.
		_ = os.MkdirAll(filepath.Dir(path), 0o700)
	}
	store, err := cookiejar.New(&cookiejar.Options{
		Filename:         path,
		NoPersist:        path == "",
		PublicSuffixList: publicsuffix.List,
	})
	if err != nil {
		j.logger.Warn("cookie file unusable, starting empty", zap.String("path", path), zap.Error(err))
		store, _ = cookiejar.New(&cookiejar.Options{
			NoPersist:        true,
			PublicSuffixList: publicsuffix.List,
		})
	}
	j.store = store
	return j
}

// Path returns the backing file, or "" for a memory-only jar.
func (j *Jar) Path() string {
	return j.path
}

// SetCookies stores cookies received from u and schedules a save.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	j.mu.Lock()
	j.store.SetCookies(u, cookies)
	j.mu.Unlock()

	j.RequestSave()
}

// Cookies returns the cookies to send to u.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.store.Cookies(u)
}

// SetCookieHeaders parses raw Set-Cookie header values received from u.
// Malformed values are dropped.
func (j *Jar) SetCookieHeaders(u *url.URL, headers []string) {
	cookies := make([]*http.Cookie, 0, len(headers))
	for _, h := range headers {
		c, err := http.ParseSetCookie(h)
		if err != nil {
			j.logger.Debug("dropping malformed cookie", zap.String("url", u.Redacted()), zap.Error(err))
			continue
		}
		cookies = append(cookies, c)
	}
	j.SetCookies(u, cookies)
}

// CookieHeader returns the Cookie header value for u. ok is false when no
// cookie applies.
func (j *Jar) CookieHeader(u *url.URL) (value string, ok bool) {
	cookies := j.Cookies(u)
	if len(cookies) == 0 {
		return "", false
	}
	parts := make([]string, len(cookies))
	for i, c := range cookies {
		parts[i] = c.Name + "=" + c.Value
	}
	return strings.Join(parts, "; "), true
}

// RequestSave schedules a save after the debounce delay and supersedes any
// save still pending. The returned channel receives exactly one value: nil,
// ErrSaveSuperseded or the write error.
func (j *Jar) RequestSave() <-chan error {
	return j.schedule(j.delay)
}

// Flush saves immediately and waits for the result.
func (j *Jar) Flush(ctx context.Context) error {
	select {
	case err := <-j.schedule(0):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Jar) schedule(delay time.Duration) <-chan error {
	result := make(chan error, 1)
	if j.path == "" {
		result <- nil
		return result
	}

	j.taskMu.Lock()
	defer j.taskMu.Unlock()

	prev := j.task
	if prev != nil {
		prev.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &saveTask{cancel: cancel, done: make(chan struct{})}
	j.task = task

	go func() {
		defer close(task.done)
		defer cancel()

		// Saves reach the disk in request order.
		if prev != nil {
			<-prev.done
		}
		err := j.save(ctx, delay)
		j.record(err)
		result <- err
	}()
	return result
}

func (j *Jar) save(ctx context.Context, delay time.Duration) error {
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ErrSaveSuperseded
		case <-timer.C:
		}
	}
	if ctx.Err() != nil {
		return ErrSaveSuperseded
	}

	j.mu.Lock()
	data, err := j.store.MarshalJSON()
	j.mu.Unlock()
	if err != nil {
		return fmt.Errorf("snapshot cookies: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return fmt.Errorf("create cookie dir: %w", err)
	}
	pending, err := renameio.NewPendingFile(j.path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending cookie file: %w", err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write cookie file: %w", err)
	}
	if ctx.Err() != nil {
		return ErrSaveSuperseded
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace cookie file: %w", err)
	}
	return nil
}

func (j *Jar) record(err error) {
	switch {
	case err == nil:
		j.metrics.RecordCookieSave(monitoring.SaveOK)
	case errors.Is(err, ErrSaveSuperseded):
		j.metrics.RecordCookieSave(monitoring.SaveSuperseded)
	default:
		j.metrics.RecordCookieSave(monitoring.SaveError)
		j.logger.Error("cookie save failed", zap.String("path", j.path), zap.Error(err))
	}
}
