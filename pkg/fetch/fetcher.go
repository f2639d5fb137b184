package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/page-mirror/pkg/utils"
)

// Limits bundles the shared politeness controls a Fetcher applies to every
// request. Any field may be nil to disable that control.
type Limits struct {
	Global         *semaphore.Weighted // Caps requests in flight across all hosts
	Hosts          *HostSemaphorePool  // Caps requests in flight per host
	Rate           *RateLimiter        // Spaces requests to the same host
	AcquireTimeout time.Duration       // Upper bound on waiting for the global semaphore
}

// Request describes one GET issued through a Fetcher
type Request struct {
	URL       string
	UserAgent string        // Overrides the client default when set
	Delay     time.Duration // Per-host delay; 0 uses the rate limiter's default

	// Timeout bounds the wait for response headers and then every silent
	// stretch of the body. It starts once the permits and the politeness delay
	// are through, so time queued behind other requests is not counted. 0 disables.
	Timeout time.Duration
}


// Fetcher performs single-attempt GET requests through a shared client and
// maps non-2xx responses onto the HTTP error sentinels. There are no retries:
// a failed asset is left as a remote reference rather than re-requested.
type Fetcher struct {
	client *http.Client
	limits Limits
	log    *logrus.Entry
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, limits Limits, log *logrus.Entry) *Fetcher {
	return &Fetcher{client: client, limits: limits, log: log}
}

// Get issues the request and returns the response on a 2xx status. The caller
// must close the body; closing it also returns the semaphore permits, so a
// slow body keeps counting against the limits while it streams.
// Any other status drains the body and returns nil with a wrapped sentinel.
func (f *Fetcher) Get(ctx context.Context, r Request) (*http.Response, error) {
	target, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL '%s': %w", utils.ErrParsing, r.URL, err)
	}
	host := target.Hostname()
	reqLog := f.log.WithFields(logrus.Fields{"url": r.URL, "host": host})

	release, err := f.acquire(ctx, host)
	if err != nil {
		return nil, err
	}

	if f.limits.Rate != nil {
		f.limits.Rate.ApplyDelay(ctx, host, r.Delay)
	}

	reqCtx, idle := newIdleContext(ctx, r.Timeout)
	done := func() {
		idle.stop()
		release()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		done()
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}

	resp, err := f.client.Do(req)
	if f.limits.Rate != nil {
		f.limits.Rate.UpdateLastRequestTime(host)
	}
	if err != nil {
		err = idle.explain(err)
		done()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			reqLog.Debugf("Request cancelled or timed out: %v", err)
		}
		return nil, err
	}

	if statusErr := statusError(resp.StatusCode); statusErr != nil {
		reqLog.WithField("status_code", resp.StatusCode).Debug("Non-success status")
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		done()
		return nil, statusErr
	}

	idle.touch()
	resp.Body = &releasingBody{ReadCloser: resp.Body, idle: idle, release: done}
	reqLog.WithField("status_code", resp.StatusCode).Debug("Fetched")
	return resp, nil
}

// acquire takes a global and a per-host permit and returns a func releasing both once
func (f *Fetcher) acquire(ctx context.Context, host string) (func(), error) {
	if g := f.limits.Global; g != nil {
		acquireCtx := ctx
		if f.limits.AcquireTimeout > 0 {
			var cancel context.CancelFunc
			acquireCtx, cancel = context.WithTimeout(ctx, f.limits.AcquireTimeout)
			defer cancel()
		}
		if err := g.Acquire(acquireCtx, 1); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: global: %w", utils.ErrSemaphoreTimeout, err)
		}
	}
	if h := f.limits.Hosts; h != nil {
		if err := h.Acquire(ctx, host); err != nil {
			if f.limits.Global != nil {
				f.limits.Global.Release(1)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: host '%s': %w", utils.ErrSemaphoreTimeout, host, err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if f.limits.Hosts != nil {
				f.limits.Hosts.Release(host)
			}
			if f.limits.Global != nil {
				f.limits.Global.Release(1)
			}
		})
	}, nil
}

// statusError maps a status code to its sentinel; nil for 2xx
func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 400 && code < 500:
		return fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, code, http.StatusText(code))
	case code >= 500:
		return fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, code, http.StatusText(code))
	default:
		return fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, code, http.StatusText(code))
	}
}

// idleContext cancels its context once no progress has been reported for
// timeout. A zero timeout never cancels.
type idleContext struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	timer   *time.Timer
	timeout time.Duration
}

func newIdleContext(parent context.Context, timeout time.Duration) (context.Context, *idleContext) {
	ctx, cancel := context.WithCancelCause(parent)
	ic := &idleContext{ctx: ctx, cancel: cancel, timeout: timeout}
	if timeout > 0 {
		ic.timer = time.AfterFunc(timeout, func() { cancel(utils.ErrIdleTimeout) })
	}
	return ctx, ic
}

// touch restarts the countdown
func (ic *idleContext) touch() {
	if ic.timer != nil {
		ic.timer.Reset(ic.timeout)
	}
}

func (ic *idleContext) stop() {
	if ic.timer != nil {
		ic.timer.Stop()
	}
	ic.cancel(context.Canceled)
}

// explain wraps a transport error caused by the idle countdown in utils.ErrIdleTimeout
func (ic *idleContext) explain(err error) error {
	if err == nil || err == io.EOF || !errors.Is(context.Cause(ic.ctx), utils.ErrIdleTimeout) {
		return err
	}
	return fmt.Errorf("%w after %v: %w", utils.ErrIdleTimeout, ic.timeout, err)
}

// releasingBody returns the request's permits when the body is closed and
// keeps the idle countdown alive while data arrives
type releasingBody struct {
	io.ReadCloser
	idle    *idleContext
	release func()
}

func (b *releasingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.idle.touch()
	}
	return n, b.idle.explain(err)
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}
