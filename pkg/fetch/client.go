package fetch

import (
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"

	"github.com/Sriram-PR/page-mirror/pkg/config"
	"github.com/Sriram-PR/page-mirror/pkg/utils"
)

const maxRedirects = 10

// userAgentTransport sets a default User-Agent on requests that carry none
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent == "" || req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	// RoundTrippers must not modify the caller's request
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(clone)
}

// NewClient creates the HTTP session shared by the root page and every asset
// request of a run: one connection pool, one cookie jar, one default User-Agent.
func NewClient(cfg config.HTTPClientConfig, userAgent string, log *logrus.Entry) (*http.Client, error) {
	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout,
		KeepAlive: cfg.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
		MaxResponseHeaderBytes: 1 << 20,
	}
	if cfg.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *cfg.ForceAttemptHTTP2
	}

	// Cookies set by the page (consent, session) are replayed on asset requests
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("%w: cookie jar: %w", utils.ErrRequestCreation, err)
	}

	client := &http.Client{
		Timeout:   cfg.Timeout,
		Jar:       jar,
		Transport: &userAgentTransport{base: transport, userAgent: userAgent},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}
	log.WithField("user_agent", userAgent).Debug("HTTP client initialized")
	return client, nil
}
