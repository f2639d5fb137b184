package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sriram-PR/page-mirror/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// NumWorkers
	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 2")
		c.NumWorkers = 2
	}

	// NumAssetWorkers
	if c.NumAssetWorkers <= 0 {
		warnings = append(warnings, "num_asset_workers not specified or invalid, defaulting to 8")
		c.NumAssetWorkers = 8
	}

	// MaxRequests
	if c.MaxRequests <= 0 {
		warnings = append(warnings, "max_requests should be > 0, defaulting to 16")
		c.MaxRequests = 16
	}

	// MaxRequestsPerHost
	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, "max_requests_per_host should be > 0, defaulting to 4")
		c.MaxRequestsPerHost = 4
	}
	if c.MaxRequestsPerHost > c.MaxRequests {
		warnings = append(warnings, fmt.Sprintf(
			"max_requests_per_host (%d) > max_requests (%d), capping per-host limit",
			c.MaxRequestsPerHost, c.MaxRequests))
		c.MaxRequestsPerHost = c.MaxRequests
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './mirrors'")
		c.OutputBaseDir = "./mirrors"
	}

	// StateDir is optional: empty keeps asset state in memory

	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	if c.GlobalTimeout < 0 {
		warnings = append(warnings, "global_timeout cannot be negative, disabling timeout")
		c.GlobalTimeout = 0
	}

	// PageTimeout / AssetTimeout
	if c.PageTimeout <= 0 {
		c.PageTimeout = 15 * time.Second
	}
	if c.AssetTimeout <= 0 {
		c.AssetTimeout = 10 * time.Second
	}

	if c.DefaultDelayPerHost < 0 {
		warnings = append(warnings, "default_delay_per_host cannot be negative, setting to 0")
		c.DefaultDelayPerHost = 0
	}

	// MaxAssetSizeBytes
	if c.MaxAssetSizeBytes < 0 {
		warnings = append(warnings, "max_asset_size_bytes cannot be negative, setting to 0 (unlimited)")
		c.MaxAssetSizeBytes = 0
	}

	if _, errRe := utils.CompileRegexPatterns(c.SkipAssetPatterns); errRe != nil {
		return warnings, fmt.Errorf("skip_asset_patterns: %w", errRe)
	}

	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 60 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 4
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks PageConfig fields and applies defaults.
// A missing or non-http(s) URL is fatal.
func (c *PageConfig) Validate() (warnings []string, err error) {
	c.URL = strings.TrimSpace(c.URL)
	if c.URL == "" {
		return nil, fmt.Errorf("%w: page has no url", utils.ErrConfigValidation)
	}
	if _, errURL := ParsePageURL(c.URL); errURL != nil {
		return nil, errURL
	}

	if c.AssetTimeout < 0 {
		warnings = append(warnings, "Page asset_timeout cannot be negative, using global value")
		c.AssetTimeout = 0
	}

	if c.DelayPerHost < 0 {
		warnings = append(warnings, "Page delay_per_host cannot be negative, using global value")
		c.DelayPerHost = 0
	}

	if c.MaxAssetSizeBytes != nil && *c.MaxAssetSizeBytes < 0 {
		warnings = append(warnings, "Page max_asset_size_bytes cannot be negative, setting to 0 (unlimited override)")
		zero := int64(0)
		c.MaxAssetSizeBytes = &zero
	}

	if _, errRe := utils.CompileRegexPatterns(c.SkipAssetPatterns); errRe != nil {
		return warnings, fmt.Errorf("skip_asset_patterns: %w", errRe)
	}

	return warnings, nil
}

// ParsePageURL parses a page URL and requires an absolute http(s) URL with a host
func ParsePageURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid page url '%s': %w", utils.ErrConfigValidation, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: page url '%s' must use http or https", utils.ErrConfigValidation, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: page url '%s' has no host", utils.ErrConfigValidation, raw)
	}
	return u, nil
}
