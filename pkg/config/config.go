package config

import "time"

// DefaultUserAgent is a desktop browser string; some hosts refuse asset
// requests from obvious non-browser clients
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// PageConfig holds configuration specific to a single page mirror
type PageConfig struct {
	URL                  string        `yaml:"url"`
	OutputDir            string        `yaml:"output_dir,omitempty"` // Explicit output root; derived from title and domain when empty
	UserAgent            string        `yaml:"user_agent,omitempty"`
	DelayPerHost         time.Duration `yaml:"delay_per_host,omitempty"`
	AssetTimeout         time.Duration `yaml:"asset_timeout,omitempty"`
	MaxAssetSizeBytes    *int64        `yaml:"max_asset_size_bytes,omitempty"`
	RespectRobots        *bool         `yaml:"respect_robots,omitempty"`
	SkipAssetPatterns    []string      `yaml:"skip_asset_patterns,omitempty"` // Regex patterns, added to the global list
	RewriteStyleElements *bool         `yaml:"rewrite_style_elements,omitempty"`
	WriteTreeFile        *bool         `yaml:"write_tree_file,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent        string                `yaml:"default_user_agent"`
	DefaultDelayPerHost     time.Duration         `yaml:"default_delay_per_host"`
	NumWorkers              int                   `yaml:"num_workers"` // Pages mirrored in parallel by batch
	NumAssetWorkers         int                   `yaml:"num_asset_workers,omitempty"`
	MaxRequests             int                   `yaml:"max_requests"`
	MaxRequestsPerHost      int                   `yaml:"max_requests_per_host"`
	OutputBaseDir           string                `yaml:"output_base_dir"`
	StateDir                string                `yaml:"state_dir"` // Badger asset state; empty disables persistence
	SemaphoreAcquireTimeout time.Duration         `yaml:"semaphore_acquire_timeout,omitempty"`
	GlobalTimeout           time.Duration         `yaml:"global_timeout,omitempty"`
	PageTimeout             time.Duration         `yaml:"page_timeout,omitempty"`  // Root document request; idle limit, queueing excluded
	AssetTimeout            time.Duration         `yaml:"asset_timeout,omitempty"` // Each asset request; idle limit, queueing excluded
	MaxAssetSizeBytes       int64                 `yaml:"max_asset_size_bytes,omitempty"`
	RespectRobots           bool                  `yaml:"respect_robots,omitempty"`
	SkipAssetPatterns       []string              `yaml:"skip_asset_patterns,omitempty"`
	RewriteStyleElements    *bool                 `yaml:"rewrite_style_elements,omitempty"` // nil means enabled
	WriteTreeFile           bool                  `yaml:"write_tree_file,omitempty"`
	HTTPClientSettings      HTTPClientConfig      `yaml:"http_client_settings,omitempty"`
	Pages                   map[string]PageConfig `yaml:"pages"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Hard ceiling; per-request contexts are usually shorter
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// GetEffectiveUserAgent returns the page override, the global default, or the built-in browser string
func GetEffectiveUserAgent(pageCfg PageConfig, appCfg AppConfig) string {
	if pageCfg.UserAgent != "" {
		return pageCfg.UserAgent
	}
	if appCfg.DefaultUserAgent != "" {
		return appCfg.DefaultUserAgent
	}
	return DefaultUserAgent
}

// GetEffectiveDelayPerHost determines the politeness delay between requests to one host
func GetEffectiveDelayPerHost(pageCfg PageConfig, appCfg AppConfig) time.Duration {
	if pageCfg.DelayPerHost > 0 {
		return pageCfg.DelayPerHost
	}
	return appCfg.DefaultDelayPerHost
}

// GetEffectiveAssetTimeout determines the per-asset request timeout
func GetEffectiveAssetTimeout(pageCfg PageConfig, appCfg AppConfig) time.Duration {
	if pageCfg.AssetTimeout > 0 {
		return pageCfg.AssetTimeout
	}
	return appCfg.AssetTimeout
}

// GetEffectiveMaxAssetSize determines the effective max asset size (0 = unlimited)
func GetEffectiveMaxAssetSize(pageCfg PageConfig, appCfg AppConfig) int64 {
	if pageCfg.MaxAssetSizeBytes != nil {
		return *pageCfg.MaxAssetSizeBytes
	}
	return appCfg.MaxAssetSizeBytes
}

// GetEffectiveRespectRobots determines whether robots.txt is consulted for assets
func GetEffectiveRespectRobots(pageCfg PageConfig, appCfg AppConfig) bool {
	if pageCfg.RespectRobots != nil {
		return *pageCfg.RespectRobots
	}
	return appCfg.RespectRobots
}

// GetEffectiveSkipAssetPatterns returns the global patterns followed by the page's own
func GetEffectiveSkipAssetPatterns(pageCfg PageConfig, appCfg AppConfig) []string {
	patterns := make([]string, 0, len(appCfg.SkipAssetPatterns)+len(pageCfg.SkipAssetPatterns))
	patterns = append(patterns, appCfg.SkipAssetPatterns...)
	return append(patterns, pageCfg.SkipAssetPatterns...)
}

// GetEffectiveRewriteStyleElements determines whether <style> element text is rewritten.
// Enabled unless turned off at page or global level.
func GetEffectiveRewriteStyleElements(pageCfg PageConfig, appCfg AppConfig) bool {
	if pageCfg.RewriteStyleElements != nil {
		return *pageCfg.RewriteStyleElements
	}
	if appCfg.RewriteStyleElements != nil {
		return *appCfg.RewriteStyleElements
	}
	return true
}

// GetEffectiveWriteTreeFile determines whether a layout listing is written beside the output root
func GetEffectiveWriteTreeFile(pageCfg PageConfig, appCfg AppConfig) bool {
	if pageCfg.WriteTreeFile != nil {
		return *pageCfg.WriteTreeFile
	}
	return appCfg.WriteTreeFile
}
