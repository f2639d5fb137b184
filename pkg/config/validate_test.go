package config

import (
	"strings"
	"testing"
	"time"

	"github.com/Sriram-PR/page-mirror/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppConfig_Validate_Defaults(t *testing.T) {
	cfg := AppConfig{} // Zero value
	warnings, err := cfg.Validate()

	require.NoError(t, err)

	// Check defaults applied
	assert.Equal(t, 2, cfg.NumWorkers)
	assert.Equal(t, 8, cfg.NumAssetWorkers)
	assert.Equal(t, 16, cfg.MaxRequests)
	assert.Equal(t, 4, cfg.MaxRequestsPerHost)
	assert.Equal(t, "./mirrors", cfg.OutputBaseDir)
	assert.Empty(t, cfg.StateDir, "state_dir stays optional")
	assert.Equal(t, 30*time.Second, cfg.SemaphoreAcquireTimeout)
	assert.Equal(t, 15*time.Second, cfg.PageTimeout)
	assert.Equal(t, 10*time.Second, cfg.AssetTimeout)

	// Check HTTP client defaults
	assert.Equal(t, 60*time.Second, cfg.HTTPClientSettings.Timeout)
	assert.Equal(t, 100, cfg.HTTPClientSettings.MaxIdleConns)
	assert.Equal(t, 4, cfg.HTTPClientSettings.MaxIdleConnsPerHost)
	assert.Equal(t, 90*time.Second, cfg.HTTPClientSettings.IdleConnTimeout)
	assert.Equal(t, 10*time.Second, cfg.HTTPClientSettings.TLSHandshakeTimeout)
	assert.Equal(t, 1*time.Second, cfg.HTTPClientSettings.ExpectContinueTimeout)
	assert.Equal(t, 15*time.Second, cfg.HTTPClientSettings.DialerTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTPClientSettings.DialerKeepAlive)

	// Check warnings generated
	assert.True(t, containsWarning(warnings, "num_workers should be > 0"))
	assert.True(t, containsWarning(warnings, "num_asset_workers not specified"))
	assert.True(t, containsWarning(warnings, "max_requests should be > 0"))
	assert.True(t, containsWarning(warnings, "max_requests_per_host should be > 0"))
	assert.True(t, containsWarning(warnings, "output_base_dir is empty"))
	assert.False(t, containsWarning(warnings, "state_dir"))
}

func TestAppConfig_Validate_ValidConfig(t *testing.T) {
	cfg := AppConfig{
		NumWorkers:         3,
		NumAssetWorkers:    12,
		MaxRequests:        32,
		MaxRequestsPerHost: 6,
		OutputBaseDir:      "/output",
		StateDir:           "/state",
		PageTimeout:        20 * time.Second,
		AssetTimeout:       5 * time.Second,
		SkipAssetPatterns:  []string{`\.mp4$`},
		HTTPClientSettings: HTTPClientConfig{
			Timeout:      30 * time.Second,
			MaxIdleConns: 50,
		},
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Empty(t, warnings)

	// Values should be preserved
	assert.Equal(t, 3, cfg.NumWorkers)
	assert.Equal(t, 12, cfg.NumAssetWorkers)
	assert.Equal(t, 20*time.Second, cfg.PageTimeout)
	assert.Equal(t, 5*time.Second, cfg.AssetTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTPClientSettings.Timeout)
	assert.Equal(t, "/output", cfg.OutputBaseDir)
}

func TestAppConfig_Validate_NegativeValues(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*AppConfig)
		wantWarning string
		check       func(*testing.T, *AppConfig)
	}{
		{
			name:        "negative global_timeout",
			setup:       func(c *AppConfig) { c.GlobalTimeout = -1 * time.Second },
			wantWarning: "global_timeout cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, time.Duration(0), c.GlobalTimeout)
			},
		},
		{
			name:        "negative default_delay_per_host",
			setup:       func(c *AppConfig) { c.DefaultDelayPerHost = -time.Millisecond },
			wantWarning: "default_delay_per_host cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, time.Duration(0), c.DefaultDelayPerHost)
			},
		},
		{
			name:        "negative max_asset_size_bytes",
			setup:       func(c *AppConfig) { c.MaxAssetSizeBytes = -100 },
			wantWarning: "max_asset_size_bytes cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, int64(0), c.MaxAssetSizeBytes)
			},
		},
		{
			name: "per-host limit above global limit",
			setup: func(c *AppConfig) {
				c.MaxRequests = 2
				c.MaxRequestsPerHost = 5
			},
			wantWarning: "capping per-host limit",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, 2, c.MaxRequestsPerHost)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{
				NumWorkers:         1,
				NumAssetWorkers:    1,
				MaxRequests:        4,
				MaxRequestsPerHost: 1,
				OutputBaseDir:      "/out",
			}
			tt.setup(&cfg)

			warnings, err := cfg.Validate()

			require.NoError(t, err)
			assert.True(t, containsWarning(warnings, tt.wantWarning), "warnings: %v", warnings)
			tt.check(t, &cfg)
		})
	}
}

func TestAppConfig_Validate_InvalidSkipPattern(t *testing.T) {
	cfg := AppConfig{SkipAssetPatterns: []string{`[unclosed`}}

	_, err := cfg.Validate()

	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
	assert.Contains(t, err.Error(), "skip_asset_patterns")
}

func TestPageConfig_Validate_URL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{"missing url", "", "page has no url"},
		{"whitespace url", "   ", "page has no url"},
		{"unsupported scheme", "ftp://example.com/file", "must use http or https"},
		{"relative url", "/just/a/path", "must use http or https"},
		{"no host", "http:///path", "has no host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := PageConfig{URL: tt.url}
			_, err := cfg.Validate()

			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrConfigValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPageConfig_Validate_NegativeOverrides(t *testing.T) {
	negativeSize := int64(-100)
	cfg := PageConfig{
		URL:               "  https://example.com/page  ",
		AssetTimeout:      -time.Second,
		DelayPerHost:      -time.Second,
		MaxAssetSizeBytes: &negativeSize,
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Equal(t, "https://example.com/page", cfg.URL)
	assert.True(t, containsWarning(warnings, "asset_timeout cannot be negative"))
	assert.True(t, containsWarning(warnings, "delay_per_host cannot be negative"))
	assert.True(t, containsWarning(warnings, "max_asset_size_bytes cannot be negative"))
	assert.Equal(t, time.Duration(0), cfg.AssetTimeout)
	assert.Equal(t, time.Duration(0), cfg.DelayPerHost)
	assert.Equal(t, int64(0), *cfg.MaxAssetSizeBytes)
}

func TestPageConfig_Validate_ValidConfig(t *testing.T) {
	cfg := PageConfig{
		URL:               "https://www.example.com/docs/",
		OutputDir:         "/tmp/mirror",
		SkipAssetPatterns: []string{`\.woff2$`},
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestPageConfig_Validate_InvalidSkipPattern(t *testing.T) {
	cfg := PageConfig{URL: "https://example.com", SkipAssetPatterns: []string{`(`}}

	_, err := cfg.Validate()

	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}

func TestParsePageURL(t *testing.T) {
	u, err := ParsePageURL("https://example.com/a/b.html?x=1")
	require.NoError(t, err)
	assert.Equal(t, "example.com", u.Host)
	assert.Equal(t, "/a/b.html", u.Path)
}

// containsWarning checks if any warning contains the substring.
func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
