// Package config loads warden's HCL configuration.
package config

import (
	"path/filepath"
	"time"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/policy"
)

// Config is the top-level configuration.
type Config struct {
	StorePath        string `hcl:"store_path,optional" json:"store_path"`
	CacheDir         string `hcl:"cache_dir,optional" json:"cache_dir"`
	LogLevel         string `hcl:"log_level,optional" json:"log_level"`
	LogJSON          bool   `hcl:"log_json,optional" json:"log_json"`
	SubmitTimeout    string `hcl:"submit_timeout,optional" json:"submit_timeout"`
	PerAppDNS        bool   `hcl:"per_app_dns,optional" json:"per_app_dns"`
	ChunkSize        int    `hcl:"chunk_size,optional" json:"chunk_size"`
	FetchConcurrency int    `hcl:"fetch_concurrency,optional" json:"fetch_concurrency"`

	Retry      *RetryConfig      `hcl:"retry,block" json:"retry"`
	Blocklists []BlocklistConfig `hcl:"blocklist,block" json:"blocklists"`
	API        *APIConfig        `hcl:"api,block" json:"api"`
}

// RetryConfig controls retries of temporary backend failures.
type RetryConfig struct {
	Attempts     int    `hcl:"attempts,optional" json:"attempts"`
	InitialDelay string `hcl:"initial_delay,optional" json:"initial_delay"`
	MaxDelay     string `hcl:"max_delay,optional" json:"max_delay"`
}

// BlocklistConfig declares a subscribed blacklist provider. Exactly one of
// URL and File is set.
type BlocklistConfig struct {
	Name    string `hcl:"name,label" json:"name"`
	URL     string `hcl:"url,optional" json:"url,omitempty"`
	File    string `hcl:"file,optional" json:"file,omitempty"`
	Enabled *bool  `hcl:"enabled,optional" json:"enabled,omitempty"`
}

// IsEnabled reports whether the provider is enabled; unset means enabled.
func (b BlocklistConfig) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// APIConfig configures the HTTP control API.
type APIConfig struct {
	Listen string `hcl:"listen,optional" json:"listen"`
}

// Defaults
const (
	DefaultLogLevel         = "info"
	DefaultSubmitTimeout    = "30s"
	DefaultRetryAttempts    = 3
	DefaultRetryInitial     = "500ms"
	DefaultRetryMax         = "5s"
	DefaultListen           = "127.0.0.1:8787"
	DefaultFetchConcurrency = 4
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		LogLevel:      DefaultLogLevel,
		PerAppDNS:     true,
		SubmitTimeout: DefaultSubmitTimeout,
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills unset fields. Boolean attributes keep whatever the
// file or the pre-filled default set.
func (c *Config) applyDefaults() {
	stateDir := brand.GetStateDir()
	if c.StorePath == "" {
		c.StorePath = filepath.Join(stateDir, brand.StateFileName)
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(stateDir, brand.CacheDirName)
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.SubmitTimeout == "" {
		c.SubmitTimeout = DefaultSubmitTimeout
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = policy.MaxDomainsPerRule
	}
	if c.FetchConcurrency == 0 {
		c.FetchConcurrency = DefaultFetchConcurrency
	}
	if c.Retry == nil {
		c.Retry = &RetryConfig{}
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = DefaultRetryAttempts
	}
	if c.Retry.InitialDelay == "" {
		c.Retry.InitialDelay = DefaultRetryInitial
	}
	if c.Retry.MaxDelay == "" {
		c.Retry.MaxDelay = DefaultRetryMax
	}
	if len(c.Blocklists) == 0 {
		c.Blocklists = nil
	}
	if c.API == nil {
		c.API = &APIConfig{}
	}
	if c.API.Listen == "" {
		c.API.Listen = DefaultListen
	}
}

// SubmitTimeoutDuration returns the per-batch submission timeout. Call
// after Validate.
func (c *Config) SubmitTimeoutDuration() time.Duration {
	return mustDuration(c.SubmitTimeout, DefaultSubmitTimeout)
}

// InitialDelayDuration returns the first retry delay.
func (r *RetryConfig) InitialDelayDuration() time.Duration {
	return mustDuration(r.InitialDelay, DefaultRetryInitial)
}

// MaxDelayDuration returns the retry delay cap.
func (r *RetryConfig) MaxDelayDuration() time.Duration {
	return mustDuration(r.MaxDelay, DefaultRetryMax)
}

func mustDuration(s, fallback string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}
