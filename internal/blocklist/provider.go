package blocklist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/logging"
)

const (
	// DefaultFetchTimeout is the HTTP timeout for blocklist downloads
	DefaultFetchTimeout = 30 * time.Second
	// MaxListSize is the maximum size we'll download (10MB)
	MaxListSize = 10 * 1024 * 1024

	// UserProviderName names the implicit user blacklist provider.
	UserProviderName = "user"
)

// Provider supplies raw blacklist domains.
type Provider interface {
	Name() string
	Enabled() bool
	FetchDomains(ctx context.Context) ([]string, error)
}

// StaticProvider serves a fixed list.
type StaticProvider struct {
	name    string
	enabled bool
	domains []string
}

// NewStaticProvider returns a provider serving domains.
func NewStaticProvider(name string, enabled bool, domains []string) *StaticProvider {
	return &StaticProvider{name: name, enabled: enabled, domains: domains}
}

func (p *StaticProvider) Name() string  { return p.name }
func (p *StaticProvider) Enabled() bool { return p.enabled }

func (p *StaticProvider) FetchDomains(ctx context.Context) ([]string, error) {
	return p.domains, nil
}

// UserListSource is the narrow view of the rule store the user provider needs.
type UserListSource interface {
	UserBlacklist() ([]string, error)
}

// UserProvider exposes the user's own blacklist. It is always enabled.
type UserProvider struct {
	src UserListSource
}

// NewUserProvider wraps a user list source.
func NewUserProvider(src UserListSource) *UserProvider {
	return &UserProvider{src: src}
}

func (p *UserProvider) Name() string  { return UserProviderName }
func (p *UserProvider) Enabled() bool { return true }

func (p *UserProvider) FetchDomains(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.src.UserBlacklist()
}

// FileProvider reads a list from local disk.
type FileProvider struct {
	name    string
	path    string
	enabled bool
}

// NewFileProvider returns a provider reading path.
func NewFileProvider(name, path string, enabled bool) *FileProvider {
	return &FileProvider{name: name, path: path, enabled: enabled}
}

func (p *FileProvider) Name() string  { return p.name }
func (p *FileProvider) Enabled() bool { return p.enabled }

func (p *FileProvider) FetchDomains(ctx context.Context) ([]string, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blocklist %s: %w", p.path, err)
	}
	defer f.Close()
	return ParseList(f)
}

// URLProvider downloads a subscribed list, keeping a disk cache that serves
// as fallback when the download fails.
type URLProvider struct {
	name     string
	url      string
	enabled  bool
	cacheDir string
	client   *http.Client
	logger   *logging.Logger
}

// URLProviderOption customizes a URLProvider.
type URLProviderOption func(*URLProvider)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) URLProviderOption {
	return func(p *URLProvider) { p.client = c }
}

// WithCacheDir enables the on-disk cache.
func WithCacheDir(dir string) URLProviderOption {
	return func(p *URLProvider) { p.cacheDir = dir }
}

// WithLogger sets the provider logger.
func WithLogger(l *logging.Logger) URLProviderOption {
	return func(p *URLProvider) { p.logger = l }
}

// NewURLProvider returns a provider downloading url.
func NewURLProvider(name, url string, enabled bool, opts ...URLProviderOption) *URLProvider {
	p := &URLProvider{
		name:    name,
		url:     url,
		enabled: enabled,
		client:  &http.Client{Timeout: DefaultFetchTimeout},
		logger:  logging.WithComponent("blocklist"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *URLProvider) Name() string  { return p.name }
func (p *URLProvider) Enabled() bool { return p.enabled }

// FetchDomains downloads the list, falling back to the cache on failure.
func (p *URLProvider) FetchDomains(ctx context.Context) ([]string, error) {
	domains, err := p.download(ctx)
	if err == nil {
		if p.cacheDir != "" {
			if cacheErr := p.writeCache(domains); cacheErr != nil {
				p.logger.Warn("failed to cache blocklist", "provider", p.name, "error", cacheErr)
			}
		}
		return domains, nil
	}
	if p.cacheDir == "" || ctx.Err() != nil {
		return nil, err
	}

	p.logger.Warn("download failed, trying cache", "provider", p.name, "error", err)
	cached, cacheErr := p.readCache()
	if cacheErr != nil {
		return nil, fmt.Errorf("download failed (%v) and no cache available (%v)", err, cacheErr)
	}
	p.logger.Info("loaded blocklist from cache", "provider", p.name, "domains", len(cached))
	return cached, nil
}

func (p *URLProvider) download(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid blocklist url: %w", err)
	}
	req.Header.Set("User-Agent", brand.UserAgent(brand.Version))

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blocklist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blocklist server returned status %d", resp.StatusCode)
	}

	return ParseList(io.LimitReader(resp.Body, MaxListSize))
}

// cacheFile converts the URL to a stable cache filename.
func (p *URLProvider) cacheFile() string {
	hash := sha256.Sum256([]byte(p.url))
	return filepath.Join(p.cacheDir, hex.EncodeToString(hash[:8])+".txt")
}

func (p *URLProvider) writeCache(domains []string) error {
	if err := os.MkdirAll(p.cacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp := p.cacheFile() + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(domains, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return os.Rename(tmp, p.cacheFile())
}

func (p *URLProvider) readCache() ([]string, error) {
	f, err := os.Open(p.cacheFile())
	if err != nil {
		return nil, fmt.Errorf("cache not found: %w", err)
	}
	defer f.Close()
	return ParseList(f)
}
