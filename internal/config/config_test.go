package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHCL = `
store_path     = "/tmp/warden/state.db"
cache_dir      = "/tmp/warden/cache"
log_level      = "debug"
submit_timeout = "10s"
per_app_dns    = false
chunk_size     = 1000

retry {
  attempts      = 5
  initial_delay = "100ms"
}

blocklist "stevenblack" {
  url = "https://example.org/hosts"
}

blocklist "local" {
  file    = "/etc/warden/extra.txt"
  enabled = false
}

api {
  listen = "127.0.0.1:9000"
}
`

func TestLoad(t *testing.T) {
	cfg, err := Load([]byte(sampleHCL), "warden.hcl")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/warden/state.db", cfg.StorePath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.PerAppDNS)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 10*time.Second, cfg.SubmitTimeoutDuration())

	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.InitialDelayDuration())
	assert.Equal(t, 5*time.Second, cfg.Retry.MaxDelayDuration(), "default fills unset attribute")

	require.Len(t, cfg.Blocklists, 2)
	assert.Equal(t, "stevenblack", cfg.Blocklists[0].Name)
	assert.True(t, cfg.Blocklists[0].IsEnabled())
	assert.False(t, cfg.Blocklists[1].IsEnabled())

	assert.Equal(t, "127.0.0.1:9000", cfg.API.Listen)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load([]byte(""), "warden.hcl")
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def, cfg)
	assert.True(t, cfg.PerAppDNS)
	assert.Equal(t, 5000, cfg.ChunkSize)
	assert.Equal(t, 30*time.Second, cfg.SubmitTimeoutDuration())
	assert.Equal(t, DefaultListen, cfg.API.Listen)
}

func TestLoad_EnvInterpolation(t *testing.T) {
	t.Setenv("WARDEN_TEST_DIR", "/srv/warden")
	cfg, err := Load([]byte(`store_path = "${env.WARDEN_TEST_DIR}/state.db"
log_level = lower("WARN")`), "warden.hcl")
	require.NoError(t, err)
	assert.Equal(t, "/srv/warden/state.db", cfg.StorePath)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("WARDEN_LOG_LEVEL", "error")
	t.Setenv("WARDEN_API_LISTEN", "127.0.0.1:7000")
	cfg, err := Load([]byte(`log_level = "debug"`), "warden.hcl")
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:7000", cfg.API.Listen)
}

func TestLoad_JSON(t *testing.T) {
	cfg, err := Load([]byte(`{"log_level": "warn", "blocklist": {"ads": {"url": "https://example.org/ads.txt"}}}`), "warden.json")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	require.Len(t, cfg.Blocklists, 1)
	assert.Equal(t, "ads", cfg.Blocklists[0].Name)
}

func TestLoad_ParseError(t *testing.T) {
	_, err := Load([]byte(`store_path = `), "warden.hcl")
	assert.Error(t, err)

	_, err = Load([]byte(`unknown_field = 1`), "warden.hcl")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		hcl    string
		fields []string
	}{
		{"bad level", `log_level = "loud"`, []string{"log_level"}},
		{"bad timeout", `submit_timeout = "soon"`, []string{"submit_timeout"}},
		{"negative timeout", `submit_timeout = "-1s"`, []string{"submit_timeout"}},
		{"chunk too large", `chunk_size = 5001`, []string{"chunk_size"}},
		{"retry attempts", "retry {\n attempts = -1\n}", []string{"retry.attempts"}},
		{"bad listen", "api {\n listen = \"nowhere\"\n}", []string{"api.listen"}},
		{
			"blocklist both", "blocklist \"x\" {\n url = \"https://a.org\"\n file = \"/tmp/x\"\n}",
			[]string{"blocklist.x"},
		},
		{"blocklist neither", "blocklist \"x\" {\n}", []string{"blocklist.x"}},
		{"blocklist bad url", "blocklist \"x\" {\n url = \"ftp://a.org\"\n}", []string{"blocklist.x.url"}},
		{
			"duplicate blocklist", "blocklist \"x\" {\n file = \"/a\"\n}\nblocklist \"x\" {\n file = \"/b\"\n}",
			[]string{"blocklist.x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.hcl), "warden.hcl")
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs), "want ValidationErrors, got %v", err)
			var fields []string
			for _, v := range verrs {
				fields = append(fields, v.Field)
			}
			assert.Equal(t, tt.fields, fields)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadFile(filepath.Join(dir, "missing.hcl"))
	require.NoError(t, err)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)

	path := filepath.Join(dir, "warden.hcl")
	require.NoError(t, os.WriteFile(path, []byte(sampleHCL), 0o644))
	cfg, err = LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg, err := Load([]byte(sampleHCL), "warden.hcl")
	require.NoError(t, err)

	out := Marshal(cfg)
	again, err := Load(out, "warden.hcl")
	require.NoError(t, err, string(out))

	assert.Equal(t, cfg.StorePath, again.StorePath)
	assert.Equal(t, cfg.ChunkSize, again.ChunkSize)
	assert.Equal(t, cfg.Retry, again.Retry)
	assert.Equal(t, cfg.API, again.API)
	require.Len(t, again.Blocklists, 2)
	assert.False(t, again.Blocklists[1].IsEnabled())
	assert.Contains(t, string(out), `blocklist "stevenblack"`)
}
