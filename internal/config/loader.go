package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"grimm.is/warden/internal/brand"
)

// LoadFile loads and validates a config file. A missing file yields the
// defaults. Files ending in .json use HCL's JSON syntax.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		ApplyEnv(cfg)
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Load(data, path)
}

// Load parses, defaults, applies environment overrides and validates.
func Load(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()

	var file *hcl.File
	var diags hcl.Diagnostics
	if strings.EqualFold(filepath.Ext(filename), ".json") {
		file, diags = parser.ParseJSON(data, filename)
	} else {
		file, diags = parser.ParseHCL(data, filename)
	}
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %s", diags.Error())
	}

	cfg := &Config{PerAppDNS: true}
	if diags := gohcl.DecodeBody(file.Body, evalContext(), cfg); diags.HasErrors() {
		return nil, fmt.Errorf("HCL decode error: %s", diags.Error())
	}
	cfg.applyDefaults()
	ApplyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// evalContext exposes the process environment as env.NAME and a few string
// functions to config expressions.
func evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !hclsyntaxIdent(k) {
			continue
		}
		env[k] = cty.StringVal(v)
	}
	envVal := cty.EmptyObjectVal
	if len(env) > 0 {
		envVal = cty.ObjectVal(env)
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": envVal,
		},
		Functions: map[string]function.Function{
			"lower":     stdlib.LowerFunc,
			"upper":     stdlib.UpperFunc,
			"trimspace": stdlib.TrimSpaceFunc,
			"coalesce":  stdlib.CoalesceFunc,
			"join":      stdlib.JoinFunc,
		},
	}
}

func hclsyntaxIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && (r == '-' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}

// ApplyEnv overrides selected settings from WARDEN_* environment variables.
func ApplyEnv(cfg *Config) {
	lookup := func(name string) (string, bool) {
		return os.LookupEnv(brand.ConfigEnvPrefix + "_" + name)
	}
	if v, ok := lookup("STORE_PATH"); ok && v != "" {
		cfg.StorePath = v
	}
	if v, ok := lookup("CACHE_DIR"); ok && v != "" {
		cfg.CacheDir = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := lookup("API_LISTEN"); ok && v != "" && cfg.API != nil {
		cfg.API.Listen = v
	}
}
