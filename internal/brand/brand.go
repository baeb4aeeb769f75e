// Package brand provides centralized naming constants for warden.
package brand

import (
	"os"
	"path/filepath"
)

const (
	Name             = "Warden"
	LowerName        = "warden"
	Description      = "Device network policy compiler"
	ConfigEnvPrefix  = "WARDEN"
	DefaultConfigDir = "/etc/warden"
	DefaultStateDir  = "/var/lib/warden"
	ConfigFileName   = "warden.hcl"
	StateFileName    = "state.db"
	CacheDirName     = "cache"
)

// Version is set at build time via -ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// UserAgent returns a User-Agent string for HTTP requests
func UserAgent(version string) string {
	if version == "" {
		version = "dev"
	}
	return Name + "/" + version
}

// GetStateDir returns the state directory, checking env vars first.
// Priority: WARDEN_STATE_DIR > WARDEN_PREFIX/state > DefaultStateDir
func GetStateDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_STATE_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "state")
	}
	return DefaultStateDir
}

// GetConfigPath returns the default config file path.
// Priority: WARDEN_CONFIG_DIR > WARDEN_PREFIX/config > DefaultConfigDir
func GetConfigPath() string {
	dir := DefaultConfigDir
	if d := os.Getenv(ConfigEnvPrefix + "_CONFIG_DIR"); d != "" {
		dir = d
	} else if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		dir = filepath.Join(prefix, "config")
	}
	return filepath.Join(dir, ConfigFileName)
}
