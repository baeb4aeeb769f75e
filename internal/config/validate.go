package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/policy"
	"grimm.is/warden/internal/validation"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the configuration and returns ValidationErrors, or nil.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.StorePath == "" {
		errs.add("store_path", "must not be empty")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs.add("log_level", "%v", err)
	}
	checkDuration(&errs, "submit_timeout", c.SubmitTimeout)
	if c.ChunkSize < 0 || c.ChunkSize > policy.MaxDomainsPerRule {
		errs.add("chunk_size", "must be between 1 and %d", policy.MaxDomainsPerRule)
	}
	if c.FetchConcurrency < 0 {
		errs.add("fetch_concurrency", "must not be negative")
	}

	if c.Retry != nil {
		if c.Retry.Attempts < 1 {
			errs.add("retry.attempts", "must be at least 1")
		}
		checkDuration(&errs, "retry.initial_delay", c.Retry.InitialDelay)
		checkDuration(&errs, "retry.max_delay", c.Retry.MaxDelay)
	}

	seen := make(map[string]bool)
	for _, b := range c.Blocklists {
		field := fmt.Sprintf("blocklist.%s", b.Name)
		if seen[b.Name] {
			errs.add(field, "duplicate blocklist name")
		}
		seen[b.Name] = true

		switch {
		case b.URL == "" && b.File == "":
			errs.add(field, "one of url or file is required")
		case b.URL != "" && b.File != "":
			errs.add(field, "url and file are mutually exclusive")
		case b.URL != "":
			u, err := url.Parse(b.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				errs.add(field+".url", "must be an http(s) URL")
			}
		}
	}

	if c.API != nil {
		if err := validation.ValidateListenAddr(c.API.Listen); err != nil {
			errs.add("api.listen", "%v", err)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func checkDuration(errs *ValidationErrors, field, value string) {
	d, err := time.ParseDuration(value)
	if err != nil {
		errs.add(field, "invalid duration %q", value)
		return
	}
	if d <= 0 {
		errs.add(field, "must be positive")
	}
}
