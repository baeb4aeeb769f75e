// Package validation holds input validators shared by the record importers,
// the configuration loader and the rule compiler.
package validation

import (
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

var (
	// Package-style identifier: dot separated segments of [A-Za-z0-9_-].
	appIdentifierRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)

	// Characters that must never reach a record store or a backend rule.
	dangerousChars = []string{";", "|", "&", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", "\n", "\r"}
)

// ValidateIPv4 validates a dotted-quad IPv4 literal.
func ValidateIPv4(s string) error {
	if s == "" {
		return fmt.Errorf("IPv4 address cannot be empty")
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return fmt.Errorf("invalid IPv4 address: %s", s)
	}
	if !addr.Is4() {
		return fmt.Errorf("not an IPv4 address: %s", s)
	}
	return nil
}

// IsIPv4 reports whether s is a valid IPv4 literal.
func IsIPv4(s string) bool {
	return ValidateIPv4(s) == nil
}

// ValidateIPOrCIDR validates an IP address or CIDR range
func ValidateIPOrCIDR(s string) error {
	if s == "" {
		return fmt.Errorf("IP/CIDR cannot be empty")
	}

	if strings.Contains(s, "/") {
		if _, _, err := net.ParseCIDR(s); err != nil {
			return fmt.Errorf("invalid CIDR: %w", err)
		}
		return nil
	}

	if net.ParseIP(s) == nil {
		return fmt.Errorf("invalid IP address: %s", s)
	}
	return nil
}

// ValidatePortNumber validates a port number
func ValidatePortNumber(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be 1-65535)", port)
	}
	return nil
}

// ValidatePortSpec validates a port as written in a custom rule record:
// a single port, a "low-high" range, or "*" for any port.
func ValidatePortSpec(spec string) error {
	if spec == "*" {
		return nil
	}
	lo, hi, isRange := strings.Cut(spec, "-")
	first, err := strconv.Atoi(lo)
	if err != nil {
		return fmt.Errorf("invalid port: %s", spec)
	}
	if err := ValidatePortNumber(first); err != nil {
		return err
	}
	if !isRange {
		return nil
	}
	last, err := strconv.Atoi(hi)
	if err != nil {
		return fmt.Errorf("invalid port range: %s", spec)
	}
	if err := ValidatePortNumber(last); err != nil {
		return err
	}
	if last < first {
		return fmt.Errorf("invalid port range: %s (low > high)", spec)
	}
	return nil
}

// ValidateAppIdentifier validates an application package identifier.
// The "*" sentinel (all applications) is accepted.
func ValidateAppIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("app identifier cannot be empty")
	}
	if id == "*" {
		return nil
	}
	if len(id) > 255 {
		return fmt.Errorf("app identifier too long (max 255 characters)")
	}
	for _, char := range dangerousChars {
		if strings.Contains(id, char) {
			return fmt.Errorf("app identifier contains dangerous character: %s", char)
		}
	}
	if !appIdentifierRegex.MatchString(id) {
		return fmt.Errorf("invalid app identifier: %s", id)
	}
	return nil
}

// ValidateListenAddr validates a host:port listen address.
func ValidateListenAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if host != "" && net.ParseIP(host) == nil && host != "localhost" {
		return fmt.Errorf("invalid listen host: %s", host)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid listen port: %s", port)
	}
	return ValidatePortNumber(p)
}

// SanitizeString removes dangerous characters from a string (for display purposes)
func SanitizeString(s string) string {
	for _, char := range dangerousChars {
		s = strings.ReplaceAll(s, char, "")
	}
	return s
}
