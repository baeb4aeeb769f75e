// Package domain turns raw, user-entered URL and domain strings into the
// canonical tokens carried by deny and allow lists.
//
// A token is a lowercase host with scheme, userinfo, port, path and trailing
// dot removed. Wildcard prefixes ("*.example.com", "*example.com") survive
// normalization because the policy backend uses them for subdomain matching.
package domain

import (
	"errors"
	"net"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

// Separator is the record field separator; it can never appear in a token.
const Separator = "|"

// ErrInvalidDomain is matched by every *InvalidDomainError via errors.Is.
var ErrInvalidDomain = errors.New("invalid domain")

// InvalidDomainError reports why a raw string was rejected.
type InvalidDomainError struct {
	Raw    string
	Reason string
}

func (e *InvalidDomainError) Error() string {
	return "invalid domain " + quote(e.Raw) + ": " + e.Reason
}

func (e *InvalidDomainError) Is(target error) bool {
	return target == ErrInvalidDomain
}

func quote(s string) string {
	if len(s) > 64 {
		s = s[:61] + "..."
	}
	return `"` + s + `"`
}

var hostLabelRegex = regexp.MustCompile(`^[a-z0-9_-]+(\.[a-z0-9_-]+)*$`)

// Normalize validates raw and returns its canonical token.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", &InvalidDomainError{Raw: raw, Reason: "empty"}
	}
	if strings.Contains(s, Separator) {
		return "", &InvalidDomainError{Raw: raw, Reason: "contains record separator"}
	}
	if strings.IndexFunc(s, unicode.IsSpace) != -1 {
		return "", &InvalidDomainError{Raw: raw, Reason: "contains whitespace"}
	}

	// Scheme.
	if i := strings.Index(s, "://"); i != -1 {
		if i == 0 {
			return "", &InvalidDomainError{Raw: raw, Reason: "missing scheme"}
		}
		s = s[i+3:]
	} else {
		s = strings.TrimPrefix(s, "//")
	}

	// Path, query, fragment.
	if i := strings.IndexAny(s, "/?#"); i != -1 {
		s = s[:i]
	}

	// Userinfo.
	if at := strings.LastIndexByte(s, '@'); at != -1 {
		s = s[at+1:]
	}

	wildcard := ""
	switch {
	case strings.HasPrefix(s, "*."):
		wildcard, s = "*.", s[2:]
	case strings.HasPrefix(s, "*"):
		wildcard, s = "*", s[1:]
	}
	if strings.Contains(s, "*") {
		return "", &InvalidDomainError{Raw: raw, Reason: "wildcard only allowed as prefix"}
	}

	host, err := normalizeHost(s)
	if err != nil {
		return "", &InvalidDomainError{Raw: raw, Reason: err.Error()}
	}
	if wildcard != "" && net.ParseIP(host) != nil {
		return "", &InvalidDomainError{Raw: raw, Reason: "wildcard on IP literal"}
	}
	return wildcard + host, nil
}

// MustNormalize is Normalize for literals known to be valid.
func MustNormalize(raw string) string {
	tok, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return tok
}

// IsValid reports whether raw normalizes cleanly.
func IsValid(raw string) bool {
	_, err := Normalize(raw)
	return err == nil
}

func normalizeHost(hostport string) (string, error) {
	if hostport == "" {
		return "", errors.New("empty host")
	}

	host := hostport
	if strings.Contains(hostport, ":") {
		if h, _, err := net.SplitHostPort(hostport); err == nil {
			host = h
		}
	}

	host = strings.TrimSuffix(host, ".")
	if len(host) > 2 && host[0] == '[' && host[len(host)-1] == ']' {
		host = host[1 : len(host)-1]
	}
	if host == "" {
		return "", errors.New("empty host")
	}

	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	if !isASCII(host) {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return "", errors.New("idna: " + err.Error())
		}
		host = ascii
	}
	host = strings.ToLower(host)

	if _, ok := dns.IsDomainName(host); !ok {
		return "", errors.New("not a valid host name")
	}
	if !hostLabelRegex.MatchString(host) {
		return "", errors.New("illegal characters in host name")
	}
	return host, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
