package policy

import (
	"strings"

	"grimm.is/warden/internal/domain"
)

// Skip reasons.
const (
	ReasonFieldCount  = "wrong field count"
	ReasonEmptyField  = "empty field"
	ReasonInvalidURL  = "invalid domain"
	ReasonInvalidDNS  = "invalid IPv4 address"
	ReasonDuplicate   = "duplicate"
	ReasonEmptyRecord = "empty record"
)

// splitRecord splits a pipe-delimited record and requires exactly n
// non-empty fields. It returns a skip reason on failure.
func splitRecord(record string, n int) ([]string, string) {
	if strings.TrimSpace(record) == "" {
		return nil, ReasonEmptyRecord
	}
	fields := strings.Split(record, domain.Separator)
	if len(fields) != n {
		return nil, ReasonFieldCount
	}
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			return nil, ReasonEmptyField
		}
		fields[i] = f
	}
	return fields, ""
}

// ParseCustomRecord parses a "pkg|ip|port" record.
func ParseCustomRecord(record string) (CustomRule, string) {
	fields, reason := splitRecord(record, 3)
	if reason != "" {
		return CustomRule{}, reason
	}
	return CustomRule{App: fields[0], IPAddress: fields[1], Port: fields[2]}, ""
}

// ParseOverrideRecord parses a "pkg|url" record.
func ParseOverrideRecord(record string) (AppDomainOverride, string) {
	fields, reason := splitRecord(record, 2)
	if reason != "" {
		return AppDomainOverride{}, reason
	}
	return AppDomainOverride{App: fields[0], URL: fields[1]}, ""
}

// IsScopedRecord reports whether a record carries an app scope ("pkg|...").
func IsScopedRecord(record string) bool {
	return strings.Contains(record, domain.Separator)
}
