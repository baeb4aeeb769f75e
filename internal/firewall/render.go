package firewall

import (
	"fmt"
	"strings"
)

// Render writes a snapshot as stable line-oriented text, one domain per
// line, suitable for diffing.
func Render(s Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "enforcement: %s\n", onOff(s.Enforcement))
	fmt.Fprintf(&sb, "reporting: %s\n", onOff(s.Reporting))

	fmt.Fprintf(&sb, "firewall rules: %d\n", len(s.Firewall))
	for _, r := range s.Firewall {
		fmt.Fprintf(&sb, "  %s\n", r)
	}

	fmt.Fprintf(&sb, "domain rules: %d\n", len(s.Domain))
	for i, r := range s.Domain {
		fmt.Fprintf(&sb, "  [%d] %s\n", i, r)
		for _, d := range r.Deny {
			fmt.Fprintf(&sb, "      - %s\n", d)
		}
		for _, d := range r.Allow {
			fmt.Fprintf(&sb, "      + %s\n", d)
		}
	}
	return sb.String()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
