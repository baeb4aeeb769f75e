// Package policy holds the rule model submitted to a policy backend and the
// compiler that turns rule sources into ordered rule batches.
package policy

import (
	"fmt"
	"strings"
)

const (
	// AllApps is the app identifier meaning "every application".
	AllApps = "*"

	// AllowAll is the allow-list token exempting an app from domain filtering.
	AllowAll = "*"

	// MaxDomainsPerRule is the backend's hard cap on a single rule's domain list.
	MaxDomainsPerRule = 5000
)

// Interface selects the network interface a firewall rule applies to.
type Interface string

const (
	InterfaceAll        Interface = "all"
	InterfaceMobileData Interface = "mobile_data"
)

// Stage names one rule category of an enable pass.
type Stage string

const (
	StageCustomRules        Stage = "custom_rules"
	StageRestrictedApps     Stage = "restricted_apps"
	StageWhitelistedApps    Stage = "whitelisted_apps"
	StageWhitelistedDomains Stage = "whitelisted_domains"
	StageBlockedDomains     Stage = "blocked_domains"
	StageDNS                Stage = "dns"
)

// Stages lists every stage in submission order.
var Stages = []Stage{
	StageCustomRules,
	StageRestrictedApps,
	StageWhitelistedApps,
	StageWhitelistedDomains,
	StageBlockedDomains,
	StageDNS,
}

// CustomRule is a per-app deny rule parsed from a "pkg|ip|port" record.
type CustomRule struct {
	App       string
	IPAddress string
	Port      string
}

// FirewallRule converts the custom rule into a deny rule on every interface.
func (c CustomRule) FirewallRule() FirewallRule {
	return FirewallRule{
		App:       c.App,
		IPAddress: c.IPAddress,
		Port:      c.Port,
		Interface: InterfaceAll,
	}
}

// AppDomainOverride is a per-app allow entry parsed from a "pkg|url" record.
type AppDomainOverride struct {
	App string
	URL string
}

// FirewallRule is an IPv4 deny rule for one app. Empty IPAddress and Port
// match any destination.
type FirewallRule struct {
	App       string    `json:"app" yaml:"app"`
	IPAddress string    `json:"ip_address,omitempty" yaml:"ip_address,omitempty"`
	Port      string    `json:"port,omitempty" yaml:"port,omitempty"`
	Interface Interface `json:"interface" yaml:"interface"`
}

func (r FirewallRule) String() string {
	ip, port := r.IPAddress, r.Port
	if ip == "" {
		ip = "*"
	}
	if port == "" {
		port = "*"
	}
	return fmt.Sprintf("deny app=%s dst=%s:%s if=%s", r.App, ip, port, r.Interface)
}

// PolicyRule is a domain filter rule for one app scope. Deny and Allow hold
// normalized tokens; their backing arrays may be shared between rules and
// must not be modified.
type PolicyRule struct {
	App   string   `json:"app" yaml:"app"`
	Deny  []string `json:"deny,omitempty" yaml:"deny,omitempty"`
	Allow []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	DNS1  string   `json:"dns1,omitempty" yaml:"dns1,omitempty"`
	DNS2  string   `json:"dns2,omitempty" yaml:"dns2,omitempty"`
}

// HasDNS reports whether the rule carries a DNS override.
func (r PolicyRule) HasDNS() bool {
	return r.DNS1 != "" || r.DNS2 != ""
}

func (r PolicyRule) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "domain app=%s deny=%d allow=%d", r.App, len(r.Deny), len(r.Allow))
	if r.HasDNS() {
		fmt.Fprintf(&sb, " dns=%s,%s", r.DNS1, r.DNS2)
	}
	return sb.String()
}

// Capabilities describes what the policy backend supports.
type Capabilities struct {
	// PerAppDNS is true when DNS overrides can target single apps.
	PerAppDNS bool
}

// Skip records one source entry that was not turned into a rule.
type Skip struct {
	Record string `json:"record" yaml:"record"`
	Reason string `json:"reason" yaml:"reason"`
}

// Report summarizes one compilation step.
type Report struct {
	Stage     Stage  `json:"stage" yaml:"stage"`
	Processed int    `json:"processed" yaml:"processed"`
	Skipped   []Skip `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

func (r *Report) skip(record, reason string) {
	r.Skipped = append(r.Skipped, Skip{Record: record, Reason: reason})
}

// Accepted is the number of processed entries that were not skipped.
func (r Report) Accepted() int {
	return r.Processed - len(r.Skipped)
}

func (r Report) String() string {
	return fmt.Sprintf("%s: %d processed, %d skipped", r.Stage, r.Processed, len(r.Skipped))
}

// Plan is a fully compiled policy, used for previews and exports.
type Plan struct {
	Firewall []FirewallRule `json:"firewall" yaml:"firewall"`
	Domain   []PolicyRule   `json:"domain" yaml:"domain"`
	Reports  []Report       `json:"reports" yaml:"reports"`
}
