package policy

import (
	"iter"
	"slices"
	"sort"

	"grimm.is/warden/internal/domain"
	"grimm.is/warden/internal/validation"
)

// Compiler turns rule sources into rule batches. Every method is pure and
// may be called repeatedly with the same result.
type Compiler struct {
	chunkSize int
	caps      Capabilities
}

// NewCompiler returns a compiler chunking deny lists at chunkSize domains.
// chunkSize is clamped to [1, MaxDomainsPerRule]; zero selects the maximum.
func NewCompiler(chunkSize int, caps Capabilities) *Compiler {
	if chunkSize <= 0 || chunkSize > MaxDomainsPerRule {
		chunkSize = MaxDomainsPerRule
	}
	return &Compiler{chunkSize: chunkSize, caps: caps}
}

// ChunkSize returns the effective chunk size.
func (c *Compiler) ChunkSize() int { return c.chunkSize }

// Capabilities returns the backend capabilities the compiler targets.
func (c *Compiler) Capabilities() Capabilities { return c.caps }

// CompileCustomRules parses "pkg|ip|port" records. Records with any other
// field count, or with an empty field, are skipped and reported.
func (c *Compiler) CompileCustomRules(records []string) ([]CustomRule, Report) {
	report := Report{Stage: StageCustomRules, Processed: len(records)}
	rules := make([]CustomRule, 0, len(records))
	for _, rec := range records {
		rule, reason := ParseCustomRecord(rec)
		if reason != "" {
			report.skip(rec, reason)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, report
}

// CustomFirewallRules converts custom rules into firewall rules.
func CustomFirewallRules(rules []CustomRule) []FirewallRule {
	out := make([]FirewallRule, len(rules))
	for i, r := range rules {
		out[i] = r.FirewallRule()
	}
	return out
}

// CompileRestrictedAppRules emits one mobile-data deny rule per app.
func (c *Compiler) CompileRestrictedAppRules(apps []string) ([]FirewallRule, Report) {
	report := Report{Stage: StageRestrictedApps, Processed: len(apps)}
	var rules []FirewallRule
	for _, app := range appEntries(apps, &report) {
		rules = append(rules, FirewallRule{App: app, Interface: InterfaceMobileData})
	}
	return rules, report
}

// CompileWhitelistedAppRules exempts each app from all domain filtering.
// Every non-empty entry yields one rule, so repeated apps yield repeated rules.
func (c *Compiler) CompileWhitelistedAppRules(apps []string) ([]PolicyRule, Report) {
	report := Report{Stage: StageWhitelistedApps, Processed: len(apps)}
	var rules []PolicyRule
	for _, app := range appEntries(apps, &report) {
		rules = append(rules, PolicyRule{
			App:   app,
			Deny:  []string{},
			Allow: []string{AllowAll},
		})
	}
	return rules, report
}

// appEntries drops empty entries and keeps everything else in order.
func appEntries(apps []string, report *Report) []string {
	out := make([]string, 0, len(apps))
	for _, app := range apps {
		if app == "" {
			report.skip(app, ReasonEmptyRecord)
			continue
		}
		out = append(out, app)
	}
	return out
}

func uniqueApps(apps []string, report *Report) []string {
	seen := make(map[string]struct{}, len(apps))
	out := make([]string, 0, len(apps))
	for _, app := range apps {
		if app == "" {
			report.skip(app, ReasonEmptyRecord)
			continue
		}
		if _, dup := seen[app]; dup {
			report.skip(app, ReasonDuplicate)
			continue
		}
		seen[app] = struct{}{}
		out = append(out, app)
	}
	return out
}

// Whitelist is the parsed form of the user whitelist.
type Whitelist struct {
	// Overrides are per-app allow entries, in record order.
	Overrides []AppDomainOverride
	// Global holds the sorted, deduplicated allow tokens for all apps.
	Global []string
}

// ParseWhitelist splits whitelist records into per-app overrides ("pkg|url")
// and global allow entries ("url"), normalizing every URL.
func (c *Compiler) ParseWhitelist(records []string) (Whitelist, Report) {
	report := Report{Stage: StageWhitelistedDomains, Processed: len(records)}
	var wl Whitelist
	global := make(map[string]struct{})

	for _, rec := range records {
		if IsScopedRecord(rec) {
			ov, reason := ParseOverrideRecord(rec)
			if reason != "" {
				report.skip(rec, reason)
				continue
			}
			tok, err := domain.Normalize(ov.URL)
			if err != nil {
				report.skip(rec, ReasonInvalidURL)
				continue
			}
			ov.URL = tok
			wl.Overrides = append(wl.Overrides, ov)
			continue
		}

		tok, err := domain.Normalize(rec)
		if err != nil {
			report.skip(rec, ReasonInvalidURL)
			continue
		}
		if _, dup := global[tok]; dup {
			report.skip(rec, ReasonDuplicate)
			continue
		}
		global[tok] = struct{}{}
	}

	wl.Global = sortedKeys(global)
	return wl, report
}

// WhitelistedDomainRules streams the whitelist rules. Each override yields
// rules for its app carrying the full deny list (chunked) and the single
// allowed URL, so the app-scoped allow carves an exception out of the global
// deny list. deny must be the complete deny set of the pass. Global entries
// yield one all-apps rule with an empty deny list.
func (c *Compiler) WhitelistedDomainRules(wl Whitelist, deny []string) iter.Seq[PolicyRule] {
	return func(yield func(PolicyRule) bool) {
		for _, ov := range wl.Overrides {
			allow := []string{ov.URL}
			if len(deny) == 0 {
				if !yield(PolicyRule{App: ov.App, Deny: []string{}, Allow: allow}) {
					return
				}
				continue
			}
			for chunk := range slices.Chunk(deny, c.chunkSize) {
				if !yield(PolicyRule{App: ov.App, Deny: chunk, Allow: allow}) {
					return
				}
			}
		}
		if len(wl.Global) > 0 {
			yield(PolicyRule{App: AllApps, Deny: []string{}, Allow: wl.Global})
		}
	}
}

// CompileWhitelistedDomainRules is the collected form of ParseWhitelist and
// WhitelistedDomainRules.
func (c *Compiler) CompileWhitelistedDomainRules(records []string, deny []string) ([]PolicyRule, Report) {
	wl, report := c.ParseWhitelist(records)
	return slices.Collect(c.WhitelistedDomainRules(wl, deny)), report
}

// BlockedDomainRules streams the global deny list as all-apps rules of at
// most ChunkSize domains each. deny should be in a stable order (Sorted).
func (c *Compiler) BlockedDomainRules(deny []string) iter.Seq[PolicyRule] {
	return func(yield func(PolicyRule) bool) {
		for chunk := range slices.Chunk(deny, c.chunkSize) {
			if !yield(PolicyRule{App: AllApps, Deny: chunk, Allow: []string{}}) {
				return
			}
		}
	}
}

// CompileBlockedDomainRules is the collected form of BlockedDomainRules.
func (c *Compiler) CompileBlockedDomainRules(deny []string) []PolicyRule {
	return slices.Collect(c.BlockedDomainRules(deny))
}

// ChunkCount returns how many rules a deny list of n domains produces.
func (c *Compiler) ChunkCount(n int) int {
	return (n + c.chunkSize - 1) / c.chunkSize
}

// CompileDNSOverrideRules emits DNS override rules. Invalid addresses yield
// no rules and a skip entry; this is a recoverable configuration state.
// With per-app DNS each target app gets a rule, otherwise a single all-apps
// rule is emitted.
func (c *Compiler) CompileDNSOverrideRules(dns1, dns2 string, targetApps []string) ([]PolicyRule, Report) {
	report := Report{Stage: StageDNS}
	if dns1 == "" && dns2 == "" {
		return nil, report
	}
	report.Processed = 1
	if !validation.IsIPv4(dns1) {
		report.skip("dns1="+dns1, ReasonInvalidDNS)
		return nil, report
	}
	if !validation.IsIPv4(dns2) {
		report.skip("dns2="+dns2, ReasonInvalidDNS)
		return nil, report
	}

	if !c.caps.PerAppDNS {
		return []PolicyRule{{App: AllApps, DNS1: dns1, DNS2: dns2}}, report
	}

	var rules []PolicyRule
	for _, app := range uniqueApps(targetApps, &Report{}) {
		rules = append(rules, PolicyRule{App: app, DNS1: dns1, DNS2: dns2})
	}
	return rules, report
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
