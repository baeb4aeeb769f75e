package firewall

import (
	"context"
	"errors"

	"grimm.is/warden/internal/policy"
)

// Backend errors
var (
	// ErrUnauthorized means the caller lacks the privilege to change policy.
	ErrUnauthorized = errors.New("not authorized to change policy")
	// ErrBackendUnavailable means the backend cannot be reached at all.
	ErrBackendUnavailable = errors.New("policy backend unavailable")
	// ErrRuleTooLarge means a rule exceeds the per-rule domain cap.
	ErrRuleTooLarge = errors.New("rule exceeds domain limit")
)

// Applier installs and clears policy on a backend.
type Applier interface {
	// Ready reports whether the backend can accept calls.
	Ready() error

	SubmitFirewallRules(ctx context.Context, rules []policy.FirewallRule) error
	SubmitDomainRules(ctx context.Context, rules []policy.PolicyRule) error
	ClearFirewallRules(ctx context.Context) error
	ClearDomainRules(ctx context.Context) error

	SetEnforcement(ctx context.Context, enabled bool) error
	SetReporting(ctx context.Context, enabled bool) error
	EnforcementEnabled(ctx context.Context) (bool, error)
	ReportingEnabled(ctx context.Context) (bool, error)

	// Installed returns a copy of the installed policy.
	Installed(ctx context.Context) (Snapshot, error)
}

// Snapshot is the policy installed on a backend.
type Snapshot struct {
	Firewall    []policy.FirewallRule `json:"firewall" yaml:"firewall"`
	Domain      []policy.PolicyRule   `json:"domain" yaml:"domain"`
	Enforcement bool                  `json:"enforcement" yaml:"enforcement"`
	Reporting   bool                  `json:"reporting" yaml:"reporting"`
}

// Empty reports whether no rules are installed.
func (s Snapshot) Empty() bool {
	return len(s.Firewall) == 0 && len(s.Domain) == 0
}

// SnapshotFromPlan returns the snapshot a backend holds after plan was
// fully applied.
func SnapshotFromPlan(plan *policy.Plan) Snapshot {
	return Snapshot{
		Firewall:    plan.Firewall,
		Domain:      plan.Domain,
		Enforcement: true,
		Reporting:   true,
	}
}

// checkRuleSize enforces the per-rule domain cap.
func checkRuleSize(rules []policy.PolicyRule) error {
	for _, r := range rules {
		if len(r.Deny) > policy.MaxDomainsPerRule || len(r.Allow) > policy.MaxDomainsPerRule {
			return ErrRuleTooLarge
		}
	}
	return nil
}

var (
	_ Applier = (*MemoryBackend)(nil)
	_ Applier = (*StoreBackend)(nil)
	_ Applier = (*RetryingApplier)(nil)
	_ Applier = (*MockApplier)(nil)
)
