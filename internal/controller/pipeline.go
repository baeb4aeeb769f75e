package controller

import (
	"context"
	"fmt"
	"time"

	"grimm.is/warden/internal/blocklist"
	"grimm.is/warden/internal/policy"
)

// inputs is everything a pass compiles from, read once up front.
type inputs struct {
	customRecords   []string
	whitelist       []string
	restrictedApps  []string
	whitelistedApps []string
	userApps        []string
	dns1, dns2      string

	// blockedDeny is the global deny set: subscribed providers plus the user list.
	blockedDeny []string
}

func (c *Controller) prepare(ctx context.Context, p *pass) (*inputs, error) {
	if c.source == nil {
		return nil, fmt.Errorf("no rule source configured")
	}
	in := &inputs{}
	var err error

	if in.customRecords, err = c.source.CustomRuleRecords(); err != nil {
		return nil, fmt.Errorf("failed to read custom rules: %w", err)
	}
	if in.whitelist, err = c.source.UserWhitelist(); err != nil {
		return nil, fmt.Errorf("failed to read whitelist: %w", err)
	}
	if in.restrictedApps, err = c.source.RestrictedApps(); err != nil {
		return nil, fmt.Errorf("failed to read restricted apps: %w", err)
	}
	if in.whitelistedApps, err = c.source.WhitelistedApps(); err != nil {
		return nil, fmt.Errorf("failed to read whitelisted apps: %w", err)
	}
	if in.userApps, err = c.source.UserApps(); err != nil {
		return nil, fmt.Errorf("failed to read user apps: %w", err)
	}
	if in.dns1, in.dns2, err = c.source.DNS(); err != nil {
		return nil, fmt.Errorf("failed to read dns settings: %w", err)
	}

	c.notify(p, "Fetching blacklists...")
	providers, err := blocklist.Prefetch(ctx, c.providers, c.fetchConcurrency)
	if err != nil {
		return nil, err
	}

	logger := c.logger.WithComponent("blocklist")
	subscribed, report, err := blocklist.NewBuilder(nil, logger).Build(ctx, providers, false)
	if err != nil {
		return nil, err
	}
	c.notify(p, "%s", report)

	user, _, err := blocklist.NewBuilder(blocklist.NewUserProvider(c.source), logger).Build(ctx, nil, true)
	if err != nil {
		return nil, err
	}

	blocked := subscribed.Union(user)
	in.blockedDeny = blocked.Sorted()
	if p != nil {
		c.metrics.SetDenySetSize(blocked.Len())
	}
	return in, nil
}

// sink consumes the batches of a pass in emission order.
type sink interface {
	firewall(stage policy.Stage, rules []policy.FirewallRule) error
	domain(stage policy.Stage, rules []policy.PolicyRule) error
	stageDone(report policy.Report, rules int, elapsed time.Duration)
}

// emit compiles every stage in order and hands each batch to s as soon as
// it is produced. On error it returns the failing stage.
func (c *Controller) emit(in *inputs, s sink) (policy.Stage, error) {
	comp := c.compiler

	// custom rules
	start := c.clock.Now()
	custom, report := comp.CompileCustomRules(in.customRecords)
	fw := policy.CustomFirewallRules(custom)
	if len(fw) > 0 {
		if err := s.firewall(policy.StageCustomRules, fw); err != nil {
			return policy.StageCustomRules, err
		}
	}
	s.stageDone(report, len(fw), c.clock.Since(start))

	// restricted apps
	start = c.clock.Now()
	fw, report = comp.CompileRestrictedAppRules(in.restrictedApps)
	if len(fw) > 0 {
		if err := s.firewall(policy.StageRestrictedApps, fw); err != nil {
			return policy.StageRestrictedApps, err
		}
	}
	s.stageDone(report, len(fw), c.clock.Since(start))

	// whitelisted apps
	start = c.clock.Now()
	rules, report := comp.CompileWhitelistedAppRules(in.whitelistedApps)
	if len(rules) > 0 {
		if err := s.domain(policy.StageWhitelistedApps, rules); err != nil {
			return policy.StageWhitelistedApps, err
		}
	}
	s.stageDone(report, len(rules), c.clock.Since(start))

	// whitelisted domains, streamed one rule per batch
	start = c.clock.Now()
	wl, report := comp.ParseWhitelist(in.whitelist)
	n := 0
	for rule := range comp.WhitelistedDomainRules(wl, in.blockedDeny) {
		if err := s.domain(policy.StageWhitelistedDomains, []policy.PolicyRule{rule}); err != nil {
			return policy.StageWhitelistedDomains, err
		}
		n++
	}
	s.stageDone(report, n, c.clock.Since(start))

	// blocked domains, streamed one chunk per batch
	start = c.clock.Now()
	report = policy.Report{Stage: policy.StageBlockedDomains, Processed: len(in.blockedDeny)}
	n = 0
	for rule := range comp.BlockedDomainRules(in.blockedDeny) {
		if err := s.domain(policy.StageBlockedDomains, []policy.PolicyRule{rule}); err != nil {
			return policy.StageBlockedDomains, err
		}
		n++
	}
	s.stageDone(report, n, c.clock.Since(start))

	// dns overrides
	start = c.clock.Now()
	rules, report = comp.CompileDNSOverrideRules(in.dns1, in.dns2, in.userApps)
	if len(rules) > 0 {
		if err := s.domain(policy.StageDNS, rules); err != nil {
			return policy.StageDNS, err
		}
	}
	s.stageDone(report, len(rules), c.clock.Since(start))

	return "", nil
}

// submitSink sends batches to the backend.
type submitSink struct {
	c   *Controller
	p   *pass
	ctx context.Context

	// offset counts blocked domains submitted so far, for progress lines.
	offset int
}

func (s *submitSink) firewall(stage policy.Stage, rules []policy.FirewallRule) error {
	return s.c.call(s.ctx, func(ctx context.Context) error {
		return s.c.applier.SubmitFirewallRules(ctx, rules)
	})
}

func (s *submitSink) domain(stage policy.Stage, rules []policy.PolicyRule) error {
	if stage == policy.StageBlockedDomains {
		end := s.offset + len(rules[0].Deny)
		s.c.notify(s.p, "Processing %d to %d domains...", s.offset, end)
		s.offset = end
	}
	return s.c.call(s.ctx, func(ctx context.Context) error {
		return s.c.applier.SubmitDomainRules(ctx, rules)
	})
}

func (s *submitSink) stageDone(report policy.Report, rules int, elapsed time.Duration) {
	s.c.notify(s.p, "%s, %d rules submitted", report, rules)
	for _, skip := range report.Skipped {
		s.c.logger.Debug("record skipped", "pass", s.p.id, "stage", report.Stage, "record", skip.Record, "reason", skip.Reason)
	}
	s.c.metrics.RecordStage(string(report.Stage), rules, len(report.Skipped), elapsed)
}

// planSink collects batches into a Plan.
type planSink struct {
	plan policy.Plan
}

func (s *planSink) firewall(_ policy.Stage, rules []policy.FirewallRule) error {
	s.plan.Firewall = append(s.plan.Firewall, rules...)
	return nil
}

func (s *planSink) domain(_ policy.Stage, rules []policy.PolicyRule) error {
	s.plan.Domain = append(s.plan.Domain, rules...)
	return nil
}

func (s *planSink) stageDone(report policy.Report, _ int, _ time.Duration) {
	s.plan.Reports = append(s.plan.Reports, report)
}
