package firewall

import (
	"context"
	"slices"
	"sync"
	"time"

	"grimm.is/warden/internal/policy"
)

// Op names a backend operation for fault injection and call counting.
type Op string

const (
	OpSubmitFirewall Op = "submit_firewall"
	OpSubmitDomain   Op = "submit_domain"
	OpClearFirewall  Op = "clear_firewall"
	OpClearDomain    Op = "clear_domain"
	OpSetEnforcement Op = "set_enforcement"
	OpSetReporting   Op = "set_reporting"
)

// FaultFunc decides whether the n-th call (1-based) of op fails.
type FaultFunc func(op Op, n int) error

// FailNth returns a FaultFunc failing the n-th call of op with err.
func FailNth(op Op, n int, err error) FaultFunc {
	return func(o Op, call int) error {
		if o == op && call == n {
			return err
		}
		return nil
	}
}

// MemoryBackend keeps the installed policy in memory.
type MemoryBackend struct {
	mu          sync.Mutex
	firewall    []policy.FirewallRule
	domain      []policy.PolicyRule
	enforcement bool
	reporting   bool

	ready   error
	fault   FaultFunc
	latency time.Duration
	calls   map[Op]int
}

// NewMemoryBackend returns an empty, ready backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{calls: make(map[Op]int)}
}

// SetReady makes Ready return err.
func (m *MemoryBackend) SetReady(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = err
}

// SetFault installs a fault injection hook; nil removes it.
func (m *MemoryBackend) SetFault(f FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

// SetLatency delays every submission by d, or until the context ends.
func (m *MemoryBackend) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// Calls returns how often op was invoked.
func (m *MemoryBackend) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls returns the number of mutating calls made.
func (m *MemoryBackend) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func (m *MemoryBackend) Ready() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// begin counts the call and applies latency and faults. It must be called
// without m.mu held.
func (m *MemoryBackend) begin(ctx context.Context, op Op) error {
	m.mu.Lock()
	m.calls[op]++
	n := m.calls[op]
	fault, latency := m.fault, m.latency
	m.mu.Unlock()

	if latency > 0 && (op == OpSubmitFirewall || op == OpSubmitDomain) {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if fault != nil {
		return fault(op, n)
	}
	return nil
}

func (m *MemoryBackend) SubmitFirewallRules(ctx context.Context, rules []policy.FirewallRule) error {
	if err := m.begin(ctx, OpSubmitFirewall); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.firewall = append(m.firewall, rules...)
	return nil
}

func (m *MemoryBackend) SubmitDomainRules(ctx context.Context, rules []policy.PolicyRule) error {
	if err := m.begin(ctx, OpSubmitDomain); err != nil {
		return err
	}
	if err := checkRuleSize(rules); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domain = append(m.domain, rules...)
	return nil
}

func (m *MemoryBackend) ClearFirewallRules(ctx context.Context) error {
	if err := m.begin(ctx, OpClearFirewall); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.firewall = nil
	return nil
}

func (m *MemoryBackend) ClearDomainRules(ctx context.Context) error {
	if err := m.begin(ctx, OpClearDomain); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domain = nil
	return nil
}

func (m *MemoryBackend) SetEnforcement(ctx context.Context, enabled bool) error {
	if err := m.begin(ctx, OpSetEnforcement); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enforcement = enabled
	return nil
}

func (m *MemoryBackend) SetReporting(ctx context.Context, enabled bool) error {
	if err := m.begin(ctx, OpSetReporting); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reporting = enabled
	return nil
}

func (m *MemoryBackend) EnforcementEnabled(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enforcement, nil
}

func (m *MemoryBackend) ReportingEnabled(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reporting, nil
}

func (m *MemoryBackend) Installed(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Firewall:    slices.Clone(m.firewall),
		Domain:      slices.Clone(m.domain),
		Enforcement: m.enforcement,
		Reporting:   m.reporting,
	}, nil
}
