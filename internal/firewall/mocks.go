package firewall

import (
	"context"

	"github.com/stretchr/testify/mock"

	"grimm.is/warden/internal/policy"
)

// MockApplier is a testify mock of Applier.
type MockApplier struct {
	mock.Mock
}

func (m *MockApplier) Ready() error {
	return m.Called().Error(0)
}

func (m *MockApplier) SubmitFirewallRules(ctx context.Context, rules []policy.FirewallRule) error {
	return m.Called(ctx, rules).Error(0)
}

func (m *MockApplier) SubmitDomainRules(ctx context.Context, rules []policy.PolicyRule) error {
	return m.Called(ctx, rules).Error(0)
}

func (m *MockApplier) ClearFirewallRules(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockApplier) ClearDomainRules(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockApplier) SetEnforcement(ctx context.Context, enabled bool) error {
	return m.Called(ctx, enabled).Error(0)
}

func (m *MockApplier) SetReporting(ctx context.Context, enabled bool) error {
	return m.Called(ctx, enabled).Error(0)
}

func (m *MockApplier) EnforcementEnabled(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockApplier) ReportingEnabled(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockApplier) Installed(ctx context.Context) (Snapshot, error) {
	args := m.Called(ctx)
	snap, _ := args.Get(0).(Snapshot)
	return snap, args.Error(1)
}
