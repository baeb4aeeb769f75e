package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/blocklist"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
	"grimm.is/warden/internal/policy"
)

type fakeSource struct {
	custom      []string
	blacklist   []string
	whitelist   []string
	restricted  []string
	whitelisted []string
	userApps    []string
	dns1, dns2  string
	err         error
}

func (f *fakeSource) CustomRuleRecords() ([]string, error) { return f.custom, f.err }
func (f *fakeSource) UserBlacklist() ([]string, error)     { return f.blacklist, nil }
func (f *fakeSource) UserWhitelist() ([]string, error)     { return f.whitelist, nil }
func (f *fakeSource) RestrictedApps() ([]string, error)    { return f.restricted, nil }
func (f *fakeSource) WhitelistedApps() ([]string, error)   { return f.whitelisted, nil }
func (f *fakeSource) UserApps() ([]string, error)          { return f.userApps, nil }
func (f *fakeSource) DNS() (string, string, error)         { return f.dns1, f.dns2, nil }

type recorder struct {
	mu       sync.Mutex
	messages []string
	events   []string
}

func (r *recorder) Notify(passID, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *recorder) PassStarted(passID, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "start:"+kind)
}

func (r *recorder) PassFinished(passID, kind string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "finish:"+kind)
}

func (r *recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

type fixture struct {
	ctrl     *Controller
	backend  *firewall.MemoryBackend
	source   *fakeSource
	notes    *recorder
	metrics  *metrics.Registry
	provided []string
}

type fixtureOption func(*Options)

func withChunkSize(n int, perAppDNS bool) fixtureOption {
	return func(o *Options) {
		o.Compiler = policy.NewCompiler(n, policy.Capabilities{PerAppDNS: perAppDNS})
	}
}

func withTimeout(d time.Duration) fixtureOption {
	return func(o *Options) { o.SubmitTimeout = d }
}

func withProviders(p ...blocklist.Provider) fixtureOption {
	return func(o *Options) { o.Providers = p }
}

func newFixture(t *testing.T, src *fakeSource, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		backend: firewall.NewMemoryBackend(),
		source:  src,
		notes:   &recorder{},
		metrics: metrics.NewRegistry(),
	}
	o := Options{
		Applier:  f.backend,
		Source:   src,
		Compiler: policy.NewCompiler(0, policy.Capabilities{PerAppDNS: true}),
		Providers: []blocklist.Provider{
			blocklist.NewStaticProvider("ads", true, []string{"ads.example.com", "*.track.io"}),
		},
		Logger:   logging.Discard(),
		Notifier: f.notes,
		Metrics:  f.metrics,
	}
	for _, opt := range opts {
		opt(&o)
	}
	f.ctrl = New(o)
	return f
}

func (f *fixture) installed(t *testing.T) firewall.Snapshot {
	t.Helper()
	snap, err := f.backend.Installed(context.Background())
	require.NoError(t, err)
	return snap
}

func TestEnable_WhitelistExample(t *testing.T) {
	f := newFixture(t, &fakeSource{whitelist: []string{"com.app.browser|safe.example.com"}})

	require.NoError(t, f.ctrl.Enable(context.Background()))

	snap := f.installed(t)
	require.Len(t, snap.Domain, 2)

	override := snap.Domain[0]
	assert.Equal(t, "com.app.browser", override.App)
	assert.ElementsMatch(t, []string{"ads.example.com", "*.track.io"}, override.Deny)
	assert.Equal(t, []string{"safe.example.com"}, override.Allow)

	global := snap.Domain[1]
	assert.Equal(t, policy.AllApps, global.App)
	assert.ElementsMatch(t, []string{"ads.example.com", "*.track.io"}, global.Deny)
	assert.Empty(t, global.Allow)

	assert.True(t, snap.Enforcement)
	assert.True(t, snap.Reporting)
	assert.True(t, f.ctrl.IsEnabled(context.Background()))
}

func TestEnable_WhitelistOverrideUsesGlobalDenySet(t *testing.T) {
	f := newFixture(t, &fakeSource{
		blacklist: []string{"user.bad.com"},
		whitelist: []string{"com.app.browser|safe.example.com"},
	})

	require.NoError(t, f.ctrl.Enable(context.Background()))

	snap := f.installed(t)
	require.Len(t, snap.Domain, 2)

	var global []string
	for _, r := range snap.Domain[1:] {
		require.Equal(t, policy.AllApps, r.App)
		global = append(global, r.Deny...)
	}
	assert.Equal(t, []string{"*.track.io", "ads.example.com", "user.bad.com"}, global)

	override := snap.Domain[0]
	assert.Equal(t, "com.app.browser", override.App)
	assert.Equal(t, global, override.Deny)
	assert.Equal(t, []string{"safe.example.com"}, override.Allow)
}

func TestEnable_DNSExample(t *testing.T) {
	f := newFixture(t, &fakeSource{
		dns1: "1.1.1.1", dns2: "8.8.8.8",
		userApps: []string{"com.mail", "com.chat"},
	}, withProviders())

	require.NoError(t, f.ctrl.Enable(context.Background()))

	snap := f.installed(t)
	require.Len(t, snap.Domain, 2)
	apps := []string{snap.Domain[0].App, snap.Domain[1].App}
	assert.ElementsMatch(t, []string{"com.mail", "com.chat"}, apps)
	for _, r := range snap.Domain {
		assert.Equal(t, "1.1.1.1", r.DNS1)
		assert.Equal(t, "8.8.8.8", r.DNS2)
	}
}

func TestEnable_InvalidDNSIsSkipped(t *testing.T) {
	f := newFixture(t, &fakeSource{
		dns1: "not-an-ip", dns2: "8.8.8.8",
		userApps: []string{"com.mail"},
	}, withProviders())

	require.NoError(t, f.ctrl.Enable(context.Background()))
	snap := f.installed(t)
	for _, r := range snap.Domain {
		assert.False(t, r.HasDNS())
	}
	assert.True(t, snap.Enforcement)
}

func TestEnable_GlobalDNSWithoutPerAppSupport(t *testing.T) {
	f := newFixture(t, &fakeSource{
		dns1: "1.1.1.1", dns2: "8.8.8.8",
		userApps: []string{"com.mail", "com.chat"},
	}, withProviders(), withChunkSize(0, false))

	require.NoError(t, f.ctrl.Enable(context.Background()))
	snap := f.installed(t)
	require.Len(t, snap.Domain, 1)
	assert.Equal(t, policy.AllApps, snap.Domain[0].App)
}

func TestEnable_StageOrder(t *testing.T) {
	src := &fakeSource{
		custom:      []string{"com.game|10.0.0.1|443", "broken|record"},
		blacklist:   []string{"user.example.com"},
		whitelist:   []string{"com.bank|bank.example.com", "news.example.com"},
		restricted:  []string{"com.video"},
		whitelisted: []string{"com.trusted"},
		userApps:    []string{"com.mail"},
		dns1:        "1.1.1.1",
		dns2:        "9.9.9.9",
	}
	f := newFixture(t, src)

	require.NoError(t, f.ctrl.Enable(context.Background()))
	snap := f.installed(t)

	require.Len(t, snap.Firewall, 2)
	assert.Equal(t, policy.FirewallRule{App: "com.game", IPAddress: "10.0.0.1", Port: "443", Interface: policy.InterfaceAll}, snap.Firewall[0])
	assert.Equal(t, policy.FirewallRule{App: "com.video", Interface: policy.InterfaceMobileData}, snap.Firewall[1])

	require.Len(t, snap.Domain, 5)
	assert.Equal(t, "com.trusted", snap.Domain[0].App)
	assert.Equal(t, []string{policy.AllowAll}, snap.Domain[0].Allow)

	// The app override carries the same deny list as the global rule.
	assert.Equal(t, "com.bank", snap.Domain[1].App)
	assert.Equal(t, []string{"*.track.io", "ads.example.com", "user.example.com"}, snap.Domain[1].Deny)

	assert.Equal(t, policy.AllApps, snap.Domain[2].App)
	assert.Equal(t, []string{"news.example.com"}, snap.Domain[2].Allow)

	// The global blocked rule includes the user blacklist.
	assert.Equal(t, []string{"*.track.io", "ads.example.com", "user.example.com"}, snap.Domain[3].Deny)

	assert.Equal(t, "com.mail", snap.Domain[4].App)
	assert.True(t, snap.Domain[4].HasDNS())
}

func TestEnable_ChunkedProgress(t *testing.T) {
	var domains []string
	for i := 0; i < 12; i++ {
		domains = append(domains, fmt.Sprintf("d%02d.example.com", i))
	}
	f := newFixture(t, &fakeSource{}, withChunkSize(5, true),
		withProviders(blocklist.NewStaticProvider("big", true, domains)))

	require.NoError(t, f.ctrl.Enable(context.Background()))

	snap := f.installed(t)
	require.Len(t, snap.Domain, 3)
	assert.Len(t, snap.Domain[0].Deny, 5)
	assert.Len(t, snap.Domain[2].Deny, 2)
	assert.Equal(t, 3, f.backend.Calls(firewall.OpSubmitDomain))

	msgs := f.notes.Messages()
	assert.Contains(t, msgs, "Processing 0 to 5 domains...")
	assert.Contains(t, msgs, "Processing 5 to 10 domains...")
	assert.Contains(t, msgs, "Processing 10 to 12 domains...")
	assert.Contains(t, msgs, "blocked_domains: 12 processed, 0 skipped, 3 rules submitted")
	assert.Contains(t, msgs, "custom_rules: 0 processed, 0 skipped, 0 rules submitted")
}

func TestEnableDisableRoundTrip(t *testing.T) {
	f := newFixture(t, &fakeSource{
		custom:     []string{"com.game|10.0.0.1|443"},
		restricted: []string{"com.video"},
		whitelist:  []string{"com.bank|bank.example.com"},
	})
	ctx := context.Background()

	require.NoError(t, f.ctrl.Enable(ctx))
	require.False(t, f.installed(t).Empty())

	require.NoError(t, f.ctrl.Disable(ctx))
	snap := f.installed(t)
	assert.True(t, snap.Empty())
	assert.False(t, snap.Enforcement)
	assert.False(t, snap.Reporting)
	assert.False(t, f.ctrl.IsEnabled(ctx))
}

func TestEnable_Reenable(t *testing.T) {
	f := newFixture(t, &fakeSource{restricted: []string{"com.video"}})
	ctx := context.Background()

	require.NoError(t, f.ctrl.Enable(ctx))
	first := f.installed(t)
	require.NoError(t, f.ctrl.Enable(ctx))
	assert.Equal(t, first, f.installed(t))
	assert.Equal(t, 1, f.backend.Calls(firewall.OpSetEnforcement), "flag set only when off")
}

func TestDisable_Idempotent(t *testing.T) {
	f := newFixture(t, &fakeSource{})
	ctx := context.Background()

	require.NoError(t, f.ctrl.Disable(ctx))
	require.NoError(t, f.ctrl.Disable(ctx))
	assert.Zero(t, f.backend.Calls(firewall.OpSetEnforcement))
	assert.Zero(t, f.backend.Calls(firewall.OpSetReporting))
	assert.True(t, f.installed(t).Empty())
}

func TestEnable_RollbackOnNthBatch(t *testing.T) {
	src := &fakeSource{
		custom:      []string{"com.game|10.0.0.1|443"},
		restricted:  []string{"com.video"},
		whitelisted: []string{"com.trusted"},
		whitelist:   []string{"com.bank|bank.example.com", "news.example.com"},
		userApps:    []string{"com.mail"},
		dns1:        "1.1.1.1",
		dns2:        "9.9.9.9",
	}

	// Reference: a direct disable on a fresh backend.
	ref := newFixture(t, src)
	require.NoError(t, ref.ctrl.Disable(context.Background()))
	want := ref.installed(t)

	boom := errors.New("backend exploded")
	// 5 domain batches: whitelisted apps, override, global allow, blocked, dns.
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("batch %d", n), func(t *testing.T) {
			f := newFixture(t, src)
			f.backend.SetFault(firewall.FailNth(firewall.OpSubmitDomain, n, boom))

			err := f.ctrl.Enable(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)

			var stageErr *StageError
			require.ErrorAs(t, err, &stageErr)
			assert.NotEmpty(t, stageErr.PassID)

			assert.Equal(t, want, f.installed(t))
			assert.False(t, f.ctrl.IsEnabled(context.Background()))
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rollbacks))
		})
	}
}

func TestEnable_RollbackReportsStage(t *testing.T) {
	tests := []struct {
		op    firewall.Op
		n     int
		stage policy.Stage
	}{
		{firewall.OpClearFirewall, 1, StagePrepare},
		{firewall.OpSubmitFirewall, 1, policy.StageCustomRules},
		{firewall.OpSubmitFirewall, 2, policy.StageRestrictedApps},
		{firewall.OpSubmitDomain, 1, policy.StageBlockedDomains},
		{firewall.OpSetEnforcement, 1, StageEnforcement},
		{firewall.OpSetReporting, 1, StageEnforcement},
	}
	for _, tt := range tests {
		t.Run(string(tt.stage)+"/"+string(tt.op), func(t *testing.T) {
			f := newFixture(t, &fakeSource{
				custom:     []string{"com.game|10.0.0.1|443"},
				restricted: []string{"com.video"},
			})
			f.backend.SetFault(firewall.FailNth(tt.op, tt.n, errors.New("nope")))

			err := f.ctrl.Enable(context.Background())
			var stageErr *StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, tt.stage, stageErr.Stage)
			assert.True(t, f.installed(t).Empty())
			assert.False(t, f.installed(t).Enforcement)
		})
	}
}

func TestEnable_BatchTimeout(t *testing.T) {
	f := newFixture(t, &fakeSource{}, withTimeout(20*time.Millisecond))
	f.backend.SetLatency(time.Second)

	err := f.ctrl.Enable(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	snap := f.installed(t)
	assert.True(t, snap.Empty())
	assert.False(t, snap.Enforcement)
}

func TestEnable_CallerCancellationStillRollsBack(t *testing.T) {
	f := newFixture(t, &fakeSource{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.ctrl.Enable(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, f.backend.Calls(firewall.OpClearFirewall), "rollback ran")
	assert.True(t, f.installed(t).Empty())
}

func TestEnable_SourceFailure(t *testing.T) {
	f := newFixture(t, &fakeSource{err: errors.New("store closed")})

	err := f.ctrl.Enable(context.Background())
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StagePrepare, stageErr.Stage)
}

func TestEnable_FailedProviderIsNotFatal(t *testing.T) {
	f := newFixture(t, &fakeSource{blacklist: []string{"user.example.com"}},
		withProviders(&brokenProvider{}))

	require.NoError(t, f.ctrl.Enable(context.Background()))
	snap := f.installed(t)
	require.Len(t, snap.Domain, 1)
	assert.Equal(t, []string{"user.example.com"}, snap.Domain[0].Deny)
}

type brokenProvider struct{}

func (brokenProvider) Name() string  { return "broken" }
func (brokenProvider) Enabled() bool { return true }
func (brokenProvider) FetchDomains(context.Context) ([]string, error) {
	return nil, errors.New("connection refused")
}

func TestPreconditionFailure(t *testing.T) {
	m := &firewall.MockApplier{}
	m.On("Ready").Return(errors.New("service not bound"))

	ctrl := New(Options{Applier: m, Source: &fakeSource{}, Logger: logging.Discard()})

	err := ctrl.Enable(context.Background())
	assert.ErrorIs(t, err, firewall.ErrBackendUnavailable)
	err = ctrl.Disable(context.Background())
	assert.ErrorIs(t, err, firewall.ErrBackendUnavailable)
	assert.False(t, ctrl.IsEnabled(context.Background()))

	m.AssertExpectations(t)
	m.AssertNotCalled(t, "ClearFirewallRules", mock.Anything)
	m.AssertNotCalled(t, "SubmitDomainRules", mock.Anything, mock.Anything)
	m.AssertNotCalled(t, "SetEnforcement", mock.Anything, mock.Anything)

	nilCtrl := New(Options{Logger: logging.Discard()})
	assert.ErrorIs(t, nilCtrl.Enable(context.Background()), firewall.ErrBackendUnavailable)
}

func TestDisable_Unauthorized(t *testing.T) {
	f := newFixture(t, &fakeSource{restricted: []string{"com.video"}})
	ctx := context.Background()
	require.NoError(t, f.ctrl.Enable(ctx))

	f.backend.SetFault(firewall.FailNth(firewall.OpClearFirewall, 2, firewall.ErrUnauthorized))
	err := f.ctrl.Disable(ctx)
	assert.ErrorIs(t, err, firewall.ErrUnauthorized)

	// Remaining steps still ran.
	snap := f.installed(t)
	assert.False(t, snap.Enforcement)
	assert.False(t, snap.Reporting)
	assert.Empty(t, snap.Domain)
}

func TestDisable_OtherFailuresAreSwallowed(t *testing.T) {
	f := newFixture(t, &fakeSource{})
	ctx := context.Background()
	require.NoError(t, f.ctrl.Enable(ctx))

	f.backend.SetFault(firewall.FailNth(firewall.OpClearDomain, 2, errors.New("flaky")))
	assert.NoError(t, f.ctrl.Disable(ctx))
	assert.False(t, f.ctrl.IsEnabled(ctx))
}

func TestIsEnabled_BackendError(t *testing.T) {
	m := &firewall.MockApplier{}
	m.On("Ready").Return(nil)
	m.On("EnforcementEnabled", mock.Anything).Return(true, errors.New("binder died"))

	ctrl := New(Options{Applier: m, Logger: logging.Discard()})
	assert.False(t, ctrl.IsEnabled(context.Background()))
}

func TestPassesAreSerialized(t *testing.T) {
	f := newFixture(t, &fakeSource{restricted: []string{"com.video"}})
	f.backend.SetLatency(time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = f.ctrl.Enable(context.Background())
			} else {
				_ = f.ctrl.Disable(context.Background())
			}
		}(i)
	}
	wg.Wait()

	f.notes.mu.Lock()
	events := append([]string(nil), f.notes.events...)
	f.notes.mu.Unlock()

	require.Len(t, events, 16)
	for i := 0; i < len(events); i += 2 {
		start, finish := events[i], events[i+1]
		assert.True(t, strings.HasPrefix(start, "start:"), events)
		assert.Equal(t, strings.TrimPrefix(start, "start:"), strings.TrimPrefix(finish, "finish:"))
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, &fakeSource{
		restricted: []string{"com.video", "com.game"},
		whitelist:  []string{"news.example.com"},
	})
	ctx := context.Background()

	st, err := f.ctrl.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Enabled)
	assert.Nil(t, st.LastPass)

	require.NoError(t, f.ctrl.Enable(ctx))
	st, err = f.ctrl.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.True(t, st.Reporting)
	assert.Equal(t, 2, st.FirewallRules)
	assert.Equal(t, 2, st.DomainRules)
	require.NotNil(t, st.LastPass)
	assert.Equal(t, KindEnable, st.LastPass.Kind)
	assert.Empty(t, st.LastPass.Error)
}

func TestCompile_MatchesEnable(t *testing.T) {
	src := &fakeSource{
		custom:      []string{"com.game|10.0.0.1|443", "bad"},
		blacklist:   []string{"user.example.com"},
		whitelist:   []string{"com.bank|bank.example.com"},
		restricted:  []string{"com.video"},
		whitelisted: []string{"com.trusted"},
		userApps:    []string{"com.mail"},
		dns1:        "1.1.1.1",
		dns2:        "9.9.9.9",
	}
	f := newFixture(t, src)
	ctx := context.Background()

	plan, err := f.ctrl.Compile(ctx)
	require.NoError(t, err)
	assert.Zero(t, f.backend.TotalCalls(), "compile must not touch the backend")

	require.Len(t, plan.Reports, len(policy.Stages))
	for i, r := range plan.Reports {
		assert.Equal(t, policy.Stages[i], r.Stage)
	}
	assert.Len(t, plan.Reports[0].Skipped, 1)

	require.NoError(t, f.ctrl.Enable(ctx))
	snap := f.installed(t)
	assert.Equal(t, plan.Firewall, snap.Firewall)
	assert.Equal(t, plan.Domain, snap.Domain)
}

func TestMetricsRecorded(t *testing.T) {
	f := newFixture(t, &fakeSource{blacklist: []string{"user.example.com"}})
	ctx := context.Background()

	require.NoError(t, f.ctrl.Enable(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Passes.WithLabelValues(KindEnable, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Enabled))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.DenySetSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RulesSubmitted.WithLabelValues(string(policy.StageBlockedDomains))))

	require.NoError(t, f.ctrl.Disable(ctx))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.Enabled))
}
