// Package controller orchestrates enable and disable passes against a
// policy backend.
//
// An enable pass reads the rule sources, builds the deny sets, compiles every
// stage in order and submits each batch as soon as it is produced. Any
// failure rolls the backend back with a full disable, so a pass either
// installs the whole policy or leaves the backend cleared.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/warden/internal/blocklist"
	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
	"grimm.is/warden/internal/policy"
)

// DefaultSubmitTimeout bounds a single backend call.
const DefaultSubmitTimeout = 30 * time.Second

// Pass kinds
const (
	KindEnable  = "enable"
	KindDisable = "disable"
)

// Stages outside the compiler's rule stages.
const (
	StagePrepare     policy.Stage = "prepare"
	StageEnforcement policy.Stage = "enforcement"
)

// RuleSource supplies the user-editable rule sources.
type RuleSource interface {
	CustomRuleRecords() ([]string, error)
	UserBlacklist() ([]string, error)
	UserWhitelist() ([]string, error)
	RestrictedApps() ([]string, error)
	WhitelistedApps() ([]string, error)
	UserApps() ([]string, error)
	DNS() (dns1, dns2 string, err error)
}

// Notifier receives human-readable progress lines. Implementations must not
// block.
type Notifier interface {
	Notify(passID, message string)
}

// PassObserver is optionally implemented by a Notifier that wants pass
// boundaries as well.
type PassObserver interface {
	PassStarted(passID, kind string)
	PassFinished(passID, kind string, err error)
}

// StageError reports the stage at which an enable pass failed. The backend
// has been rolled back when it is returned.
type StageError struct {
	Stage  policy.Stage
	PassID string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("enable failed at %s (pass %s): %v", e.Stage, e.PassID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Options configures a Controller.
type Options struct {
	Applier   firewall.Applier
	Source    RuleSource
	Providers []blocklist.Provider
	Compiler  *policy.Compiler

	Logger   *logging.Logger
	Notifier Notifier
	Metrics  *metrics.Registry
	Clock    clock.Clock

	// SubmitTimeout bounds each backend call; zero means DefaultSubmitTimeout.
	SubmitTimeout time.Duration
	// FetchConcurrency bounds parallel provider downloads.
	FetchConcurrency int
}

// PassResult describes the most recent pass.
type PassResult struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Error    string    `json:"error,omitempty"`
}

// Status is the backend state as seen by the controller.
type Status struct {
	Enabled       bool        `json:"enabled"`
	Reporting     bool        `json:"reporting"`
	FirewallRules int         `json:"firewall_rules"`
	DomainRules   int         `json:"domain_rules"`
	LastPass      *PassResult `json:"last_pass,omitempty"`
}

// Controller runs enable and disable passes. At most one pass runs at a
// time.
type Controller struct {
	mu sync.Mutex

	applier   firewall.Applier
	source    RuleSource
	providers []blocklist.Provider
	compiler  *policy.Compiler

	logger   *logging.Logger
	notifier Notifier
	metrics  *metrics.Registry
	clock    clock.Clock

	submitTimeout    time.Duration
	fetchConcurrency int

	lastMu   sync.Mutex
	lastPass *PassResult
}

// New returns a controller.
func New(opts Options) *Controller {
	c := &Controller{
		applier:          opts.Applier,
		source:           opts.Source,
		providers:        opts.Providers,
		compiler:         opts.Compiler,
		logger:           opts.Logger,
		notifier:         opts.Notifier,
		metrics:          opts.Metrics,
		clock:            clock.OrReal(opts.Clock),
		submitTimeout:    opts.SubmitTimeout,
		fetchConcurrency: opts.FetchConcurrency,
	}
	if c.logger == nil {
		c.logger = logging.WithComponent("controller")
	}
	if c.compiler == nil {
		c.compiler = policy.NewCompiler(policy.MaxDomainsPerRule, policy.Capabilities{})
	}
	if c.submitTimeout <= 0 {
		c.submitTimeout = DefaultSubmitTimeout
	}
	return c
}

type pass struct {
	id      string
	kind    string
	started time.Time
}

func (c *Controller) begin(kind string) *pass {
	p := &pass{id: uuid.NewString(), kind: kind, started: c.clock.Now()}
	if obs, ok := c.notifier.(PassObserver); ok {
		obs.PassStarted(p.id, kind)
	}
	return p
}

func (c *Controller) finish(p *pass, err error) {
	res := &PassResult{ID: p.id, Kind: p.kind, Started: p.started, Finished: c.clock.Now()}
	if err != nil {
		res.Error = err.Error()
	}
	c.lastMu.Lock()
	c.lastPass = res
	c.lastMu.Unlock()

	c.metrics.RecordPass(p.kind, err)
	if obs, ok := c.notifier.(PassObserver); ok {
		obs.PassFinished(p.id, p.kind, err)
	}
}

// notify logs a progress line and forwards it to the notifier. Dry
// compilations have no pass and stay silent.
func (c *Controller) notify(p *pass, format string, args ...any) {
	if p == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	c.logger.Info(msg, "pass", p.id)
	if c.notifier != nil {
		c.notifier.Notify(p.id, msg)
	}
}

// checkReady fails without touching the backend when it cannot be used.
func (c *Controller) checkReady() error {
	if c.applier == nil {
		return fmt.Errorf("%w: no backend configured", firewall.ErrBackendUnavailable)
	}
	if err := c.applier.Ready(); err != nil {
		if errors.Is(err, firewall.ErrBackendUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", firewall.ErrBackendUnavailable, err)
	}
	return nil
}

// call runs one backend operation under the submission timeout.
func (c *Controller) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()
	return fn(ctx)
}

// Enable installs the full policy. On any failure the backend is rolled
// back and a *StageError is returned. Enabling an enabled policy rebuilds
// it from the current sources.
func (c *Controller) Enable(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkReady(); err != nil {
		return err
	}

	p := c.begin(KindEnable)
	c.notify(p, "Enabling policy...")

	stage, err := c.enable(ctx, p)
	if err != nil {
		c.logger.Error("enable failed, rolling back", "pass", p.id, "stage", stage, "error", err)
		c.notify(p, "Enable failed at %s, rolling back...", stage)

		// The caller's context may be what failed; the rollback must still run.
		rbCtx := context.WithoutCancel(ctx)
		if rbErr := c.disable(rbCtx, p); rbErr != nil {
			c.logger.Error("rollback incomplete", "pass", p.id, "error", rbErr)
		}
		c.metrics.RecordRollback()
		c.metrics.SetEnabled(false)

		err = &StageError{Stage: stage, PassID: p.id, Err: err}
		c.finish(p, err)
		return err
	}

	c.metrics.SetEnabled(true)
	c.notify(p, "Policy enabled")
	c.finish(p, nil)
	return nil
}

func (c *Controller) enable(ctx context.Context, p *pass) (policy.Stage, error) {
	// Start from an empty backend so re-enabling never duplicates rules.
	if err := c.call(ctx, c.applier.ClearFirewallRules); err != nil {
		return StagePrepare, err
	}
	if err := c.call(ctx, c.applier.ClearDomainRules); err != nil {
		return StagePrepare, err
	}

	in, err := c.prepare(ctx, p)
	if err != nil {
		return StagePrepare, err
	}

	sink := &submitSink{c: c, p: p, ctx: ctx}
	if stage, err := c.emit(in, sink); err != nil {
		return stage, err
	}

	if err := c.setFlag(ctx, c.applier.EnforcementEnabled, c.applier.SetEnforcement, true); err != nil {
		return StageEnforcement, err
	}
	if err := c.setFlag(ctx, c.applier.ReportingEnabled, c.applier.SetReporting, true); err != nil {
		return StageEnforcement, err
	}
	return "", nil
}

// setFlag turns a backend flag to want unless it already is. A failed query
// is treated as "needs setting".
func (c *Controller) setFlag(ctx context.Context,
	get func(context.Context) (bool, error),
	set func(context.Context, bool) error,
	want bool,
) error {
	var current bool
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		current, err = get(ctx)
		return err
	})
	if err == nil && current == want {
		return nil
	}
	return c.call(ctx, func(ctx context.Context) error { return set(ctx, want) })
}

// Disable clears every rule and turns enforcement and reporting off. It is
// idempotent and best effort: every step is attempted, and only an
// authorization failure is returned.
func (c *Controller) Disable(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkReady(); err != nil {
		return err
	}

	p := c.begin(KindDisable)
	c.notify(p, "Disabling policy...")
	err := c.disable(ctx, p)
	if err == nil {
		c.notify(p, "Policy disabled")
	}
	c.metrics.SetEnabled(false)
	c.finish(p, err)
	return err
}

func (c *Controller) disable(ctx context.Context, p *pass) error {
	var unauthorized error
	step := func(name string, err error) {
		if err == nil {
			return
		}
		if errors.Is(err, firewall.ErrUnauthorized) {
			unauthorized = err
		}
		c.logger.Warn("disable step failed", "pass", p.id, "step", name, "error", err)
	}

	step("clear firewall rules", c.call(ctx, c.applier.ClearFirewallRules))
	step("clear domain rules", c.call(ctx, c.applier.ClearDomainRules))
	step("disable enforcement", c.setFlag(ctx, c.applier.EnforcementEnabled, c.applier.SetEnforcement, false))
	step("disable reporting", c.setFlag(ctx, c.applier.ReportingEnabled, c.applier.SetReporting, false))

	if unauthorized != nil {
		return fmt.Errorf("disable: %w", unauthorized)
	}
	return nil
}

// IsEnabled reports whether the backend enforces a policy. Backend errors
// read as false.
func (c *Controller) IsEnabled(ctx context.Context) bool {
	if c.checkReady() != nil {
		return false
	}
	var on bool
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		on, err = c.applier.EnforcementEnabled(ctx)
		return err
	})
	if err != nil {
		c.logger.Warn("failed to query enforcement", "error", err)
		return false
	}
	return on
}

// Status returns the backend flags, installed rule counts and the result of
// the last pass. It does not wait for a running pass.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	var st Status
	if err := c.checkReady(); err != nil {
		return st, err
	}

	var snap firewall.Snapshot
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		snap, err = c.applier.Installed(ctx)
		return err
	})
	if err != nil {
		return st, fmt.Errorf("failed to read installed policy: %w", err)
	}

	st.Enabled = snap.Enforcement
	st.Reporting = snap.Reporting
	st.FirewallRules = len(snap.Firewall)
	st.DomainRules = len(snap.Domain)

	c.lastMu.Lock()
	if c.lastPass != nil {
		last := *c.lastPass
		st.LastPass = &last
	}
	c.lastMu.Unlock()
	return st, nil
}

// Compile builds the complete policy an enable pass would install, without
// touching the backend.
func (c *Controller) Compile(ctx context.Context) (*policy.Plan, error) {
	in, err := c.prepare(ctx, nil)
	if err != nil {
		return nil, err
	}
	sink := &planSink{}
	if _, err := c.emit(in, sink); err != nil {
		return nil, err
	}
	return &sink.plan, nil
}
