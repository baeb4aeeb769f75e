package firewall

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"grimm.is/warden/internal/policy"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
	// RetryableErrors limits retries to errors matching one of these.
	// Empty means every error is retried.
	RetryableErrors []error
}

// DefaultRetryConfig retries temporary backend failures a few times.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		BackoffFactor:   2.0,
		Jitter:          true,
		RetryableErrors: []error{ErrTemporary},
	}
}

// ErrTemporary marks backend errors worth retrying.
var ErrTemporary = errors.New("temporary error")

// WrapTemporary wraps an error as temporary/retryable.
func WrapTemporary(err error) error {
	return &temporaryError{err: err}
}

type temporaryError struct {
	err error
}

func (e *temporaryError) Error() string        { return e.err.Error() }
func (e *temporaryError) Unwrap() error        { return e.err }
func (e *temporaryError) Is(target error) bool { return target == ErrTemporary }

// Retry executes fn with exponential backoff.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult executes fn with exponential backoff and returns its
// last result.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	attempts := max(cfg.MaxAttempts, 1)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var err error
		result, err = fn()
		if err == nil || !isRetryable(err, cfg.RetryableErrors) || attempt == attempts-1 {
			return result, err
		}

		timer := time.NewTimer(calculateDelay(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}
}

func calculateDelay(attempt int, cfg RetryConfig) time.Duration {
	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(factor, float64(attempt))
	if cfg.Jitter {
		// up to 25%
		delay += delay * 0.25 * rand.Float64()
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}

func isRetryable(err error, retryable []error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if len(retryable) == 0 {
		return true
	}
	for _, target := range retryable {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// RetryingApplier retries the mutating calls and queries of an Applier.
type RetryingApplier struct {
	next Applier
	cfg  RetryConfig
}

// NewRetryingApplier wraps next.
func NewRetryingApplier(next Applier, cfg RetryConfig) *RetryingApplier {
	return &RetryingApplier{next: next, cfg: cfg}
}

func (r *RetryingApplier) Ready() error { return r.next.Ready() }

func (r *RetryingApplier) SubmitFirewallRules(ctx context.Context, rules []policy.FirewallRule) error {
	return Retry(ctx, r.cfg, func() error { return r.next.SubmitFirewallRules(ctx, rules) })
}

func (r *RetryingApplier) SubmitDomainRules(ctx context.Context, rules []policy.PolicyRule) error {
	return Retry(ctx, r.cfg, func() error { return r.next.SubmitDomainRules(ctx, rules) })
}

func (r *RetryingApplier) ClearFirewallRules(ctx context.Context) error {
	return Retry(ctx, r.cfg, func() error { return r.next.ClearFirewallRules(ctx) })
}

func (r *RetryingApplier) ClearDomainRules(ctx context.Context) error {
	return Retry(ctx, r.cfg, func() error { return r.next.ClearDomainRules(ctx) })
}

func (r *RetryingApplier) SetEnforcement(ctx context.Context, enabled bool) error {
	return Retry(ctx, r.cfg, func() error { return r.next.SetEnforcement(ctx, enabled) })
}

func (r *RetryingApplier) SetReporting(ctx context.Context, enabled bool) error {
	return Retry(ctx, r.cfg, func() error { return r.next.SetReporting(ctx, enabled) })
}

func (r *RetryingApplier) EnforcementEnabled(ctx context.Context) (bool, error) {
	return RetryWithResult(ctx, r.cfg, func() (bool, error) { return r.next.EnforcementEnabled(ctx) })
}

func (r *RetryingApplier) ReportingEnabled(ctx context.Context) (bool, error) {
	return RetryWithResult(ctx, r.cfg, func() (bool, error) { return r.next.ReportingEnabled(ctx) })
}

func (r *RetryingApplier) Installed(ctx context.Context) (Snapshot, error) {
	return RetryWithResult(ctx, r.cfg, func() (Snapshot, error) { return r.next.Installed(ctx) })
}
