package firewall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"grimm.is/warden/internal/policy"
	"grimm.is/warden/internal/state"
)

// Bucket names used by StoreBackend.
const (
	BucketInstalledFirewall = "installed_firewall"
	BucketInstalledDomain   = "installed_domain"
	BucketInstalledFlags    = "installed_flags"

	flagEnforcement = "enforcement"
	flagReporting   = "reporting"
)

// StoreBackend is a local backend keeping the installed policy in the state
// store. Rules keep submission order through zero-padded sequence keys.
type StoreBackend struct {
	mu    sync.Mutex
	store state.Store
}

// NewStoreBackend ensures the backend buckets exist.
func NewStoreBackend(store state.Store) (*StoreBackend, error) {
	for _, b := range []string{BucketInstalledFirewall, BucketInstalledDomain, BucketInstalledFlags} {
		if err := store.EnsureBucket(b); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", b, err)
		}
	}
	return &StoreBackend{store: store}, nil
}

func (b *StoreBackend) Ready() error {
	if _, err := b.store.Count(BucketInstalledFlags); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (b *StoreBackend) SubmitFirewallRules(ctx context.Context, rules []policy.FirewallRule) error {
	return appendRules(ctx, b, BucketInstalledFirewall, rules)
}

func (b *StoreBackend) SubmitDomainRules(ctx context.Context, rules []policy.PolicyRule) error {
	if err := checkRuleSize(rules); err != nil {
		return err
	}
	return appendRules(ctx, b, BucketInstalledDomain, rules)
}

func appendRules[T any](ctx context.Context, b *StoreBackend, bucket string, rules []T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	next, err := b.store.Count(bucket)
	if err != nil {
		return err
	}
	entries := make(map[string][]byte, len(rules))
	for i, r := range rules {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode rule: %w", err)
		}
		entries[seqKey(next+i)] = data
	}
	return b.store.SetBatch(bucket, entries)
}

func seqKey(n int) string {
	return fmt.Sprintf("%010d", n)
}

func (b *StoreBackend) ClearFirewallRules(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.store.Clear(BucketInstalledFirewall)
}

func (b *StoreBackend) ClearDomainRules(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.store.Clear(BucketInstalledDomain)
}

func (b *StoreBackend) SetEnforcement(ctx context.Context, enabled bool) error {
	return b.setFlag(ctx, flagEnforcement, enabled)
}

func (b *StoreBackend) SetReporting(ctx context.Context, enabled bool) error {
	return b.setFlag(ctx, flagReporting, enabled)
}

func (b *StoreBackend) EnforcementEnabled(ctx context.Context) (bool, error) {
	return b.flag(flagEnforcement)
}

func (b *StoreBackend) ReportingEnabled(ctx context.Context) (bool, error) {
	return b.flag(flagReporting)
}

func (b *StoreBackend) setFlag(ctx context.Context, name string, v bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.store.SetJSON(BucketInstalledFlags, name, v)
}

func (b *StoreBackend) flag(name string) (bool, error) {
	var v bool
	err := b.store.GetJSON(BucketInstalledFlags, name, &v)
	if errors.Is(err, state.ErrNotFound) {
		return false, nil
	}
	return v, err
}

func (b *StoreBackend) Installed(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var err error

	if snap.Firewall, err = loadRules[policy.FirewallRule](b.store, BucketInstalledFirewall); err != nil {
		return Snapshot{}, err
	}
	if snap.Domain, err = loadRules[policy.PolicyRule](b.store, BucketInstalledDomain); err != nil {
		return Snapshot{}, err
	}
	if snap.Enforcement, err = b.flag(flagEnforcement); err != nil {
		return Snapshot{}, err
	}
	if snap.Reporting, err = b.flag(flagReporting); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func loadRules[T any](store state.Store, bucket string) ([]T, error) {
	data, err := store.List(bucket)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rules := make([]T, 0, len(keys))
	for _, k := range keys {
		var r T
		if err := json.Unmarshal(data[k], &r); err != nil {
			return nil, fmt.Errorf("corrupt rule %s/%s: %w", bucket, k, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}
