// Package firewall defines the policy backend that warden pushes compiled
// rules to, and the backends it ships with.
//
// # Overview
//
// A backend holds two rule tables and two flags:
//
//   - firewall rules: per-app IPv4 deny rules ([policy.FirewallRule])
//   - domain rules: per-app deny/allow domain filters and DNS overrides
//     ([policy.PolicyRule])
//   - enforcement: whether installed rules take effect
//   - reporting: whether the backend reports blocked connections
//
// # Backends
//
//   - [MemoryBackend]: in-process, for dry runs and tests. Supports fault
//     injection and artificial latency.
//   - [StoreBackend]: persists the installed policy in the state store so it
//     survives restarts and can be inspected by other commands.
//   - [RetryingApplier]: decorator retrying temporary failures with
//     exponential backoff.
//
// # Example
//
//	backend := firewall.NewStoreBackend(store)
//	applier := firewall.NewRetryingApplier(backend, firewall.DefaultRetryConfig())
//	ctrl := controller.New(controller.Options{Applier: applier, ...})
package firewall
