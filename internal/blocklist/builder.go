// Package blocklist merges blacklist providers into a single deny set.
//
// Providers are the user's own list plus any number of subscribed lists
// (downloaded or read from disk). Every contributed string passes through the
// domain normalizer; invalid entries are dropped and counted, never fatal.
package blocklist

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"grimm.is/warden/internal/domain"
	"grimm.is/warden/internal/logging"
)

// DefaultFetchConcurrency bounds parallel provider downloads in Prefetch.
const DefaultFetchConcurrency = 4

// ProviderReport describes one provider's contribution to a build.
type ProviderReport struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Fetched int    `json:"fetched"`
	Invalid int    `json:"invalid"`
	Added   int    `json:"added"`
	Error   string `json:"error,omitempty"`
}

// BuildReport summarizes a deny set build.
type BuildReport struct {
	Providers []ProviderReport `json:"providers"`
	Invalid   int              `json:"invalid"`
	Failed    int              `json:"failed"`
	Size      int              `json:"size"`
}

func (r BuildReport) String() string {
	return fmt.Sprintf("deny set: %d domains from %d providers, %d invalid entries skipped, %d providers failed",
		r.Size, len(r.Providers), r.Invalid, r.Failed)
}

// Builder merges providers into a DenySet.
type Builder struct {
	user   Provider
	logger *logging.Logger
}

// NewBuilder returns a builder whose implicit user list is user. user may be
// nil when no user list exists.
func NewBuilder(user Provider, logger *logging.Logger) *Builder {
	if logger == nil {
		logger = logging.WithComponent("blocklist")
	}
	return &Builder{user: user, logger: logger}
}

// Build merges the enabled providers, plus the user list when
// includeUserList is set, into a fresh deny set. A provider whose fetch
// fails contributes nothing and is reported; only context cancellation
// aborts the build.
func (b *Builder) Build(ctx context.Context, providers []Provider, includeUserList bool) (*DenySet, BuildReport, error) {
	set := NewDenySet()
	var report BuildReport

	all := providers
	if includeUserList && b.user != nil {
		all = append([]Provider{b.user}, providers...)
	}

	for _, p := range all {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}

		pr := ProviderReport{Name: p.Name(), Enabled: p.Enabled()}
		if !p.Enabled() {
			report.Providers = append(report.Providers, pr)
			continue
		}

		raw, err := p.FetchDomains(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, report, ctxErr
			}
			b.logger.Warn("provider fetch failed", "provider", p.Name(), "error", err)
			pr.Error = err.Error()
			report.Failed++
			report.Providers = append(report.Providers, pr)
			continue
		}

		pr.Fetched = len(raw)
		for _, r := range raw {
			tok, err := domain.Normalize(r)
			if err != nil {
				pr.Invalid++
				continue
			}
			if set.Add(tok) {
				pr.Added++
			}
		}
		report.Invalid += pr.Invalid
		report.Providers = append(report.Providers, pr)
	}

	report.Size = set.Len()
	return set, report, nil
}

// Prefetch downloads every enabled provider concurrently and returns static
// snapshots in the same order, so a pass that builds more than one deny set
// fetches each list once. Disabled providers are passed through as empty
// disabled snapshots. A failed fetch becomes an enabled provider that
// returns the same error from FetchDomains, leaving the decision to Build.
func Prefetch(ctx context.Context, providers []Provider, limit int) ([]Provider, error) {
	if limit <= 0 {
		limit = DefaultFetchConcurrency
	}

	out := make([]Provider, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, p := range providers {
		if !p.Enabled() {
			out[i] = NewStaticProvider(p.Name(), false, nil)
			continue
		}
		g.Go(func() error {
			domains, err := p.FetchDomains(gctx)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				out[i] = &failedProvider{name: p.Name(), err: err}
				return nil
			}
			out[i] = NewStaticProvider(p.Name(), true, domains)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type failedProvider struct {
	name string
	err  error
}

func (p *failedProvider) Name() string  { return p.name }
func (p *failedProvider) Enabled() bool { return true }

func (p *failedProvider) FetchDomains(ctx context.Context) ([]string, error) {
	return nil, p.err
}
