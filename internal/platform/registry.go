// Package platform holds the set of configured yield providers.
package platform

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
	"github.com/alanyoungcy/yieldrouter/internal/metrics"
)

// Registry maps provider IDs to adapters. It is read-only after construction.
type Registry struct {
	byID map[string]domain.YieldProvider
	ids  []string
}

// NewRegistry wraps each provider with call metrics. Duplicate IDs are an
// error.
func NewRegistry(m *metrics.Metrics, providers ...domain.YieldProvider) (*Registry, error) {
	r := &Registry{byID: make(map[string]domain.YieldProvider, len(providers))}
	for _, p := range providers {
		id := p.ID()
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("platform: duplicate provider %q", id)
		}
		r.byID[id] = &instrumented{YieldProvider: p, metrics: m}
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)
	return r, nil
}

// Get returns domain.ErrNotFound for an unknown ID.
func (r *Registry) Get(id string) (domain.YieldProvider, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("platform: provider %q: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

// All returns the providers ordered by ID.
func (r *Registry) All() []domain.YieldProvider {
	out := make([]domain.YieldProvider, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.byID[id])
	}
	return out
}

// IDs returns the sorted provider IDs.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

// instrumented counts calls and errors per provider and operation.
type instrumented struct {
	domain.YieldProvider
	metrics *metrics.Metrics
}

func (i *instrumented) Quote(ctx context.Context, asset string) (*domain.Quote, error) {
	q, err := i.YieldProvider.Quote(ctx, asset)
	i.metrics.ProviderCall(i.ID(), "quote", err)
	return q, err
}

func (i *instrumented) EstimateWithdraw(ctx context.Context, strategyOrAsset string, amount float64) (domain.WithdrawEstimate, error) {
	est, err := i.YieldProvider.EstimateWithdraw(ctx, strategyOrAsset, amount)
	i.metrics.ProviderCall(i.ID(), "estimate_withdraw", err)
	return est, err
}

func (i *instrumented) BuildDepositInstruction(ctx context.Context, strategyOrAsset string, amount float64, user string) (domain.InstructionPayload, error) {
	ix, err := i.YieldProvider.BuildDepositInstruction(ctx, strategyOrAsset, amount, user)
	i.metrics.ProviderCall(i.ID(), "build_deposit", err)
	return ix, err
}

func (i *instrumented) BuildWithdrawInstruction(ctx context.Context, strategyOrAsset string, amount float64, user string) (domain.InstructionPayload, error) {
	ix, err := i.YieldProvider.BuildWithdrawInstruction(ctx, strategyOrAsset, amount, user)
	i.metrics.ProviderCall(i.ID(), "build_withdraw", err)
	return ix, err
}
