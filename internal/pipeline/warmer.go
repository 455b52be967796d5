package pipeline

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/yieldrouter/internal/quotecache"
)

// WarmOpSource lists the cache keys to pre-populate.
type WarmOpSource interface {
	WarmOps(assets []string) []quotecache.WarmOp
}

// QuoteWarmer refreshes provider quotes ahead of their expiry.
type QuoteWarmer struct {
	cache  *quotecache.Cache
	source WarmOpSource
	assets []string
	logger *slog.Logger
}

// NewQuoteWarmer creates a QuoteWarmer for assets.
func NewQuoteWarmer(cache *quotecache.Cache, source WarmOpSource, assets []string, logger *slog.Logger) *QuoteWarmer {
	return &QuoteWarmer{
		cache:  cache,
		source: source,
		assets: assets,
		logger: logger.With(slog.String("component", "quote_warmer")),
	}
}

// Name identifies the job in scheduler logs.
func (w *QuoteWarmer) Name() string { return "quote-warmup" }

// Run warms every provider and asset pair. Failures are logged by the cache
// and never returned.
func (w *QuoteWarmer) Run(ctx context.Context) error {
	ops := w.source.WarmOps(w.assets)
	if failed := w.cache.WarmUp(ctx, ops); failed > 0 {
		w.logger.WarnContext(ctx, "quote warm-up incomplete",
			slog.Int("failed", failed),
			slog.Int("ops", len(ops)),
		)
	}
	return nil
}
