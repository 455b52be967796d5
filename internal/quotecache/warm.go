package quotecache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// WarmOp is one key to pre-populate.
type WarmOp struct {
	Key   string
	TTL   time.Duration
	Fetch FetchFunc
}

// WarmUp runs every op concurrently. It never fails: each error is logged and
// counted, and the number of failed ops is returned.
func (c *Cache) WarmUp(ctx context.Context, ops []WarmOp) int {
	var failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.WarmUpConcurrency)
	for _, op := range ops {
		g.Go(func() error {
			if _, err := c.GetOrFetch(gctx, op.Key, op.TTL, op.Fetch); err != nil {
				failed.Add(1)
				c.metrics.WarmUpFailure()
				c.logger.WarnContext(gctx, "cache warm-up failed",
					slog.String("key", op.Key),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(failed.Load())
	c.logger.InfoContext(ctx, "cache warm-up finished",
		slog.Int("ops", len(ops)),
		slog.Int("failed", n),
	)
	return n
}
