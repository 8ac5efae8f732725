package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"goflare.io/encore"
)

// CacheStats prints the cache counters and the circuit breaker states.
func (r *Runner) CacheStats(ctx context.Context, cmd *cli.Command) error {
	return r.withEncore(ctx, cmd, func(e *encore.Encore) error {
		stats := e.Stats()
		if cmd.Bool("json") {
			return r.writeJSON(stats, cmd.Bool("pretty"))
		}

		out := r.printer()
		out.printf("Durable entries: %d (%d expired)\n", stats.Durable.Entries, stats.Durable.Expired)
		out.printf("Durable size: ~%d bytes\n", stats.Durable.ApproxBytes)
		out.printf("Hits: %d  Misses: %d  Sets: %d  Hit rate: %.2f\n", stats.Hits, stats.Misses, stats.Sets, stats.HitRate)
		for _, b := range e.Breakers() {
			out.printf("Breaker %s: %s\n", b.Name, b.State)
		}
		return out.err
	})
}

// CacheCleanup removes expired entries.
func (r *Runner) CacheCleanup(ctx context.Context, cmd *cli.Command) error {
	return r.withEncore(ctx, cmd, func(e *encore.Encore) error {
		res := e.Cleanup(ctx)
		return r.writePlain("✓ Removed %d expired entries\n", res.Fast+res.Durable)
	})
}

// CacheClear removes every entry.
func (r *Runner) CacheClear(ctx context.Context, cmd *cli.Command) error {
	return r.withEncore(ctx, cmd, func(e *encore.Encore) error {
		before := e.Stats().Durable.Entries
		e.Clear(ctx)
		return r.writePlain("✓ Cleared %d entries\n", before)
	})
}
