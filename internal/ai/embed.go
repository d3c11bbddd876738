package ai

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// EmbedAll embeds texts one request per text. With workers > 1 requests run
// concurrently; results are always returned in input order and the first
// failure cancels the rest.
func EmbedAll(ctx context.Context, c Client, texts []string, workers int) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if workers <= 1 {
		for i, t := range texts {
			v, err := c.Embed(ctx, t)
			if err != nil {
				return nil, fmt.Errorf("embed chunk %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, t := range texts {
		g.Go(func() error {
			v, err := c.Embed(gctx, t)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", i, err)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
