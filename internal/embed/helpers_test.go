package embed

import (
	"context"
	"sync/atomic"
)

// countingEmbedder records how many texts reach it.
type countingEmbedder struct {
	dims   int
	calls  atomic.Int32
	texts  atomic.Int32
	closed atomic.Bool
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (c *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	c.texts.Add(int32(len(texts)))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, c.dims)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

func (c *countingEmbedder) Dimensions() int   { return c.dims }
func (c *countingEmbedder) ModelName() string { return "counting" }
func (c *countingEmbedder) Close() error {
	c.closed.Store(true)
	return nil
}
