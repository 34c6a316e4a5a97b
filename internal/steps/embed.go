package steps

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/petrijr/docflow/pkg/api"
)

// DefaultDimensions is the vector size of the default embedder.
const DefaultDimensions = 64

// Embedder turns texts into vectors, one per text in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}

// HashingEmbedder is a deterministic feature-hashing embedder. It needs no
// model and produces L2-normalised vectors.
type HashingEmbedder struct {
	dims int
}

func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashingEmbedder{dims: dims}
}

func (h *HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec := make([]float32, h.dims)
		for _, w := range tokens(text) {
			f := fnv.New32a()
			_, _ = f.Write([]byte(normWord(w)))
			sum := f.Sum32()
			sign := float32(1)
			if sum&0x80000000 != 0 {
				sign = -1
			}
			vec[int(sum%uint32(h.dims))] += sign
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v * v)
		}
		if norm > 0 {
			n := float32(math.Sqrt(norm))
			for j := range vec {
				vec[j] /= n
			}
		}
		out[i] = vec
	}
	return out, nil
}

// Embed attaches an embedding to every item, calling the embedder in
// batches of batch_size (default 32). Any embedder error fails the step.
type Embed struct {
	embedder Embedder
}

func NewEmbed(e Embedder) *Embed { return &Embed{embedder: e} }

func (*Embed) Type() string { return TypeEmbed }

func (s *Embed) Execute(ctx context.Context, items []api.Item, sc api.StepContext) (api.StepResult, error) {
	batch := sc.ConfigInt("batch_size", 32)
	if batch < 1 {
		batch = 1
	}

	out := make([]api.Item, 0, len(items))
	calls := 0
	for start := 0; start < len(items); start += batch {
		end := min(start+batch, len(items))
		texts := make([]string, 0, end-start)
		for _, it := range items[start:end] {
			texts = append(texts, it.Content)
		}

		vecs, err := s.embedder.Embed(ctx, texts)
		calls++
		if err != nil {
			return api.StepResult{}, fmt.Errorf("embed: %w", err)
		}
		if len(vecs) != len(texts) {
			return api.StepResult{}, fmt.Errorf("embed: embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		for i, it := range items[start:end] {
			cp := it.Clone()
			cp.Embedding = vecs[i]
			out = append(out, cp)
		}
	}

	return api.StepResult{
		Items:   out,
		Metrics: map[string]any{"batches": calls},
	}, nil
}
