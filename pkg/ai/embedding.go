package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/agentkg/internal/util"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// ErrInputTooLarge is returned when a single input exceeds the per-request
// token budget on its own.
var ErrInputTooLarge = errors.New("embedding input exceeds the per-request token budget")

const (
	DefaultMaxBatchTokens = 8192
	defaultEmbedParallel  = 4
	defaultEmbedRetries   = 3
)

// TokenCounter counts tokens the way the embedding model does.
type TokenCounter interface {
	CountTokens(text string) int
}

// BatchEmbedder splits inputs into requests that stay under a token budget
// and sends them concurrently. It implements Embedder itself, so it can wrap
// any provider client.
type BatchEmbedder struct {
	embedder  Embedder
	counter   TokenCounter
	maxTokens int
	parallel  int
	retries   int
}

// NewBatchEmbedder wraps e. A nil counter estimates four bytes per token.
func NewBatchEmbedder(e Embedder, counter TokenCounter, maxTokens int) *BatchEmbedder {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxBatchTokens
	}
	if counter == nil {
		counter = byteEstimate{}
	}
	return &BatchEmbedder{
		embedder:  e,
		counter:   counter,
		maxTokens: maxTokens,
		parallel:  defaultEmbedParallel,
		retries:   defaultEmbedRetries,
	}
}

// WithParallel sets how many requests may be in flight at once.
func (b *BatchEmbedder) WithParallel(n int) *BatchEmbedder {
	if n > 0 {
		b.parallel = n
	}
	return b
}

type byteEstimate struct{}

func (byteEstimate) CountTokens(text string) int {
	return (len(text) + 3) / 4
}

// Batches groups input positions greedily so that no group exceeds the budget.
func (b *BatchEmbedder) Batches(inputs []string) ([][]int, error) {
	var (
		batches [][]int
		current []int
		tokens  int
	)
	for i, text := range inputs {
		n := b.counter.CountTokens(text)
		if n > b.maxTokens {
			return nil, fmt.Errorf("%w: input %d has %d tokens, budget is %d", ErrInputTooLarge, i, n, b.maxTokens)
		}
		if len(current) > 0 && tokens+n > b.maxTokens {
			batches = append(batches, current)
			current = nil
			tokens = 0
		}
		current = append(current, i)
		tokens += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches, nil
}

// GenerateEmbeddings embeds inputs and returns the vectors in input order.
func (b *BatchEmbedder) GenerateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	batches, err := b.Batches(inputs)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallel)
	for _, batch := range batches {
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, idx := range batch {
				texts[i] = inputs[idx]
			}
			vecs, err := util.RetryWithBackoff(gctx, b.retries, util.DefaultBackoff, func(ctx context.Context) ([][]float32, error) {
				return b.embedder.GenerateEmbeddings(ctx, texts)
			})
			if err != nil {
				return err
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("embedding result size mismatch: got %d want %d", len(vecs), len(texts))
			}
			for i, idx := range batch {
				out[idx] = vecs[i]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Debug("[AI] Embedded inputs", "inputs", len(inputs), "requests", len(batches))
	return out, nil
}
