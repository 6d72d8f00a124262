package ollama

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/agentkg/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateEmbeddings embeds inputs with one Embed request. Blank inputs get
// a zero vector without being sent.
func (c *GraphOllamaClient) GenerateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(inputs))
	idxMap := make([]int, 0, len(inputs))
	send := make([]string, 0, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(in) == "" {
			continue
		}
		idxMap = append(idxMap, i)
		send = append(send, in)
	}

	if len(send) > 0 {
		rCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
		defer cancel()

		if err := c.reqLock.Acquire(rCtx, 1); err != nil {
			return nil, err
		}
		res, err := c.Client.Embed(rCtx, &api.EmbedRequest{Model: c.embeddingModel, Input: send})
		c.reqLock.Release(1)
		if err != nil {
			return nil, err
		}
		if len(res.Embeddings) != len(send) {
			return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(res.Embeddings), len(send))
		}

		c.modifyMetrics(ai.ModelMetrics{
			InputTokens: res.PromptEvalCount,
			TotalTokens: res.PromptEvalCount,
			DurationMs:  res.TotalDuration.Milliseconds(),
		})

		for i, v := range res.Embeddings {
			out[idxMap[i]] = fit(v, c.dimensions)
		}
	}

	dim := c.dimensions
	for _, v := range out {
		if dim == 0 && v != nil {
			dim = len(v)
		}
	}
	for i := range out {
		if out[i] == nil {
			out[i] = make([]float32, dim)
		}
	}
	return out, nil
}

func fit(v []float32, dim int) []float32 {
	if dim <= 0 || dim == len(v) {
		return v
	}
	out := make([]float32, dim)
	copy(out, v)
	return out
}
