// Package aitest provides deterministic in-memory implementations of the
// model boundary for tests.
package aitest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/OFFIS-RIT/agentkg/pkg/ai"
)

// Dim is the dimension of vectors produced for unknown texts.
const Dim = 16

// Embedder returns fixed vectors for known texts and a stable pseudo-random
// unit vector, derived from the text hash, for everything else.
type Embedder struct {
	mu       sync.Mutex
	Vectors  map[string][]float32
	Requests int
	Inputs   []string
	Err      error
}

func NewEmbedder(vectors map[string][]float32) *Embedder {
	if vectors == nil {
		vectors = map[string][]float32{}
	}
	return &Embedder{Vectors: vectors}
}

func (e *Embedder) GenerateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Requests++
	e.Inputs = append(e.Inputs, inputs...)
	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float32, len(inputs))
	for i, text := range inputs {
		if v, ok := e.Vectors[text]; ok {
			out[i] = v
			continue
		}
		out[i] = HashVector(text)
	}
	return out, nil
}

// HashVector maps text to a unit vector of dimension Dim.
func HashVector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	v := make([]float32, Dim)
	var norm float64
	for i := range v {
		x := float64(int16(binary.BigEndian.Uint16(sum[(2*i)%len(sum):])))
		v[i] = float32(x)
		norm += x * x
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Axis returns a unit vector along dimension i. Distinct axes are orthogonal.
func Axis(i int) []float32 {
	v := make([]float32, Dim)
	v[i%Dim] = 1
	return v
}

// Call records one structured completion request.
type Call struct {
	Name   string
	Prompt string
	Opts   ai.GenerateOptions
}

// Responder produces the response for one structured call. Returning a
// string sends it to the decoder verbatim; any other value is JSON-encoded.
type Responder func(call Call) (any, error)

// Completer answers structured calls by name. Each name has a queue of
// responders; the last one repeats once the queue is drained.
type Completer struct {
	mu       sync.Mutex
	handlers map[string][]Responder
	Calls    []Call
}

func NewCompleter() *Completer {
	return &Completer{handlers: map[string][]Responder{}}
}

// On appends responders for name.
func (c *Completer) On(name string, rs ...Responder) *Completer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = append(c.handlers[name], rs...)
	return c
}

// Reply is a Responder that always returns v.
func Reply(v any) Responder {
	return func(Call) (any, error) { return v, nil }
}

// Fail is a Responder that always returns err.
func Fail(err error) Responder {
	return func(Call) (any, error) { return nil, err }
}

// CallsTo returns the recorded calls to name.
func (c *Completer) CallsTo(name string) []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Call
	for _, call := range c.Calls {
		if call.Name == name {
			out = append(out, call)
		}
	}
	return out
}

func (c *Completer) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	call := Call{Name: name, Prompt: prompt, Opts: ai.ApplyOptions(ai.GenerateOptions{}, opts...)}

	c.mu.Lock()
	c.Calls = append(c.Calls, call)
	queue := c.handlers[name]
	var r Responder
	if len(queue) > 0 {
		r = queue[0]
		if len(queue) > 1 {
			c.handlers[name] = queue[1:]
		}
	}
	c.mu.Unlock()

	if r == nil {
		return fmt.Errorf("aitest: no responder for %q", name)
	}
	v, err := r(call)
	if err != nil {
		return err
	}
	if s, ok := v.(string); ok {
		return ai.UnmarshalFlexible(s, out)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Client combines Completer and Embedder into an ai.GraphAIClient.
type Client struct {
	*Completer
	*Embedder
}

func NewClient(vectors map[string][]float32) *Client {
	return &Client{Completer: NewCompleter(), Embedder: NewEmbedder(vectors)}
}

func (c *Client) ResetMetrics()               {}
func (c *Client) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

var _ ai.GraphAIClient = (*Client)(nil)
