package ai_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/agentkg/pkg/ai"
	"github.com/OFFIS-RIT/agentkg/pkg/ai/aitest"
)

type answer struct {
	Quote string `json:"quote"`
}

func mustContain(doc string) ai.Validator[answer] {
	return func(a *answer) error {
		if !strings.Contains(doc, a.Quote) {
			return errors.New("quote is not verbatim: " + a.Quote)
		}
		return nil
	}
}

func TestExtractRetriesWithFeedback(t *testing.T) {
	c := aitest.NewCompleter().On("quote",
		aitest.Reply(answer{Quote: "paraphrased"}),
		aitest.Reply(answer{Quote: "exact words"}),
	)

	got, err := ai.Extract(context.Background(), c, ai.StructuredRequest{Name: "quote", Prompt: "find it", Retries: 2}, mustContain("the exact words here"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Quote != "exact words" {
		t.Fatalf("got %+v", got)
	}
	calls := c.CallsTo("quote")
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if strings.Contains(calls[0].Prompt, "Corrections required") {
		t.Fatalf("first prompt must not carry feedback")
	}
	if !strings.Contains(calls[1].Prompt, "quote is not verbatim: paraphrased") {
		t.Fatalf("second prompt lacks feedback: %q", calls[1].Prompt)
	}
}

func TestExtractExhausted(t *testing.T) {
	c := aitest.NewCompleter().On("quote", aitest.Reply(answer{Quote: "nope"}))

	_, err := ai.Extract(context.Background(), c, ai.StructuredRequest{Name: "quote", Retries: 2}, mustContain("text"))
	if !errors.Is(err, ai.ErrValidationExhausted) {
		t.Fatalf("expected ErrValidationExhausted, got %v", err)
	}
	if n := len(c.CallsTo("quote")); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestExtractSystemPrompt(t *testing.T) {
	c := aitest.NewCompleter().On("quote", aitest.Reply(answer{Quote: "x"}))
	_, err := ai.Extract[answer](context.Background(), c, ai.StructuredRequest{
		Name:         "quote",
		SystemPrompt: "be precise",
		Options:      []ai.GenerateOption{ai.WithModel("m1")},
	}, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	call := c.CallsTo("quote")[0]
	if call.Opts.Model != "m1" || len(call.Opts.SystemPrompts) != 1 || call.Opts.SystemPrompts[0] != "be precise" {
		t.Fatalf("unexpected options %+v", call.Opts)
	}
}

func TestExtractCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := aitest.NewCompleter().On("quote", aitest.Reply(answer{}))
	if _, err := ai.Extract[answer](ctx, c, ai.StructuredRequest{Name: "quote"}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
