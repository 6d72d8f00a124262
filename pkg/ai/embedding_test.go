package ai_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/agentkg/pkg/ai"
	"github.com/OFFIS-RIT/agentkg/pkg/ai/aitest"
)

type wordCounter struct{}

func (wordCounter) CountTokens(text string) int { return len(strings.Fields(text)) }

func TestBatchEmbedderBatches(t *testing.T) {
	b := ai.NewBatchEmbedder(aitest.NewEmbedder(nil), wordCounter{}, 5)

	got, err := b.Batches([]string{"a b", "c d e", "f", "g h i j", "k"})
	if err != nil {
		t.Fatalf("Batches() error = %v", err)
	}
	want := [][]int{{0, 1}, {2, 3}, {4}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Batches() = %v, want %v", got, want)
	}

	if _, err := b.Batches([]string{"a", "one two three four five six"}); !errors.Is(err, ai.ErrInputTooLarge) {
		t.Fatalf("expected ErrInputTooLarge, got %v", err)
	}
}

func TestBatchEmbedderKeepsOrder(t *testing.T) {
	inner := aitest.NewEmbedder(map[string][]float32{
		"alpha": aitest.Axis(0),
		"beta":  aitest.Axis(1),
	})
	b := ai.NewBatchEmbedder(inner, wordCounter{}, 1).WithParallel(3)

	inputs := []string{"beta", "alpha", "gamma", "alpha"}
	got, err := b.GenerateEmbeddings(context.Background(), inputs)
	if err != nil {
		t.Fatalf("GenerateEmbeddings() error = %v", err)
	}
	if inner.Requests != 4 {
		t.Fatalf("expected one request per input, got %d", inner.Requests)
	}
	want := [][]float32{aitest.Axis(1), aitest.Axis(0), aitest.HashVector("gamma"), aitest.Axis(0)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("vectors out of order")
	}
}

func TestBatchEmbedderEmpty(t *testing.T) {
	b := ai.NewBatchEmbedder(aitest.NewEmbedder(nil), nil, 0)
	got, err := b.GenerateEmbeddings(context.Background(), nil)
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
}
