package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/agentkg/internal/config"
	"github.com/OFFIS-RIT/agentkg/pkg/ai/aitest"
	"github.com/OFFIS-RIT/agentkg/pkg/chunker"
	"github.com/OFFIS-RIT/agentkg/pkg/leaselock"
	"github.com/OFFIS-RIT/agentkg/pkg/ontology"
	"github.com/OFFIS-RIT/agentkg/pkg/pipeline"
)

type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) []int {
	out := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		out[i] = int(text[i])
	}
	return out
}

func (byteTokenizer) Decode(tokens []int) string {
	b := make([]byte, len(tokens))
	for i, t := range tokens {
		b[i] = byte(t)
	}
	return string(b)
}

type fakeDocuments map[string]string

func (f fakeDocuments) GetDocument(ctx context.Context, key string) (string, error) {
	text, ok := f[key]
	if !ok {
		return "", errors.New("no such key")
	}
	return text, nil
}

type published struct {
	topic string
	data  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
}

func (f *fakePublisher) PublishFIFO(ctx context.Context, queueName string, data []byte) error {
	return f.PublishTopic(ctx, queueName, data)
}

func (f *fakePublisher) PublishTopic(ctx context.Context, topic string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, published{topic, data})
	return nil
}

func newProcessor(t *testing.T, schemas ontology.SchemaStore) (*Processor, *aitest.Client, *fakePublisher) {
	t.Helper()
	cfg := config.Default()
	cfg.LLMRetries = 0
	client := aitest.NewClient(nil)
	client.On("extract_relations", aitest.Reply(map[string]any{"relations": []any{}}))

	p, err := pipeline.New(client, cfg, pipeline.WithChunker(chunker.NewWithTokenizer(byteTokenizer{}, 256, 32)))
	if err != nil {
		t.Fatal(err)
	}
	pub := &fakePublisher{}
	return &Processor{
		Pipeline:  p,
		Schemas:   schemas,
		Locker:    leaselock.NewLocal(),
		Publisher: pub,
		Documents: fakeDocuments{"docs/d2.txt": "Stored text about the harbour."},
	}, client, pub
}

func TestProcessRunsBatchAndSavesOntology(t *testing.T) {
	ctx := context.Background()
	schemas := ontology.NewFileStore(t.TempDir())
	initial := &ontology.Schema{
		Version:                       2,
		RelationTypes:                 []ontology.Type{{Label: "SIGN_CONTRACT", Definition: "Formal agreement"}},
		DocumentsSinceLastNegotiation: 5,
	}
	if err := schemas.Save(ctx, "city", initial); err != nil {
		t.Fatal(err)
	}

	proc, client, pub := newProcessor(t, schemas)
	body := `{"batch_id":"b1","domain":"city","documents":[{"id":"d1","text":"Inline text about the council."},{"id":"d2","s3_key":"docs/d2.txt"}]}`
	if err := proc.Process(ctx, []byte(body)); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	calls := client.CallsTo("extract_relations")
	if len(calls) != 2 {
		t.Fatalf("extract calls = %d, want 2", len(calls))
	}

	latest, err := schemas.Latest(ctx, "city")
	if err != nil {
		t.Fatal(err)
	}
	if latest.Version != 2 || latest.DocumentsSinceLastNegotiation != 7 {
		t.Fatalf("latest = version %d, documents %d", latest.Version, latest.DocumentsSinceLastNegotiation)
	}

	if len(pub.sent) != 1 || pub.sent[0].topic != TopicBatchDone {
		t.Fatalf("published = %+v", pub.sent)
	}
	var done BatchDoneMsg
	if err := json.Unmarshal(pub.sent[0].data, &done); err != nil {
		t.Fatal(err)
	}
	if done.BatchID != "b1" || done.Result == nil || done.Result.DocumentsProcessed != 2 || done.Result.Path != pipeline.PathFast {
		t.Fatalf("done = %+v", done)
	}
}

func TestProcessRejectsMalformed(t *testing.T) {
	proc, _, pub := newProcessor(t, ontology.NewFileStore(t.TempDir()))
	proc.Documents = nil

	tests := []struct {
		name string
		body string
	}{
		{"not json", "nope"},
		{"stored document without source", `{"batch_id":"b1","domain":"city","documents":[{"id":"d2","s3_key":"docs/d2.txt"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := proc.Process(context.Background(), []byte(tt.body)); !errors.Is(err, ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
		})
	}
	if len(pub.sent) != 0 {
		t.Fatalf("published = %+v", pub.sent)
	}
}

func TestProcessMissingDocumentIsRetryable(t *testing.T) {
	proc, _, _ := newProcessor(t, ontology.NewFileStore(t.TempDir()))
	body := `{"batch_id":"b1","domain":"city","documents":[{"id":"d3","s3_key":"docs/missing.txt"}]}`
	err := proc.Process(context.Background(), []byte(body))
	if err == nil || errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want a retryable error", err)
	}
}
