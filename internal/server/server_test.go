package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/agentkg/internal/queue"
	mid "github.com/OFFIS-RIT/agentkg/internal/server/middleware"
	"github.com/OFFIS-RIT/agentkg/pkg/ontology"

	"github.com/golang-jwt/jwt/v5"
)

const masterKey = "test-master-key"

var hmacSecret = []byte("test-secret")

type fakePublisher struct {
	mu     sync.Mutex
	queues []string
	bodies [][]byte
}

func (f *fakePublisher) PublishFIFO(ctx context.Context, queueName string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues = append(f.queues, queueName)
	f.bodies = append(f.bodies, data)
	return nil
}

func (f *fakePublisher) PublishTopic(ctx context.Context, topic string, data []byte) error {
	return f.PublishFIFO(ctx, topic, data)
}

func newTestApp(t *testing.T) (*mid.App, *fakePublisher) {
	t.Helper()
	schemas := ontology.NewFileStore(t.TempDir())
	ctx := context.Background()
	for _, v := range []int{1, 2} {
		s := &ontology.Schema{Version: v, RelationTypes: []ontology.Type{{Label: "APPROVE_BUDGET", Definition: "approval"}}}
		if err := schemas.Save(ctx, "city", s); err != nil {
			t.Fatal(err)
		}
	}
	pub := &fakePublisher{}
	return &mid.App{
		Queue:        pub,
		Schemas:      schemas,
		MasterAPIKey: masterKey,
		Keyfunc: func(*jwt.Token) (any, error) {
			return hmacSecret, nil
		},
	}, pub
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(hmacSecret)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func do(t *testing.T, app *mid.App, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	New(app).ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t)
	if rec := do(t, app, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	app, _ := newTestApp(t)
	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong key", "nope", http.StatusUnauthorized},
		{"master key", masterKey, http.StatusOK},
		{"jwt with permission", signed(t, jwt.MapClaims{"sub": "u1", "permissions": []string{mid.PermOntologyView}}), http.StatusOK},
		{"jwt without permission", signed(t, jwt.MapClaims{"sub": "u1"}), http.StatusForbidden},
		{"admin jwt", signed(t, jwt.MapClaims{"id": 7, "role": "admin"}), http.StatusOK},
		{"jwt without subject", signed(t, jwt.MapClaims{"role": "admin"}), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, app, http.MethodGet, "/api/ontology/city", tt.token, "")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestSubmitBatch(t *testing.T) {
	app, pub := newTestApp(t)

	rec := do(t, app, http.MethodPost, "/api/batches", masterKey,
		`{"domain":"city","documents":[{"id":"d1","text":"The council approved the budget."},{"id":"d2","s3_key":"docs/d2.txt"}]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		BatchID string `json:"batch_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.BatchID == "" {
		t.Fatalf("response = %s", rec.Body.String())
	}

	if len(pub.queues) != 1 || pub.queues[0] != queue.BatchQueue {
		t.Fatalf("published to %v", pub.queues)
	}
	msg, err := queue.DecodeBatchMsg(pub.bodies[0])
	if err != nil {
		t.Fatal(err)
	}
	if msg.BatchID != resp.BatchID || msg.Domain != "city" || len(msg.Documents) != 2 {
		t.Fatalf("queued = %+v", msg)
	}
}

func TestSubmitBatchRejectsInvalidBody(t *testing.T) {
	app, pub := newTestApp(t)
	bodies := []string{
		`{"documents":[{"id":"d1","text":"x"}]}`,
		`{"domain":"city","documents":[]}`,
		`{"domain":"city","documents":[{"text":"no id"}]}`,
		`{"domain":"city","documents":[{"id":"d1"}]}`,
	}
	for _, body := range bodies {
		if rec := do(t, app, http.MethodPost, "/api/batches", masterKey, body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d", body, rec.Code)
		}
	}
	if len(pub.queues) != 0 {
		t.Fatalf("published %d messages", len(pub.queues))
	}
}

func TestGetOntology(t *testing.T) {
	app, _ := newTestApp(t)
	tests := []struct {
		path        string
		want        int
		wantVersion int
	}{
		{"/api/ontology/city", http.StatusOK, 2},
		{"/api/ontology/city/versions/1", http.StatusOK, 1},
		{"/api/ontology/city/versions/9", http.StatusNotFound, 0},
		{"/api/ontology/city/versions/abc", http.StatusBadRequest, 0},
		{"/api/ontology/harbour", http.StatusNotFound, 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(t, app, http.MethodGet, tt.path, masterKey, "")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want != http.StatusOK {
				return
			}
			var s ontology.Schema
			if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
				t.Fatal(err)
			}
			if s.Version != tt.wantVersion {
				t.Fatalf("version = %d, want %d", s.Version, tt.wantVersion)
			}
		})
	}
}
