package queue

import (
	"errors"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/agentkg/pkg/common"
)

func TestDecodeBatchMsg(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			name: "inline and stored documents",
			body: `{"batch_id":"b1","domain":"city","documents":[{"id":"d1","text":"hello"},{"id":"d2","s3_key":"docs/d2.txt","metadata":{"lang":"en"}}]}`,
		},
		{
			name: "padded domain",
			body: `{"batch_id":"b1","domain":"  city ","documents":[{"id":"d1","text":"hello"},{"id":"d2","s3_key":"docs/d2.txt","metadata":{"lang":"en"}}]}`,
		},
		{name: "invalid json", body: `{"batch_id":`, wantErr: true},
		{name: "missing batch id", body: `{"domain":"city","documents":[{"id":"d1","text":"x"}]}`, wantErr: true},
		{name: "missing domain", body: `{"batch_id":"b1","documents":[{"id":"d1","text":"x"}]}`, wantErr: true},
		{name: "no documents", body: `{"batch_id":"b1","domain":"city","documents":[]}`, wantErr: true},
		{name: "document without text or key", body: `{"batch_id":"b1","domain":"city","documents":[{"id":"d1"}]}`, wantErr: true},
		{name: "duplicate document ids", body: `{"batch_id":"b1","domain":"city","documents":[{"id":"d1","text":"a"},{"id":"d1","text":"b"}]}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeBatchMsg([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("err = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeBatchMsg() error = %v", err)
			}
			if msg.BatchID != "b1" || msg.Domain != "city" || len(msg.Documents) != 2 {
				t.Fatalf("msg = %+v", msg)
			}
			got := msg.Documents[1].Document("loaded")
			want := common.Document{ID: "d2", Text: "loaded", Metadata: map[string]string{"lang": "en"}}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("document = %+v, want %+v", got, want)
			}
		})
	}
}
