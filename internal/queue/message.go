package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/agentkg/internal/util"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/pipeline"
)

// ErrMalformed marks a message that can never be processed. It goes to the
// dead-letter queue without retries.
var ErrMalformed = errors.New("malformed batch message")

// BatchDocument is one document of a batch. Text is sent inline or stored
// in the bucket under S3Key.
type BatchDocument struct {
	ID       string            `json:"id" validate:"required"`
	Text     string            `json:"text,omitempty"`
	S3Key    string            `json:"s3_key,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type BatchMsg struct {
	BatchID   string          `json:"batch_id"`
	Domain    string          `json:"domain"`
	Documents []BatchDocument `json:"documents"`
}

// BatchDoneMsg is published on TopicBatchDone once a batch is exported.
type BatchDoneMsg struct {
	BatchID string           `json:"batch_id"`
	Domain  string           `json:"domain"`
	Result  *pipeline.Result `json:"result"`
}

// DecodeBatchMsg parses and checks a message body. Every error wraps
// ErrMalformed.
func DecodeBatchMsg(body []byte) (*BatchMsg, error) {
	var msg BatchMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	msg.Domain = util.CollapseWhitespace(msg.Domain)
	if err := msg.Check(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Check reports every problem of msg at once.
func (m *BatchMsg) Check() error {
	var errs []error
	if strings.TrimSpace(m.BatchID) == "" {
		errs = append(errs, errors.New("batch_id is required"))
	}
	if strings.TrimSpace(m.Domain) == "" {
		errs = append(errs, errors.New("domain is required"))
	}
	if len(m.Documents) == 0 {
		errs = append(errs, errors.New("documents must not be empty"))
	}
	seen := make(map[string]struct{}, len(m.Documents))
	for i, d := range m.Documents {
		if strings.TrimSpace(d.ID) == "" {
			errs = append(errs, fmt.Errorf("document %d: id is required", i))
			continue
		}
		if _, ok := seen[d.ID]; ok {
			errs = append(errs, fmt.Errorf("document %s: duplicate id", d.ID))
		}
		seen[d.ID] = struct{}{}
		if d.Text == "" && d.S3Key == "" {
			errs = append(errs, fmt.Errorf("document %s: text or s3_key is required", d.ID))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrMalformed, errors.Join(errs...))
	}
	return nil
}

// Document converts d once its text is known.
func (d BatchDocument) Document(text string) common.Document {
	return common.Document{ID: d.ID, Text: text, Metadata: d.Metadata}
}
