package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/agentkg/internal/util"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"
)

// ErrValidationExhausted is returned when no response passed validation
// within the retry budget.
var ErrValidationExhausted = errors.New("structured output did not validate within the retry budget")

// DefaultRetries is the number of additional attempts after the first one.
const DefaultRetries = 3

// StructuredRequest describes one structured-output call.
type StructuredRequest struct {
	Name         string
	Description  string
	SystemPrompt string
	Prompt       string
	Retries      int
	Options      []GenerateOption
}

// Validator checks a decoded response. A non-nil error is sent back to the
// model as feedback for the next attempt.
type Validator[T any] func(out *T) error

// Extract calls the model until the response decodes into T and passes
// validate, feeding each validation error back into the next prompt.
//
// Transport errors are retried with backoff inside the same budget. When the
// budget is exhausted the returned error wraps ErrValidationExhausted if the
// last failure was a validation failure, and the transport error otherwise.
func Extract[T any](ctx context.Context, c Completer, req StructuredRequest, validate Validator[T]) (*T, error) {
	retries := req.Retries
	if retries < 0 {
		retries = 0
	}
	opts := req.Options
	if req.SystemPrompt != "" {
		opts = append(append([]GenerateOption{}, opts...), WithSystemPrompts(req.SystemPrompt))
	}

	var feedback []string
	var lastValidation error
	var lastTransport error

	for attempt := 0; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 && lastTransport != nil {
			if err := util.Sleep(ctx, util.DefaultBackoff.Delay(attempt-1)); err != nil {
				return nil, err
			}
		}

		var out T
		err := c.GenerateCompletionWithFormat(ctx, req.Name, req.Description, withFeedback(req.Prompt, feedback), &out, opts...)
		if err != nil {
			lastTransport = err
			logger.Warn("[AI] Structured call failed", "name", req.Name, "attempt", attempt+1, "err", err)
			continue
		}
		lastTransport = nil

		if validate != nil {
			if err := validate(&out); err != nil {
				lastValidation = err
				feedback = append(feedback, err.Error())
				logger.Debug("[AI] Structured output rejected", "name", req.Name, "attempt", attempt+1, "err", err)
				continue
			}
		}
		return &out, nil
	}

	if lastTransport != nil {
		return nil, fmt.Errorf("%s: %w", req.Name, lastTransport)
	}
	return nil, fmt.Errorf("%s: %w: %w", req.Name, ErrValidationExhausted, lastValidation)
}

func withFeedback(prompt string, feedback []string) string {
	if len(feedback) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n## Corrections required\nYour previous answer was rejected. Fix every issue below and answer again:\n")
	for _, f := range feedback {
		b.WriteString("- ")
		b.WriteString(strings.ReplaceAll(f, "\n", "\n  "))
		b.WriteString("\n")
	}
	return b.String()
}
