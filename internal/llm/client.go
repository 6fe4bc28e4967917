package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Client is the narrow contract the pipeline consumes for AI calls.
type Client interface {
	// ChatJSON makes one chat-completion call in JSON mode and returns the
	// raw response object. It fails with *Error on transport or parse
	// failures; a rate-limited rejection is retried once internally before
	// the error is returned.
	ChatJSON(ctx context.Context, systemPrompt, userPrompt string) (json.RawMessage, error)

	// Embed returns one embedding vector per input text. On upstream
	// failure it returns empty vectors rather than an error, so candidate
	// retrieval degrades instead of aborting the pipeline.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Kind classifies an LLM call failure.
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindTransport   Kind = "transport"
	KindBadResponse Kind = "bad_response"
)

// Error is the failure type for chat calls.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a rate-limit rejection.
func IsRateLimited(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == KindRateLimited
}
