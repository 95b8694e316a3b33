// Package llmclient defines the judgment-call client contract and its vendor
// implementations. Cross-cutting concerns (retries, logging) live in
// internal/llm as middleware.
package llmclient

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrInvalidJSON reports that the model returned no parseable JSON payload.
var ErrInvalidJSON = errors.New("invalid json from LLM")

// Client issues one JSON-producing judgment call.
type Client interface {
	Name() string
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
	Close() error
}

// PermanentError indicates a failure that will not resolve with retries
// (bad credentials, unknown model, rejected request).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
