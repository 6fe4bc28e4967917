package parse

import (
	"context"
	"fmt"
)

// Parser converts a raw document file into normalized markdown text.
type Parser interface {
	// Parse fails with *Error on malformed or unreachable documents.
	Parse(ctx context.Context, filePath string) (string, error)
}

// Error is the failure type for document parsing.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
