package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrMissingPrerequisite  = errors.New("developmental analysis missing")
	ErrInvalidReportID      = errors.New("invalid report id")
	ErrManuscriptUnresolved = errors.New("report id does not resolve to a manuscript")
)

// LLMError is the terminal failure surfaced by the model call layer once the
// retry budget is exhausted or a non-retryable response arrives. Callers
// never see partially parsed output.
type LLMError struct {
	Agent      string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm call for %s failed after %d attempt(s) (last status %d): %v",
		e.Agent, e.Attempts, e.StatusCode, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

// SchemaError marks model output that parsed but violates the agent's
// contract. The call layer treats it like malformed JSON: retry, then fail.
type SchemaError struct {
	Agent  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s output rejected: %s", e.Agent, e.Reason)
}

// StorageError wraps object store failures so agents can retry the whole
// call once before giving up.
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("object store %s: %v", e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
