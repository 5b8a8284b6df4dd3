package models

import "fmt"

// ValidationError reports a missing or inconsistent required input, e.g.
// requesting audio generation with no selected scenes.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Message
}

// NotFoundError reports a missing project or dependent entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// ExternalToolError reports a media tool failure: non-zero exit or an
// unusable diagnostic stream. Stderr is kept for the process log.
type ExternalToolError struct {
	Tool   string
	Stderr string
	Err    error
}

func (e *ExternalToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	}
	return e.Tool + " failed"
}

func (e *ExternalToolError) Unwrap() error {
	return e.Err
}

// AIResponseError reports an empty or malformed structured model response.
type AIResponseError struct {
	Message string
	Err     error
}

func (e *AIResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ai response: %s: %v", e.Message, e.Err)
	}
	return "ai response: " + e.Message
}

func (e *AIResponseError) Unwrap() error {
	return e.Err
}

// SynthesisError reports a speech provider failure for one narration line.
// It is absorbed at line granularity and never reaches the orchestrator.
type SynthesisError struct {
	Line string
	Err  error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed for line %q: %v", e.Line, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// StorageError reports a durable-storage upload failure.
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage upload %s: %v", e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
