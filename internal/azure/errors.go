package azure

import (
	"errors"
	"fmt"
)

// ErrArtifactMissing matches a NotFoundError raised by an artifact lookup.
var ErrArtifactMissing = errors.New("artifact missing")

// Resource names used in lookup errors.
const (
	ResourceDefinition = "definition"
	ResourceBuild      = "build"
	ResourceArtifact   = "artifact"
)

// NotFoundError is returned when a query that must yield exactly one result yielded none.
type NotFoundError struct {
	Resource string
	Query    string
	Message  string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("no %s found for %s", e.Resource, e.Query)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Is lets errors.Is(err, ErrArtifactMissing) single out missing artifacts.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrArtifactMissing && e.Resource == ResourceArtifact
}

// AmbiguousResultError is returned when a query that must yield exactly one result yielded several.
type AmbiguousResultError struct {
	Resource string
	Query    string
	Count    int
}

func (e *AmbiguousResultError) Error() string {
	return fmt.Sprintf("expected exactly one %s for %s, got %d", e.Resource, e.Query, e.Count)
}

// DecodeError is returned for malformed or empty response bodies.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding response for %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// StatusError is returned for unexpected HTTP statuses.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unexpected status from %s: %s: %s", e.URL, e.Status, e.Message)
	}
	return fmt.Sprintf("unexpected status from %s: %s", e.URL, e.Status)
}
