package fetch

import (
	"encoding/json"
	"fmt"
)

// TransportError wraps connection level failures (dial, reset, timeout, body read).
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NotFoundError carries the body of a 404 response. Payload holds the decoded
// JSON document, or nil when the body was not JSON.
type NotFoundError struct {
	URL     string
	Body    []byte
	Payload map[string]any
}

func (e *NotFoundError) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("not found: %s: %s", e.URL, msg)
	}
	return fmt.Sprintf("not found: %s", e.URL)
}

// Message returns the "message" member of the payload, if any.
func (e *NotFoundError) Message() string {
	if e.Payload == nil {
		return ""
	}
	msg, _ := e.Payload["message"].(string)
	return msg
}

// NewNotFoundError builds a NotFoundError, decoding body as JSON when possible.
func NewNotFoundError(url string, body []byte) *NotFoundError {
	e := &NotFoundError{URL: url, Body: body}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		e.Payload = payload
	}
	return e
}

// TooManyRedirectsError is returned when a redirect chain exceeds the configured bound.
type TooManyRedirectsError struct {
	URL  string
	Max  int
	Last string
}

func (e *TooManyRedirectsError) Error() string {
	return fmt.Sprintf("too many redirects fetching %s (max %d, last %s)", e.URL, e.Max, e.Last)
}

// StatusError is returned for responses that are neither success, redirect nor 404.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected http status fetching %s: %s", e.URL, e.Status)
}
