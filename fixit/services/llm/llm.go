// fixit/services/llm/llm.go
package llm

import (
	"errors"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation entry in the OpenAI chat format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidRole reports whether role is one of system, user or assistant.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ErrNotConfigured is returned when no API key was supplied.
var ErrNotConfigured = errors.New("llm: upstream API key is not configured")

// UpstreamError is a non-success answer from the completion API. Message is
// the upstream's own text and is for logs only.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("llm: upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("llm: upstream returned status %d: %s", e.StatusCode, e.Message)
}

// TransientError means the upstream could not be reached or timed out.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("llm: upstream unavailable: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
