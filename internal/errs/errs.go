package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for propagation and retry decisions
type Kind string

const (
	KindIntegration       Kind = "integration"
	KindConfiguration     Kind = "configuration"
	KindBusinessLogic     Kind = "business_logic"
	KindTransient         Kind = "transient"
	KindResourceExhausted Kind = "resource_exhausted"
	KindSecurity          Kind = "security"
	KindStorage           Kind = "storage"
)

// recoverableKinds maps each kind to whether callers may retry it
var recoverableKinds = map[Kind]bool{
	KindIntegration:       true,
	KindConfiguration:     false,
	KindBusinessLogic:     false,
	KindTransient:         true,
	KindResourceExhausted: true,
	KindSecurity:          false,
	KindStorage:           false,
}

// ErrNotFound is a sentinel, not a failure. Tool responses translate it
// to {exists: false} rather than an error envelope.
var ErrNotFound = errors.New("not found")

// Context carries the operation identity an error occurred under
type Context struct {
	Operation string            `json:"operation,omitempty"`
	ProjectID string            `json:"project_id,omitempty"`
	TaskID    string            `json:"task_id,omitempty"`
	AgentID   string            `json:"agent_id,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Error is the common envelope for all tagged errors in the core
type Error struct {
	Kind        Kind      `json:"kind"`
	Message     string    `json:"message"`
	Context     Context   `json:"context"`
	Recoverable bool      `json:"recoverable"`
	Timestamp   time.Time `json:"timestamp"`
	cause       error
}

// New creates a tagged error with the recoverability implied by its kind
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:        kind,
		Message:     message,
		Recoverable: recoverableKinds[kind],
		Timestamp:   time.Now().UTC(),
	}
}

// Newf creates a tagged error with a formatted message
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap tags an existing error, preserving it as the cause
func Wrap(kind Kind, err error, message string) *Error {
	e := New(kind, message)
	e.cause = err
	return e
}

// WithOp attaches the operation name
func (e *Error) WithOp(op string) *Error {
	e.Context.Operation = op
	return e
}

// WithProject attaches the project ID
func (e *Error) WithProject(projectID string) *Error {
	e.Context.ProjectID = projectID
	return e
}

// WithTask attaches the task ID
func (e *Error) WithTask(taskID string) *Error {
	e.Context.TaskID = taskID
	return e
}

// WithAgent attaches the agent ID
func (e *Error) WithAgent(agentID string) *Error {
	e.Context.AgentID = agentID
	return e
}

// WithExtra attaches a free-form key/value pair
func (e *Error) WithExtra(key, value string) *Error {
	if e.Context.Extra == nil {
		e.Context.Extra = make(map[string]string)
	}
	e.Context.Extra[key] = value
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any
func (e *Error) Unwrap() error {
	return e.cause
}

// IsRecoverable reports whether err (or any error it wraps) is a tagged
// error marked recoverable. Untagged errors are treated as non-recoverable.
func IsRecoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Recoverable
	}
	return false
}

// KindOf returns the kind of a tagged error, or "" for untagged errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsNotFound reports whether err is the not-found sentinel
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
