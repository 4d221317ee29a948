package workflow

import "errors"

var (
	// ErrConcurrentSubmission rejects a submit while another one is pending.
	ErrConcurrentSubmission = errors.New("workflow: a submission is already in progress")

	// ErrClosed is returned by operations on a closed flow.
	ErrClosed = errors.New("workflow: flow is closed")

	// ErrDiscarded is returned when a response arrives after the flow was
	// closed or reset. The outcome was not applied.
	ErrDiscarded = errors.New("workflow: outcome discarded")

	// ErrUnknownClassroom is returned for a classroom the directory does not
	// list.
	ErrUnknownClassroom = errors.New("workflow: unknown classroom")

	// ErrNotConfirmed is returned when the user declined a destructive action.
	ErrNotConfirmed = errors.New("workflow: action not confirmed")
)

// ValidationError is a local precondition failure. It never reaches the
// network; Message is shown to the user as is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErr(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
