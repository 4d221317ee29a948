package backend

import (
	"errors"
	"fmt"
)

// Generic messages used when a non-2xx response carries no readable error.
const (
	FallbackRecognize       = "Failed to connect to backend"
	FallbackRegister        = "Failed to register student"
	FallbackDeleteStudent   = "Failed to delete student"
	FallbackListStudents    = "Failed to load students"
	FallbackListClassrooms  = "Failed to load classrooms"
	FallbackSaveClassroom   = "Failed to save classroom"
	FallbackDeleteClassroom = "Failed to delete classroom"
)

// ServerError is a non-2xx response. Message is the backend's "error" field,
// or a generic fallback when the body had none.
type ServerError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: backend returned %d: %s", e.Operation, e.StatusCode, e.Message)
}

// IsNotFound reports a 404 from the backend.
func (e *ServerError) IsNotFound() bool {
	return e.StatusCode == 404
}

// TransportError means no response was received.
type TransportError struct {
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Message returns the text shown to the user for err: the backend message for
// server errors, the full error otherwise.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.Message
	}
	var te *TransportError
	if errors.As(err, &te) {
		return fmt.Sprintf("Network error: %v", te.Err)
	}
	return err.Error()
}
