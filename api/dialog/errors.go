package dialog

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds shared by every component. Match them with errors.Is.
var (
	ErrConfiguration       = errors.New("configuration error")
	ErrUnknownSlot         = errors.New("unknown slot")
	ErrRemoteFailure       = errors.New("remote failure")
	ErrTimeout             = errors.New("simulation timeout")
	ErrSchemaViolation     = errors.New("schema violation")
	ErrSlotNotPresent      = errors.New("slot not present")
	ErrConversationState   = errors.New("invalid conversation state")
	ErrExpectationMismatch = errors.New("expectation mismatch")
	ErrTransport           = errors.New("transport error")
)

// UnknownSlotError names a conversation step slot that the intent does not declare.
type UnknownSlotError struct {
	Intent string
	Skill  string
	Slot   string
	Valid  []string
}

func (e *UnknownSlotError) Error() string {
	return fmt.Sprintf("slot %q not found in intent %q of skill %q, valid slots: [%s]",
		e.Slot, e.Intent, e.Skill, strings.Join(e.Valid, ", "))
}

func (e *UnknownSlotError) Unwrap() error { return ErrUnknownSlot }

// TimeoutError reports a job still in progress once the attempt budget or the
// deadline ran out.
type TimeoutError struct {
	JobID    string
	Attempts int
	Cause    error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("could not get simulation with id=%s after %d attempts", e.JobID, e.Attempts)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrTimeout, e.Cause}
	}
	return []error{ErrTimeout}
}

// RemoteFailureError reports a job or call the remote service marked as failed.
type RemoteFailureError struct {
	JobID  string
	Detail string
}

func (e *RemoteFailureError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("remote failure: %s", e.Detail)
	}
	return fmt.Sprintf("simulation %s failed: %s", e.JobID, e.Detail)
}

func (e *RemoteFailureError) Unwrap() error { return ErrRemoteFailure }

// SchemaViolationError reports expected-result fields the bot does not declare.
type SchemaViolationError struct {
	Schema string
	Fields []string
	Valid  []string
	Cause  error
}

func (e *SchemaViolationError) Error() string {
	msg := fmt.Sprintf("arguments [%s] not valid for %s, should be one of [%s]",
		strings.Join(e.Fields, ", "), e.Schema, strings.Join(e.Valid, ", "))
	if e.Cause != nil && len(e.Fields) == 0 {
		msg = fmt.Sprintf("%s does not accept result: %v", e.Schema, e.Cause)
	}
	return msg
}

func (e *SchemaViolationError) Unwrap() error { return ErrSchemaViolation }

// MismatchError is one failed turn assertion.
type MismatchError struct {
	Field    string
	Expected string
	Actual   string
	Detail   string
}

func (e *MismatchError) Error() string {
	msg := fmt.Sprintf("%s: expected %q, got %q", e.Field, e.Expected, e.Actual)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *MismatchError) Unwrap() error { return ErrExpectationMismatch }

// IsTransient reports whether err may succeed on a second attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrRemoteFailure), errors.Is(err, ErrConfiguration), errors.Is(err, ErrUnknownSlot),
		errors.Is(err, ErrSchemaViolation), errors.Is(err, ErrConversationState):
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport)
}
