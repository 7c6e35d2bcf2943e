package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is a failure while handling one engine event.
//
// None of them is fatal: the loop logs the error and moves on to the next
// event. The code tells the log reader which degradation happened:
//   - resolution: a platform lookup missed, attribution fell back to none
//     or the event was skipped
//   - channel: the consumer channel is gone, the message was dropped
//   - injection: the content script could not be injected, not retried
//   - duplicate: an access or leave was suppressed by its idempotency flag
//   - unknown event: the event type is not handled
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// TabID identifies the affected tab, when there is one.
	TabID int

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	ErrCodeResolutionFailed    RuntimeErrorCode = "RESOLUTION_FAILED"
	ErrCodeChannelDisconnected RuntimeErrorCode = "CHANNEL_DISCONNECTED"
	ErrCodeInjectionFailed     RuntimeErrorCode = "INJECTION_FAILED"
	ErrCodeDuplicateSuppressed RuntimeErrorCode = "DUPLICATE_SUPPRESSED"
	ErrCodeUnknownEvent        RuntimeErrorCode = "UNKNOWN_EVENT"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.TabID != 0 {
		msg = fmt.Sprintf("%s (tab=%d)", msg, e.TabID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsResolutionError reports whether err is a platform lookup miss.
func IsResolutionError(err error) bool {
	return hasCode(err, ErrCodeResolutionFailed)
}

// IsChannelError reports whether err comes from a lost consumer channel.
func IsChannelError(err error) bool {
	return hasCode(err, ErrCodeChannelDisconnected)
}

// IsInjectionError reports whether err is a failed injection.
func IsInjectionError(err error) bool {
	return hasCode(err, ErrCodeInjectionFailed)
}

// IsDuplicateError reports whether err is a suppressed duplicate.
func IsDuplicateError(err error) bool {
	return hasCode(err, ErrCodeDuplicateSuppressed)
}

// NewResolutionError creates a RuntimeError for a lookup of what that missed.
func NewResolutionError(what string, tabID int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeResolutionFailed,
		Message: what + " not found",
		TabID:   tabID,
	}
}

// NewChannelError wraps a dispatch failure.
func NewChannelError(msgType string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeChannelDisconnected,
		Message: "dropped " + msgType + " message",
		Details: map[string]string{"message_type": msgType},
		Err:     err,
	}
}

// NewInjectionError wraps an injector failure.
func NewInjectionError(tabID int, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInjectionFailed,
		Message: "content script injection failed",
		TabID:   tabID,
		Err:     err,
	}
}

// NewDuplicateError describes a suppressed access or leave.
func NewDuplicateError(kind string, tabID int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeDuplicateSuppressed,
		Message: kind + " already handled for this document",
		TabID:   tabID,
	}
}
