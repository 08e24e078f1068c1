package service

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned when polling an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// ValidationError marks input that can never succeed; it is surfaced
// immediately and never retried or queued.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// TransientError marks a failure worth retrying: a network blip, a
// rate-limited or temporarily open endpoint. The job layer counts it
// against the attempt budget.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure: %v", e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// TerminalError marks input that is itself unprocessable, such as media
// that no longer exists. The job fails regardless of attempts left.
type TerminalError struct {
	Cause error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("permanent failure: %v", e.Cause)
}

func (e *TerminalError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether a processing failure should consume an attempt
// and retry, as opposed to failing the job outright.
func Retryable(err error) bool {
	var te *TerminalError
	if errors.As(err, &te) {
		return false
	}
	var ve *ValidationError
	return !errors.As(err, &ve)
}
