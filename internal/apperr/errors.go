package apperr

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups of unknown runs and batches.
var ErrNotFound = errors.New("not found")

type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func NewValidation(msg string) *ValidationError {
	return &ValidationError{Message: msg}
}

func NewValidationWrap(msg string, err error) *ValidationError {
	return &ValidationError{Message: msg, Err: err}
}

// RecordError marks a failure that only concerns a single record, e.g. a
// constraint violation on upsert. Stages count it and move on.
type RecordError struct {
	Key string
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %s: %v", e.Key, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func NewRecord(key string, err error) *RecordError {
	return &RecordError{Key: key, Err: err}
}

func IsRecordError(err error) bool {
	var re *RecordError
	return errors.As(err, &re)
}
