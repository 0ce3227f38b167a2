package corecmd

import "fmt"

// ErrorKind classifies a handler failure for HTTP status mapping and
// metrics labeling without needing a type switch at every call site.
// Mirrors the ClassifyError pattern in the teacher's storage package.
type ErrorKind string

const (
	KindWrongUsage       ErrorKind = "wrong_usage"
	KindDocAlreadyExists ErrorKind = "doc_already_exists"
	KindDocDoesNotExist  ErrorKind = "doc_does_not_exist"
	KindVersionConflict  ErrorKind = "version_conflict"
	KindBadRequest       ErrorKind = "bad_request"
	KindPartialErrors    ErrorKind = "partial_errors"
	KindIOFailure        ErrorKind = "io_failure"
	KindFatal            ErrorKind = "fatal"
)

// KindedError is implemented by every error this package defines.
type KindedError interface {
	error
	Kind() ErrorKind
}

// WrongUsageError signals an unmet schema/config prerequisite (spec.md §7).
type WrongUsageError struct {
	Reason string
}

func (e *WrongUsageError) Error() string   { return fmt.Sprintf("wrong usage: %s", e.Reason) }
func (e *WrongUsageError) Kind() ErrorKind { return KindWrongUsage }

// DocAlreadyExistsError signals an insert-only add against an existing key.
type DocAlreadyExistsError struct {
	ID string
}

func (e *DocAlreadyExistsError) Error() string {
	return fmt.Sprintf("document already exists: %s", e.ID)
}
func (e *DocAlreadyExistsError) Kind() ErrorKind { return KindDocAlreadyExists }

// DocDoesNotExistError signals an update against an absent key.
type DocDoesNotExistError struct {
	ID string
}

func (e *DocDoesNotExistError) Error() string {
	return fmt.Sprintf("document does not exist: %s", e.ID)
}
func (e *DocDoesNotExistError) Kind() ErrorKind { return KindDocDoesNotExist }

// VersionConflictError carries the version actually observed so the
// caller can decide whether to retry (spec.md §8 scenario 3/5).
type VersionConflictError struct {
	ID      string
	Current int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict for %s: current=%d", e.ID, e.Current)
}
func (e *VersionConflictError) Kind() ErrorKind { return KindVersionConflict }

// BadRequestError signals analysis failure (oversized term, malformed query, ...).
type BadRequestError struct {
	Reason string
	Cause  error
}

func (e *BadRequestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("bad request: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("bad request: %s", e.Reason)
}
func (e *BadRequestError) Unwrap() error   { return e.Cause }
func (e *BadRequestError) Kind() ErrorKind { return KindBadRequest }

// PartialErrors is returned from a batch add/delete when at least one
// element failed. Errors is sparse: indices that succeeded are absent,
// not mapped to nil, so len(Errors) is the failure count directly.
type PartialErrors struct {
	Total  int
	Errors map[int]error
}

func (e *PartialErrors) Error() string {
	return fmt.Sprintf("%d of %d operations failed", len(e.Errors), e.Total)
}
func (e *PartialErrors) Kind() ErrorKind { return KindPartialErrors }

// IOFailureError wraps a writer/log/transport I/O error.
type IOFailureError struct {
	Op    string
	Cause error
}

func (e *IOFailureError) Error() string {
	return fmt.Sprintf("io failure during %s: %v", e.Op, e.Cause)
}
func (e *IOFailureError) Unwrap() error   { return e.Cause }
func (e *IOFailureError) Kind() ErrorKind { return KindIOFailure }

// FatalError wraps an unrecoverable failure (OOM during close) that
// must propagate, never be swallowed.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string   { return fmt.Sprintf("fatal: %v", e.Cause) }
func (e *FatalError) Unwrap() error   { return e.Cause }
func (e *FatalError) Kind() ErrorKind { return KindFatal }

// ClassifyError maps any error to its ErrorKind for metrics labeling,
// defaulting to KindIOFailure for unrecognized errors — mirrors
// internal/storage/errors.go's ClassifyError in the teacher repo.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if ke, ok := err.(KindedError); ok {
		return ke.Kind()
	}
	return KindIOFailure
}
