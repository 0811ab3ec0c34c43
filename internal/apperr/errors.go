package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a failure so the HTTP layer and the bulk harness can decide
// how to answer (or whether to retry) without string matching.
type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeDuplicate  Code = "DUPLICATE_EVENT"
	CodeIntegrity  Code = "INTEGRITY_ERROR"
	CodeReference  Code = "REFERENCE_ERROR"
	CodeInternal   Code = "INTERNAL_ERROR"
	CodeDependency Code = "DEPENDENCY_ERROR"
)

type Metadata struct {
	HTTPStatus int
	Retryable  bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {HTTPStatus: http.StatusBadRequest},
	CodeDuplicate:  {HTTPStatus: http.StatusConflict},
	CodeIntegrity:  {HTTPStatus: http.StatusUnprocessableEntity},
	CodeReference:  {HTTPStatus: http.StatusNotFound},
	CodeInternal:   {HTTPStatus: http.StatusInternalServerError, Retryable: true},
	CodeDependency: {HTTPStatus: http.StatusServiceUnavailable, Retryable: true},
}

// MetadataFor falls back to the internal-error metadata for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// WithDetails attaches caller-facing detail (for example per-field messages).
func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As extracts the first *Error in the chain, or nil.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf reports CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

// Retryable is false for permanent rejections (validation, duplicate,
// integrity, reference) and true for everything else, untyped errors included.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return MetadataFor(CodeOf(err)).Retryable
}

func Validation(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

func Reference(format string, args ...any) *Error {
	return Newf(CodeReference, format, args...)
}
