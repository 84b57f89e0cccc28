// Package apperr defines the error taxonomy shared by the punch pipeline and the
// HTTP boundary. Components return *Error values so callers can pick a status
// from Kind without inspecting message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the coarse status classification of a failure.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUnprocessable
	KindMismatch
	KindUpstream
)

// Code is the stable, machine-checkable error identifier.
type Code string

const (
	CodeInvalidInput            Code = "INVALID_INPUT"
	CodeEmployeeNotFound        Code = "EMPLOYEE_NOT_FOUND"
	CodeRecordNotFound          Code = "RECORD_NOT_FOUND"
	CodeAlreadyPunchedIn        Code = "ALREADY_PUNCHED_IN"
	CodeAlreadyPunchedOut       Code = "ALREADY_PUNCHED_OUT"
	CodePunchInRequired         Code = "PUNCH_IN_REQUIRED"
	CodeEnrollmentMissing       Code = "ENROLLMENT_MISSING"
	CodeEnrollmentUnresolvable  Code = "ENROLLMENT_UNRESOLVABLE"
	CodeFaceMismatch            Code = "FACE_MISMATCH"
	CodeFaceNotRecognized       Code = "FACE_NOT_RECOGNIZED"
	CodeNoFacesDetected         Code = "NO_FACES_DETECTED"
	CodeEvidenceRequired        Code = "EVIDENCE_REQUIRED"
	CodeRecognitionServiceError Code = "RECOGNITION_SERVICE_ERROR"
	CodeStorageError            Code = "STORAGE_ERROR"
	CodeDataLayerError          Code = "DATA_LAYER_ERROR"
	CodeUpdateFailed            Code = "UPDATE_FAILED"
	CodeInternal                Code = "INTERNAL_ERROR"
)

// Error is a classified failure.
type Error struct {
	Code           Code
	Kind           Kind
	Message        string
	Details        map[string]any
	Suggestion     string
	UpstreamStatus int
	Retryable      bool
	Err            error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match when target is an *Error with the same Code, so
// errors.Is(err, apperr.New(apperr.CodeFaceMismatch, "")) works across wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus maps the kind onto the boundary's status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnprocessable:
		return http.StatusUnprocessableEntity
	case KindMismatch:
		return http.StatusUnauthorized
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WithDetail returns e with key set in Details.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets a human remediation hint.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

var kinds = map[Code]Kind{
	CodeInvalidInput:            KindValidation,
	CodeEvidenceRequired:        KindValidation,
	CodeEmployeeNotFound:        KindNotFound,
	CodeRecordNotFound:          KindNotFound,
	CodeAlreadyPunchedIn:        KindConflict,
	CodeAlreadyPunchedOut:       KindConflict,
	CodePunchInRequired:         KindConflict,
	CodeEnrollmentMissing:       KindUnprocessable,
	CodeEnrollmentUnresolvable:  KindUnprocessable,
	CodeNoFacesDetected:         KindUnprocessable,
	CodeFaceMismatch:            KindMismatch,
	CodeFaceNotRecognized:       KindMismatch,
	CodeRecognitionServiceError: KindUpstream,
	CodeStorageError:            KindUpstream,
	CodeDataLayerError:          KindInternal,
	CodeUpdateFailed:            KindInternal,
	CodeInternal:                KindInternal,
}

// New builds an Error whose kind follows from code.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Kind: kinds[code], Message: msg}
}

// Newf is New with formatting.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap builds an Error around cause.
func Wrap(code Code, msg string, cause error) *Error {
	e := New(code, msg)
	e.Err = cause
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
