package apperr

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// statusCoder is implemented by upstream client errors that carry the remote
// status code (faceclient.ServiceError, cloudinary.APIError).
type statusCoder interface {
	StatusCode() int
}

// notFounder is implemented by upstream errors that can tell a missing remote
// resource (e.g. a misconfigured face collection) apart from other 404s.
type notFounder interface {
	ResourceNotFound() bool
}

// Recognition classifies a face-recognition service failure.
func Recognition(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := asError(err); ok {
		return e
	}
	e := Wrap(CodeRecognitionServiceError, "face recognition service failed", err)
	annotateUpstream(e, err)
	var nf notFounder
	if errors.As(err, &nf) && nf.ResourceNotFound() {
		e.Message = "face collection not found"
		e.Suggestion = "create the face collection or check FACE_COLLECTION"
		e.Retryable = false
	}
	return e
}

// Storage classifies an object-store failure.
func Storage(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := asError(err); ok {
		return e
	}
	e := Wrap(CodeStorageError, "object storage request failed", err)
	annotateUpstream(e, err)
	return e
}

// DataLayer classifies a database failure.
func DataLayer(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := asError(err); ok {
		return e
	}
	e := Wrap(CodeDataLayerError, "database request failed", err)
	e.Retryable = isTimeout(err)
	return e
}

// From returns err as an *Error, classifying unknown failures as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := asError(err); ok {
		return e
	}
	return Wrap(CodeInternal, "internal error", err)
}

func asError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func annotateUpstream(e *Error, err error) {
	var sc statusCoder
	if errors.As(err, &sc) {
		e.UpstreamStatus = sc.StatusCode()
		e.WithDetail("upstream_status", e.UpstreamStatus)
	}
	switch {
	case isTimeout(err):
		e.Retryable = true
		e.Message += " (timeout)"
	case e.UpstreamStatus >= http.StatusInternalServerError, e.UpstreamStatus == http.StatusTooManyRequests:
		e.Retryable = true
	case e.UpstreamStatus == 0:
		// transport failure before any response
		e.Retryable = true
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
