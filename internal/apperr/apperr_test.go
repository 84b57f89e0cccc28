package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

type fakeUpstream struct {
	status   int
	notFound bool
}

func (f fakeUpstream) Error() string          { return fmt.Sprintf("upstream %d", f.status) }
func (f fakeUpstream) StatusCode() int        { return f.status }
func (f fakeUpstream) ResourceNotFound() bool { return f.notFound }

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeEvidenceRequired, http.StatusBadRequest},
		{CodeEmployeeNotFound, http.StatusNotFound},
		{CodeAlreadyPunchedIn, http.StatusConflict},
		{CodePunchInRequired, http.StatusConflict},
		{CodeEnrollmentMissing, http.StatusUnprocessableEntity},
		{CodeNoFacesDetected, http.StatusUnprocessableEntity},
		{CodeFaceMismatch, http.StatusUnauthorized},
		{CodeRecognitionServiceError, http.StatusBadGateway},
		{CodeStorageError, http.StatusBadGateway},
		{CodeUpdateFailed, http.StatusInternalServerError},
		{CodeDataLayerError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := New(tt.code, "x").HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsMatchesCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("punch: %w", New(CodeAlreadyPunchedIn, "already punched in"))
	if !errors.Is(err, New(CodeAlreadyPunchedIn, "")) {
		t.Fatal("expected errors.Is to match on code")
	}
	if errors.Is(err, New(CodeAlreadyPunchedOut, "")) {
		t.Fatal("unexpected match on different code")
	}
	if CodeOf(err) != CodeAlreadyPunchedIn {
		t.Errorf("CodeOf = %s", CodeOf(err))
	}
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Error("plain errors should classify as internal")
	}
}

func TestRecognitionPreservesUpstreamStatus(t *testing.T) {
	e := Recognition(fakeUpstream{status: http.StatusServiceUnavailable})
	if e.Code != CodeRecognitionServiceError {
		t.Fatalf("code = %s", e.Code)
	}
	if e.UpstreamStatus != http.StatusServiceUnavailable {
		t.Errorf("upstream status = %d", e.UpstreamStatus)
	}
	if !e.Retryable {
		t.Error("5xx should be retryable")
	}
}

func TestRecognitionMissingCollection(t *testing.T) {
	e := Recognition(fakeUpstream{status: http.StatusNotFound, notFound: true})
	if e.Suggestion == "" {
		t.Error("expected operator suggestion for missing collection")
	}
	if e.Retryable {
		t.Error("missing collection is not immediately retryable")
	}
}

func TestTimeoutsAreRetryable(t *testing.T) {
	cause := fmt.Errorf("compare: %w", context.DeadlineExceeded)
	if e := Recognition(cause); !e.Retryable || e.Code != CodeRecognitionServiceError {
		t.Errorf("recognition timeout: %+v", e)
	}
	if e := Storage(cause); !e.Retryable || e.Code != CodeStorageError {
		t.Errorf("storage timeout: %+v", e)
	}
	if e := DataLayer(cause); !e.Retryable || e.Code != CodeDataLayerError {
		t.Errorf("db timeout: %+v", e)
	}
}

func TestClassifiersPassThroughTypedErrors(t *testing.T) {
	orig := New(CodeFaceMismatch, "mismatch")
	if Recognition(orig) != orig || Storage(orig) != orig || DataLayer(orig) != orig || From(orig) != orig {
		t.Error("typed errors must pass through unchanged")
	}
	if From(nil) != nil {
		t.Error("From(nil) should be nil")
	}
}
