package faceverify

import (
	"context"
	"net/http"
	"testing"

	"geoattend/internal/apperr"
	"geoattend/internal/attendance"
	"geoattend/internal/faceclient"
	"geoattend/internal/testfixtures"
)

func enrolled(key string) *attendance.Employee {
	return &attendance.Employee{ID: "emp-1", Name: "Asha", FaceImageKey: &key}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name      string
		emp       *attendance.Employee
		seed      bool
		sim       float64
		compare   error
		fetch     error
		want      apperr.Code
		wantScore float64
	}{
		{name: "match", emp: enrolled("faces/emp-1"), seed: true, sim: 95, wantScore: 95},
		{name: "no enrollment", emp: &attendance.Employee{ID: "emp-1"}, want: apperr.CodeEnrollmentMissing},
		{name: "reference missing", emp: enrolled("faces/gone"), want: apperr.CodeEnrollmentUnresolvable},
		{name: "storage failure", emp: enrolled("faces/emp-1"), seed: true, fetch: testfixtures.ErrUpstream, want: apperr.CodeStorageError},
		{name: "service failure", emp: enrolled("faces/emp-1"), seed: true, compare: &faceclient.ServiceError{Status: http.StatusServiceUnavailable}, want: apperr.CodeRecognitionServiceError},
		{name: "below threshold", emp: enrolled("faces/emp-1"), seed: true, sim: 72, want: apperr.CodeFaceMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs := testfixtures.NewObjectStore()
			if tt.seed {
				refs.Seed("faces/emp-1", []byte("reference"))
			}
			refs.GetError = tt.fetch
			faces := testfixtures.NewFaces()
			faces.DefaultSimilarity = tt.sim
			faces.CompareError = tt.compare

			out, err := New(refs, faces).Verify(context.Background(), tt.emp, []byte("capture"), 90)
			if tt.want != "" {
				if !apperr.IsCode(err, tt.want) {
					t.Fatalf("Verify() err = %v, want %s", err, tt.want)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify() err = %v", err)
			}
			if out.Similarity != tt.wantScore || out.Threshold != 90 || out.EmployeeID != "emp-1" {
				t.Errorf("Verify() = %+v", out)
			}
			if refs.Gets != 1 {
				t.Errorf("reference fetched %d times", refs.Gets)
			}
		})
	}
}

func TestVerifyMismatchCarriesDiagnostics(t *testing.T) {
	refs := testfixtures.NewObjectStore()
	refs.Seed("faces/emp-1", []byte("reference"))
	faces := testfixtures.NewFaces()
	faces.Similarity["capture"] = 85

	_, err := New(refs, faces).Verify(context.Background(), enrolled("faces/emp-1"), []byte("capture"), 90)
	e := apperr.From(err)
	if e.Code != apperr.CodeFaceMismatch {
		t.Fatalf("code = %s", e.Code)
	}
	if e.Details["threshold"] != 90.0 || e.Details["similarity"] != 85.0 {
		t.Errorf("details = %v", e.Details)
	}
}

func TestVerifyUpstreamStatusPreserved(t *testing.T) {
	refs := testfixtures.NewObjectStore()
	refs.Seed("faces/emp-1", []byte("reference"))
	faces := testfixtures.NewFaces()
	faces.CompareError = &faceclient.ServiceError{Status: http.StatusTooManyRequests}

	_, err := New(refs, faces).Verify(context.Background(), enrolled("faces/emp-1"), []byte("capture"), 90)
	e := apperr.From(err)
	if e.UpstreamStatus != http.StatusTooManyRequests || !e.Retryable {
		t.Errorf("err = %+v", e)
	}
	if faces.CompareCalls != 1 {
		t.Errorf("compare calls = %d", faces.CompareCalls)
	}
}

func TestEnrollmentCheckedBeforeAnyCall(t *testing.T) {
	refs := testfixtures.NewObjectStore()
	faces := testfixtures.NewFaces()
	_, err := New(refs, faces).Verify(context.Background(), &attendance.Employee{ID: "emp-1"}, []byte("capture"), 90)
	if !apperr.IsCode(err, apperr.CodeEnrollmentMissing) {
		t.Fatalf("err = %v", err)
	}
	if faces.CompareCalls != 0 {
		t.Error("compare must not run without enrollment")
	}
}
