// Package faceverify decides whether a captured image shows a given employee by
// comparing it against the employee's enrolled reference photo.
package faceverify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geoattend/internal/apperr"
	"geoattend/internal/attendance"
	"geoattend/internal/cloudinary"
	"geoattend/internal/faceclient"
	"geoattend/internal/metrics"
)

// ReferenceStore fetches enrolled reference images. Get returns
// cloudinary.ErrNotFound for a key with no stored asset.
type ReferenceStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Comparer runs a 1:1 face comparison.
type Comparer interface {
	CompareFaces(ctx context.Context, source, target []byte, threshold float64) (*faceclient.CompareResult, error)
}

// Outcome is a successful match, attached to the punch for audit.
type Outcome struct {
	EmployeeID string  `json:"employee_id"`
	Similarity float64 `json:"similarity"`
	Threshold  float64 `json:"threshold"`
}

// Verifier compares captures against enrolled faces.
type Verifier struct {
	refs  ReferenceStore
	faces Comparer
}

// New builds a Verifier.
func New(refs ReferenceStore, faces Comparer) *Verifier {
	return &Verifier{refs: refs, faces: faces}
}

// Verify checks captured against emp's reference photo at threshold.
func (v *Verifier) Verify(ctx context.Context, emp *attendance.Employee, captured []byte, threshold float64) (*Outcome, error) {
	if emp == nil {
		return nil, apperr.New(apperr.CodeEmployeeNotFound, "employee not found")
	}
	if emp.FaceImageKey == nil || *emp.FaceImageKey == "" {
		return nil, apperr.Newf(apperr.CodeEnrollmentMissing, "no enrolled face for %s", emp.Name).
			WithDetail("employee_id", emp.ID).
			WithSuggestion("enroll the employee's face before punching with verification")
	}
	key := *emp.FaceImageKey

	reference, err := v.reference(ctx, key)
	if err != nil {
		if errors.Is(err, cloudinary.ErrNotFound) {
			return nil, apperr.Newf(apperr.CodeEnrollmentUnresolvable, "enrolled face for %s could not be found in storage", emp.Name).
				WithDetail("employee_id", emp.ID).
				WithSuggestion("re-enroll the employee's face")
		}
		return nil, apperr.Storage(fmt.Errorf("fetch reference %s: %w", key, err))
	}

	start := time.Now()
	res, err := v.faces.CompareFaces(ctx, reference, captured, threshold)
	metrics.ObserveCall("recognition", "compare", start, err)
	if err != nil {
		return nil, apperr.Recognition(fmt.Errorf("compare faces: %w", err))
	}

	if !res.Matched || res.Similarity < threshold {
		return nil, apperr.New(apperr.CodeFaceMismatch, "face does not match the enrolled employee").
			WithDetail("similarity", res.Similarity).
			WithDetail("threshold", threshold).
			WithDetail("employee_id", emp.ID).
			WithSuggestion("retake the photo facing the camera in good light")
	}
	return &Outcome{EmployeeID: emp.ID, Similarity: res.Similarity, Threshold: threshold}, nil
}

func (v *Verifier) reference(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := v.refs.Get(ctx, key)
	metrics.ObserveCall("storage", "get", start, err)
	return data, err
}
