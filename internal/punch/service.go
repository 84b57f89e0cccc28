package punch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"geoattend/internal/apperr"
	"geoattend/internal/attendance"
	"geoattend/internal/faceclient"
	"geoattend/internal/identity"
	"geoattend/internal/metrics"
)

// MaxCandidates is how many search candidates are requested per face.
const MaxCandidates = 3

var validate = validator.New()

// Searcher queries the enrolled-face index.
type Searcher interface {
	SearchFaces(ctx context.Context, img []byte, maxFaces int, threshold float64) ([]faceclient.SearchMatch, error)
}

// Attempt is one punch request after boundary decoding.
type Attempt struct {
	Direction  attendance.Direction `validate:"required,oneof=IN OUT"`
	EmployeeID string               `validate:"omitempty,max=64"`
	Image      []byte
	Location   attendance.Location
	ActorID    string
	// Threshold overrides the configured similarity threshold when set.
	Threshold *float64 `validate:"omitempty,gte=0,lte=100"`
}

// Thresholds resolves the similarity threshold for an attempt. A request may
// raise the configured value but never lower it.
type Thresholds struct {
	Default float64
}

// Resolve returns the effective threshold.
func (t Thresholds) Resolve(override *float64) (float64, error) {
	if override == nil {
		return t.Default, nil
	}
	if *override < t.Default {
		return 0, apperr.Newf(apperr.CodeInvalidInput, "threshold %.1f is below the configured minimum %.1f", *override, t.Default).
			WithDetail("threshold", *override).
			WithDetail("minimum", t.Default)
	}
	return *override, nil
}

// Validate checks an attempt's fields.
func Validate(a Attempt) error {
	if err := validate.Struct(a); err != nil {
		return invalid(err)
	}
	return nil
}

func invalid(err error) error {
	e := apperr.Wrap(apperr.CodeInvalidInput, "invalid punch request", err)
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[strings.ToLower(fe.Field())] = fe.Tag()
		}
		e.WithDetail("fields", fields)
	}
	return e
}

// Service is the entry point for single-subject and manual punches.
type Service struct {
	store      attendance.Store
	dir        attendance.Directory
	faces      Searcher
	resolver   *identity.Resolver
	processor  *Processor
	thresholds Thresholds
	loc        *time.Location

	// Now is the clock used to pick the attendance date.
	Now func() time.Time
}

// NewService builds a Service. loc is the zone attendance dates are cut in.
func NewService(store attendance.Store, dir attendance.Directory, faces Searcher, resolver *identity.Resolver, processor *Processor, thresholds Thresholds, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:      store,
		dir:        dir,
		faces:      faces,
		resolver:   resolver,
		processor:  processor,
		thresholds: thresholds,
		loc:        loc,
		Now:        time.Now,
	}
}

// Today returns the attendance date for the current instant.
func (s *Service) Today() time.Time {
	return attendance.DateOf(s.Now(), s.loc)
}

// Punch records a biometric punch. When a.EmployeeID is empty the employee is
// resolved from the face.
func (s *Service) Punch(ctx context.Context, a Attempt) (res *Result, err error) {
	ctx = context.WithoutCancel(ctx)
	defer func() { observe("single", a.Direction, err) }()

	if err := Validate(a); err != nil {
		return nil, err
	}
	if len(a.Image) == 0 {
		return nil, apperr.New(apperr.CodeInvalidInput, "image is required").
			WithSuggestion("attach a face photo")
	}
	threshold, err := s.thresholds.Resolve(a.Threshold)
	if err != nil {
		return nil, err
	}

	emp, err := s.employee(ctx, a, threshold)
	if err != nil {
		return nil, err
	}
	rec, err := s.eligibleRecord(ctx, emp.ID, a.Direction)
	if err != nil {
		return nil, err
	}
	return s.processor.Apply(ctx, rec.ID, a.Direction, a.Image, a.ActorID, a.Location, Options{
		Employee:         emp,
		RequireFaceMatch: true,
		Threshold:        threshold,
	})
}

// ManualPunch records a punch without face verification. Authorization is
// enforced at the HTTP boundary.
func (s *Service) ManualPunch(ctx context.Context, a Attempt) (res *Result, err error) {
	ctx = context.WithoutCancel(ctx)
	defer func() { observe("manual", a.Direction, err) }()

	if err := Validate(a); err != nil {
		return nil, err
	}
	if a.EmployeeID == "" {
		return nil, apperr.New(apperr.CodeInvalidInput, "employee_id is required for a manual punch")
	}
	emp, err := s.lookup(ctx, a.EmployeeID)
	if err != nil {
		return nil, err
	}
	rec, err := s.eligibleRecord(ctx, emp.ID, a.Direction)
	if err != nil {
		return nil, err
	}
	return s.processor.Apply(ctx, rec.ID, a.Direction, a.Image, a.ActorID, a.Location, Options{Employee: emp})
}

// Record returns an attendance record by id.
func (s *Service) Record(ctx context.Context, id string) (*attendance.Record, error) {
	return s.store.Get(ctx, id)
}

// EligibleRecord gets or creates today's record for employeeID and checks that
// dir may be applied to it.
func (s *Service) EligibleRecord(ctx context.Context, employeeID string, dir attendance.Direction) (*attendance.Record, error) {
	return s.eligibleRecord(ctx, employeeID, dir)
}

func (s *Service) eligibleRecord(ctx context.Context, employeeID string, dir attendance.Direction) (*attendance.Record, error) {
	rec, err := s.store.GetOrCreate(ctx, employeeID, s.Today())
	if err != nil {
		return nil, apperr.DataLayer(err)
	}
	if err := attendance.CheckPunch(rec, dir); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) employee(ctx context.Context, a Attempt, threshold float64) (*attendance.Employee, error) {
	if a.EmployeeID != "" {
		return s.lookup(ctx, a.EmployeeID)
	}

	start := time.Now()
	matches, err := s.faces.SearchFaces(ctx, a.Image, MaxCandidates, threshold)
	metrics.ObserveCall("recognition", "search", start, err)
	if err != nil {
		return nil, apperr.Recognition(fmt.Errorf("search faces: %w", err))
	}
	if len(matches) == 0 {
		return nil, apperr.New(apperr.CodeFaceNotRecognized, "face not recognized").
			WithDetail("threshold", threshold).
			WithSuggestion("retake the photo or enroll the employee")
	}
	best := matches[0]
	sim := best.Similarity
	emp, err := s.resolver.Resolve(ctx, identity.Query{
		FaceID:      best.FaceID,
		CandidateID: best.ExternalID,
		Similarity:  &sim,
	})
	if err != nil {
		return nil, apperr.DataLayer(err)
	}
	if emp == nil {
		return nil, apperr.New(apperr.CodeFaceNotRecognized, "face not linked to any employee").
			WithDetail("face_id", best.FaceID)
	}
	return emp, nil
}

func (s *Service) lookup(ctx context.Context, id string) (*attendance.Employee, error) {
	emp, err := s.dir.EmployeeByID(ctx, id)
	if err != nil {
		return nil, apperr.DataLayer(err)
	}
	if emp == nil {
		return nil, apperr.Newf(apperr.CodeEmployeeNotFound, "employee %s not found", id)
	}
	return emp, nil
}

func observe(mode string, dir attendance.Direction, err error) {
	result := "ok"
	if err != nil {
		result = string(apperr.CodeOf(err))
	}
	metrics.Punches.WithLabelValues(mode, dir.Key(), result).Inc()
}
