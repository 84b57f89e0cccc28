// Package mock provides an in-memory implementation of attendance.Store and
// attendance.Directory for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/apperr"
	"geoattend/internal/attendance"
)

type dayKey struct {
	employeeID string
	date       string
}

// Store is a mutex-guarded in-memory store with error injection.
type Store struct {
	mu        sync.RWMutex
	employees map[string]*attendance.Employee
	actors    map[string]bool
	records   map[string]*attendance.Record
	byDay     map[dayKey]string

	// Now supplies the store clock used for punch timestamps.
	Now func() time.Time

	// Error injection
	GetOrCreateError error
	ApplyPunchError  error
	EmployeeError    error
	SetFaceIDError   error

	// ConflictOnApply makes the next ApplyPunch behave as if the row changed.
	ConflictOnApply bool

	ApplyCalls    int
	FaceIDUpdates int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		employees: make(map[string]*attendance.Employee),
		actors:    make(map[string]bool),
		records:   make(map[string]*attendance.Record),
		byDay:     make(map[dayKey]string),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// AddEmployee adds or replaces an employee.
func (s *Store) AddEmployee(e attendance.Employee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employees[e.ID] = &e
}

// AddActor registers a known user id.
func (s *Store) AddActor(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actors[id] = true
}

// Employee returns a copy of the stored employee.
func (s *Store) Employee(id string) *attendance.Employee {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.employees[id]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// RecordCount returns the number of records created.
func (s *Store) RecordCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// GetOrCreate implements attendance.Store.
func (s *Store) GetOrCreate(ctx context.Context, employeeID string, date time.Time) (*attendance.Record, error) {
	if s.GetOrCreateError != nil {
		return nil, s.GetOrCreateError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	emp, ok := s.employees[employeeID]
	if !ok {
		return nil, apperr.Newf(apperr.CodeEmployeeNotFound, "employee %s not found", employeeID)
	}
	key := dayKey{employeeID: employeeID, date: date.Format(time.DateOnly)}
	if id, ok := s.byDay[key]; ok {
		return cloneRecord(s.records[id]), nil
	}
	now := s.Now()
	rec := &attendance.Record{
		ID:           uuid.NewString(),
		EmployeeID:   employeeID,
		Date:         date,
		WardID:       emp.WardID,
		DepartmentID: emp.DepartmentID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.records[rec.ID] = rec
	s.byDay[key] = rec.ID
	return cloneRecord(rec), nil
}

// Get implements attendance.Store.
func (s *Store) Get(ctx context.Context, id string) (*attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, apperr.New(apperr.CodeRecordNotFound, "attendance record not found")
	}
	return cloneRecord(rec), nil
}

// ApplyPunch implements attendance.Store with the same conditional semantics as
// the Postgres repository.
func (s *Store) ApplyPunch(ctx context.Context, id string, dir attendance.Direction, f attendance.PunchFields) (*attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ApplyCalls++

	if s.ApplyPunchError != nil {
		return nil, s.ApplyPunchError
	}
	if s.ConflictOnApply {
		s.ConflictOnApply = false
		return nil, attendance.ErrConflict
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, attendance.ErrConflict
	}

	now := s.Now()
	p := attendance.Punch{
		At:       &now,
		ImageURL: optional(f.ImageURL),
		ImageKey: optional(f.ImageKey),
		Location: f.Location,
		By:       optional(f.ActorID),
	}
	switch dir {
	case attendance.In:
		if rec.In.At != nil {
			return nil, attendance.ErrConflict
		}
		rec.In = p
	case attendance.Out:
		if rec.In.At == nil || rec.Out.At != nil {
			return nil, attendance.ErrConflict
		}
		rec.Out = p
	default:
		return nil, apperr.Newf(apperr.CodeInvalidInput, "unknown punch direction %q", dir)
	}
	rec.UpdatedAt = now
	return cloneRecord(rec), nil
}

// EmployeeByID implements attendance.Directory.
func (s *Store) EmployeeByID(ctx context.Context, id string) (*attendance.Employee, error) {
	if s.EmployeeError != nil {
		return nil, s.EmployeeError
	}
	return s.Employee(id), nil
}

// EmployeeByFaceID implements attendance.Directory.
func (s *Store) EmployeeByFaceID(ctx context.Context, faceID string) (*attendance.Employee, error) {
	if s.EmployeeError != nil {
		return nil, s.EmployeeError
	}
	if faceID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.employees {
		if e.FaceID != nil && *e.FaceID == faceID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

// SetEmployeeFaceID implements attendance.Directory.
func (s *Store) SetEmployeeFaceID(ctx context.Context, employeeID, faceID string, confidence *float64) error {
	if s.SetFaceIDError != nil {
		return s.SetFaceIDError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.employees[employeeID]
	if !ok || (e.FaceID != nil && *e.FaceID == faceID) {
		return nil
	}
	id := faceID
	e.FaceID = &id
	if confidence != nil {
		c := *confidence
		e.FaceConfidence = &c
	}
	s.FaceIDUpdates++
	return nil
}

// ActorExists implements attendance.Directory.
func (s *Store) ActorExists(ctx context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actors[userID], nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func cloneRecord(r *attendance.Record) *attendance.Record {
	cp := *r
	return &cp
}
