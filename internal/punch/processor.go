// Package punch applies validated punches to attendance records and exposes the
// single-subject and manual entry points.
package punch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"geoattend/internal/apperr"
	"geoattend/internal/attendance"
	"geoattend/internal/cloudinary"
	"geoattend/internal/faceverify"
	"geoattend/internal/metrics"
)

// EvidenceStore uploads captured images.
type EvidenceStore interface {
	Put(ctx context.Context, data []byte, key string) (*cloudinary.UploadResult, error)
}

// Verifier runs a 1:1 check of a capture against an employee.
type Verifier interface {
	Verify(ctx context.Context, emp *attendance.Employee, captured []byte, threshold float64) (*faceverify.Outcome, error)
}

// Actors answers whether a user id is a known actor.
type Actors interface {
	ActorExists(ctx context.Context, userID string) (bool, error)
}

// Options control one Apply call.
type Options struct {
	Employee         *attendance.Employee
	RequireFaceMatch bool
	Threshold        float64
}

// Result is the updated record plus the face-match outcome, if one ran.
type Result struct {
	Record    *attendance.Record
	Employee  *attendance.Employee
	Direction attendance.Direction
	Match     *faceverify.Outcome
}

// Processor uploads evidence, verifies the face when required and performs
// the conditional update.
type Processor struct {
	store    attendance.Store
	actors   Actors
	evidence EvidenceStore
	verifier Verifier
}

// NewProcessor builds a Processor.
func NewProcessor(store attendance.Store, actors Actors, evidence EvidenceStore, verifier Verifier) *Processor {
	return &Processor{store: store, actors: actors, evidence: evidence, verifier: verifier}
}

// EvidenceKey is the object key for a punch's captured image. Re-uploading the
// same punch overwrites it.
func EvidenceKey(attendanceID string, dir attendance.Direction) string {
	return fmt.Sprintf("attendance/%s/%s", attendanceID, dir.Key())
}

// Apply records dir on the attendance record. Legality must already have been
// checked by the caller.
func (p *Processor) Apply(ctx context.Context, attendanceID string, dir attendance.Direction, image []byte, actorID string, loc attendance.Location, opts Options) (*Result, error) {
	var fields attendance.PunchFields
	fields.Location = loc

	if len(image) > 0 {
		key := EvidenceKey(attendanceID, dir)
		start := time.Now()
		up, err := p.evidence.Put(ctx, image, key)
		metrics.ObserveCall("storage", "put", start, err)
		if err != nil {
			return nil, apperr.Storage(fmt.Errorf("upload evidence %s: %w", key, err))
		}
		fields.ImageKey = up.PublicID
		fields.ImageURL = up.SecureURL
	}

	var match *faceverify.Outcome
	if opts.RequireFaceMatch {
		if fields.ImageKey == "" {
			return nil, apperr.New(apperr.CodeEvidenceRequired, "a face image is required for this punch").
				WithSuggestion("capture a photo and retry")
		}
		out, err := p.verifier.Verify(ctx, opts.Employee, image, opts.Threshold)
		if err != nil {
			return nil, err
		}
		match = out
	}

	fields.ActorID = p.actor(ctx, actorID)

	rec, err := p.store.ApplyPunch(ctx, attendanceID, dir, fields)
	if err != nil {
		if errors.Is(err, attendance.ErrConflict) {
			return nil, apperr.Wrap(apperr.CodeUpdateFailed, "attendance record changed before the punch was saved", err).
				WithDetail("attendance_id", attendanceID).
				WithSuggestion("reload today's attendance and retry")
		}
		return nil, apperr.DataLayer(err)
	}
	return &Result{Record: rec, Employee: opts.Employee, Direction: dir, Match: match}, nil
}

// actor returns actorID when it names a known user, otherwise "".
func (p *Processor) actor(ctx context.Context, actorID string) string {
	if actorID == "" || p.actors == nil {
		return ""
	}
	ok, err := p.actors.ActorExists(ctx, actorID)
	if err != nil {
		log.Printf("punch: actor lookup %s: %v", actorID, err)
		return ""
	}
	if !ok {
		return ""
	}
	return actorID
}
