// Package identity maps biometric identifiers and claimed ids to employees and
// keeps the cached biometric cross-reference on the employee row current.
package identity

import (
	"context"
	"log"
	"strings"
	"time"

	"geoattend/internal/attendance"
	"geoattend/internal/metrics"
	"geoattend/internal/queue"
)

// Lookup is the directory read side the resolver needs.
type Lookup interface {
	EmployeeByID(ctx context.Context, id string) (*attendance.Employee, error)
	EmployeeByFaceID(ctx context.Context, faceID string) (*attendance.Employee, error)
}

// Query carries the identifiers available for one face. Any may be empty.
type Query struct {
	// FaceID is the biometric identifier issued by the recognition service.
	FaceID string
	// CandidateID is the employee id the recognition service tagged the face with.
	CandidateID string
	// RequestedID is the employee id the caller asked for.
	RequestedID string
	// Similarity of the observation, stored alongside a repaired link.
	Similarity *float64
}

// Resolver resolves employees in a fixed order: cached biometric id, the
// recognition service's tag, then the caller's explicit id.
type Resolver struct {
	dir   Lookup
	links queue.Queue
}

// NewResolver builds a resolver. links may be nil, which disables cache repair.
func NewResolver(dir Lookup, links queue.Queue) *Resolver {
	return &Resolver{dir: dir, links: links}
}

// Resolve returns the first employee found, or nil when none matches.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*attendance.Employee, error) {
	q.FaceID = strings.TrimSpace(q.FaceID)
	q.CandidateID = strings.TrimSpace(q.CandidateID)
	q.RequestedID = strings.TrimSpace(q.RequestedID)

	steps := []func() (*attendance.Employee, error){
		func() (*attendance.Employee, error) { return r.dir.EmployeeByFaceID(ctx, q.FaceID) },
		func() (*attendance.Employee, error) { return r.dir.EmployeeByID(ctx, q.CandidateID) },
		func() (*attendance.Employee, error) { return r.dir.EmployeeByID(ctx, q.RequestedID) },
	}
	for _, step := range steps {
		emp, err := step()
		if err != nil {
			return nil, err
		}
		if emp != nil {
			r.repairLink(ctx, emp, q)
			return emp, nil
		}
	}
	return nil, nil
}

// repairLink queues a write of the freshly observed biometric id when the
// cached one is missing or different. It never blocks or fails resolution.
func (r *Resolver) repairLink(ctx context.Context, emp *attendance.Employee, q Query) {
	if r.links == nil || q.FaceID == "" {
		return
	}
	if emp.FaceID != nil && *emp.FaceID == q.FaceID {
		return
	}
	msg, err := queue.NewMessage(LinkMessageType, FaceLink{
		EmployeeID: emp.ID,
		FaceID:     q.FaceID,
		Similarity: q.Similarity,
	})
	if err != nil {
		log.Printf("identity: encode face link for %s: %v", emp.ID, err)
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := r.links.Publish(ctx, msg); err != nil {
			metrics.FaceLinks.WithLabelValues("publish_failed").Inc()
			log.Printf("identity: queue face link for %s: %v", emp.ID, err)
			return
		}
		metrics.FaceLinks.WithLabelValues("queued").Inc()
	}()
}
