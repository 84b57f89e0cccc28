// Package group punches every recognizable employee in a single photograph.
package group

import (
	"context"
	"fmt"
	"log"
	"time"

	"geoattend/internal/apperr"
	"geoattend/internal/attendance"
	"geoattend/internal/faceclient"
	"geoattend/internal/identity"
	"geoattend/internal/imagekit"
	"geoattend/internal/metrics"
	"geoattend/internal/punch"
)

// Status tags the outcome of one detected face.
type Status string

const (
	Punched   Status = "punched"
	Skipped   Status = "skipped"
	Duplicate Status = "duplicate"
	Unmatched Status = "unmatched"
	Failed    Status = "error"
)

// Detector finds faces in an image.
type Detector interface {
	DetectFaces(ctx context.Context, img []byte) ([]faceclient.DetectedFace, error)
}

// Records supplies today's record after the legality check.
type Records interface {
	EligibleRecord(ctx context.Context, employeeID string, dir attendance.Direction) (*attendance.Record, error)
}

// Applier performs one punch.
type Applier interface {
	Apply(ctx context.Context, attendanceID string, dir attendance.Direction, image []byte, actorID string, loc attendance.Location, opts punch.Options) (*punch.Result, error)
}

// Request is one group capture.
type Request struct {
	Image     []byte
	Direction attendance.Direction
	Threshold *float64
	Location  attendance.Location
	ActorID   string
}

// FaceOutcome reports what happened to one detected face.
type FaceOutcome struct {
	Index        int        `json:"index"`
	Status       Status     `json:"status"`
	EmployeeID   string     `json:"employee_id,omitempty"`
	EmployeeName string     `json:"employee_name,omitempty"`
	FaceID       string     `json:"face_id,omitempty"`
	Similarity   *float64   `json:"similarity,omitempty"`
	PunchedAt    *time.Time `json:"punched_at,omitempty"`
	Message      string     `json:"message,omitempty"`
	// DuplicateOf is the index of the face that first resolved to the same employee.
	DuplicateOf *int `json:"duplicate_of,omitempty"`
}

// Result aggregates a group capture.
type Result struct {
	Direction     attendance.Direction `json:"direction"`
	FacesDetected int                  `json:"faces_detected"`
	Punched       int                  `json:"punched"`
	Success       bool                 `json:"success"`
	Outcomes      []FaceOutcome        `json:"outcomes"`
}

// Orchestrator runs group captures.
type Orchestrator struct {
	detector   Detector
	searcher   punch.Searcher
	resolver   *identity.Resolver
	records    Records
	applier    Applier
	thresholds punch.Thresholds

	// Side is the edge length crops are normalized to.
	Side int
	// MaxPixels bounds the photo area accepted for decoding.
	MaxPixels int64
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(detector Detector, searcher punch.Searcher, resolver *identity.Resolver, records Records, applier Applier, thresholds punch.Thresholds) *Orchestrator {
	return &Orchestrator{
		detector:   detector,
		searcher:   searcher,
		resolver:   resolver,
		records:    records,
		applier:    applier,
		thresholds: thresholds,
		Side:       imagekit.DefaultSide,
		MaxPixels:  imagekit.DefaultMaxPixels,
	}
}

// Capture detects every face in req.Image and punches each resolved employee at
// most once. Per-face failures are reported in the outcome list and never abort
// the batch.
func (o *Orchestrator) Capture(ctx context.Context, req Request) (*Result, error) {
	ctx = context.WithoutCancel(ctx)

	if err := punch.Validate(punch.Attempt{Direction: req.Direction, Location: req.Location, Threshold: req.Threshold}); err != nil {
		return nil, err
	}
	if len(req.Image) == 0 {
		return nil, apperr.New(apperr.CodeInvalidInput, "image is required").
			WithSuggestion("attach a group photo")
	}
	threshold, err := o.thresholds.Resolve(req.Threshold)
	if err != nil {
		return nil, err
	}

	meta, err := imagekit.Metadata(req.Image)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidInput, "image could not be decoded", err)
	}
	if o.MaxPixels > 0 && int64(meta.Width)*int64(meta.Height) > o.MaxPixels {
		return nil, apperr.Newf(apperr.CodeInvalidInput, "image is %dx%d, larger than allowed", meta.Width, meta.Height).
			WithDetail("max_pixels", o.MaxPixels).
			WithSuggestion("resize the photo before uploading")
	}
	img, err := imagekit.Decode(req.Image)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidInput, "image could not be decoded", err)
	}
	size := imagekit.SizeOf(img)

	start := time.Now()
	faces, err := o.detector.DetectFaces(ctx, req.Image)
	metrics.ObserveCall("recognition", "detect", start, err)
	if err != nil {
		return nil, apperr.Recognition(fmt.Errorf("detect faces: %w", err))
	}
	if len(faces) == 0 {
		return nil, apperr.New(apperr.CodeNoFacesDetected, "no faces detected in the image").
			WithSuggestion("retake the photo with faces clearly visible")
	}

	res := &Result{Direction: req.Direction, FacesDetected: len(faces)}
	processed := make(map[string]int, len(faces))
	for i, face := range faces {
		out := FaceOutcome{Index: i}

		box := imagekit.Box(face.BoundingBox)
		region := imagekit.PaddedRegion(box, size, imagekit.DefaultPadding)
		if region.Empty() {
			o.finish(res, &out, req.Direction, Skipped, "uncroppable", nil)
			continue
		}
		crop, err := imagekit.Normalize(imagekit.Crop(img, region), o.Side)
		if err != nil {
			o.finish(res, &out, req.Direction, Failed, "could not prepare face crop", err)
			continue
		}

		start := time.Now()
		matches, err := o.searcher.SearchFaces(ctx, crop, punch.MaxCandidates, threshold)
		metrics.ObserveCall("recognition", "search", start, err)
		if err != nil {
			e := apperr.Recognition(err)
			o.finish(res, &out, req.Direction, Failed, e.Message, e)
			continue
		}
		if len(matches) == 0 {
			o.finish(res, &out, req.Direction, Unmatched, "no enrolled face above threshold", nil)
			continue
		}
		best := matches[0]
		sim := best.Similarity
		out.FaceID = best.FaceID
		out.Similarity = &sim

		emp, err := o.resolver.Resolve(ctx, identity.Query{FaceID: best.FaceID, CandidateID: best.ExternalID, Similarity: &sim})
		if err != nil {
			e := apperr.DataLayer(err)
			o.finish(res, &out, req.Direction, Failed, e.Message, e)
			continue
		}
		if emp == nil {
			o.finish(res, &out, req.Direction, Unmatched, "face not linked to any employee", nil)
			continue
		}
		out.EmployeeID = emp.ID
		out.EmployeeName = emp.Name

		if first, seen := processed[emp.ID]; seen {
			out.DuplicateOf = &first
			o.finish(res, &out, req.Direction, Duplicate, fmt.Sprintf("same employee as face %d", first), nil)
			continue
		}
		processed[emp.ID] = i

		rec, err := o.records.EligibleRecord(ctx, emp.ID, req.Direction)
		if err != nil {
			e := apperr.From(err)
			if ineligible(e.Code) {
				o.finish(res, &out, req.Direction, Skipped, e.Message, nil)
			} else {
				o.finish(res, &out, req.Direction, Failed, e.Message, e)
			}
			continue
		}

		pr, err := o.applier.Apply(ctx, rec.ID, req.Direction, crop, req.ActorID, req.Location, punch.Options{
			Employee:         emp,
			RequireFaceMatch: true,
			Threshold:        threshold,
		})
		if err != nil {
			e := apperr.From(err)
			o.finish(res, &out, req.Direction, Failed, e.Message, e)
			continue
		}
		if pr.Match != nil {
			s := pr.Match.Similarity
			out.Similarity = &s
		}
		out.PunchedAt = pr.Record.PunchAt(req.Direction)
		o.finish(res, &out, req.Direction, Punched, "", nil)
	}
	res.Success = res.Punched > 0
	return res, nil
}

// ineligible reports whether code is a punch legality refusal rather than a failure.
func ineligible(code apperr.Code) bool {
	switch code {
	case apperr.CodeAlreadyPunchedIn, apperr.CodeAlreadyPunchedOut, apperr.CodePunchInRequired, apperr.CodeRecordNotFound:
		return true
	}
	return false
}

func (o *Orchestrator) finish(res *Result, out *FaceOutcome, dir attendance.Direction, status Status, msg string, err error) {
	out.Status = status
	out.Message = msg
	res.Outcomes = append(res.Outcomes, *out)
	metrics.GroupFaces.WithLabelValues(string(status)).Inc()

	switch status {
	case Punched:
		res.Punched++
		metrics.Punches.WithLabelValues("group", dir.Key(), "ok").Inc()
	case Failed:
		metrics.Punches.WithLabelValues("group", dir.Key(), string(apperr.CodeOf(err))).Inc()
		log.Printf("group: face %d: %v", out.Index, err)
	}
}
