package attendance

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrConflict is returned by ApplyPunch when the conditional update matched no
// row: the record vanished or another punch won the race.
var ErrConflict = errors.New("attendance: record changed concurrently")

// Direction is the punch direction.
type Direction string

const (
	In  Direction = "IN"
	Out Direction = "OUT"
)

// ParseDirection accepts the spellings clients send for a direction.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in", "punch_in", "punch-in", "punchin", "checkin", "check_in":
		return In, true
	case "out", "punch_out", "punch-out", "punchout", "checkout", "check_out":
		return Out, true
	}
	return "", false
}

// Key is the lowercase form used in object keys and metric labels.
func (d Direction) Key() string { return strings.ToLower(string(d)) }

// State is derived from the two punch timestamps and never stored.
type State string

const (
	NotMarked  State = "NOT_MARKED"
	InProgress State = "IN_PROGRESS"
	Marked     State = "MARKED"
)

// StateOf derives the record state from its punch timestamps.
func StateOf(punchIn, punchOut *time.Time) State {
	switch {
	case punchIn == nil:
		return NotMarked
	case punchOut == nil:
		return InProgress
	default:
		return Marked
	}
}

// Location is the geotag captured with a punch.
type Location struct {
	Latitude  *float64 `json:"latitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
	Address   string   `json:"address,omitempty" validate:"max=500"`
}

// Employee is the directory entry the pipeline reads.
type Employee struct {
	ID             string   `json:"id"`
	Code           string   `json:"employee_code"`
	Name           string   `json:"name"`
	FaceImageKey   *string  `json:"face_image_key,omitempty"`
	FaceID         *string  `json:"face_id,omitempty"`
	FaceConfidence *float64 `json:"face_confidence,omitempty"`
	WardID         *string  `json:"ward_id,omitempty"`
	DepartmentID   *string  `json:"department_id,omitempty"`
}

// Punch holds one direction's recorded fields.
type Punch struct {
	At       *time.Time `json:"at,omitempty"`
	ImageURL *string    `json:"image_url,omitempty"`
	ImageKey *string    `json:"image_key,omitempty"`
	Location Location   `json:"location"`
	By       *string    `json:"by,omitempty"`
}

// Record is one employee's attendance for one calendar date.
type Record struct {
	ID           string    `json:"id"`
	EmployeeID   string    `json:"employee_id"`
	Date         time.Time `json:"date"`
	WardID       *string   `json:"ward_id,omitempty"`
	DepartmentID *string   `json:"department_id,omitempty"`
	In           Punch     `json:"punch_in"`
	Out          Punch     `json:"punch_out"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// State returns the derived lifecycle state.
func (r *Record) State() State { return StateOf(r.In.At, r.Out.At) }

// Duration is the worked time, zero until both punches exist.
func (r *Record) Duration() time.Duration {
	if r.In.At == nil || r.Out.At == nil {
		return 0
	}
	return r.Out.At.Sub(*r.In.At)
}

// PunchAt returns the timestamp recorded for d.
func (r *Record) PunchAt(d Direction) *time.Time {
	if d == Out {
		return r.Out.At
	}
	return r.In.At
}

// PunchFields are the values written by ApplyPunch. The timestamp is always
// generated by the store.
type PunchFields struct {
	Location Location
	ImageURL string
	ImageKey string
	ActorID  string
}

// Store owns attendance records.
type Store interface {
	GetOrCreate(ctx context.Context, employeeID string, date time.Time) (*Record, error)
	Get(ctx context.Context, id string) (*Record, error)
	ApplyPunch(ctx context.Context, id string, dir Direction, f PunchFields) (*Record, error)
}

// Directory is the read side of the organizational directory plus the
// biometric cross-reference write.
type Directory interface {
	EmployeeByID(ctx context.Context, id string) (*Employee, error)
	EmployeeByFaceID(ctx context.Context, faceID string) (*Employee, error)
	SetEmployeeFaceID(ctx context.Context, employeeID, faceID string, confidence *float64) error
	ActorExists(ctx context.Context, userID string) (bool, error)
}

// DateOf truncates t to its calendar date in loc.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
