package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/apperr"
)

// Repository persists attendance records and reads the employee directory in Postgres.
type Repository struct {
	db      *sql.DB
	timeout time.Duration
}

// NewRepository creates a repo. Every query is bounded by timeout.
func NewRepository(db *sql.DB, timeout time.Duration) *Repository {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Repository{db: db, timeout: timeout}
}

const recordColumns = `id, employee_id, attendance_date, ward_id, department_id,
	punch_in_at, punch_in_image, punch_in_key, punch_in_lat, punch_in_lng, punch_in_address, punch_in_by,
	punch_out_at, punch_out_image, punch_out_key, punch_out_lat, punch_out_lng, punch_out_address, punch_out_by,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var inAddr, outAddr sql.NullString
	err := row.Scan(&rec.ID, &rec.EmployeeID, &rec.Date, &rec.WardID, &rec.DepartmentID,
		&rec.In.At, &rec.In.ImageURL, &rec.In.ImageKey, &rec.In.Location.Latitude, &rec.In.Location.Longitude, &inAddr, &rec.In.By,
		&rec.Out.At, &rec.Out.ImageURL, &rec.Out.ImageKey, &rec.Out.Location.Latitude, &rec.Out.Location.Longitude, &outAddr, &rec.Out.By,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.In.Location.Address = inAddr.String
	rec.Out.Location.Address = outAddr.String
	return &rec, nil
}

// GetOrCreate returns the employee's record for date, creating it with the
// employee's current ward and department on first use.
func (r *Repository) GetOrCreate(ctx context.Context, employeeID string, date time.Time) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	day := date.Format(time.DateOnly)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, employee_id, attendance_date, ward_id, department_id)
		SELECT $1, e.id, $3::date, e.ward_id, e.department_id
		FROM employees e WHERE e.id = $2
		ON CONFLICT (employee_id, attendance_date) DO NOTHING
	`, uuid.NewString(), employeeID, day)
	if err != nil {
		return nil, apperr.DataLayer(fmt.Errorf("create attendance record: %w", err))
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+`
		FROM attendance_records WHERE employee_id = $1 AND attendance_date = $2::date`, employeeID, day)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Newf(apperr.CodeEmployeeNotFound, "employee %s not found", employeeID)
		}
		return nil, apperr.DataLayer(fmt.Errorf("read attendance record: %w", err))
	}
	return rec, nil
}

// Get returns a record by id.
func (r *Repository) Get(ctx context.Context, id string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.New(apperr.CodeRecordNotFound, "attendance record not found")
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.CodeRecordNotFound, "attendance record not found")
		}
		return nil, apperr.DataLayer(fmt.Errorf("read attendance record: %w", err))
	}
	return rec, nil
}

// ApplyPunch sets the direction's timestamp to the database clock together with
// its evidence, location and actor. The WHERE clause re-asserts the legal prior
// state, so zero affected rows means the record changed underneath us.
func (r *Repository) ApplyPunch(ctx context.Context, id string, dir Direction, f PunchFields) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var prefix, guard string
	switch dir {
	case In:
		prefix, guard = "punch_in", "punch_in_at IS NULL"
	case Out:
		prefix, guard = "punch_out", "punch_in_at IS NOT NULL AND punch_out_at IS NULL"
	default:
		return nil, apperr.Newf(apperr.CodeInvalidInput, "unknown punch direction %q", dir)
	}

	query := fmt.Sprintf(`
		UPDATE attendance_records SET
			%[1]s_at = NOW(),
			%[1]s_image = $2,
			%[1]s_key = $3,
			%[1]s_lat = $4,
			%[1]s_lng = $5,
			%[1]s_address = $6,
			%[1]s_by = $7,
			updated_at = NOW()
		WHERE id = $1 AND %[2]s
		RETURNING `+recordColumns, prefix, guard)

	row := r.db.QueryRowContext(ctx, query, id,
		nullString(f.ImageURL), nullString(f.ImageKey),
		f.Location.Latitude, f.Location.Longitude, nullString(f.Location.Address),
		nullString(f.ActorID))
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConflict
		}
		return nil, apperr.DataLayer(fmt.Errorf("apply punch %s: %w", dir, err))
	}
	return rec, nil
}

const employeeColumns = `id, employee_code, name, face_image_key, face_id, face_confidence, ward_id, department_id`

func (r *Repository) queryEmployee(ctx context.Context, where string, arg any) (*Employee, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE `+where+` LIMIT 1`, arg)
	var e Employee
	if err := row.Scan(&e.ID, &e.Code, &e.Name, &e.FaceImageKey, &e.FaceID, &e.FaceConfidence, &e.WardID, &e.DepartmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.DataLayer(fmt.Errorf("read employee: %w", err))
	}
	return &e, nil
}

// EmployeeByID returns an employee by id, or nil when absent.
func (r *Repository) EmployeeByID(ctx context.Context, id string) (*Employee, error) {
	if id == "" {
		return nil, nil
	}
	return r.queryEmployee(ctx, "id = $1", id)
}

// EmployeeByFaceID returns the employee whose cached biometric id matches, or nil.
func (r *Repository) EmployeeByFaceID(ctx context.Context, faceID string) (*Employee, error) {
	if faceID == "" {
		return nil, nil
	}
	return r.queryEmployee(ctx, "face_id = $1", faceID)
}

// SetEmployeeFaceID stores the freshly observed biometric id when the cached
// one is null or different.
func (r *Repository) SetEmployeeFaceID(ctx context.Context, employeeID, faceID string, confidence *float64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE employees
		SET face_id = $2, face_confidence = COALESCE($3, face_confidence), updated_at = NOW()
		WHERE id = $1 AND face_id IS DISTINCT FROM $2
	`, employeeID, faceID, confidence)
	if err != nil {
		return apperr.DataLayer(fmt.Errorf("update employee face id: %w", err))
	}
	return nil
}

// ActorExists reports whether userID is a known user.
func (r *Repository) ActorExists(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return false, apperr.DataLayer(fmt.Errorf("lookup actor: %w", err))
	}
	return exists, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
