package attendance

import "geoattend/internal/apperr"

// CheckPunch decides whether dir may be applied to rec. It has no side effects
// and runs before any upload or biometric call.
func CheckPunch(rec *Record, dir Direction) error {
	if rec == nil {
		return apperr.New(apperr.CodeRecordNotFound, "attendance record not found")
	}
	switch dir {
	case In:
		if rec.In.At != nil {
			return apperr.New(apperr.CodeAlreadyPunchedIn, "already punched in today").
				WithDetail("punch_in_at", rec.In.At)
		}
	case Out:
		if rec.Out.At != nil {
			return apperr.New(apperr.CodeAlreadyPunchedOut, "already punched out today").
				WithDetail("punch_out_at", rec.Out.At)
		}
		if rec.In.At == nil {
			return apperr.New(apperr.CodePunchInRequired, "punch in before punching out").
				WithSuggestion("record a punch-in first")
		}
	default:
		return apperr.Newf(apperr.CodeInvalidInput, "unknown punch direction %q", dir)
	}
	return nil
}
