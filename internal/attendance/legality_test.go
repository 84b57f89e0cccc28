package attendance

import (
	"testing"
	"time"

	"geoattend/internal/apperr"
)

func TestCheckPunch(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	later := now.Add(8 * time.Hour)

	tests := []struct {
		name string
		rec  *Record
		dir  Direction
		want apperr.Code
	}{
		{name: "missing record", rec: nil, dir: In, want: apperr.CodeRecordNotFound},
		{name: "first punch in", rec: &Record{}, dir: In},
		{name: "second punch in", rec: &Record{In: Punch{At: &now}}, dir: In, want: apperr.CodeAlreadyPunchedIn},
		{name: "out before in", rec: &Record{}, dir: Out, want: apperr.CodePunchInRequired},
		{name: "out after in", rec: &Record{In: Punch{At: &now}}, dir: Out},
		{name: "second punch out", rec: &Record{In: Punch{At: &now}, Out: Punch{At: &later}}, dir: Out, want: apperr.CodeAlreadyPunchedOut},
		{name: "in after marked", rec: &Record{In: Punch{At: &now}, Out: Punch{At: &later}}, dir: In, want: apperr.CodeAlreadyPunchedIn},
		{name: "unknown direction", rec: &Record{}, dir: Direction("SIDEWAYS"), want: apperr.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPunch(tt.rec, tt.dir)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("CheckPunch() = %v, want nil", err)
				}
				return
			}
			if !apperr.IsCode(err, tt.want) {
				t.Fatalf("CheckPunch() = %v, want %s", err, tt.want)
			}
		})
	}
}

func TestStateOf(t *testing.T) {
	now := time.Now()
	if got := StateOf(nil, nil); got != NotMarked {
		t.Errorf("StateOf(nil, nil) = %s", got)
	}
	if got := StateOf(&now, nil); got != InProgress {
		t.Errorf("StateOf(in, nil) = %s", got)
	}
	if got := StateOf(&now, &now); got != Marked {
		t.Errorf("StateOf(in, out) = %s", got)
	}
}

func TestRecordDuration(t *testing.T) {
	in := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	out := in.Add(8*time.Hour + 30*time.Minute)

	rec := Record{In: Punch{At: &in}}
	if rec.Duration() != 0 {
		t.Errorf("Duration() with open record = %v", rec.Duration())
	}
	rec.Out.At = &out
	if rec.Duration() != 8*time.Hour+30*time.Minute {
		t.Errorf("Duration() = %v", rec.Duration())
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in   string
		want Direction
		ok   bool
	}{
		{"IN", In, true},
		{" punch_in ", In, true},
		{"checkout", Out, true},
		{"out", Out, true},
		{"", "", false},
		{"maybe", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseDirection(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseDirection(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDateOf(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	// 20:00 UTC is already the next day in IST.
	ts := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	got := DateOf(ts, loc)
	if got.Day() != 3 || got.Hour() != 0 {
		t.Errorf("DateOf() = %v", got)
	}
}
