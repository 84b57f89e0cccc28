package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FACE_MATCH_THRESHOLD", "")
	t.Setenv("QUEUE_BACKEND", "")
	cfg := Load()
	if cfg.FaceMatchThreshold != 90 {
		t.Errorf("threshold = %v", cfg.FaceMatchThreshold)
	}
	if cfg.QueueBackend != "redis" || cfg.FaceCollection != "employees" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Location() != time.UTC {
		t.Errorf("location = %v", cfg.Location())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FACE_MATCH_THRESHOLD", "92.5")
	t.Setenv("FACE_TIMEOUT", "3s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("DB_MIGRATE", "false")
	t.Setenv("RATE_LIMIT_PER_MIN", "abc")

	cfg := Load()
	if cfg.FaceMatchThreshold != 92.5 || cfg.FaceTimeout != 3*time.Second {
		t.Errorf("face cfg = %v %v", cfg.FaceMatchThreshold, cfg.FaceTimeout)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("origins = %q", cfg.CORSOrigins)
	}
	if cfg.DBMigrate {
		t.Error("DB_MIGRATE=false ignored")
	}
	if cfg.RateLimitPerMin != 120 {
		t.Errorf("rate limit fallback = %d", cfg.RateLimitPerMin)
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := App{AttendanceTZ: "Mars/Olympus"}
	if cfg.Location() != time.UTC {
		t.Errorf("location = %v", cfg.Location())
	}
}
