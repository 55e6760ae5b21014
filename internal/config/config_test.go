package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("DB_USER", "dosetrack")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", "3306")
	t.Setenv("DB_NAME", "dosetrack")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ACCESS_TOKEN_TTL_MIN", "15")
	t.Setenv("REFRESH_TOKEN_TTL_DAYS", "30")
	t.Setenv("BCRYPT_COST", "10")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg := Load()
	if cfg.Env != "dev" || cfg.Port != "8080" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.TickInterval != 60*time.Second {
		t.Fatalf("TickInterval = %v, want 60s", cfg.TickInterval)
	}
	if cfg.LogRetention != 90*24*time.Hour {
		t.Fatalf("LogRetention = %v, want 2160h", cfg.LogRetention)
	}
	if cfg.EngineWorkers != 8 {
		t.Fatalf("EngineWorkers = %d, want 8", cfg.EngineWorkers)
	}
	if cfg.SendTimeout != 10*time.Second {
		t.Fatalf("SendTimeout = %v, want 10s", cfg.SendTimeout)
	}
	if cfg.SMTPPort != "587" {
		t.Fatalf("SMTPPort = %q, want 587", cfg.SMTPPort)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ENGINE_TICK_INTERVAL", "30s")
	t.Setenv("LOG_RETENTION", "720h")
	t.Setenv("ENGINE_WORKERS", "4")
	cfg := Load()
	if cfg.TickInterval != 30*time.Second {
		t.Fatalf("TickInterval = %v, want 30s", cfg.TickInterval)
	}
	if cfg.LogRetention != 720*time.Hour {
		t.Fatalf("LogRetention = %v, want 720h", cfg.LogRetention)
	}
	if cfg.EngineWorkers != 4 {
		t.Fatalf("EngineWorkers = %d, want 4", cfg.EngineWorkers)
	}
}

func TestLoadBadDurationFallsBack(t *testing.T) {
	setRequired(t)
	t.Setenv("ENGINE_TICK_INTERVAL", "sixty")
	cfg := Load()
	if cfg.TickInterval != 60*time.Second {
		t.Fatalf("malformed duration must fall back to default, got %v", cfg.TickInterval)
	}
}
