package config

import (
	"testing"
	"time"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when DATABASE_URL is empty")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pipeline")
	t.Setenv("EMAIL_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GetQualifyScoreFloor() != 40 {
		t.Fatalf("expected qualify floor 40, got %d", cfg.GetQualifyScoreFloor())
	}
	if cfg.GetMaxDailyCallAttempts() != 3 {
		t.Fatalf("expected 3 call attempts, got %d", cfg.GetMaxDailyCallAttempts())
	}
	if cfg.GetCallRetryDelay() != 4*time.Hour {
		t.Fatalf("expected 4h retry delay, got %s", cfg.GetCallRetryDelay())
	}
	if cfg.IsTelephonyEnabled() {
		t.Fatalf("expected telephony disabled without credentials")
	}
	if cfg.IsKafkaEnabled() {
		t.Fatalf("expected kafka disabled without brokers")
	}
	if cfg.GetAsynqQueueName() != "pipeline" {
		t.Fatalf("expected default queue pipeline, got %q", cfg.GetAsynqQueueName())
	}
}

func TestLoadCallWindow(t *testing.T) {
	tests := []struct {
		name    string
		start   string
		end     string
		wantErr bool
	}{
		{"daytime", "9", "18", false},
		{"overnight", "22", "6", false},
		{"empty", "9", "9", true},
		{"start out of range", "24", "6", true},
		{"end out of range", "9", "25", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/pipeline")
			t.Setenv("EMAIL_ENABLED", "false")
			t.Setenv("CALL_WINDOW_START_HOUR", tt.start)
			t.Setenv("CALL_WINDOW_END_HOUR", tt.end)

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if err == nil && cfg.GetCallWindowStartHour() != int(mustInt64(tt.start)) {
				t.Fatalf("unexpected start hour %d", cfg.GetCallWindowStartHour())
			}
		})
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, ,b ,c")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected split result: %#v", got)
	}
}
