package config

import (
	"testing"
	"time"
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("SONO_JWT_SECRET", "access-secret")
	t.Setenv("SONO_JWT_REFRESH_SECRET", "refresh-secret")
}

func TestLoadDefaults(t *testing.T) {
	setSecrets(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tokens.AccessTTL != 30*time.Minute || cfg.Tokens.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected token ttls %+v", cfg.Tokens)
	}
	if cfg.RateLimit.ForgotPassword.Limit != 3 || cfg.RateLimit.ForgotPassword.Window != time.Hour {
		t.Fatalf("unexpected forgot-password rule %+v", cfg.RateLimit.ForgotPassword)
	}
	if cfg.Reset.TokenTTL != time.Hour {
		t.Fatalf("expected 1h reset ttl, got %s", cfg.Reset.TokenTTL)
	}
	if cfg.Deletion.SoftGrace != 30*24*time.Hour || cfg.Deletion.HardGrace != 0 {
		t.Fatalf("unexpected grace periods %+v", cfg.Deletion)
	}
	if cfg.Maintenance.Message != "Service temporarily unavailable for maintenance" {
		t.Fatalf("unexpected maintenance message %q", cfg.Maintenance.Message)
	}
}

func TestLoadOverrides(t *testing.T) {
	setSecrets(t)
	t.Setenv("SONO_RL_LOGIN_LIMIT", "20")
	t.Setenv("SONO_RL_LOGIN_WINDOW", "2m")
	t.Setenv("SONO_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("SONO_FRONTEND_URL", "https://sono.example/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RateLimit.Login.Limit != 20 || cfg.RateLimit.Login.Window != 2*time.Minute {
		t.Fatalf("unexpected login rule %+v", cfg.RateLimit.Login)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Reset.FrontendURL != "https://sono.example" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Reset.FrontendURL)
	}
}

func TestLoadRequiresDistinctSecrets(t *testing.T) {
	t.Setenv("SONO_JWT_SECRET", "same")
	t.Setenv("SONO_JWT_REFRESH_SECRET", "same")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for shared secret")
	}
}
