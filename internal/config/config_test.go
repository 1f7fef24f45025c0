package config

import (
	"strings"
	"testing"
	"time"

	"github.com/ashureev/smartfin/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"GROQ_API_KEY", "GOOGLE_API_KEY", "ANTHROPIC_API_KEY"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agents.Interval != 5*time.Minute || cfg.Agents.TTL != 30*time.Minute {
		t.Errorf("agents sweep = %+v", cfg.Agents)
	}
	if cfg.Datasets.TTL != 10*time.Minute {
		t.Errorf("datasets ttl = %v", cfg.Datasets.TTL)
	}
	if cfg.MaxUploadBytes != 100<<20 || cfg.MaxImageBytes != 10<<20 {
		t.Errorf("caps = %d / %d", cfg.MaxUploadBytes, cfg.MaxImageBytes)
	}
	if len(cfg.DefaultCredentials()) != 0 {
		t.Errorf("credentials = %v, want none", cfg.DefaultCredentials())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AGENT_SWEEP_INTERVAL", "1m")
	t.Setenv("AGENT_TTL", "2h")
	t.Setenv("MAX_UPLOAD_BYTES", "2048")
	t.Setenv("GROQ_API_KEY", "gsk_test")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("RATE_LIMIT_WINDOW", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agents.Interval != time.Minute || cfg.Agents.TTL != 2*time.Hour {
		t.Errorf("agents sweep = %+v", cfg.Agents)
	}
	if cfg.MaxUploadBytes != 2048 {
		t.Errorf("MaxUploadBytes = %d", cfg.MaxUploadBytes)
	}
	if cfg.RateLimit.Window != time.Minute {
		t.Errorf("invalid duration should fall back, got %v", cfg.RateLimit.Window)
	}
	creds := cfg.DefaultCredentials()
	if len(creds) != 1 || creds[domain.ProviderGroq] != "gsk_test" {
		t.Errorf("credentials = %v", creds)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("DATASET_TTL", "0s")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "DATASET_TTL") {
		t.Fatalf("err = %v, want DATASET_TTL error", err)
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"https://app.smartfin.com.br", false},
	}
	for _, tt := range tests {
		c := &Config{FrontendURL: tt.url}
		if got := c.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
