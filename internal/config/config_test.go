package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", "test.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.HTTPListenAddr != ":8080" {
		t.Errorf("HTTPListenAddr = %q, want %q", cfg.HTTPListenAddr, ":8080")
	}
	if cfg.TokenLookupAttempts != 3 {
		t.Errorf("TokenLookupAttempts = %d, want 3", cfg.TokenLookupAttempts)
	}
	if cfg.PaymentExpiry != time.Hour {
		t.Errorf("PaymentExpiry = %v, want 1h", cfg.PaymentExpiry)
	}
	if cfg.CashOutMinDeposit.String() != "10" {
		t.Errorf("CashOutMinDeposit = %s, want 10", cfg.CashOutMinDeposit)
	}
}

func TestLoad_PostgresRequiresDatabaseURL(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Error("Load() expected error for missing DATABASE_URL, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("PSP_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Error("Load() expected error for invalid PSP_TIMEOUT, got nil")
	}
}

func TestLoad_UnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "mongo")

	if _, err := Load(); err == nil {
		t.Error("Load() expected error for unknown backend, got nil")
	}
}

func TestLoad_TrimsTrailingSlashes(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("PUBLIC_BASE_URL", "https://milenio.example.com/")
	t.Setenv("PSP_BASE_URL", "https://sandbox.psp.example/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.PublicBaseURL != "https://milenio.example.com" {
		t.Errorf("PublicBaseURL = %q", cfg.PublicBaseURL)
	}
	if cfg.PSPBaseURL != "https://sandbox.psp.example" {
		t.Errorf("PSPBaseURL = %q", cfg.PSPBaseURL)
	}
}
