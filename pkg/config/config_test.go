package config

import "testing"

func TestLoadFromEnvDefaults(t *testing.T) {
	t.Setenv("MURMUR_API_KEY", "k")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.APIKey != "k" {
		t.Fatalf("APIKey = %q", cfg.APIKey)
	}
	if cfg.CaptureRate != 16000 || cfg.PlaybackRate != 24000 || cfg.BlockSize != 4096 {
		t.Fatalf("rates = %d/%d/%d, want 16000/24000/4096", cfg.CaptureRate, cfg.PlaybackRate, cfg.BlockSize)
	}
	if cfg.StateDir == "" {
		t.Fatal("StateDir should default to a non-empty path")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("MURMUR_CAPTURE_RATE", "48000")
	t.Setenv("MURMUR_TRANSPORT_URL", "ws://localhost:9000/live")
	t.Setenv("MURMUR_POSTGRES_DSN", "postgres://localhost/murmur")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.CaptureRate != 48000 {
		t.Fatalf("CaptureRate = %d, want 48000", cfg.CaptureRate)
	}
	if cfg.TransportURL != "ws://localhost:9000/live" {
		t.Fatalf("TransportURL = %q", cfg.TransportURL)
	}
	if cfg.PostgresDSN == "" {
		t.Fatal("PostgresDSN not picked up")
	}
}

func TestLoadFromEnvRejectsBadRates(t *testing.T) {
	t.Setenv("MURMUR_CAPTURE_RATE", "-1")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("LoadFromEnv() expected error for negative capture rate")
	}
}
