// Package config loads the assistant's runtime configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	// Transport credentials and endpoint.
	APIKey       string
	TransportURL string
	Model        string
	SystemPrompt string

	// Audio rates. Capture is what the device records at; playback is the
	// rate assumed for response chunks whose MIME descriptor omits one.
	CaptureRate  int
	PlaybackRate int
	BlockSize    int

	// State persistence. When PostgresDSN is set it wins over StateDir.
	StateDir    string
	PostgresDSN string

	// Mailbox collaborator.
	MailBaseURL string
	MailToken   string

	// Optional response-audio archive. Empty disables recording.
	RecordDir string

	// Prometheus listen address. Empty disables the metrics server.
	MetricsAddr string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		APIKey:       strings.TrimSpace(os.Getenv("MURMUR_API_KEY")),
		TransportURL: envOr("MURMUR_TRANSPORT_URL", "wss://generativelanguage.googleapis.com/ws/v1/live"),
		Model:        envOr("MURMUR_MODEL", "models/gemini-2.0-flash-live-001"),
		SystemPrompt: os.Getenv("MURMUR_SYSTEM_PROMPT"),
		CaptureRate:  envIntOr("MURMUR_CAPTURE_RATE", 16000),
		PlaybackRate: envIntOr("MURMUR_PLAYBACK_RATE", 24000),
		BlockSize:    envIntOr("MURMUR_BLOCK_SIZE", 4096),
		StateDir:     envOr("MURMUR_STATE_DIR", defaultStateDir()),
		PostgresDSN:  os.Getenv("MURMUR_POSTGRES_DSN"),
		MailBaseURL:  envOr("MURMUR_MAIL_BASE_URL", ""),
		MailToken:    os.Getenv("MURMUR_MAIL_TOKEN"),
		RecordDir:    os.Getenv("MURMUR_RECORD_DIR"),
		MetricsAddr:  os.Getenv("MURMUR_METRICS_ADDR"),
	}

	if cfg.TransportURL == "" {
		return Config{}, fmt.Errorf("MURMUR_TRANSPORT_URL must not be empty")
	}
	if cfg.CaptureRate <= 0 {
		return Config{}, fmt.Errorf("MURMUR_CAPTURE_RATE must be > 0")
	}
	if cfg.PlaybackRate <= 0 {
		return Config{}, fmt.Errorf("MURMUR_PLAYBACK_RATE must be > 0")
	}
	if cfg.BlockSize <= 0 {
		return Config{}, fmt.Errorf("MURMUR_BLOCK_SIZE must be > 0")
	}
	if cfg.PostgresDSN == "" && cfg.StateDir == "" {
		return Config{}, fmt.Errorf("one of MURMUR_POSTGRES_DSN or MURMUR_STATE_DIR must be set")
	}

	return cfg, nil
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".murmur"
	}
	return home + "/.murmur"
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
