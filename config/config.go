// Package config loads environment variables and provides a typed Config used across the service.
// Required credentials are validated up front via Validate so the archiver never
// starts a polling loop with incomplete Twitch or YouTube configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Twitch
	TwitchClientID     string
	TwitchClientSecret string
	TwitchChannel      string

	// YouTube
	YTClientSecretsFile string
	YTCredentialsFile   string
	YTPrivacyStatus     string

	// Settings
	DownloadDir       string
	PollInterval      time.Duration
	DeleteAfterUpload bool
	DashboardAddr     string

	// Download behavior
	DownloadTimeout time.Duration
	MinFreeBytes    int64

	// Ledger
	LedgerBackend string // file | postgres
	LedgerPath    string
	LedgerDSN     string
}

// Load reads environment variables and applies defaults. Credentials are not
// checked here; call Validate before starting the pipeline.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchChannel = os.Getenv("TWITCH_CHANNEL")

	cfg.YTClientSecretsFile = envDefault("YT_CLIENT_SECRETS_FILE", "client_secrets.json")
	cfg.YTCredentialsFile = envDefault("YT_CREDENTIALS_FILE", "youtube_credentials.json")
	cfg.YTPrivacyStatus = envDefault("YT_PRIVACY_STATUS", "unlisted")
	switch cfg.YTPrivacyStatus {
	case "public", "private", "unlisted":
	default:
		return nil, fmt.Errorf("invalid YT_PRIVACY_STATUS %q: want public, private or unlisted", cfg.YTPrivacyStatus)
	}

	cfg.DownloadDir = envDefault("DOWNLOAD_DIR", "downloads")
	cfg.DashboardAddr = envDefault("DASHBOARD_ADDR", ":8000")

	var err error
	if cfg.PollInterval, err = envDuration("POLL_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DownloadTimeout, err = envDuration("DOWNLOAD_TIMEOUT", 4*time.Hour); err != nil {
		return nil, err
	}

	cfg.DeleteAfterUpload = os.Getenv("DELETE_AFTER_UPLOAD") == "1" || os.Getenv("DELETE_AFTER_UPLOAD") == "true"

	cfg.MinFreeBytes = 5 << 30 // keep 5 GiB headroom on the download volume
	if s := os.Getenv("MIN_FREE_BYTES"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid MIN_FREE_BYTES %q", s)
		}
		cfg.MinFreeBytes = n
	}

	cfg.LedgerBackend = envDefault("LEDGER_BACKEND", "file")
	if cfg.LedgerBackend != "file" && cfg.LedgerBackend != "postgres" {
		return nil, fmt.Errorf("invalid LEDGER_BACKEND %q: want file or postgres", cfg.LedgerBackend)
	}
	cfg.LedgerPath = envDefault("LEDGER_PATH", "processed_vods.json")
	cfg.LedgerDSN = os.Getenv("LEDGER_DSN")

	return cfg, nil
}

// Validate enforces the fields the pipeline cannot run without.
func (c *Config) Validate() error {
	missing := []string{}
	if c.TwitchClientID == "" {
		missing = append(missing, "TWITCH_CLIENT_ID")
	}
	if c.TwitchClientSecret == "" {
		missing = append(missing, "TWITCH_CLIENT_SECRET")
	}
	if c.TwitchChannel == "" {
		missing = append(missing, "TWITCH_CHANNEL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env: %v", missing)
	}
	if c.LedgerBackend == "postgres" && c.LedgerDSN == "" {
		return fmt.Errorf("LEDGER_BACKEND=postgres requires LEDGER_DSN")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	return nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s (duration): %q", key, s)
	}
	return d, nil
}
