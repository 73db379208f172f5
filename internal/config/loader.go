package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures environment driven configuration values for the collector
// daemon.
type Config struct {
	SQLiteDSN string

	PortalABaseURL string
	PortalBBaseURL string
	SessionTTL     time.Duration

	RetryCount     int
	RetryBaseDelay time.Duration
	BatchSize      int
	BatchPause     time.Duration
	ShutdownGrace  time.Duration

	TelegramBotToken string
	CredentialKey    string
}

// Load parses configuration values from the current process environment.
//
// The loader applies defaults for optional fields while validating required
// values, accumulating every missing or invalid name into a single error so
// a broken deployment reports everything at once.
func Load() (Config, error) {
	cfg := Config{
		SQLiteDSN:      "file:collector.db?_foreign_keys=on",
		PortalABaseURL: "https://pay.campus.example.cn/berserker",
		PortalBBaseURL: "https://sso.campus.example.cn",
		SessionTTL:     30 * time.Minute,
		RetryCount:     3,
		RetryBaseDelay: 2 * time.Second,
		BatchSize:      5,
		BatchPause:     time.Second,
		ShutdownGrace:  5 * time.Second,
	}

	missing := make([]string, 0, 2)
	invalid := make([]string, 0, 2)

	if dsn := strings.TrimSpace(os.Getenv("COLLECTOR_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}
	if base := strings.TrimSpace(os.Getenv("COLLECTOR_PORTAL_A_URL")); base != "" {
		cfg.PortalABaseURL = strings.TrimRight(base, "/")
	}
	if base := strings.TrimSpace(os.Getenv("COLLECTOR_PORTAL_B_URL")); base != "" {
		cfg.PortalBBaseURL = strings.TrimRight(base, "/")
	}

	loadDuration(&cfg.SessionTTL, "COLLECTOR_SESSION_TTL", &invalid)
	loadDuration(&cfg.RetryBaseDelay, "COLLECTOR_RETRY_BASE_DELAY", &invalid)
	loadDuration(&cfg.BatchPause, "COLLECTOR_BATCH_PAUSE", &invalid)
	loadDuration(&cfg.ShutdownGrace, "COLLECTOR_SHUTDOWN_GRACE", &invalid)
	loadInt(&cfg.RetryCount, "COLLECTOR_RETRY_COUNT", &invalid)
	loadInt(&cfg.BatchSize, "COLLECTOR_BATCH_SIZE", &invalid)

	if token := strings.TrimSpace(os.Getenv("COLLECTOR_TELEGRAM_TOKEN")); token == "" {
		missing = append(missing, "COLLECTOR_TELEGRAM_TOKEN")
	} else {
		cfg.TelegramBotToken = token
	}

	if key := strings.TrimSpace(os.Getenv("COLLECTOR_CREDENTIAL_KEY")); key == "" {
		missing = append(missing, "COLLECTOR_CREDENTIAL_KEY")
	} else if len(key) != 64 {
		invalid = append(invalid, "COLLECTOR_CREDENTIAL_KEY")
	} else {
		cfg.CredentialKey = key
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("environment variables have invalid values: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}

func loadDuration(target *time.Duration, name string, invalid *[]string) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		*invalid = append(*invalid, name)
		return
	}
	*target = parsed
}

func loadInt(target *int, name string, invalid *[]string) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		*invalid = append(*invalid, name)
		return
	}
	*target = parsed
}
