package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultBaseURL = "https://api.appstoreconnect.apple.com"

// Config is built once at startup and passed down; nothing else reads the
// environment.
type Config struct {
	AppStore AppStoreConfig
	Webhook  WebhookConfig

	Location    *time.Location
	LogLevel    string
	LogFormat   string
	Debug       bool
	MetricsAddr string
	// RunInterval switches the binary to a loop; zero means one run.
	RunInterval time.Duration
}

type AppStoreConfig struct {
	IssuerID     string
	KeyID        string
	PrivateKey   string
	VendorNumber string
	BaseURL      string
	Timeout      time.Duration
	RateLimit    float64

	LagDays      int
	AutoLatest   bool
	MaxProbeDays int
}

type WebhookConfig struct {
	URL      string
	Username string
	Timeout  time.Duration
}

// LoadDotEnv populates the process environment from a .env file. A missing
// file is not an error; variables already set win.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration from the environment. Every problem found is
// reported in the returned error, not just the first one.
func Load() (Config, error) {
	p := &parser{}

	cfg := Config{
		AppStore: AppStoreConfig{
			IssuerID:     p.required("APPSTORE_ISSUER_ID"),
			KeyID:        p.required("APPSTORE_KEY_ID"),
			VendorNumber: p.required("APPSTORE_VENDOR_NUMBER"),
			BaseURL:      strings.TrimRight(getenv("APPSTORE_BASE_URL", DefaultBaseURL), "/"),
			Timeout:      p.seconds("APPSTORE_TIMEOUT", 30*time.Second),
			RateLimit:    p.float("APPSTORE_RATE_LIMIT", 5),
			LagDays:      p.nonNegativeInt("APPSTORE_LAG_DAYS", 1),
			AutoLatest:   p.bool("APPSTORE_AUTO_LATEST", true),
			MaxProbeDays: p.nonNegativeInt("APPSTORE_MAX_PROBE_DAYS", 5),
		},
		Webhook: WebhookConfig{
			URL:      p.required("DISCORD_WEBHOOK_URL"),
			Username: getenv("DISCORD_USERNAME", ""),
			Timeout:  p.seconds("DISCORD_TIMEOUT", 15*time.Second),
		},
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogFormat:   getenv("LOG_FORMAT", "json"),
		Debug:       p.bool("DEBUG", false),
		MetricsAddr: getenv("METRICS_ADDR", ""),
		RunInterval: p.duration("RUN_INTERVAL"),
	}
	cfg.AppStore.PrivateKey = p.privateKey()

	tz := getenv("REPORT_TZ", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		p.fail("REPORT_TZ: %v", err)
		loc = time.UTC
	}
	cfg.Location = loc

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

type parser struct {
	errs []error
}

func (p *parser) fail(format string, args ...any) {
	p.errs = append(p.errs, fmt.Errorf(format, args...))
}

func (p *parser) required(key string) string {
	v := getenv(key, "")
	if v == "" {
		p.fail("missing required environment variable %s", key)
	}
	return v
}

// privateKey prefers the inline key and falls back to reading a .p8 file.
func (p *parser) privateKey() string {
	if v := os.Getenv("APPSTORE_PRIVATE_KEY"); strings.TrimSpace(v) != "" {
		return v
	}
	path := getenv("APPSTORE_PRIVATE_KEY_PATH", "")
	if path == "" {
		p.fail("missing required environment variable APPSTORE_PRIVATE_KEY (or APPSTORE_PRIVATE_KEY_PATH)")
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		p.fail("APPSTORE_PRIVATE_KEY_PATH: %v", err)
		return ""
	}
	return string(b)
}

func (p *parser) seconds(key string, def time.Duration) time.Duration {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		p.fail("%s: expected a positive number of seconds, got %q", key, v)
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

// duration accepts Go duration syntax, e.g. 24h or 90m.
func (p *parser) duration(key string) time.Duration {
	v := getenv(key, "")
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		p.fail("%s: expected a duration such as 24h, got %q", key, v)
		return 0
	}
	return d
}

func (p *parser) float(key string, def float64) float64 {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		p.fail("%s: expected a non-negative number, got %q", key, v)
		return def
	}
	return f
}

func (p *parser) nonNegativeInt(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.fail("%s: expected a non-negative integer, got %q", key, v)
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	p.fail("%s: expected a boolean, got %q", key, v)
	return def
}
