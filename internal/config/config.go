package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session
	SessionMaxAge int

	// Geocode / Routing
	LookupTimeout    time.Duration
	GeocodeUserAgent string
	NominatimBaseURL string
	OSRMBaseURL      string

	// Alert mail
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	AlertFrom       string
	AlertRecipients []string

	// Rate Limit
	RateLimitGeneral  int
	RateLimitLocation int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	if cfg.SMTPHost == "" {
		missing = append(missing, "SMTP_HOST")
	}

	cfg.AlertFrom = os.Getenv("ALERT_FROM")
	if cfg.AlertFrom == "" {
		missing = append(missing, "ALERT_FROM")
	}

	recipients := os.Getenv("ALERT_RECIPIENTS")
	if recipients == "" {
		missing = append(missing, "ALERT_RECIPIENTS")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// ALERT_RECIPIENTSはカンマ区切りの固定宛先リスト
	for _, r := range strings.Split(recipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			cfg.AlertRecipients = append(cfg.AlertRecipients, r)
		}
	}
	if len(cfg.AlertRecipients) == 0 {
		return nil, fmt.Errorf("ALERT_RECIPIENTS contains no valid addresses")
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.LookupTimeout = getEnvDuration("LOOKUP_TIMEOUT", 5*time.Second)
	cfg.GeocodeUserAgent = getEnvString("GEOCODE_USER_AGENT", "NightGuard/1.0 Campus Escort")
	cfg.NominatimBaseURL = getEnvString("NOMINATIM_BASE_URL", "https://nominatim.openstreetmap.org")
	cfg.OSRMBaseURL = getEnvString("OSRM_BASE_URL", "https://router.project-osrm.org")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLocation = getEnvInt("RATE_LIMIT_LOCATION", 600)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
