package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	BaseURL     string
	DatabaseURL string
	RedisURL    string
	LogFile     string

	SessionTTL time.Duration
	FlowTTL    time.Duration

	TOTPIssuer string

	MinRegistrationAge   int
	EmailCodeTTL         time.Duration
	EmailCodeResendDelay time.Duration
	MaxCodeAttempts      int
	MaxLoginAttempts     int
	LoginCooldown        time.Duration
	TrustedDeviceTTL     time.Duration

	// AdminUsernameLogin permits username (instead of email) as the login
	// identifier for admin-role accounts only.
	AdminUsernameLogin bool

	Password PasswordPolicy

	Email          EmailConfig
	TrustedProxies []string
}

type PasswordPolicy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Secure   bool
}

func (e EmailConfig) Enabled() bool {
	return e.Host != "" && e.Port != 0 && e.From != ""
}

func Load() (Config, error) {
	clean := func(val string) string {
		return strings.Trim(val, "\"' \t\r\n")
	}

	rawPort := strings.Trim(getenvDefault("EMAIL_SERVER_PORT", "587"), "\"' ")
	emailPort, err := strconv.Atoi(rawPort)
	if err != nil {
		emailPort = 587
	}

	cfg := Config{
		Port:        getenvDefault("PORT", "8080"),
		BaseURL:     getenvDefault("APP_BASE_URL", "http://localhost:3000"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getenvDefault("REDIS_URL", "redis://localhost:6379"),
		LogFile:     getenvDefault("LOG_FILE", "logs/server.log"),

		SessionTTL: durationEnv("SESSION_TTL", 7*24*time.Hour),
		FlowTTL:    durationEnv("FLOW_TTL", time.Hour),

		TOTPIssuer: getenvDefault("TOTP_ISSUER", "Photoshare"),

		MinRegistrationAge:   intEnv("MIN_REGISTRATION_AGE", 16),
		EmailCodeTTL:         durationEnv("EMAIL_CODE_TTL", 15*time.Minute),
		EmailCodeResendDelay: durationEnv("EMAIL_CODE_RESEND_DELAY", 60*time.Second),
		MaxCodeAttempts:      intEnv("MAX_2FA_ATTEMPTS", 3),
		MaxLoginAttempts:     intEnv("MAX_LOGIN_ATTEMPTS", 5),
		LoginCooldown:        durationEnv("LOGIN_COOLDOWN", 15*time.Minute),
		TrustedDeviceTTL:     durationEnv("TRUSTED_DEVICE_TTL", 30*24*time.Hour),

		AdminUsernameLogin: parseBool(getenvDefault("ADMIN_USERNAME_LOGIN", "true")),

		Password: PasswordPolicy{
			MinLength:     intEnv("PASSWORD_MIN_LENGTH", 8),
			RequireUpper:  parseBool(getenvDefault("PASSWORD_REQUIRE_UPPER", "true")),
			RequireLower:  parseBool(getenvDefault("PASSWORD_REQUIRE_LOWER", "true")),
			RequireDigit:  parseBool(getenvDefault("PASSWORD_REQUIRE_DIGIT", "true")),
			RequireSymbol: parseBool(getenvDefault("PASSWORD_REQUIRE_SYMBOL", "true")),
		},

		TrustedProxies: parseList(os.Getenv("TRUSTED_PROXIES")),
	}

	cfg.Email = EmailConfig{
		Host:     clean(os.Getenv("EMAIL_SERVER_HOST")),
		Port:     emailPort,
		Username: clean(os.Getenv("EMAIL_SERVER_USER")),
		Password: clean(os.Getenv("EMAIL_SERVER_PASSWORD")),
		From:     clean(os.Getenv("EMAIL_FROM")),
		Secure:   parseBool(os.Getenv("EMAIL_SERVER_SECURE")),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func parseBool(val string) bool {
	if val == "" {
		return false
	}
	val = strings.ToLower(strings.Trim(val, "\"' "))
	return val == "1" || val == "true" || val == "yes"
}

func intEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func durationEnv(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func parseList(val string) []string {
	parts := strings.Split(val, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
