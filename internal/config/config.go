package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	ServiceName string
	DatabaseURL string
	AutoMigrate bool

	CacheDriver   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DiscordClientID      string
	DiscordClientSecret  string
	DiscordRedirectURI   string
	DiscordBotToken      string
	DiscordAPIBaseURL    string
	DiscordScopes        []string
	DiscordTimeout       time.Duration
	DiscordRetryAttempts int
	DiscordRetryBackoff  time.Duration
	GuildCacheTTL        time.Duration

	FrontendURL         string
	AllowedRedirectURIs []string

	JWTSecret      string
	JWTIssuer      string
	JWTTTL         time.Duration
	CookieSameSite string

	TokenEncryptionKey string
	SystemAdminUserIDs []string

	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// IsProduction reports whether APP_ENV is production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		ServiceName: getEnv("SERVICE_NAME", "guildauth"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		AutoMigrate: getBool("AUTO_MIGRATE", false),

		CacheDriver:   strings.ToLower(getEnv("CACHE_DRIVER", "redis")),
		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		DiscordClientID:      strings.TrimSpace(os.Getenv("DISCORD_CLIENT_ID")),
		DiscordClientSecret:  strings.TrimSpace(os.Getenv("DISCORD_CLIENT_SECRET")),
		DiscordRedirectURI:   strings.TrimSpace(os.Getenv("DISCORD_REDIRECT_URI")),
		DiscordBotToken:      strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")),
		DiscordAPIBaseURL:    getEnv("DISCORD_API_BASE_URL", "https://discord.com/api/v10"),
		DiscordScopes:        getList("DISCORD_SCOPES", []string{"identify", "email", "guilds", "guilds.members.read"}),
		DiscordTimeout:       getDuration("DISCORD_TIMEOUT", 10*time.Second),
		DiscordRetryAttempts: getInt("DISCORD_RETRY_ATTEMPTS", 3),
		DiscordRetryBackoff:  getDuration("DISCORD_RETRY_INITIAL_BACKOFF", time.Second),
		GuildCacheTTL:        getDuration("GUILD_CACHE_TTL", 5*time.Minute),

		FrontendURL:         getEnv("FRONTEND_URL", "http://localhost:3000"),
		AllowedRedirectURIs: getList("ALLOWED_REDIRECT_URIS", nil),

		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTIssuer:      getEnv("JWT_ISSUER", "guildauth"),
		JWTTTL:         getDuration("JWT_TTL", 7*24*time.Hour),
		CookieSameSite: strings.ToLower(getEnv("COOKIE_SAMESITE", "lax")),

		TokenEncryptionKey: os.Getenv("TOKEN_ENCRYPTION_KEY"),
		SystemAdminUserIDs: getList("SYSTEM_ADMIN_USER_IDS", nil),

		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", nil),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", true),
	}

	if len(cfg.AllowedRedirectURIs) == 0 {
		cfg.AllowedRedirectURIs = []string{cfg.FrontendURL}
	}
	if cfg.DiscordRetryAttempts < 0 {
		cfg.DiscordRetryAttempts = 0
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"DATABASE_URL", c.DatabaseURL},
		{"DISCORD_CLIENT_ID", c.DiscordClientID},
		{"DISCORD_CLIENT_SECRET", c.DiscordClientSecret},
		{"DISCORD_REDIRECT_URI", c.DiscordRedirectURI},
		{"JWT_SECRET", c.JWTSecret},
		{"TOKEN_ENCRYPTION_KEY", c.TokenEncryptionKey},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s is required", r.key)
		}
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}
	switch c.CacheDriver {
	case "redis", "memory":
	default:
		return fmt.Errorf("CACHE_DRIVER must be redis or memory, got %q", c.CacheDriver)
	}
	switch c.CookieSameSite {
	case "lax", "strict", "none":
	default:
		return fmt.Errorf("COOKIE_SAMESITE must be lax, strict or none, got %q", c.CookieSameSite)
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
