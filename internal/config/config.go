package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/laventecare/corebac/internal/storage"
)

// Config holds all application configuration, read from the environment
// per spec.md §6.
type Config struct {
	DatabaseURL string
	RedisURL    string

	// IssuerURL is used both as the JWT "iss" claim and as the expected
	// audience for private_key_jwt client assertions ({IssuerURL}/introspect).
	IssuerURL string

	IntrospectionCacheEnabled bool
	IntrospectionCacheTTL     time.Duration

	StrictValidationEnabled  bool
	StrictValidationAudience string

	ReBACMaxDepth  int
	ReBACCacheTTL  time.Duration

	CheckAPIEnabled        bool
	CheckAPIBatchSizeLimit int
	CheckAPIDebugMode      bool

	KeyOverlapRetention time.Duration

	// Per-minute request budgets for the tiered rate limiter guarding
	// /api/check and /api/check/batch, keyed by the credential's
	// RateLimitTier.
	RateLimitStrictPerMin   int
	RateLimitModeratePerMin int
	RateLimitLenientPerMin  int

	// AllowedOrigins is the static CORS allow-list; spec.md's
	// multi-tenant CORS is simplified to one list shared across
	// tenants rather than a per-tenant DB-backed table.
	AllowedOrigins []string

	// PublicRatePerSecond/PublicRateBurst bound the per-IP limiter
	// guarding every route, ahead of the per-credential tiered limiter
	// that only guards /api/check.
	PublicRatePerSecond float64
	PublicRateBurst     int
}

// Load reads configuration from environment variables, applying the
// defaults spec.md §6 names explicitly.
func Load() Config {
	cfg := loadEnv()
	if err := storage.ValidateCORSOrigins(cfg.AllowedOrigins); err != nil {
		slog.Warn("invalid cors_allowed_origins, falling back to default", "error", err)
		cfg.AllowedOrigins = []string{"http://localhost:3000"}
	}
	return cfg
}

func loadEnv() Config {
	return Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnvOr("REDIS_URL", "redis://localhost:6379/0"),

		IssuerURL: os.Getenv("ISSUER_URL"),

		IntrospectionCacheEnabled: getEnvAsBool("INTROSPECTION_CACHE_ENABLED", true),
		IntrospectionCacheTTL:     getEnvAsSeconds("INTROSPECTION_CACHE_TTL_SECONDS", 60),

		StrictValidationEnabled:  getEnvAsBool("INTROSPECTION_STRICT_VALIDATION_ENABLED", false),
		StrictValidationAudience: os.Getenv("INTROSPECTION_STRICT_VALIDATION_EXPECTED_AUDIENCE"),

		ReBACMaxDepth: getEnvAsInt("REBAC_MAX_DEPTH", 5),
		ReBACCacheTTL: getEnvAsSeconds("REBAC_CACHE_TTL_SECONDS", 60),

		CheckAPIEnabled:        getEnvAsBool("CHECK_API_ENABLED", false),
		CheckAPIBatchSizeLimit: clamp(getEnvAsInt("CHECK_API_BATCH_SIZE_LIMIT", 100), 1, 1000),
		CheckAPIDebugMode:      getEnvAsBool("CHECK_API_DEBUG_MODE", false),

		KeyOverlapRetention: getEnvAsSeconds("KEY_OVERLAP_RETENTION_SECONDS", 24*60*60),

		RateLimitStrictPerMin:   getEnvAsInt("RATE_LIMIT_STRICT_PER_MIN", 100),
		RateLimitModeratePerMin: getEnvAsInt("RATE_LIMIT_MODERATE_PER_MIN", 500),
		RateLimitLenientPerMin:  getEnvAsInt("RATE_LIMIT_LENIENT_PER_MIN", 2000),

		AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		PublicRatePerSecond: getEnvAsFloat("PUBLIC_RATE_LIMIT_RPS", 5),
		PublicRateBurst:     getEnvAsInt("PUBLIC_RATE_LIMIT_BURST", 10),
	}
}

func getEnvAsList(name string, defaultVal []string) []string {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	parts := strings.Split(valStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvAsFloat(name string, defaultVal float64) float64 {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvOr(name, defaultVal string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultVal
}

// Helper to read boolean env vars
func getEnvAsBool(name string, defaultVal bool) bool {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsInt(name string, defaultVal int) int {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsSeconds(name string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(name, defaultSeconds)) * time.Second
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
