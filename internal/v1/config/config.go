package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// GameDefaults holds the default per-session game parameters.
type GameDefaults struct {
	MinPlayers        int
	MaxPlayers        int
	ImposterRatio     float64
	TaskCount         int
	KillCooldown      time.Duration
	DiscussionTime    time.Duration
	VotingTime        time.Duration
	EmergencyMeetings int
	LobbyCountdown    time.Duration
}

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Port             string
	RegistryEndpoint string

	// Optional variables with defaults
	PublicURL       string
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	Game             GameDefaults
	SessionReapGrace time.Duration

	// Redis (optional, backs the rate-limiter store)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Rate Limits
	RateLimitAPIGlobal string

	// Tracing
	OtelCollectorAddr string
}

// FromEnv validates all required environment variables and returns a Config
// object. Returns an error naming every invalid variable at once.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Required: REGISTRY_ENDPOINT (the on-chain identity registry gateway)
	cfg.RegistryEndpoint = os.Getenv("REGISTRY_ENDPOINT")
	if cfg.RegistryEndpoint == "" {
		errs = append(errs, "REGISTRY_ENDPOINT is required")
	} else if u, err := url.Parse(cfg.RegistryEndpoint); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("REGISTRY_ENDPOINT must be an absolute URL (got '%s')", cfg.RegistryEndpoint))
	}

	cfg.PublicURL = getEnvOrDefault("PUBLIC_URL", "http://localhost:8080")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Game defaults
	cfg.Game.MinPlayers = intEnv(&errs, "GM_MIN_PLAYERS", 5, 2, 50)
	cfg.Game.MaxPlayers = intEnv(&errs, "GM_MAX_PLAYERS", 10, 2, 50)
	if cfg.Game.MaxPlayers < cfg.Game.MinPlayers {
		errs = append(errs, fmt.Sprintf("GM_MAX_PLAYERS (%d) must be >= GM_MIN_PLAYERS (%d)", cfg.Game.MaxPlayers, cfg.Game.MinPlayers))
	}
	cfg.Game.ImposterRatio = floatEnv(&errs, "GM_IMPOSTER_RATIO", 0.2, 0.01, 0.5)
	cfg.Game.TaskCount = intEnv(&errs, "GM_TASK_COUNT", 4, 1, 16)
	cfg.Game.KillCooldown = msEnv(&errs, "GM_KILL_COOLDOWN_MS", 30000)
	cfg.Game.DiscussionTime = msEnv(&errs, "GM_DISCUSSION_TIME_MS", 60000)
	cfg.Game.VotingTime = msEnv(&errs, "GM_VOTING_TIME_MS", 30000)
	cfg.Game.EmergencyMeetings = intEnv(&errs, "GM_EMERGENCY_MEETINGS", 1, 0, 10)
	cfg.Game.LobbyCountdown = msEnv(&errs, "GM_LOBBY_COUNTDOWN_MS", 2000)
	cfg.SessionReapGrace = msEnv(&errs, "GM_SESSION_REAP_GRACE_MS", 300000)

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "300-M")

	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

func intEnv(errs *[]string, key string, def, min, max int) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer between %d and %d (got '%s')", key, min, max, raw))
		return def
	}
	return v
}

func floatEnv(errs *[]string, key string, def, min, max float64) float64 {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < min || v > max {
		*errs = append(*errs, fmt.Sprintf("%s must be a number between %g and %g (got '%s')", key, min, max, raw))
		return def
	}
	return v
}

func msEnv(errs *[]string, key string, defMillis int64) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return time.Duration(defMillis) * time.Millisecond
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a non-negative millisecond count (got '%s')", key, raw))
		return time.Duration(defMillis) * time.Millisecond
	}
	return time.Duration(v) * time.Millisecond
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// logValidatedConfig logs the validated configuration
func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated")
	slog.Info("Configuration",
		"port", cfg.Port,
		"registry_endpoint", cfg.RegistryEndpoint,
		"public_url", cfg.PublicURL,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"min_players", cfg.Game.MinPlayers,
		"max_players", cfg.Game.MaxPlayers,
		"imposter_ratio", cfg.Game.ImposterRatio,
		"task_count", cfg.Game.TaskCount,
		"redis_enabled", cfg.RedisEnabled,
		"rate_limit_api_global", cfg.RateLimitAPIGlobal,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// AllowedOriginList splits the configured origins, falling back to local
// development defaults when unset.
func (c *Config) AllowedOriginList() []string {
	if c.AllowedOrigins == "" {
		return []string{"http://localhost:3000"}
	}
	return strings.Split(c.AllowedOrigins, ",")
}
