package server

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// RateLimitConfig defines the parameters for per-connection event rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill-interval"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string          `yaml:"port"`
	AllowedOrigins []string        `yaml:"allowed-origins"`
	MaxMessageSize int64           `yaml:"max-message-size"`
	MaxTextLength  int             `yaml:"max-text-length"`
	HistoryLimit   int             `yaml:"history-limit"`
	RateLimit      RateLimitConfig `yaml:"rate-limit"`

	DatabasePath    string        `yaml:"database-path"`
	JWTSecret       string        `yaml:"jwt-secret"`
	JWTTTL          time.Duration `yaml:"jwt-ttl"`
	RedisAddr       string        `yaml:"redis-addr"`
	RoomCacheTTL    time.Duration `yaml:"room-cache-ttl"`
	LogLevel        string        `yaml:"log-level"`
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout"`
}

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 16 * 1024
	defaultMaxTextLength   = 2000
	defaultHistoryLimit    = 50
	defaultBurst           = 5
	defaultRefillInterval  = time.Second
	defaultDatabasePath    = "roomchat.db"
	defaultJWTTTL          = 24 * time.Hour
	defaultRoomCacheTTL    = 10 * time.Minute
	defaultLogLevel        = "INFO"
	defaultShutdownTimeout = 10 * time.Second
)

// DefaultConfig returns a Config populated with default values for all settings.
func DefaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
			"http://localhost:5173",
		},
		MaxMessageSize: defaultMaxMessageSize,
		MaxTextLength:  defaultMaxTextLength,
		HistoryLimit:   defaultHistoryLimit,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		DatabasePath:    defaultDatabasePath,
		JWTTTL:          defaultJWTTTL,
		RoomCacheTTL:    defaultRoomCacheTTL,
		LogLevel:        defaultLogLevel,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// Sanitize returns cfg with every unset or invalid setting replaced by its
// default. An empty JWT secret is replaced by a random one.
func Sanitize(cfg Config) Config {
	return sanitizeConfig(cfg)
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = defaultMaxTextLength
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = defaultDatabasePath
	}
	if cfg.JWTTTL <= 0 {
		cfg.JWTTTL = defaultJWTTTL
	}
	if cfg.RoomCacheTTL <= 0 {
		cfg.RoomCacheTTL = defaultRoomCacheTTL
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.JWTSecret == "" {
		logger.Warningf("no JWT secret configured; using a random secret, tokens will not survive a restart")
		cfg.JWTSecret = randomSecret()
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(errors.Annotate(err, "reading random secret"))
	}
	return hex.EncodeToString(buf)
}

// LoadConfigFile overlays the YAML document at path onto cfg. Keys absent
// from the file keep their current values.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Annotatef(err, "reading config file %q", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Annotatef(err, "parsing config file %q", path)
	}
	return nil
}

// ApplyEnv overlays the supported environment variables onto cfg. Unset or
// unparsable values leave the current setting untouched.
func ApplyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if n := os.Getenv("MAX_TEXT_LENGTH"); n != "" {
		cfg.MaxTextLength = parseIntValue(n, cfg.MaxTextLength)
	}
	if n := os.Getenv("HISTORY_LIMIT"); n != "" {
		cfg.HistoryLimit = parseIntValue(n, cfg.HistoryLimit)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}
	if path := os.Getenv("DATABASE_PATH"); path != "" {
		cfg.DatabasePath = path
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}
	if ttl := os.Getenv("JWT_TTL"); ttl != "" {
		cfg.JWTTTL = parseDuration(ttl, cfg.JWTTTL)
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	}
	if ttl := os.Getenv("ROOM_CACHE_TTL"); ttl != "" {
		cfg.RoomCacheTTL = parseDuration(ttl, cfg.RoomCacheTTL)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseDuration(timeout, cfg.ShutdownTimeout)
	}
}

// LoggingSpec turns a log level setting into a loggo configuration string.
// A bare level applies to the root logger; anything containing "=" is
// passed through.
func LoggingSpec(level string) string {
	level = strings.TrimSpace(level)
	if level == "" {
		level = defaultLogLevel
	}
	if strings.Contains(level, "=") {
		return level
	}
	return "<root>=" + strings.ToUpper(level)
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration syntax ("90s", "1h") or a bare number of
// seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
