package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database      DatabaseConfig
	Redis         RedisConfig
	Server        ServerConfig
	Auth          AuthConfig
	OTP           OTPConfig
	TrustedDevice TrustedDeviceConfig
	IPBlock       IPBlockConfig
	Email         EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

type OTPConfig struct {
	// EncryptionKey is the AES-256 key protecting codes at rest; 32 bytes,
	// hex-encoded in the environment.
	EncryptionKey []byte

	Digits            int
	Validity          time.Duration
	BaseCooldown      time.Duration
	CooldownFactor    float64
	JitterMin         time.Duration
	JitterMax         time.Duration
	MaxFailedAttempts int
	LockMin           time.Duration
	LockMax           time.Duration
}

type TrustedDeviceConfig struct {
	TTL             time.Duration
	MaxSessions     int
	CookieName      string
	CleanupInterval time.Duration
}

type IPBlockConfig struct {
	MaxAttempts   int
	CounterWindow time.Duration
	CacheTTL      time.Duration
}

type EmailConfig struct {
	Region    string
	Sender    string
	QueueSize int
	Retries   int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	otpKey, err := parseOTPEncryptionKey(getEnv("OTP_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "vigil"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
		},
		OTP: OTPConfig{
			EncryptionKey:     otpKey,
			Digits:            getEnvAsInt("OTP_DIGITS", 6),
			Validity:          getEnvAsDuration("OTP_VALIDITY", 5*time.Minute),
			BaseCooldown:      getEnvAsDuration("OTP_BASE_COOLDOWN", 60*time.Second),
			CooldownFactor:    getEnvAsFloat("OTP_COOLDOWN_FACTOR", 2.0),
			JitterMin:         getEnvAsDuration("OTP_JITTER_MIN", 5*time.Second),
			JitterMax:         getEnvAsDuration("OTP_JITTER_MAX", 15*time.Second),
			MaxFailedAttempts: getEnvAsInt("OTP_MAX_FAILED_ATTEMPTS", 5),
			LockMin:           getEnvAsDuration("OTP_LOCK_MIN", 5*time.Minute),
			LockMax:           getEnvAsDuration("OTP_LOCK_MAX", 10*time.Minute),
		},
		TrustedDevice: TrustedDeviceConfig{
			TTL:             getEnvAsDuration("TRUSTED_DEVICE_TTL", 30*24*time.Hour),
			MaxSessions:     getEnvAsInt("TRUSTED_DEVICE_MAX_SESSIONS", 5),
			CookieName:      getEnv("TRUSTED_DEVICE_COOKIE", "trusted_device"),
			CleanupInterval: getEnvAsDuration("TRUSTED_DEVICE_CLEANUP_INTERVAL", 1*time.Hour),
		},
		IPBlock: IPBlockConfig{
			MaxAttempts:   getEnvAsInt("IPBLOCK_MAX_ATTEMPTS", 5),
			CounterWindow: getEnvAsDuration("IPBLOCK_COUNTER_WINDOW", 15*time.Minute),
			CacheTTL:      getEnvAsDuration("IPBLOCK_CACHE_TTL", 5*time.Minute),
		},
		Email: EmailConfig{
			Region:    getEnv("AWS_REGION", "us-east-1"),
			Sender:    getEnv("EMAIL_SENDER", ""),
			QueueSize: getEnvAsInt("EMAIL_QUEUE_SIZE", 128),
			Retries:   getEnvAsInt("EMAIL_RETRIES", 3),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if cfg.OTP.JitterMax < cfg.OTP.JitterMin {
		return nil, fmt.Errorf("OTP_JITTER_MAX must be >= OTP_JITTER_MIN")
	}
	if cfg.OTP.LockMax < cfg.OTP.LockMin {
		return nil, fmt.Errorf("OTP_LOCK_MAX must be >= OTP_LOCK_MIN")
	}

	return cfg, nil
}

// parseOTPEncryptionKey decodes and validates the AES-256 key.
func parseOTPEncryptionKey(hexKey string) ([]byte, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("OTP_ENCRYPTION_KEY is required")
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("OTP_ENCRYPTION_KEY must be hex-encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("OTP_ENCRYPTION_KEY must decode to 32 bytes (got %d)", len(key))
	}

	return key, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	// Check against common weak secrets
	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{} // Default to no origins in production
		}
		return parseList(originsStr)
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
