// ==============================================================================
// CONFIG PACKAGE - pkg/config/config.go
// ==============================================================================
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Email        EmailConfig
	Identity     IdentityConfig
	Storage      StorageConfig
	Registration RegistrationConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// CompleteRedirect is where the UI is sent after a completed registration.
	CompleteRedirect string
}

type LogConfig struct {
	Level string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type EmailConfig struct {
	Enabled      bool
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPUseTLS   bool
}

// IdentityConfig selects and tunes the identity provider adapter.
type IdentityConfig struct {
	Backend        string // "postgres" or "rest"
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// StorageConfig selects and tunes the document store adapter.
type StorageConfig struct {
	Backend           string // "local" or "gcs"
	BasePath          string
	Bucket            string
	Endpoint          string
	CredentialsFile   string
	AccessToken       string
	MaxFileSize       int64
	UploadConcurrency int
	AllowedMimeTypes  []string
	ScanSignatures    []string
}

type RegistrationConfig struct {
	DraftTTL      time.Duration
	SweepInterval time.Duration
	LockTTL       time.Duration
	JournalTTL    time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:             getEnv("SERVER_HOST", "0.0.0.0"),
			Port:             getEnv("SERVER_PORT", "8080"),
			ReadTimeout:      getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:     getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:      getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			CompleteRedirect: getEnv("REGISTRATION_COMPLETE_REDIRECT", "/dashboard"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("REDIS_ENABLED", false),
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "localhost:6379")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "change-this-secret"),
			Expiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),
			Issuer:     getEnv("JWT_ISSUER", "skyportal"),
		},
		Email: EmailConfig{
			Enabled:      getBoolEnv("EMAIL_ENABLED", false),
			SMTPHost:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			SMTPPort:     getIntEnv("SMTP_PORT", 587),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			SMTPFrom:     getEnv("SMTP_FROM", ""),
			SMTPUseTLS:   getBoolEnv("SMTP_USE_TLS", true),
		},
		Identity: IdentityConfig{
			Backend:        strings.ToLower(getEnv("IDENTITY_BACKEND", "postgres")),
			BaseURL:        getEnv("IDENTITY_BASE_URL", ""),
			APIKey:         getEnv("IDENTITY_API_KEY", ""),
			RequestTimeout: getDurationEnv("IDENTITY_REQUEST_TIMEOUT", 10*time.Second),
			MaxAttempts:    getIntEnv("IDENTITY_MAX_ATTEMPTS", 3),
			InitialBackoff: getDurationEnv("IDENTITY_INITIAL_BACKOFF", 200*time.Millisecond),
			MaxBackoff:     getDurationEnv("IDENTITY_MAX_BACKOFF", 2*time.Second),
		},
		Storage: StorageConfig{
			Backend:           strings.ToLower(getEnv("STORAGE_BACKEND", "local")),
			BasePath:          getEnv("STORAGE_BASE_PATH", "./uploads"),
			Bucket:            getEnv("STORAGE_BUCKET", ""),
			Endpoint:          getEnv("STORAGE_ENDPOINT", ""),
			CredentialsFile:   getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
			AccessToken:       getEnv("STORAGE_ACCESS_TOKEN", ""),
			MaxFileSize:       int64(getIntEnv("STORAGE_MAX_FILE_SIZE", 10*1024*1024)),
			UploadConcurrency: getIntEnv("STORAGE_UPLOAD_CONCURRENCY", 4),
			AllowedMimeTypes: getListEnv("STORAGE_ALLOWED_MIME_TYPES", []string{
				"application/pdf", "image/jpeg", "image/png",
			}),
			ScanSignatures: getListEnv("STORAGE_SCAN_SIGNATURES", nil),
		},
		Registration: RegistrationConfig{
			DraftTTL:      getDurationEnv("REGISTRATION_DRAFT_TTL", 2*time.Hour),
			SweepInterval: getDurationEnv("REGISTRATION_SWEEP_INTERVAL", 5*time.Minute),
			LockTTL:       getDurationEnv("REGISTRATION_LOCK_TTL", 2*time.Minute),
			JournalTTL:    getDurationEnv("REGISTRATION_JOURNAL_TTL", 7*24*time.Hour),
		},
	}
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
