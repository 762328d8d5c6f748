package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr    string
	LogLevel    string
	MaxFileSize int64

	// MaxMultipartMemory bounds the multipart bytes buffered in memory per
	// request; the rest spills to temporary files.
	MaxMultipartMemory int64
	Policy             PolicyConfig
	Registry           RegistryConfig
	Database           DatabaseConfig
	CORS               CORSConfig
	Auth               AuthConfig
}

type PolicyConfig struct {
	// InsertOrder is "reverse" (first file of a batch ends up most recent)
	// or "submission" (last file ends up most recent).
	InsertOrder string

	AllowedMediaTypes      []string
	AllowExtensionFallback bool

	// AllowedExtensions maps ".ext" to the media type it implies.
	AllowedExtensions map[string]string
}

type RegistryConfig struct {
	Backend         string // "memory", "postgres" or "sqlite"
	Capacity        int
	PageSize        int
	DuplicatePolicy string // "append" or "replace"
	ListKey         string
	RetryAttempts   int
	RetryBackoff    time.Duration
	OpTimeout       time.Duration
}

type DatabaseConfig struct {
	Host                   string
	Port                   int
	Username               string
	Password               string
	Name                   string
	SSLMode                string
	SQLitePath             string
	MaxIdleConns           int
	MaxOpenConns           int
	MaxConnLifetimeSeconds int
}

type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

type AuthConfig struct {
	Enabled      bool
	JWKSUrl      string
	Issuer       string
	Audience     string
	JWKSCacheTTL int // Cache TTL in seconds
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"

	DuplicateAppend  = "append"
	DuplicateReplace = "replace"

	InsertReverse    = "reverse"
	InsertSubmission = "submission"
)

const docxType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

func Load() (*Config, error) {
	maxFileSize, err := strconv.ParseInt(getEnv("INTAKE_MAX_FILE_SIZE", "10485760"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid INTAKE_MAX_FILE_SIZE: %w", err)
	}

	capacity, err := strconv.Atoi(getEnv("REGISTRY_CAPACITY", "50"))
	if err != nil {
		return nil, fmt.Errorf("invalid REGISTRY_CAPACITY: %w", err)
	}

	pageSize, err := strconv.Atoi(getEnv("REGISTRY_PAGE_SIZE", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid REGISTRY_PAGE_SIZE: %w", err)
	}

	extensions, err := parseExtensions(getEnv("INTAKE_ALLOWED_EXTENSIONS",
		".pdf=application/pdf,.txt=text/plain,.docx="+docxType))
	if err != nil {
		return nil, fmt.Errorf("invalid INTAKE_ALLOWED_EXTENSIONS: %w", err)
	}

	jwksCacheTTL := 900 // 15 minutes default
	if ttlStr := getEnv("AUTH_JWKS_CACHE_TTL", ""); ttlStr != "" {
		if ttl, err := strconv.Atoi(ttlStr); err == nil {
			jwksCacheTTL = ttl
		}
	}

	cfg := &Config{
		HTTPAddr:           getEnv("INTAKE_HTTP_ADDR", ":8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		MaxFileSize:        maxFileSize,
		MaxMultipartMemory: getInt64("INTAKE_MAX_MULTIPART_MEMORY", 32<<20),
		Policy: PolicyConfig{
			InsertOrder: strings.ToLower(getEnv("INTAKE_INSERT_ORDER", InsertReverse)),
			AllowedMediaTypes: parseCommaSeparated(getEnv("INTAKE_ALLOWED_TYPES",
				"application/pdf,text/plain,"+docxType)),
			AllowExtensionFallback: getBool("INTAKE_EXTENSION_FALLBACK", true),
			AllowedExtensions:      extensions,
		},
		Registry: RegistryConfig{
			Backend:         strings.ToLower(getEnv("REGISTRY_BACKEND", BackendMemory)),
			Capacity:        capacity,
			PageSize:        pageSize,
			DuplicatePolicy: strings.ToLower(getEnv("REGISTRY_DUPLICATE_POLICY", DuplicateAppend)),
			ListKey:         getEnv("REGISTRY_LIST_KEY", "km:files"),
			RetryAttempts:   getInt("REGISTRY_RETRY_ATTEMPTS", 3),
			RetryBackoff:    getDuration("REGISTRY_RETRY_BACKOFF", 50*time.Millisecond),
			OpTimeout:       getDuration("REGISTRY_OP_TIMEOUT", 5*time.Second),
		},
		Database: DatabaseConfig{
			Host:                   getEnv("DB_HOST", "localhost"),
			Port:                   getInt("DB_PORT", 5432),
			Username:               getEnv("DB_USERNAME", "postgres"),
			Password:               os.Getenv("DB_PASSWORD"),
			Name:                   getEnv("DB_NAME", "file_intake"),
			SSLMode:                getEnv("DB_SSLMODE", "disable"),
			SQLitePath:             getEnv("DB_SQLITE_PATH", "./file-intake.db"),
			MaxIdleConns:           getInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:           getInt("DB_MAX_OPEN_CONNS", 100),
			MaxConnLifetimeSeconds: getInt("DB_MAX_CONN_LIFETIME_SECONDS", 3600),
		},
		CORS: CORSConfig{
			AllowedOrigins:   parseCommaSeparated(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
			AllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           getDuration("CORS_MAX_AGE", 12*time.Hour),
		},
		Auth: AuthConfig{
			Enabled:      getBool("AUTH_ENABLED", false),
			JWKSUrl:      getEnv("AUTH_JWKS_URL", "http://user-service:3000/.well-known/jwks.json"),
			Issuer:       getEnv("AUTH_ISSUER", "http://user-service:3000"),
			Audience:     getEnv("AUTH_AUDIENCE", "backboard"),
			JWKSCacheTTL: jwksCacheTTL,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("INTAKE_MAX_FILE_SIZE must be positive")
	}
	if c.Registry.Capacity <= 0 {
		return fmt.Errorf("REGISTRY_CAPACITY must be positive")
	}
	if c.Registry.PageSize <= 0 {
		return fmt.Errorf("REGISTRY_PAGE_SIZE must be positive")
	}
	if c.Registry.RetryAttempts <= 0 {
		return fmt.Errorf("REGISTRY_RETRY_ATTEMPTS must be positive")
	}
	if len(c.Policy.AllowedMediaTypes) == 0 {
		return fmt.Errorf("INTAKE_ALLOWED_TYPES must not be empty")
	}

	switch c.Policy.InsertOrder {
	case InsertReverse, InsertSubmission:
	default:
		return fmt.Errorf("unsupported INTAKE_INSERT_ORDER: %s", c.Policy.InsertOrder)
	}

	switch c.Registry.DuplicatePolicy {
	case DuplicateAppend, DuplicateReplace:
	default:
		return fmt.Errorf("unsupported REGISTRY_DUPLICATE_POLICY: %s", c.Registry.DuplicatePolicy)
	}

	switch c.Registry.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("DB_SQLITE_PATH is required")
		}
	case BackendPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required")
		}
		if c.Database.Username == "" {
			return fmt.Errorf("DB_USERNAME is required")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("DB_NAME is required")
		}
	default:
		return fmt.Errorf("unsupported REGISTRY_BACKEND: %s", c.Registry.Backend)
	}

	if c.Auth.Enabled && c.Auth.JWKSUrl == "" {
		return fmt.Errorf("AUTH_JWKS_URL is required when AUTH_ENABLED is set")
	}
	return nil
}

// DSN returns the postgres connection string.
func (c *DatabaseConfig) DSN() string {
	dsn := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Name,
	}
	query := dsn.Query()
	query.Add("sslmode", c.SSLMode)
	dsn.RawQuery = query.Encode()
	return dsn.String()
}

// SQLiteDSN returns SQLitePath with a busy timeout and immediate transaction
// locking, so processes sharing the file wait for the write lock instead of
// failing with "database is locked".
func (c *DatabaseConfig) SQLiteDSN() string {
	sep := "?"
	if strings.Contains(c.SQLitePath, "?") {
		sep = "&"
	}
	return c.SQLitePath + sep + "_busy_timeout=5000&_txlock=immediate"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseCommaSeparated(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseExtensions(value string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range parseCommaSeparated(value) {
		ext, mediaType, ok := strings.Cut(pair, "=")
		ext = strings.ToLower(strings.TrimSpace(ext))
		mediaType = strings.ToLower(strings.TrimSpace(mediaType))
		if !ok || ext == "" || mediaType == "" {
			return nil, fmt.Errorf("malformed entry %q", pair)
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = mediaType
	}
	return out, nil
}
