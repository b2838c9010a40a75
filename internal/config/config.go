package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates all runtime settings required by the application.
type Config struct {
	AppName     string
	Environment string
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Buffer      BufferConfig
	Context     ContextConfig
	Logger      LoggerConfig
	Migrations  MigrationsConfig
	Backend     BackendConfig
	Reschedule  RescheduleConfig
	Graph       GraphConfig
	Plans       PlansConfig
	Notify      NotifyConfig
}

type HTTPConfig struct {
	Host          string
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	MaxConn       int
	EnablePprof   bool
	EnableMetrics bool
}

// DatabaseConfig points at the confirmed-state mirror. Disabled leaves the service backend-only.
type DatabaseConfig struct {
	Enabled         bool
	URL             string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	MaxConnLifetime time.Duration
	SSLMode         string
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
	// ScopeClaim names the claim holding the owner scope.
	ScopeClaim string
}

type BufferConfig struct {
	Path           string
	MaxSize        int
	RetentionHours int
	SyncInterval   time.Duration
	MaxRetry       int
}

type ContextConfig struct {
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type LoggerConfig struct {
	Level    string
	Encoding string
}

type MigrationsConfig struct {
	Enabled bool
	Path    string
}

type BackendConfig struct {
	BaseURL         string
	Timeout         time.Duration
	ServiceSecret   string
	TokenTTL        time.Duration
	BreakerFailures int
	BreakerTimeout  time.Duration
	BreakerProbes   int
	HealthInterval  time.Duration
}

type RescheduleConfig struct {
	PollInitial    time.Duration
	PollMax        time.Duration
	PollMaxElapsed time.Duration
	JobTTL         time.Duration
}

type GraphConfig struct {
	DanglingDeps   string
	StrictRollback bool
	HydrateTimeout time.Duration
	FetchParallel  int
}

type PlansConfig struct {
	ArchiveKeep int
}

// NotifyConfig controls invalidation fan-out.
type NotifyConfig struct {
	Origin      string
	RedisFanout bool
	Audit       bool
}

// Load reads configuration from environment variables (optionally .env)
// and applies sane defaults so the service can boot in any environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		AppName:     getString("APP_NAME", "planner"),
		Environment: getString("APP_ENV", "development"),
		HTTP: HTTPConfig{
			Host:          getString("SERVER_HOST", "0.0.0.0"),
			Port:          getString("SERVER_PORT", "8080"),
			ReadTimeout:   getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:  getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:   getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			MaxConn:       getInt("SERVER_MAX_CONN", 0),
			EnablePprof:   getBool("SERVER_ENABLE_PPROF", false),
			EnableMetrics: getBool("SERVER_ENABLE_METRICS", false),
		},
		Database: DatabaseConfig{
			Enabled:         getBool("DB_ENABLED", true),
			URL:             os.Getenv("DATABASE_URL"),
			Host:            getString("DB_HOST", "localhost"),
			Port:            getString("DB_PORT", "5432"),
			Name:            getString("DB_NAME", "planner"),
			User:            getString("DB_USER", "planner"),
			Password:        os.Getenv("DB_PASSWORD"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 10),
			MaxConnLifetime: getDuration("DB_CONN_LIFETIME", time.Hour),
			SSLMode:         getString("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getBool("REDIS_ENABLED", true),
			URL:      getString("REDIS_URL", "redis://localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: os.Getenv("JWT_SECRET"),
			Issuer:     getString("JWT_ISSUER", "planner"),
			ScopeClaim: getString("JWT_SCOPE_CLAIM", "user_id"),
		},
		Buffer: BufferConfig{
			Path:           getString("BOLTDB_PATH", "./data/buffer.db"),
			MaxSize:        getInt("BUFFER_MAX_SIZE", 1_000_000),
			RetentionHours: getInt("BUFFER_RETENTION_HOURS", 24),
			SyncInterval:   getDuration("SYNC_INTERVAL_SECONDS", 30*time.Second),
			MaxRetry:       getInt("MAX_RETRY_ATTEMPTS", 3),
		},
		Context: ContextConfig{
			RequestTimeout:  getDuration("REQUEST_TIMEOUT_SECONDS", 5*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT_SECONDS", 15*time.Second),
		},
		Logger: LoggerConfig{
			Level:    getString("LOG_LEVEL", "info"),
			Encoding: getString("LOG_ENCODING", "json"),
		},
		Migrations: MigrationsConfig{
			Enabled: getBool("RUN_MIGRATIONS", true),
			Path:    getString("MIGRATIONS_PATH", "./assets/migrations"),
		},
		Backend: BackendConfig{
			BaseURL:         getString("BACKEND_URL", "http://localhost:9000/api/v1"),
			Timeout:         getDuration("BACKEND_TIMEOUT", 10*time.Second),
			ServiceSecret:   os.Getenv("BACKEND_SERVICE_SECRET"),
			TokenTTL:        getDuration("BACKEND_TOKEN_TTL", 5*time.Minute),
			BreakerFailures: getInt("BACKEND_BREAKER_FAILURES", 5),
			BreakerTimeout:  getDuration("BACKEND_BREAKER_TIMEOUT", 30*time.Second),
			BreakerProbes:   getInt("BACKEND_BREAKER_PROBES", 1),
			HealthInterval:  getDuration("BACKEND_HEALTH_INTERVAL", 10*time.Second),
		},
		Reschedule: RescheduleConfig{
			PollInitial:    getDuration("RESCHEDULE_POLL_INITIAL", 500*time.Millisecond),
			PollMax:        getDuration("RESCHEDULE_POLL_MAX", 10*time.Second),
			PollMaxElapsed: getDuration("RESCHEDULE_POLL_MAX_ELAPSED", 2*time.Minute),
			JobTTL:         getDuration("RESCHEDULE_JOB_TTL", 24*time.Hour),
		},
		Graph: GraphConfig{
			DanglingDeps:   getString("GRAPH_DANGLING_DEPS", "remove"),
			StrictRollback: getBool("GRAPH_STRICT_ROLLBACK", false),
			HydrateTimeout: getDuration("GRAPH_HYDRATE_TIMEOUT", 30*time.Second),
			FetchParallel:  getInt("GRAPH_FETCH_PARALLEL", 4),
		},
		Plans: PlansConfig{
			ArchiveKeep: getInt("PLANS_ARCHIVE_KEEP", 20),
		},
		Notify: NotifyConfig{
			Origin:      getString("NOTIFY_ORIGIN", hostname()),
			RedisFanout: getBool("NOTIFY_REDIS_FANOUT", true),
			Audit:       getBool("NOTIFY_AUDIT", true),
		},
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = buildPostgresURL(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	if c.JWT.Secret == "" && c.Environment == "production" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.Buffer.SyncInterval < time.Second {
		return fmt.Errorf("SYNC_INTERVAL_SECONDS must be at least one second")
	}
	return nil
}

// MustLoad panics if configuration cannot be loaded.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func buildPostgresURL(cfg *Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "planner"
	}
	return name
}

func getString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

// Address returns the HTTP listen address for the fasthttp server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.HTTP.Host, c.HTTP.Port)
}
