// Package config assembles the process-wide Bootstrap configuration from
// the environment, following the teacher's getEnv(key, default) + godotenv
// convention. Bootstrap is built once at process start and threaded down by
// constructor injection; nothing here is a package-level global.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DatabaseConfig holds RDB connection settings for pgx/v5 + golang-migrate.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds the KVS connection used by the event bus, intervention
// manager, and resume-override store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ProviderConfig holds the API credentials and fallback chain for one
// provider chain entry.
type ProviderConfig struct {
	AnthropicAPIKey string
	GeminiAPIKey    string
	// FallbackChain lists provider names tried in order when a model's
	// natural provider fails; an entry naming the natural provider itself is
	// skipped, since that provider is always tried first.
	FallbackChain []string
}

// PipelineConfig carries the loop-budget defaults consulted by the graph's
// conditional edges.
type PipelineConfig struct {
	MaxVerificationLoops int
	MaxReviewDevLoops    int
	MaxTDDIterations     int
}

// Bootstrap is the fully-resolved process configuration, assembled once in
// Load and passed down by constructor injection.
type Bootstrap struct {
	ConfigDir string
	HTTPPort  string
	GinMode   string

	Database DatabaseConfig
	Redis    RedisConfig
	Provider ProviderConfig
	Pipeline PipelineConfig

	WorktreeBaseDir string
	WorkerBinary    string
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key, defaultValue string) (time.Duration, error) {
	raw := getEnv(key, defaultValue)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// Load reads HADRON_-prefixed environment variables (after loading a .env
// file from configDir, if present) into a Bootstrap. A missing .env file is
// a warning, not a fatal error, matching the teacher's cmd/tarsy/main.go.
func Load(configDir string) (*Bootstrap, []string, error) {
	var warnings []string

	envPath := configDir + "/.env"
	if err := godotenv.Load(envPath); err != nil {
		warnings = append(warnings, fmt.Sprintf("could not load %s: %v", envPath, err))
	}

	dbPort, err := getEnvInt("HADRON_DB_PORT", 5432)
	if err != nil {
		return nil, warnings, err
	}
	maxOpen, err := getEnvInt("HADRON_DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, warnings, err
	}
	maxIdle, err := getEnvInt("HADRON_DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, warnings, err
	}
	maxLifetime, err := getEnvDuration("HADRON_DB_CONN_MAX_LIFETIME", "1h")
	if err != nil {
		return nil, warnings, err
	}
	maxIdleTime, err := getEnvDuration("HADRON_DB_CONN_MAX_IDLE_TIME", "15m")
	if err != nil {
		return nil, warnings, err
	}
	redisDB, err := getEnvInt("HADRON_REDIS_DB", 0)
	if err != nil {
		return nil, warnings, err
	}
	maxVerifLoops, err := getEnvInt("HADRON_MAX_VERIFICATION_LOOPS", 3)
	if err != nil {
		return nil, warnings, err
	}
	maxReviewLoops, err := getEnvInt("HADRON_MAX_REVIEW_DEV_LOOPS", 3)
	if err != nil {
		return nil, warnings, err
	}
	maxTDDIter, err := getEnvInt("HADRON_MAX_TDD_ITERATIONS", 5)
	if err != nil {
		return nil, warnings, err
	}

	b := &Bootstrap{
		ConfigDir: configDir,
		HTTPPort:  getEnv("HADRON_HTTP_PORT", "8080"),
		GinMode:   getEnv("HADRON_GIN_MODE", "debug"),

		Database: DatabaseConfig{
			Host:            getEnv("HADRON_DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnv("HADRON_DB_USER", "hadron"),
			Password:        os.Getenv("HADRON_DB_PASSWORD"),
			Database:        getEnv("HADRON_DB_NAME", "hadron"),
			SSLMode:         getEnv("HADRON_DB_SSLMODE", "disable"),
			MaxOpenConns:    maxOpen,
			MaxIdleConns:    maxIdle,
			ConnMaxLifetime: maxLifetime,
			ConnMaxIdleTime: maxIdleTime,
		},
		Redis: RedisConfig{
			Addr:     getEnv("HADRON_REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("HADRON_REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Provider: ProviderConfig{
			AnthropicAPIKey: os.Getenv("HADRON_ANTHROPIC_API_KEY"),
			GeminiAPIKey:    os.Getenv("HADRON_GEMINI_API_KEY"),
			FallbackChain:   []string{"anthropic", "gemini"},
		},
		Pipeline: PipelineConfig{
			MaxVerificationLoops: maxVerifLoops,
			MaxReviewDevLoops:    maxReviewLoops,
			MaxTDDIterations:     maxTDDIter,
		},
		WorktreeBaseDir: getEnv("HADRON_WORKTREE_BASE_DIR", "./data/worktrees"),
		WorkerBinary:    getEnv("HADRON_WORKER_BINARY", "./hadron-worker"),
	}

	yamlWarning, err := applyPipelineYAML(configDir, b)
	if err != nil {
		return nil, warnings, err
	}
	if yamlWarning != "" {
		warnings = append(warnings, yamlWarning)
	}

	return b, warnings, nil
}
