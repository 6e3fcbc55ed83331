package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string `validate:"required"`
	Environment   string `validate:"oneof=development staging production"`

	// Embedded graph store
	DatabasePath   string // empty string opens an in-memory database
	TraversalLimit int    `validate:"gte=1,lte=32"`

	// AWS configuration
	AWSRegion      string `validate:"required"`
	LockTable      string `validate:"required"`
	SnapshotBucket string `validate:"required"`

	// Write coordination
	LockLease          time.Duration `validate:"gt=0"`
	LockAcquireTimeout time.Duration `validate:"gt=0"`
	ContentionWarnWait time.Duration `validate:"gt=0"`

	// Hydration
	ColdStartBudget time.Duration `validate:"gt=0"`

	// Backup policy
	Backup BackupPolicy

	// Integrity scanner
	ScanInterval time.Duration `validate:"gt=0"`
	ScanRepair   bool

	// Logging
	LogLevel string

	// Feature flags
	EnableMetrics bool
	EnableTracing bool
	TraceEndpoint string
}

// BackupPolicy configures the backup scheduler. Loadable from a YAML file for
// per-deployment overrides.
type BackupPolicy struct {
	Interval  time.Duration `yaml:"interval" validate:"gt=0"`
	Retention time.Duration `yaml:"retention" validate:"gt=0"`
	Tenants   []string      `yaml:"tenants"`
}

// LoadConfig loads configuration from the environment, with an optional .env
// file and an optional YAML backup policy file named by BACKUP_POLICY_FILE
func LoadConfig() (*Config, error) {
	// Missing .env is the normal case outside local development
	_ = godotenv.Load()

	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),

		DatabasePath:   getEnv("GRAPH_DB_PATH", ""),
		TraversalLimit: getEnvInt("TRAVERSAL_LIMIT", 8),

		AWSRegion:      getEnv("AWS_REGION", "us-west-2"),
		LockTable:      getEnv("LOCK_TABLE", "meshmind-locks"),
		SnapshotBucket: getEnv("SNAPSHOT_BUCKET", "meshmind-snapshots"),

		LockLease:          getEnvDuration("LOCK_LEASE", 30*time.Second),
		LockAcquireTimeout: getEnvDuration("LOCK_ACQUIRE_TIMEOUT", 30*time.Second),
		ContentionWarnWait: getEnvDuration("CONTENTION_WARN_WAIT", 5*time.Second),

		ColdStartBudget: getEnvDuration("COLD_START_BUDGET", 3*time.Second),

		Backup: BackupPolicy{
			Interval:  getEnvDuration("BACKUP_INTERVAL", 6*time.Hour),
			Retention: getEnvDuration("BACKUP_RETENTION", 7*24*time.Hour),
		},

		ScanInterval: getEnvDuration("SCAN_INTERVAL", 24*time.Hour),
		ScanRepair:   getEnvBool("SCAN_REPAIR", false),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		EnableMetrics: getEnvBool("ENABLE_METRICS", true),
		EnableTracing: getEnvBool("ENABLE_TRACING", false),
		TraceEndpoint: getEnv("TRACE_ENDPOINT", ""),
	}

	if policyFile := os.Getenv("BACKUP_POLICY_FILE"); policyFile != "" {
		if err := loadBackupPolicy(policyFile, &cfg.Backup); err != nil {
			return nil, fmt.Errorf("failed to load backup policy: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadBackupPolicy overlays the YAML policy file onto the env-derived defaults
func loadBackupPolicy(path string, policy *BackupPolicy) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, policy)
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Environment == "production" && c.DatabasePath == "" {
		return fmt.Errorf("GRAPH_DB_PATH is required in production")
	}

	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
