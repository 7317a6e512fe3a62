package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Role names the process a configuration is validated for
type Role string

const (
	RoleAPI       Role = "api"
	RoleAnnotator Role = "annotator"
	RoleArchive   Role = "archive"
	RoleRestore   Role = "restore"
	RoleThaw      Role = "thaw"
)

// Config holds the application configuration
type Config struct {
	// AWS
	Region string `yaml:"region"`

	// Job store
	JobsTable       string `yaml:"jobs_table"`
	UserIndex       string `yaml:"user_index"`
	OperationsTable string `yaml:"operations_table"`

	// Accounts database
	DatabaseURL string `yaml:"database_url"`

	Queues  Queues  `yaml:"queues"`
	Topics  Topics  `yaml:"topics"`
	Buckets Buckets `yaml:"buckets"`

	// Cold storage
	Vault string `yaml:"vault"`

	Annotator Annotator `yaml:"annotator"`
	Consumer  Consumer  `yaml:"consumer"`

	// Server
	ServerPort  string `yaml:"server_port"`
	MetricsPort string `yaml:"metrics_port"`

	// Stale RUNNING job reporting
	StaleJobThreshold time.Duration `yaml:"stale_job_threshold"`
	StaleJobSchedule  string        `yaml:"stale_job_schedule"`

	// StartupTimeout bounds retries of queue and database resolution
	StartupTimeout time.Duration `yaml:"startup_timeout"`

	LogLevel string `yaml:"log_level"`
}

// Queues names the SQS queues each consumer polls
type Queues struct {
	Requests string `yaml:"requests"`
	Archive  string `yaml:"archive"`
	Restore  string `yaml:"restore"`
	Thaw     string `yaml:"thaw"`
}

// Topics holds SNS topic ARNs
type Topics struct {
	Requests   string `yaml:"requests"`
	Completion string `yaml:"completion"`
	Archive    string `yaml:"archive"`
	Restore    string `yaml:"restore"`
	Thaw       string `yaml:"thaw"`
}

// Buckets names the S3 buckets and the key prefix results are written under
type Buckets struct {
	Inputs       string `yaml:"inputs"`
	Results      string `yaml:"results"`
	ResultsOwner string `yaml:"results_owner"`
}

// Annotator configures the execution driver
type Annotator struct {
	JobsDir      string   `yaml:"jobs_dir"`
	Command      []string `yaml:"command"`
	ResultSuffix string   `yaml:"result_suffix"`
	LogSuffix    string   `yaml:"log_suffix"`
	PoolSize     int      `yaml:"pool_size"`
}

// Consumer tunes queue polling
type Consumer struct {
	MaxMessages       int `yaml:"max_messages"`
	WaitSeconds       int `yaml:"wait_seconds"`
	VisibilityTimeout int `yaml:"visibility_timeout"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Region:          "us-east-1",
		JobsTable:       "gas_annotations",
		UserIndex:       "user_id_index",
		OperationsTable: "gas_operations",
		DatabaseURL:     "postgres://localhost/gas_accounts?sslmode=disable",
		Buckets: Buckets{
			ResultsOwner: "gas",
		},
		Annotator: Annotator{
			JobsDir:      "/var/lib/gas/jobs",
			ResultSuffix: ".annot.vcf",
			LogSuffix:    ".vcf.count.log",
			PoolSize:     4,
		},
		Consumer: Consumer{
			MaxMessages:       5,
			WaitSeconds:       20,
			VisibilityTimeout: 300,
		},
		ServerPort:        "8080",
		MetricsPort:       "9090",
		StaleJobThreshold: 6 * time.Hour,
		StaleJobSchedule:  "@every 15m",
		StartupTimeout:    2 * time.Minute,
		LogLevel:          "info",
	}
}

// Load builds the configuration from the defaults, the YAML file named by
// GAS_CONFIG_FILE if set, and environment variables, in increasing priority
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("GAS_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Region = getEnv("AWS_REGION", c.Region)
	c.JobsTable = getEnv("GAS_JOBS_TABLE", c.JobsTable)
	c.UserIndex = getEnv("GAS_USER_INDEX", c.UserIndex)
	c.OperationsTable = getEnv("GAS_OPERATIONS_TABLE", c.OperationsTable)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)

	c.Queues.Requests = getEnv("GAS_REQUESTS_QUEUE", c.Queues.Requests)
	c.Queues.Archive = getEnv("GAS_ARCHIVE_QUEUE", c.Queues.Archive)
	c.Queues.Restore = getEnv("GAS_RESTORE_QUEUE", c.Queues.Restore)
	c.Queues.Thaw = getEnv("GAS_THAW_QUEUE", c.Queues.Thaw)

	c.Topics.Requests = getEnv("GAS_REQUESTS_TOPIC", c.Topics.Requests)
	c.Topics.Completion = getEnv("GAS_COMPLETION_TOPIC", c.Topics.Completion)
	c.Topics.Archive = getEnv("GAS_ARCHIVE_TOPIC", c.Topics.Archive)
	c.Topics.Restore = getEnv("GAS_RESTORE_TOPIC", c.Topics.Restore)
	c.Topics.Thaw = getEnv("GAS_THAW_TOPIC", c.Topics.Thaw)

	c.Buckets.Inputs = getEnv("GAS_INPUTS_BUCKET", c.Buckets.Inputs)
	c.Buckets.Results = getEnv("GAS_RESULTS_BUCKET", c.Buckets.Results)
	c.Buckets.ResultsOwner = getEnv("GAS_RESULTS_OWNER", c.Buckets.ResultsOwner)
	c.Vault = getEnv("GAS_VAULT", c.Vault)

	c.Annotator.JobsDir = getEnv("GAS_JOBS_DIR", c.Annotator.JobsDir)
	if cmd := os.Getenv("GAS_ANNOTATOR_COMMAND"); cmd != "" {
		c.Annotator.Command = strings.Fields(cmd)
	}
	c.Annotator.ResultSuffix = getEnv("GAS_RESULT_SUFFIX", c.Annotator.ResultSuffix)
	c.Annotator.LogSuffix = getEnv("GAS_LOG_SUFFIX", c.Annotator.LogSuffix)

	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.MetricsPort = getEnv("METRICS_PORT", c.MetricsPort)
	c.StaleJobSchedule = getEnv("GAS_STALE_JOB_SCHEDULE", c.StaleJobSchedule)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	var errs []error
	c.Annotator.PoolSize = getEnvInt("GAS_POOL_SIZE", c.Annotator.PoolSize, &errs)
	c.Consumer.MaxMessages = getEnvInt("GAS_MAX_MESSAGES", c.Consumer.MaxMessages, &errs)
	c.Consumer.WaitSeconds = getEnvInt("GAS_WAIT_SECONDS", c.Consumer.WaitSeconds, &errs)
	c.Consumer.VisibilityTimeout = getEnvInt("GAS_VISIBILITY_TIMEOUT", c.Consumer.VisibilityTimeout, &errs)
	c.StaleJobThreshold = getEnvDuration("GAS_STALE_JOB_THRESHOLD", c.StaleJobThreshold, &errs)
	c.StartupTimeout = getEnvDuration("GAS_STARTUP_TIMEOUT", c.StartupTimeout, &errs)
	return errors.Join(errs...)
}

// Validate reports every setting the given process needs but lacks
func (c *Config) Validate(role Role) error {
	required := map[string]string{
		"region":     c.Region,
		"jobs_table": c.JobsTable,
	}

	switch role {
	case RoleAPI:
		required["user_index"] = c.UserIndex
		required["database_url"] = c.DatabaseURL
		required["topics.requests"] = c.Topics.Requests
		required["topics.restore"] = c.Topics.Restore
		required["buckets.inputs"] = c.Buckets.Inputs
	case RoleAnnotator:
		required["queues.requests"] = c.Queues.Requests
		required["topics.completion"] = c.Topics.Completion
		required["buckets.results"] = c.Buckets.Results
		required["buckets.results_owner"] = c.Buckets.ResultsOwner
		required["annotator.jobs_dir"] = c.Annotator.JobsDir
		if len(c.Annotator.Command) == 0 {
			required["annotator.command"] = ""
		}
	case RoleArchive:
		required["queues.archive"] = c.Queues.Archive
		required["operations_table"] = c.OperationsTable
		required["database_url"] = c.DatabaseURL
		required["buckets.results"] = c.Buckets.Results
		required["vault"] = c.Vault
	case RoleRestore:
		required["queues.restore"] = c.Queues.Restore
		required["user_index"] = c.UserIndex
		required["topics.thaw"] = c.Topics.Thaw
		required["vault"] = c.Vault
	case RoleThaw:
		required["queues.thaw"] = c.Queues.Thaw
		required["buckets.results"] = c.Buckets.Results
		required["vault"] = c.Vault
	default:
		return fmt.Errorf("unknown role %q", role)
	}

	var missing []string
	for name, value := range required {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing configuration for %s: %s", role, strings.Join(missing, ", "))
	}

	if c.Consumer.MaxMessages < 1 || c.Consumer.MaxMessages > 10 {
		return fmt.Errorf("consumer.max_messages must be between 1 and 10, got %d", c.Consumer.MaxMessages)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}
