package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agentoffice.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "AGENTOFFICE_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTOFFICE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AGENTOFFICE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AGENTOFFICE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AGENTOFFICE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AGENTOFFICE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "AGENTOFFICE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "AGENTOFFICE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTOFFICE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AGENTOFFICE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "AGENTOFFICE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AGENTOFFICE_BREAKER_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "AGENTOFFICE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "AGENTOFFICE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "AGENTOFFICE_CACHE_L2_TTL")
	setDuration(&cfg.Cache.RosterTTL, "AGENTOFFICE_CACHE_ROSTER_TTL")

	// Git
	setInt(&cfg.Git.MaxConcurrent, "AGENTOFFICE_GIT_MAX_CONCURRENT")
	setString(&cfg.Git.WorktreeDir, "AGENTOFFICE_WORKTREE_DIR")
	setString(&cfg.Git.BranchPrefix, "AGENTOFFICE_BRANCH_PREFIX")
	setString(&cfg.Git.DefaultBaseBranch, "AGENTOFFICE_BASE_BRANCH")
	setBool(&cfg.Git.OpenPullRequests, "AGENTOFFICE_OPEN_PRS")
	setString(&cfg.Git.CommitPrefix, "AGENTOFFICE_COMMIT_PREFIX")

	// Telemetry and notifications
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "AGENTOFFICE_OTEL_INSECURE")
	setString(&cfg.Notify.SlackWebhookURL, "AGENTOFFICE_SLACK_WEBHOOK_URL")

	// Executor
	setString(&cfg.Executor.Default, "AGENTOFFICE_EXECUTOR_DEFAULT")
	setString(&cfg.Executor.RemoteName, "AGENTOFFICE_EXECUTOR_REMOTE")

	// Review policy
	setInt(&cfg.Review.MaxRemediationRequests, "AGENTOFFICE_REVIEW_MAX_REMEDIATION")
	setInt(&cfg.Review.MaxBlockingHoldsPerRound, "AGENTOFFICE_REVIEW_MAX_HOLDS_ROUND")
	setInt(&cfg.Review.MaxHoldsPerDepartment, "AGENTOFFICE_REVIEW_MAX_HOLDS_DEPT")
	setInt(&cfg.Review.MaxMemoItemsPerRound, "AGENTOFFICE_REVIEW_MAX_MEMO_ITEMS")
	setInt(&cfg.Review.MinParticipants, "AGENTOFFICE_REVIEW_MIN_PARTICIPANTS")
	setInt(&cfg.Review.MaxParticipants, "AGENTOFFICE_REVIEW_MAX_PARTICIPANTS")
	setString(&cfg.Review.CoordinatorDepartment, "AGENTOFFICE_REVIEW_COORDINATOR")
	setDuration(&cfg.Review.PresenceTimeout, "AGENTOFFICE_REVIEW_PRESENCE_TIMEOUT")
	setDuration(&cfg.Review.TurnDelay, "AGENTOFFICE_REVIEW_TURN_DELAY")
	setDuration(&cfg.Review.SpeechTimeout, "AGENTOFFICE_REVIEW_SPEECH_TIMEOUT")
	setBool(&cfg.Review.PlannedMeeting, "AGENTOFFICE_REVIEW_PLANNED_MEETING")
	setString(&cfg.Review.Locale, "AGENTOFFICE_LOCALE")

	// Runtime
	setDuration(&cfg.Runtime.ProgressInterval, "AGENTOFFICE_PROGRESS_INTERVAL")
	setInt(&cfg.Runtime.OutputTailBytes, "AGENTOFFICE_OUTPUT_TAIL_BYTES")
	setInt(&cfg.Runtime.RecentMessages, "AGENTOFFICE_RECENT_MESSAGES")
	setInt(&cfg.Runtime.ContextFiles, "AGENTOFFICE_CONTEXT_FILES")
	setBool(&cfg.Runtime.CheckpointReports, "AGENTOFFICE_CHECKPOINT_REPORTS")

	// MCP
	setBool(&cfg.MCP.Enabled, "AGENTOFFICE_MCP_ENABLED")
	setString(&cfg.MCP.APIKey, "AGENTOFFICE_MCP_API_KEY")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if err := validateReview(&cfg.Review); err != nil {
		return err
	}
	if cfg.Runtime.ProgressInterval <= 0 {
		return errors.New("runtime.progress_interval must be > 0")
	}
	return nil
}

// validateReview checks the review policy knobs. Hot reloads reuse it.
func validateReview(r *Review) error {
	if r.MaxRemediationRequests < 0 {
		return errors.New("review.max_remediation_requests must be >= 0")
	}
	if r.MaxBlockingHoldsPerRound < 1 {
		return errors.New("review.max_blocking_holds_per_round must be >= 1")
	}
	if r.MaxHoldsPerDepartment < 1 {
		return errors.New("review.max_holds_per_department must be >= 1")
	}
	if r.MaxMemoItemsPerRound < 1 {
		return errors.New("review.max_memo_items_per_round must be >= 1")
	}
	if r.MinParticipants < 1 {
		return errors.New("review.min_participants must be >= 1")
	}
	if r.MaxParticipants < r.MinParticipants {
		return fmt.Errorf("review.max_participants (%d) must be >= min_participants (%d)", r.MaxParticipants, r.MinParticipants)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
