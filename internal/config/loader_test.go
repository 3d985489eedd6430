package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("expected max_conns 15, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Review.MaxRemediationRequests != 2 {
		t.Errorf("expected remediation cap 2, got %d", cfg.Review.MaxRemediationRequests)
	}
	if cfg.Review.CoordinatorDepartment != "planning" {
		t.Errorf("expected coordinator planning, got %q", cfg.Review.CoordinatorDepartment)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
postgres:
  max_conns: 20
logging:
  level: "debug"
review:
  max_remediation_requests: 5
  min_participants: 3
  turn_delay: 2s
git:
  open_pull_requests: true
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.MaxConns != 20 {
		t.Errorf("expected max_conns 20, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Review.MaxRemediationRequests != 5 {
		t.Errorf("expected remediation cap 5, got %d", cfg.Review.MaxRemediationRequests)
	}
	if cfg.Review.TurnDelay != 2*time.Second {
		t.Errorf("expected turn delay 2s, got %v", cfg.Review.TurnDelay)
	}
	if !cfg.Git.OpenPullRequests {
		t.Error("expected open_pull_requests true")
	}
	// Unchanged fields keep defaults
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
	if cfg.Review.MaxParticipants != 6 {
		t.Errorf("expected default max participants 6, got %d", cfg.Review.MaxParticipants)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("AGENTOFFICE_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("AGENTOFFICE_PG_MAX_CONNS", "25")
	t.Setenv("AGENTOFFICE_LOG_LEVEL", "warn")
	t.Setenv("AGENTOFFICE_BREAKER_TIMEOUT", "1m")
	t.Setenv("AGENTOFFICE_REVIEW_MAX_HOLDS_DEPT", "2")
	t.Setenv("AGENTOFFICE_REVIEW_PLANNED_MEETING", "true")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Errorf("expected max_conns 25, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Review.MaxHoldsPerDepartment != 2 {
		t.Errorf("expected holds per department 2, got %d", cfg.Review.MaxHoldsPerDepartment)
	}
	if !cfg.Review.PlannedMeeting {
		t.Error("expected planned meeting enabled")
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "empty DSN",
			modify: func(c *Config) { c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "empty NATS URL",
			modify: func(c *Config) { c.NATS.URL = "" },
			errMsg: "nats.url is required",
		},
		{
			name:   "zero max_conns",
			modify: func(c *Config) { c.Postgres.MaxConns = 0 },
			errMsg: "postgres.max_conns must be >= 1",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "negative remediation cap",
			modify: func(c *Config) { c.Review.MaxRemediationRequests = -1 },
			errMsg: "review.max_remediation_requests must be >= 0",
		},
		{
			name:   "zero memo items",
			modify: func(c *Config) { c.Review.MaxMemoItemsPerRound = 0 },
			errMsg: "review.max_memo_items_per_round must be >= 1",
		},
		{
			name:   "max below min participants",
			modify: func(c *Config) { c.Review.MaxParticipants = 1 },
			errMsg: "review.max_participants (1) must be >= min_participants (2)",
		},
		{
			name:   "zero progress interval",
			modify: func(c *Config) { c.Runtime.ProgressInterval = 0 },
			errMsg: "runtime.progress_interval must be > 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestReviewPolicySwap(t *testing.T) {
	p := NewReviewPolicy(Defaults().Review)
	r := p.Load()
	r.MaxRemediationRequests = 9
	if p.Load().MaxRemediationRequests == 9 {
		t.Fatal("Load must return a copy")
	}
	p.Store(r)
	if got := p.Load().MaxRemediationRequests; got != 9 {
		t.Errorf("expected 9 after Store, got %d", got)
	}
}

func TestReloadReview(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "agentoffice.yaml")
	p := NewReviewPolicy(Defaults().Review)

	if err := os.WriteFile(yamlPath, []byte("review:\n  max_memo_items_per_round: 11\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	reloadReview(yamlPath, p)
	if got := p.Load().MaxMemoItemsPerRound; got != 11 {
		t.Fatalf("expected 11 after reload, got %d", got)
	}

	// Invalid policy keeps the previous value.
	if err := os.WriteFile(yamlPath, []byte("review:\n  max_memo_items_per_round: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	reloadReview(yamlPath, p)
	if got := p.Load().MaxMemoItemsPerRound; got != 11 {
		t.Errorf("expected invalid reload to be rejected, got %d", got)
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "agentoffice.yaml")
	p := NewReviewPolicy(Defaults().Review)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, yamlPath, p) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
