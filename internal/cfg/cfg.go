package cfg

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/linnemanlabs/beacon/internal/callapi"
	"github.com/linnemanlabs/beacon/internal/llm/claude"
	"github.com/linnemanlabs/beacon/internal/triage"
)

const (
	maxClassifierRetries = 5
	maxTranscriptLimit   = callapi.MaxTranscriptLimit
)

// Config adds beacon-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds           int
	ShutdownBudgetSeconds  int
	APIPort                int
	APIToken               string
	ClaudeAPIKey           string
	ClaudeModel            string
	ClaudeBaseURL          string
	RubricPath             string
	MaxRetries             int
	ClassifyTimeoutSeconds int
	PersistTimeoutSeconds  int
	CallLogPath            string
	DatabaseURL            string
	DBMaxConns             int
	SlowQueryMillis        int
	SlackWebhookURL        string
	SlackMinPriority       string
	MaxTranscriptBytes     int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API and voice routes (empty = no auth)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", claude.DefaultModel, "Claude model to use")
	fs.StringVar(&c.ClaudeBaseURL, "claude-base-url", "", "override the Claude API base URL")
	fs.StringVar(&c.RubricPath, "rubric-path", "", "file holding the classification rubric (empty = built-in)")
	fs.IntVar(&c.MaxRetries, "max-retries", triage.DefaultMaxRetries, "classifier retries after an unavailable response (0..5)")
	fs.IntVar(&c.ClassifyTimeoutSeconds, "classify-timeout-seconds", int(triage.DefaultClassifyTimeout/time.Second), "per-attempt classifier timeout (1..120)")
	fs.IntVar(&c.PersistTimeoutSeconds, "persist-timeout-seconds", int(triage.DefaultPersistTimeout/time.Second), "call log append timeout (1..60)")
	fs.StringVar(&c.CallLogPath, "call-log-path", "data/call_logs.json", "JSON call log file (empty with no database = in-memory store)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (takes precedence over the call log file)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 10, "PostgreSQL pool size (1..100)")
	fs.IntVar(&c.SlowQueryMillis, "slow-query-ms", 250, "log queries slower than this many milliseconds (1..60000)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
	fs.StringVar(&c.SlackMinPriority, "slack-min-priority", string(triage.PriorityRed), "least urgent priority posted to Slack (RED, ORANGE, GREEN)")
	fs.IntVar(&c.MaxTranscriptBytes, "max-transcript-bytes", callapi.DefaultMaxTranscriptBytes, fmt.Sprintf("longest accepted transcript in bytes (1..%d)", maxTranscriptLimit))
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Claude API key and model are required for classification
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if c.MaxRetries < 0 || c.MaxRetries > maxClassifierRetries {
		errs = append(errs, fmt.Errorf("invalid MAX_RETRIES %d (must be 0..%d)", c.MaxRetries, maxClassifierRetries))
	}
	if c.ClassifyTimeoutSeconds <= 0 || c.ClassifyTimeoutSeconds > 120 {
		errs = append(errs, fmt.Errorf("invalid CLASSIFY_TIMEOUT_SECONDS %d (must be 1..120)", c.ClassifyTimeoutSeconds))
	}
	if c.PersistTimeoutSeconds <= 0 || c.PersistTimeoutSeconds > 60 {
		errs = append(errs, fmt.Errorf("invalid PERSIST_TIMEOUT_SECONDS %d (must be 1..60)", c.PersistTimeoutSeconds))
	}

	// pool settings only matter with a database
	if c.DatabaseURL != "" {
		if c.DBMaxConns <= 0 || c.DBMaxConns > 100 {
			errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 1..100)", c.DBMaxConns))
		}
		if c.SlowQueryMillis <= 0 || c.SlowQueryMillis > 60000 {
			errs = append(errs, fmt.Errorf("invalid SLOW_QUERY_MS %d (must be 1..60000)", c.SlowQueryMillis))
		}
	}

	if _, err := triage.ParsePriority(c.SlackMinPriority); err != nil {
		errs = append(errs, fmt.Errorf("invalid SLACK_MIN_PRIORITY %q (must be RED, ORANGE or GREEN)", c.SlackMinPriority))
	}

	if c.MaxTranscriptBytes <= 0 || c.MaxTranscriptBytes > maxTranscriptLimit {
		errs = append(errs, fmt.Errorf("invalid MAX_TRANSCRIPT_BYTES %d (must be 1..%d)", c.MaxTranscriptBytes, maxTranscriptLimit))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// TriageOptions converts the pipeline settings. A configured zero retries
// becomes the pipeline's explicit "no retries".
func (c *Config) TriageOptions() triage.Options {
	retries := c.MaxRetries
	if retries == 0 {
		retries = -1
	}
	return triage.Options{
		MaxRetries:      retries,
		ClassifyTimeout: time.Duration(c.ClassifyTimeoutSeconds) * time.Second,
		PersistTimeout:  time.Duration(c.PersistTimeoutSeconds) * time.Second,
	}
}

// SlackPriority returns the parsed Slack threshold, RED if it does not parse.
func (c *Config) SlackPriority() triage.Priority {
	p, err := triage.ParsePriority(c.SlackMinPriority)
	if err != nil {
		return triage.PriorityRed
	}
	return p
}

// Rubric returns the classification rubric: the contents of RubricPath when
// set, otherwise the built-in one.
func (c *Config) Rubric() (string, error) {
	if c.RubricPath == "" {
		return triage.DefaultRubric, nil
	}
	data, err := os.ReadFile(c.RubricPath)
	if err != nil {
		return "", fmt.Errorf("read rubric: %w", err)
	}
	rubric := strings.TrimSpace(string(data))
	if rubric == "" {
		return "", fmt.Errorf("rubric file %s is empty", c.RubricPath)
	}
	return rubric, nil
}
