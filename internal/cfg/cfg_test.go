package cfg

import (
	"flag"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/beacon/internal/triage"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:           60,
		ShutdownBudgetSeconds:  90,
		APIPort:                8080,
		ClaudeAPIKey:           "sk-test-key",
		ClaudeModel:            "claude-sonnet-4-20250514",
		MaxRetries:             1,
		ClassifyTimeoutSeconds: 20,
		PersistTimeoutSeconds:  5,
		CallLogPath:            "data/call_logs.json",
		DBMaxConns:             10,
		SlowQueryMillis:        250,
		SlackMinPriority:       "RED",
		MaxTranscriptBytes:     8192,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.ClaudeModel != "claude-sonnet-4-20250514" {
		t.Errorf("ClaudeModel = %q, want %q", c.ClaudeModel, "claude-sonnet-4-20250514")
	}
	if c.MaxRetries != 1 {
		t.Errorf("MaxRetries = %d, want 1", c.MaxRetries)
	}
	if c.ClassifyTimeoutSeconds != 20 || c.PersistTimeoutSeconds != 5 {
		t.Errorf("timeouts = %d/%d, want 20/5", c.ClassifyTimeoutSeconds, c.PersistTimeoutSeconds)
	}
	if c.CallLogPath != "data/call_logs.json" {
		t.Errorf("CallLogPath = %q", c.CallLogPath)
	}
	if c.SlackMinPriority != "RED" {
		t.Errorf("SlackMinPriority = %q, want RED", c.SlackMinPriority)
	}
	if c.MaxTranscriptBytes != 8192 {
		t.Errorf("MaxTranscriptBytes = %d, want 8192", c.MaxTranscriptBytes)
	}
	if c.APIToken != "" || c.DatabaseURL != "" {
		t.Error("token and database URL should default to empty")
	}

	// defaults only lack the API key
	c.ClaudeAPIKey = "k"
	if err := c.Validate(); err != nil {
		t.Errorf("defaults plus key should validate: %v", err)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-claude-api-key", "sk-override",
		"-claude-model", "claude-opus-4-20250514",
		"-max-retries", "3",
		"-call-log-path", "/var/lib/beacon/calls.json",
		"-database-url", "postgres://db/beacon",
		"-slack-min-priority", "orange",
		"-max-transcript-bytes", "2048",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.ClaudeAPIKey != "sk-override" {
		t.Errorf("ClaudeAPIKey = %q, want %q", c.ClaudeAPIKey, "sk-override")
	}
	if c.ClaudeModel != "claude-opus-4-20250514" {
		t.Errorf("ClaudeModel = %q, want %q", c.ClaudeModel, "claude-opus-4-20250514")
	}
	if c.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", c.MaxRetries)
	}
	if c.CallLogPath != "/var/lib/beacon/calls.json" {
		t.Errorf("CallLogPath = %q", c.CallLogPath)
	}
	if c.DatabaseURL != "postgres://db/beacon" {
		t.Errorf("DatabaseURL = %q", c.DatabaseURL)
	}
	if c.SlackPriority() != triage.PriorityOrange {
		t.Errorf("SlackPriority = %q, want ORANGE", c.SlackPriority())
	}
	if c.MaxTranscriptBytes != 2048 {
		t.Errorf("MaxTranscriptBytes = %d, want 2048", c.MaxTranscriptBytes)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	with := func(mod func(*Config)) Config {
		c := validBase()
		mod(&c)
		return c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name:    "minimum valid values",
			cfg:     with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort, c.MaxRetries = 1, 2, 1, 0 }),
			wantErr: false,
		},
		{
			name:    "maximum valid values",
			cfg:     with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort, c.MaxRetries = 299, 300, 65535, 5 }),
			wantErr: false,
		},
		{
			name:    "api token optional",
			cfg:     with(func(c *Config) { c.APIToken = "" }),
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       with(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 301, 302 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:    "drain at upper bound",
			cfg:     with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 300, 300 }),
			wantErr: true, // budget must be greater than drain
		},
		// ShutdownBudgetSeconds boundaries
		{
			name:      "budget negative",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = -1 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget equals drain",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 60 }),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		// APIPort boundaries
		{
			name:      "port zero",
			cfg:       with(func(c *Config) { c.APIPort = 0 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			cfg:       with(func(c *Config) { c.APIPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// Claude
		{
			name:      "empty claude api key",
			cfg:       with(func(c *Config) { c.ClaudeAPIKey = "" }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_API_KEY"},
		},
		{
			name:      "empty claude model",
			cfg:       with(func(c *Config) { c.ClaudeModel = "" }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_MODEL"},
		},
		// Pipeline
		{
			name:      "retries negative",
			cfg:       with(func(c *Config) { c.MaxRetries = -1 }),
			wantErr:   true,
			errSubstr: []string{"MAX_RETRIES"},
		},
		{
			name:      "retries above max",
			cfg:       with(func(c *Config) { c.MaxRetries = 6 }),
			wantErr:   true,
			errSubstr: []string{"MAX_RETRIES"},
		},
		{
			name:      "classify timeout zero",
			cfg:       with(func(c *Config) { c.ClassifyTimeoutSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"CLASSIFY_TIMEOUT_SECONDS"},
		},
		{
			name:      "persist timeout above max",
			cfg:       with(func(c *Config) { c.PersistTimeoutSeconds = 61 }),
			wantErr:   true,
			errSubstr: []string{"PERSIST_TIMEOUT_SECONDS"},
		},
		// Database pool, checked only with a URL
		{
			name:    "pool ignored without database",
			cfg:     with(func(c *Config) { c.DBMaxConns, c.SlowQueryMillis = 0, 0 }),
			wantErr: false,
		},
		{
			name: "pool invalid with database",
			cfg: with(func(c *Config) {
				c.DatabaseURL = "postgres://db/beacon"
				c.DBMaxConns, c.SlowQueryMillis = 0, 0
			}),
			wantErr:   true,
			errSubstr: []string{"DB_MAX_CONNS", "SLOW_QUERY_MS"},
		},
		// Slack
		{
			name:    "slack priority lowercase",
			cfg:     with(func(c *Config) { c.SlackMinPriority = "green" }),
			wantErr: false,
		},
		{
			name:      "slack priority unknown",
			cfg:       with(func(c *Config) { c.SlackMinPriority = "YELLOW" }),
			wantErr:   true,
			errSubstr: []string{"SLACK_MIN_PRIORITY"},
		},
		// Transcript limit
		{
			name:      "transcript limit zero",
			cfg:       with(func(c *Config) { c.MaxTranscriptBytes = 0 }),
			wantErr:   true,
			errSubstr: []string{"MAX_TRANSCRIPT_BYTES"},
		},
		{
			name:      "transcript limit above max",
			cfg:       with(func(c *Config) { c.MaxTranscriptBytes = maxTranscriptLimit + 1 }),
			wantErr:   true,
			errSubstr: []string{"MAX_TRANSCRIPT_BYTES"},
		},
		// Error accumulation: all fields invalid
		{
			name:    "all fields invalid",
			cfg:     Config{},
			wantErr: true,
			errSubstr: []string{
				"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "CLAUDE_API_KEY", "CLAUDE_MODEL",
				"CLASSIFY_TIMEOUT_SECONDS", "PERSIST_TIMEOUT_SECONDS", "SLACK_MIN_PRIORITY", "MAX_TRANSCRIPT_BYTES",
			},
		},
		// Extreme values
		{
			name:      "extreme negative values",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = math.MinInt32, math.MinInt32, math.MinInt32 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func TestTriageOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		retries int
		want    int
	}{
		{0, -1},
		{1, 1},
		{5, 5},
	}

	for _, tt := range tests {
		c := validBase()
		c.MaxRetries = tt.retries
		opts := c.TriageOptions()
		if opts.MaxRetries != tt.want {
			t.Errorf("MaxRetries %d -> %d, want %d", tt.retries, opts.MaxRetries, tt.want)
		}
		if opts.ClassifyTimeout != 20*time.Second || opts.PersistTimeout != 5*time.Second {
			t.Errorf("timeouts = %v/%v", opts.ClassifyTimeout, opts.PersistTimeout)
		}
	}
}

func TestSlackPriority_FallsBackToRed(t *testing.T) {
	t.Parallel()

	c := validBase()
	c.SlackMinPriority = "nope"
	if got := c.SlackPriority(); got != triage.PriorityRed {
		t.Errorf("SlackPriority = %q, want RED", got)
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port, retries int
		key, model, slackMin         string
	}{
		{60, 90, 8080, 1, "sk-test", "claude-sonnet", "RED"},
		{1, 2, 1, 0, "k", "m", "green"},
		{299, 300, 65535, 5, "k", "m", "ORANGE"},
		{0, 0, 0, -1, "", "", ""},
		{300, 300, 65535, 6, "k", "m", "YELLOW"},
		{150, 100, 8080, 1, "k", "m", " red "},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, "", "", ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, "", "", ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.retries, s.key, s.model, s.slackMin)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, retries int, key, model, slackMin string) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		c.MaxRetries = retries
		c.ClaudeAPIKey = key
		c.ClaudeModel = model
		c.SlackMinPriority = slackMin
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		retriesOK := retries >= 0 && retries <= 5
		keyOK := key != ""
		modelOK := model != ""
		_, perr := triage.ParsePriority(slackMin)
		slackOK := perr == nil

		allValid := drainOK && budgetOK && portOK && crossOK && retriesOK && keyOK && modelOK && slackOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}

func TestRubric(t *testing.T) {
	t.Parallel()

	var c Config
	got, err := c.Rubric()
	if err != nil || got != triage.DefaultRubric {
		t.Errorf("built-in rubric: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "rubric.txt")
	if err := os.WriteFile(path, []byte("  classify carefully\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c.RubricPath = path
	got, err = c.Rubric()
	if err != nil {
		t.Fatalf("Rubric: %v", err)
	}
	if got != "classify carefully" {
		t.Errorf("rubric = %q", got)
	}

	empty := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(empty, []byte("\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c.RubricPath = empty
	if _, err := c.Rubric(); err == nil {
		t.Error("expected error for empty rubric file")
	}

	c.RubricPath = filepath.Join(dir, "missing.txt")
	if _, err := c.Rubric(); err == nil {
		t.Error("expected error for missing rubric file")
	}
}
