// Command triage classifies one call transcript from the terminal, appends
// it to the configured call log and prints the stored record as JSON.
//
//	triage "there's a fire in my kitchen"
//	echo "my cat is missing" | triage
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/beacon/internal/callstore"
	bc "github.com/linnemanlabs/beacon/internal/cfg"
	"github.com/linnemanlabs/beacon/internal/llm/claude"
	"github.com/linnemanlabs/beacon/internal/triage"
)

const appName = "beacon"
const component = "triage"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "triage:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component

	var (
		appCfg bc.Config
		logCfg log.Config
	)
	appCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [transcript...]\n\nWith no transcript arguments the call is read from stdin.\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg.FillFromEnv(flag.CommandLine, "BEACON_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(appCfg.Validate(), logCfg.Validate()); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()
	L := lg.With("component", component)
	ctx = log.WithContext(ctx, L)

	transcript, err := readTranscript(flag.Args(), os.Stdin, appCfg.MaxTranscriptBytes)
	if err != nil {
		return err
	}

	calls, err := callstore.Open(ctx, callstore.Config{
		DatabaseURL: appCfg.DatabaseURL,
		DBMaxConns:  appCfg.DBMaxConns,
		SlowQuery:   time.Duration(appCfg.SlowQueryMillis) * time.Millisecond,
		CallLogPath: appCfg.CallLogPath,
	}, L, nil)
	if err != nil {
		return err
	}
	defer calls.Close()

	rubric, err := appCfg.Rubric()
	if err != nil {
		return err
	}

	var claudeOpts []claude.Option
	if appCfg.ClaudeBaseURL != "" {
		claudeOpts = append(claudeOpts, claude.WithBaseURL(appCfg.ClaudeBaseURL))
	}
	classifier := triage.NewAdapter(claude.New(appCfg.ClaudeAPIKey, appCfg.ClaudeModel, claudeOpts...), rubric)

	pipeline := triage.NewPipeline(classifier, calls.Store, nil, L, triage.Hooks{}, appCfg.TriageOptions())

	rec, err := pipeline.Triage(ctx, transcript)
	if err != nil && !triage.Degraded(err) {
		return err
	}
	if perr := printRecord(os.Stdout, rec); perr != nil {
		return perr
	}
	// the verdict was printed but not saved
	return err
}

// readTranscript joins args, or reads stdin when there are none.
func readTranscript(args []string, stdin io.Reader, limit int) (string, error) {
	if len(args) > 0 {
		t := strings.Join(args, " ")
		if len(t) > limit {
			return "", fmt.Errorf("transcript is %d bytes, limit is %d", len(t), limit)
		}
		return t, nil
	}

	data, err := io.ReadAll(io.LimitReader(stdin, int64(limit)+1))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if len(data) > limit {
		return "", fmt.Errorf("transcript exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}

func printRecord(w io.Writer, rec triage.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
