// incidentctl runs on-demand checks, trends, history, purges and exports
// against the configured incident store.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/incidentd/internal/app"
	"github.com/marcus-qen/incidentd/internal/config"
	"github.com/marcus-qen/incidentd/internal/domains"
	"github.com/marcus-qen/incidentd/internal/incident"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type cliConfig struct {
	configPath string
	domain     string
	scope      string
	hours      int
	limit      int
	all        bool
	days       int
	months     int
	target     string
	verbose    bool
}

func main() {
	cfg, command, err := parseArgs(os.Args[1:])
	if errors.Is(err, errShowUsage) {
		printUsage()
		if len(os.Args) == 1 {
			os.Exit(1)
		}
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	switch command {
	case "version":
		fmt.Printf("incidentctl %s (commit: %s, built: %s)\n", version, commit, date)
		return
	case "help":
		printUsage()
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, command, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var errShowUsage = errors.New("show usage")

var commands = map[string]bool{
	"check": true, "trends": true, "history": true, "purge": true,
	"export": true, "ingest": true, "domains": true, "version": true, "help": true,
}

func parseArgs(args []string) (cliConfig, string, error) {
	cfg := cliConfig{
		configPath: os.Getenv("INCIDENTD_CONFIG"),
		hours:      24,
		limit:      50,
	}
	if len(args) == 0 {
		return cfg, "", errShowUsage
	}

	command := ""
	for idx := 0; idx < len(args); idx++ {
		arg := args[idx]
		if !strings.HasPrefix(arg, "-") {
			if command != "" {
				return cfg, "", fmt.Errorf("unexpected argument: %s", arg)
			}
			if !commands[arg] {
				return cfg, "", fmt.Errorf("unknown command: %s", arg)
			}
			command = arg
			continue
		}

		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		needValue := func() (string, error) {
			if hasValue {
				return value, nil
			}
			if idx+1 >= len(args) {
				return "", fmt.Errorf("--%s requires a value", name)
			}
			idx++
			return args[idx], nil
		}
		needInt := func() (int, error) {
			v, err := needValue()
			if err != nil {
				return 0, err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("--%s: %w", name, err)
			}
			return n, nil
		}

		var err error
		switch name {
		case "help", "h":
			return cfg, "", errShowUsage
		case "config", "c":
			cfg.configPath, err = needValue()
		case "domain", "d":
			cfg.domain, err = needValue()
		case "scope", "s":
			cfg.scope, err = needValue()
		case "target":
			cfg.target, err = needValue()
		case "hours":
			cfg.hours, err = needInt()
		case "limit":
			cfg.limit, err = needInt()
		case "days":
			cfg.days, err = needInt()
		case "months":
			cfg.months, err = needInt()
		case "all":
			cfg.all = true
		case "verbose", "v":
			cfg.verbose = true
		default:
			return cfg, "", fmt.Errorf("unknown flag: %s", arg)
		}
		if err != nil {
			return cfg, "", err
		}
	}

	if command == "" {
		return cfg, "", errShowUsage
	}
	if cfg.domain == "" && command != "version" && command != "help" && command != "domains" {
		return cfg, "", fmt.Errorf("%s requires --domain", command)
	}
	return cfg, command, nil
}

// purgePolicy returns the command-line override, or nil for the configured
// policy.
func (c cliConfig) purgePolicy() *incident.RetentionPolicy {
	if c.days == 0 && c.months == 0 {
		return nil
	}
	return &incident.RetentionPolicy{Days: c.days, Months: c.months, Target: incident.RetentionTarget(c.target)}
}

func run(ctx context.Context, cli cliConfig, command string, in io.Reader, out io.Writer) error {
	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := zap.NewNop()
	if cli.verbose {
		if logger, err = app.NewLogger("debug"); err != nil {
			return err
		}
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if command == "domains" {
		return printJSON(out, a.Registry.Names())
	}
	svc, err := a.Registry.Get(cli.domain)
	if err != nil {
		return err
	}
	return runDomain(ctx, a, svc, cli, command, in, out)
}

func runDomain(ctx context.Context, a *app.App, svc *domains.Service, cli cliConfig, command string, in io.Reader, out io.Writer) error {
	switch command {
	case "check":
		if cli.all {
			results, err := svc.CheckAll(ctx)
			if err != nil && len(results) == 0 {
				return err
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
			return printJSON(out, results)
		}
		res, err := svc.CheckAlerts(ctx, cli.scope)
		if err != nil {
			return err
		}
		return printJSON(out, res)

	case "trends":
		points, err := svc.Trends(ctx, cli.scope, cli.hours)
		if err != nil {
			return err
		}
		return printJSON(out, points)

	case "history":
		var since time.Time
		if cli.hours > 0 {
			since = time.Now().UTC().Add(-time.Duration(cli.hours) * time.Hour)
		}
		runs, err := svc.History(ctx, cli.scope, since, cli.limit)
		if err != nil {
			return err
		}
		return printJSON(out, runs)

	case "purge":
		res, err := svc.PurgeRetention(ctx, cli.purgePolicy(), cli.scope)
		if err != nil {
			return err
		}
		return printJSON(out, res)

	case "export":
		res, err := svc.ExportData(ctx, cli.scope, cli.all)
		if err != nil {
			return err
		}
		return printJSON(out, res)

	case "ingest":
		n, err := ingest(ctx, a, svc.Name(), cli.scope, in)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]int{"ingested": n})
	}
	return fmt.Errorf("unknown command: %s", command)
}

// ingest reads one JSON sample per line. Domain is forced; scope defaults to
// the --scope flag.
func ingest(ctx context.Context, a *app.App, domain, scope string, in io.Reader) (int, error) {
	var batch []incident.Sample
	scanner := bufio.NewScanner(in)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var s incident.Sample
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return 0, fmt.Errorf("line %d: %w", line, err)
		}
		s.Domain = domain
		if s.ScopeID == "" {
			s.ScopeID = scope
		}
		if s.Timestamp.IsZero() {
			s.Timestamp = time.Now().UTC()
		}
		if s.Outcome != incident.OutcomeSuccess && s.Outcome != incident.OutcomeError {
			return 0, fmt.Errorf("line %d: outcome must be success or error", line)
		}
		batch = append(batch, s)
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := a.Store.AppendSamples(ctx, batch); err != nil {
		return 0, err
	}
	return len(batch), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `incidentctl - operate the incident-alerting engine

Usage:
  incidentctl [flags] <command>

Commands:
  check      Evaluate one scope (--scope) or the domain; --all runs the scheduled evaluation
  trends     Zero-filled trend points for --hours (default 24)
  history    Past evaluations, newest first (--hours, --limit)
  purge      Purge with the configured policy, or --days/--months [--target samples|runs|all]
  export     JSON snapshot for --scope; --all exports the whole domain
  ingest     Append samples read as JSON lines from stdin
  domains    List configured domains
  version    Show version

Flags:
  --config, -c <path>    Config file (env: INCIDENTD_CONFIG)
  --domain, -d <name>    Domain to operate on
  --scope, -s <id>       Scope id
  --hours <n>            Time range in hours
  --limit <n>            History row limit (default 50)
  --days <n>             Retention override in days
  --months <n>           Retention override in calendar months
  --target <entity>      Retention target
  --all                  Domain-wide check or privileged export
  --verbose, -v          Debug logging to stderr
`)
}
