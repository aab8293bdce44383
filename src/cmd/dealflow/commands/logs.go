package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"dealflow/src/internal/config"
	"dealflow/src/internal/logstore"
	"dealflow/src/internal/postgrest"

	"github.com/lixenwraith/log"
	"github.com/spf13/pflag"
)

// LogsCommand reads stored application logs from the backend.
type LogsCommand struct {
	output io.Writer
	errOut io.Writer
	now    func() time.Time

	// Builds the backend reader; replaced in tests
	selector func(cfg *config.Config) (logstore.Selector, error)
}

func NewLogsCommand() *LogsCommand {
	return &LogsCommand{
		output:   os.Stdout,
		errOut:   os.Stderr,
		now:      time.Now,
		selector: backendSelector,
	}
}

func backendSelector(cfg *config.Config) (logstore.Selector, error) {
	return postgrest.New(postgrest.Options{
		URL:     cfg.Backend.URL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: cfg.Backend.Timeout(),
	}, log.NewLogger())
}

func (lc *LogsCommand) Execute(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("logs requires a subcommand: recent, archived or export")
	}
	sub := args[0]

	fs := pflag.NewFlagSet("logs "+sub, pflag.ContinueOnError)
	fs.SetOutput(lc.errOut)
	fs.ParseErrorsWhitelist.UnknownFlags = true

	var (
		configFile = fs.StringP("config", "c", "", "Config file path")
		asJSON     = fs.Bool("json", false, "Print JSON instead of one line per entry (export: write JSON instead of zip)")
		outPath    = fs.StringP("output", "o", "", "Export file path (default: dated archive name)")
		token      = fs.String("token", "", "User access token forwarded to the backend")
	)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	if *configFile != "" {
		os.Setenv("DEALFLOW_CONFIG_FILE", *configFile)
	}
	cfg, err := config.Load(config.OverrideArgs(args[1:]))
	if err != nil {
		return err
	}

	selector, err := lc.selector(cfg)
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}
	store := logstore.NewStore(selector, cfg.Backend.LogsTable, log.NewLogger())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout())
	defer cancel()
	if *token != "" {
		ctx = postgrest.WithAuthorization(ctx, "Bearer "+*token)
	}

	switch sub {
	case "recent":
		logs, err := store.Recent(ctx)
		if err != nil {
			return err
		}
		return lc.print(logs, *asJSON)
	case "archived":
		logs, err := store.Archived(ctx)
		if err != nil {
			return err
		}
		return lc.print(logs, *asJSON)
	case "export":
		logs, err := store.Archived(ctx)
		if err != nil {
			return err
		}
		return lc.export(logs, *outPath, *asJSON)
	default:
		return fmt.Errorf("unknown logs subcommand: %s", sub)
	}
}

func (lc *LogsCommand) print(logs []logstore.AppLog, asJSON bool) error {
	if asJSON {
		return logstore.ExportJSON(lc.output, logs)
	}
	if len(logs) == 0 {
		fmt.Fprintln(lc.output, "No logs found")
		return nil
	}
	for _, entry := range logs {
		fmt.Fprintf(lc.output, "%s [%s] %-8s %s\n",
			entry.CreatedAt.UTC().Format(time.RFC3339),
			strings.ToUpper(entry.Level),
			entry.Source,
			entry.Message)
	}
	return nil
}

func (lc *LogsCommand) export(logs []logstore.AppLog, path string, asJSON bool) error {
	now := lc.now()
	if path == "" {
		path = logstore.ArchiveName(now)
		if !asJSON {
			path = strings.TrimSuffix(path, ".json") + ".zip"
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}

	if asJSON {
		err = logstore.ExportJSON(f, logs)
	} else {
		err = logstore.ExportZip(f, logs, now)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}

	fmt.Fprintf(lc.output, "Exported %d logs to %s\n", len(logs), path)
	return nil
}

func (lc *LogsCommand) Description() string {
	return "Show or export stored application logs"
}

func (lc *LogsCommand) Help() string {
	return `Logs Command - Read stored application logs

Usage:
  dealflow logs recent   [options]   Newest unarchived logs
  dealflow logs archived [options]   Newest archived logs
  dealflow logs export   [options]   Download archived logs as a zip file

Options:
  -c, --config <path>    Config file path
      --json             Print JSON (export: write a JSON file instead of zip)
  -o, --output <path>    Export file path (default: logs-archive-YYYY-MM-DD.zip)
      --token <jwt>      Forward a user access token to the backend

Examples:
  dealflow logs recent
  dealflow logs export -o /tmp/archive.zip
  dealflow logs archived --json --backend.url https://xyz.example.co
`
}
