package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"dealflow/src/cmd/dealflow/commands"
	"dealflow/src/internal/config"
	"dealflow/src/internal/version"

	"github.com/lixenwraith/log"
)

var logger *log.Logger

func main() {
	router := commands.NewCommandRouter()
	handled, err := router.Route(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if handled {
		os.Exit(0)
	}

	flagCfg, err := ParseFlags(serveArgs(os.Args[1:]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	term.setQuiet(flagCfg.Quiet)

	if flagCfg.ShowVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	if flagCfg.ConfigFile != "" {
		os.Setenv("DEALFLOW_CONFIG_FILE", flagCfg.ConfigFile)
	}

	cfg, err := config.Load(flagCfg.ConfigArgs)
	if err != nil {
		if flagCfg.ConfigFile != "" && strings.Contains(err.Error(), "not found") {
			term.exit(2, "Config file not found: %s\n", flagCfg.ConfigFile)
		}
		term.exit(1, "Failed to load config: %v\n", err)
	}

	if err := initializeLogger(cfg, flagCfg.Quiet); err != nil {
		term.exit(1, "Failed to initialize logger: %v\n", err)
	}
	defer shutdownLogger()

	logger.Info("msg", "dealflow starting",
		"version", version.String(),
		"config_file", config.GetConfigPath(),
		"log_output", cfg.Logging.Output)

	svc, err := bootstrapService(cfg, flagCfg.Quiet)
	if err != nil {
		logger.Error("msg", "Failed to bootstrap service", "error", err)
		shutdownLogger()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if flagCfg.AutoReload {
		reloader := NewReloadManager(config.GetConfigPath(), cfg, svc.Pipeline, logger)
		if err := reloader.Start(ctx); err != nil {
			logger.Warn("msg", "Config hot reload unavailable",
				"error", err)
		} else {
			defer reloader.Shutdown()
		}
	}

	sigHandler := NewSignalHandler(svc, logger)
	defer sigHandler.Stop()

	sig := sigHandler.Handle(ctx)
	logger.Info("msg", "Shutdown signal received, draining log pipeline...",
		"signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		term.warn("Shutdown incomplete: %v\n", err)
		return
	}
	logger.Info("msg", "Shutdown complete")
}

// serveArgs drops an explicit "serve" command word.
func serveArgs(args []string) []string {
	if len(args) > 0 && args[0] == "serve" {
		return args[1:]
	}
	return args
}

func shutdownLogger() {
	if logger != nil {
		if err := logger.Shutdown(2 * time.Second); err != nil {
			term.warn("Logger shutdown error: %v\n", err)
		}
	}
}
