package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"dealflow/src/internal/applog"
	"dealflow/src/internal/clock"
	"dealflow/src/internal/config"
	"dealflow/src/internal/core"
	"dealflow/src/internal/deals"
	"dealflow/src/internal/filter"
	"dealflow/src/internal/identity"
	"dealflow/src/internal/ingest"
	"dealflow/src/internal/logstore"
	"dealflow/src/internal/postgrest"
	"dealflow/src/internal/ratelimit"
	"dealflow/src/internal/server"
	"dealflow/src/internal/sink"
	"dealflow/src/internal/version"

	"github.com/lixenwraith/log"
)

// Service owns every long-lived component of a running process.
type Service struct {
	Pipeline *applog.Logger

	server   *server.Server
	tcp      *ingest.TCPServer
	fileSink *sink.FileSink
}

// bootstrapService wires the backend client, sinks, log pipeline, HTTP
// server and TCP relay from cfg and starts the listeners.
func bootstrapService(cfg *config.Config, quiet bool) (*Service, error) {
	client, err := postgrest.New(postgrest.Options{
		URL:     cfg.Backend.URL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: cfg.Backend.Timeout(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	svc := &Service{}

	var logSink sink.Sink
	restSink, err := sink.NewRESTSink(client, cfg.Backend.LogsTable, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create log sink: %w", err)
	}
	logSink = restSink

	if cfg.FileSink.Enabled {
		svc.fileSink, err = sink.NewFileSink(sink.FileOptions{
			Directory:      cfg.FileSink.Directory,
			Name:           cfg.FileSink.Name,
			MaxSizeMB:      cfg.FileSink.MaxSizeMB,
			MaxTotalSizeMB: cfg.FileSink.MaxTotalSizeMB,
			RetentionHours: cfg.FileSink.RetentionHours,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create file sink: %w", err)
		}
		logSink = sink.NewFanout(restSink, logger, svc.fileSink)
	}

	pipelineOpts, err := pipelineOptions(cfg, quiet)
	if err != nil {
		return nil, err
	}
	filters, err := filter.NewChain(cfg.Pipeline.Filters, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create log filters: %w", err)
	}
	if filters != nil {
		pipelineOpts.Filter = filters
	}
	svc.Pipeline = applog.New(logSink, pipelineOpts, logger)

	if cfg.Server.Enabled {
		if err := svc.startServer(cfg, client); err != nil {
			svc.Shutdown(context.Background())
			return nil, err
		}
	}

	if cfg.Ingest.TCP.Enabled {
		svc.tcp, err = ingest.NewTCPServer(svc.Pipeline, ingest.TCPOptions{
			Host:          cfg.Ingest.TCP.Host,
			Port:          cfg.Ingest.TCP.Port,
			APIKeyHash:    cfg.Ingest.APIKeyHash,
			DefaultSource: cfg.Ingest.DefaultSource,
			MaxLineLength: int(cfg.Ingest.TCP.MaxLineLength),
		}, logger)
		if err == nil {
			err = svc.tcp.Start()
		}
		if err != nil {
			svc.tcp = nil
			svc.Shutdown(context.Background())
			return nil, fmt.Errorf("failed to start TCP ingest: %w", err)
		}
	}

	displayEndpoints(cfg)

	logger.Info("msg", "dealflow started",
		"version", version.Short(),
		"session_id", svc.Pipeline.SessionID(),
		"sink", logSink.Name(),
		"server", cfg.Server.Enabled,
		"tcp_ingest", cfg.Ingest.TCP.Enabled)

	return svc, nil
}

// displayEndpoints prints where the service can be reached.
func displayEndpoints(cfg *config.Config) {
	if cfg.Server.Enabled {
		base := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
		term.banner("Deals API:       %s/deals\n", base)
		if cfg.Ingest.HTTP.Enabled {
			term.banner("Log ingest:      POST %s/logs\n", base)
		}
		term.banner("Stored logs:     %s/logs/recent, %s/logs/archived, %s/logs/archive.zip\n", base, base, base)
		term.banner("Health:          %s/healthz\n", base)
	}
	if cfg.Ingest.TCP.Enabled {
		term.banner("TCP log ingest:  %s:%d\n", cfg.Ingest.TCP.Host, cfg.Ingest.TCP.Port)
	}
}

func (s *Service) startServer(cfg *config.Config, client *postgrest.Client) error {
	handlers := server.Handlers{
		Deals: deals.NewHandler(deals.NewRESTStore(client), cfg.Backend.Timeout(), logger),
		Logs:  logstore.NewStore(client, cfg.Backend.LogsTable, logger),
	}

	if cfg.Ingest.HTTP.Enabled {
		relay, err := ingest.NewHTTPHandler(s.Pipeline, ingest.HTTPOptions{
			APIKeyHash:    cfg.Ingest.APIKeyHash,
			DefaultSource: cfg.Ingest.DefaultSource,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create HTTP ingest: %w", err)
		}
		handlers.Ingest = relay
	}

	if cfg.Identity.JWTSecret != "" {
		verifier, err := identity.NewVerifier(identity.Options{
			Secret:   cfg.Identity.JWTSecret,
			Issuer:   cfg.Identity.Issuer,
			Audience: cfg.Identity.Audience,
		})
		if err != nil {
			return fmt.Errorf("failed to create identity verifier: %w", err)
		}
		handlers.Verifier = verifier
	}

	if cfg.RateLimit.Enabled {
		handlers.Limiter = ratelimit.New(ratelimit.Options{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             int(cfg.RateLimit.Burst),
			CleanupInterval:   time.Duration(cfg.RateLimit.CleanupIntervalS) * time.Second,
			TrustProxy:        cfg.RateLimit.TrustProxy,
			Go:                s.Pipeline.Go,
		}, logger)
	}

	s.server = server.New(server.Options{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		ReadTimeout:        time.Duration(cfg.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:       time.Duration(cfg.Server.WriteTimeoutMS) * time.Millisecond,
		MaxRequestBodySize: int(cfg.Server.MaxRequestBodySize),
		QueryTimeout:       cfg.Backend.Timeout(),
	}, handlers, s.Pipeline, logger)

	if err := s.server.Start(); err != nil {
		s.server = nil
		handlers.Limiter.Stop()
		return err
	}
	return nil
}

// Shutdown stops the listeners, then drains the log pipeline until ctx
// ends.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.server != nil {
		s.server.Stop()
	}
	if s.tcp != nil {
		s.tcp.Stop()
	}

	var err error
	if s.Pipeline != nil {
		if err = s.Pipeline.Close(ctx); err != nil {
			logger.Error("msg", "Log pipeline closed with undelivered entries",
				"component", "main",
				"error", err)
		}
		stats := s.Pipeline.Stats()
		logger.Info("msg", "Log pipeline closed",
			"component", "main",
			"delivered", stats.TotalDelivered,
			"dropped", stats.TotalDropped,
			"failed_flushes", stats.FailedFlushes,
			"abandoned_inserts", stats.AbandonedInserts)
	}

	if s.fileSink != nil {
		s.fileSink.Close()
	}
	return err
}

func pipelineOptions(cfg *config.Config, quiet bool) (applog.Options, error) {
	level, err := core.ParseLevel(cfg.Pipeline.MinLevel)
	if err != nil {
		return applog.Options{}, err
	}

	opts := applog.Options{
		MinLevel:      level,
		BatchSize:     int(cfg.Pipeline.BatchSize),
		FlushInterval: cfg.Pipeline.FlushInterval(),
		SinkTimeout:   cfg.Pipeline.SinkTimeout(),
		MaxRetryDelay: cfg.Pipeline.MaxRetryDelay(),
		MaxAttempts:   int(cfg.Pipeline.MaxAttempts),
		Source:        cfg.Pipeline.Source,
		UserAgent:     version.UserAgent(),
		Clock:         clock.Real(),
	}
	if hostname, err := os.Hostname(); err == nil {
		opts.URL = "host://" + hostname
	}
	if cfg.Pipeline.Mirror && !quiet {
		opts.Mirror = os.Stderr
	}
	return opts, nil
}

// initializeLogger configures the service's own diagnostic logger from the
// [logging] section.
func initializeLogger(cfg *config.Config, quiet bool) error {
	logger = log.NewLogger()
	logConfig := log.DefaultConfig()

	if quiet {
		logConfig.EnableConsole = false
		logConfig.EnableFile = false
		return startLogger(logConfig)
	}

	level, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logConfig.Level = level
	if cfg.Logging.Format != "" {
		logConfig.Format = cfg.Logging.Format
	}

	logConfig.EnableConsole = cfg.Logging.WritesConsole()
	if logConfig.EnableConsole {
		logConfig.ConsoleTarget = cfg.Logging.ConsoleTarget()
	}
	logConfig.EnableFile = cfg.Logging.WritesFile()
	if logConfig.EnableFile {
		logConfig.Directory = cfg.Logging.Dir
		logConfig.Name = cfg.Logging.FileName
		logConfig.MaxSizeKB = cfg.Logging.RotateMB * 1000
		logConfig.MaxTotalSizeKB = cfg.Logging.KeepMB * 1000
		logConfig.RetentionPeriodHrs = cfg.Logging.KeepHours
	}

	return startLogger(logConfig)
}

func startLogger(logConfig *log.Config) error {
	if err := logger.ApplyConfig(logConfig); err != nil {
		return err
	}
	return logger.Start()
}

func parseLogLevel(level string) (int64, error) {
	switch strings.ToLower(level) {
	case "debug":
		return int64(log.LevelDebug), nil
	case "info":
		return int64(log.LevelInfo), nil
	case "warn", "warning":
		return int64(log.LevelWarn), nil
	case "error":
		return int64(log.LevelError), nil
	default:
		return 0, fmt.Errorf("unknown log level: %s", level)
	}
}
