package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"dealflow/src/internal/config"
	"dealflow/src/internal/core"

	lconfig "github.com/lixenwraith/config"
	"github.com/lixenwraith/log"
)

// reloadTarget is the part of the pipeline the reloader drives. Go runs
// the watch loop with panic capture.
type reloadTarget interface {
	SetMinLevel(core.Level)
	MinLevel() core.Level
	Go(fn func() error)
}

// ReloadManager watches the config file and applies pipeline.min_level
// changes to the running pipeline. Other keys need a restart.
type ReloadManager struct {
	configPath string
	cfg        *config.Config
	pipeline   reloadTarget
	lcfg       *lconfig.Config
	logger     *log.Logger
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

func NewReloadManager(configPath string, cfg *config.Config, pipeline reloadTarget, logger *log.Logger) *ReloadManager {
	return &ReloadManager{
		configPath: configPath,
		cfg:        cfg,
		pipeline:   pipeline,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}
}

// Start begins watching. The config file must exist.
func (rm *ReloadManager) Start(ctx context.Context) error {
	lcfg, err := lconfig.NewBuilder().
		WithFile(rm.configPath).
		WithTarget(rm.cfg).
		WithFileFormat("toml").
		WithSecurityOptions(lconfig.SecurityOptions{
			PreventPathTraversal: true,
			MaxFileSize:          10 * 1024 * 1024,
		}).
		Build()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	rm.lcfg = lcfg

	lcfg.AutoUpdateWithOptions(lconfig.WatchOptions{
		PollInterval:      time.Second,
		Debounce:          500 * time.Millisecond,
		ReloadTimeout:     30 * time.Second,
		VerifyPermissions: true,
	})

	rm.wg.Add(1)
	rm.pipeline.Go(func() error {
		rm.watchLoop(ctx)
		return nil
	})

	rm.logger.Info("msg", "Configuration hot reload enabled",
		"component", "reload",
		"config_file", rm.configPath)
	return nil
}

func (rm *ReloadManager) watchLoop(ctx context.Context) {
	defer rm.wg.Done()

	changeCh := rm.lcfg.Watch()
	for {
		select {
		case <-ctx.Done():
			return
		case <-rm.shutdownCh:
			return
		case changedPath, ok := <-changeCh:
			if !ok {
				return
			}
			rm.handleChange(changedPath)
		}
	}
}

func (rm *ReloadManager) handleChange(changedPath string) {
	switch changedPath {
	case "file_deleted":
		rm.logger.Error("msg", "Configuration file deleted",
			"component", "reload",
			"action", "keeping current configuration")
		return
	case "permissions_changed":
		rm.logger.Error("msg", "Configuration file permissions changed",
			"component", "reload",
			"action", "reload blocked")
		return
	case "reload_timeout":
		rm.logger.Error("msg", "Configuration reload timed out",
			"component", "reload",
			"action", "keeping current configuration")
		return
	}
	if strings.HasPrefix(changedPath, "reload_error:") {
		rm.logger.Error("msg", "Configuration reload error",
			"component", "reload",
			"error", strings.TrimPrefix(changedPath, "reload_error:"),
			"action", "keeping current configuration")
		return
	}

	if changedPath != "pipeline.min_level" {
		rm.logger.Debug("msg", "Config change needs restart to take effect",
			"component", "reload",
			"path", changedPath)
		return
	}

	updated, err := rm.lcfg.AsStruct()
	if err != nil {
		rm.logger.Error("msg", "Failed to read updated config",
			"component", "reload",
			"error", err)
		return
	}
	newCfg, ok := updated.(*config.Config)
	if !ok {
		return
	}
	rm.applyMinLevel(newCfg.Pipeline.MinLevel)
}

// applyMinLevel switches the pipeline threshold. Unparseable values keep
// the current level.
func (rm *ReloadManager) applyMinLevel(raw string) {
	level, err := core.ParseLevel(raw)
	if err != nil {
		rm.logger.Warn("msg", "Ignoring invalid pipeline.min_level",
			"component", "reload",
			"value", raw,
			"error", err)
		return
	}

	previous := rm.pipeline.MinLevel()
	if previous == level {
		return
	}
	rm.pipeline.SetMinLevel(level)
	rm.logger.Info("msg", "Pipeline minimum level changed",
		"component", "reload",
		"from", previous.String(),
		"to", level.String())
}

func (rm *ReloadManager) Shutdown() {
	close(rm.shutdownCh)
	rm.wg.Wait()
	if rm.lcfg != nil {
		rm.lcfg.StopAutoUpdate()
	}
}
