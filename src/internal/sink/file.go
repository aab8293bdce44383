package sink

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"dealflow/src/internal/core"
	"dealflow/src/internal/format"

	"github.com/lixenwraith/log"
)

// FileOptions configures a FileSink.
type FileOptions struct {
	Directory      string
	Name           string
	MaxSizeMB      int64
	MaxTotalSizeMB int64
	RetentionHours float64
}

// FileSink appends rows as JSON lines to rotating local files.
type FileSink struct {
	writer    *log.Logger // Internal logger instance for file writing
	logger    *log.Logger // Application logger
	formatter *format.JSONFormatter

	// Statistics
	totalRows    atomic.Uint64
	totalBatches atomic.Uint64
	lastBatch    atomic.Value // time.Time
}

// NewFileSink creates and starts a file sink.
func NewFileSink(opts FileOptions, logger *log.Logger) (*FileSink, error) {
	directory := opts.Directory
	if directory == "" {
		directory = "./"
		logger.Warn("msg", "No directory provided for file sink, current directory will be used",
			"component", "file_sink")
	}

	name := opts.Name
	if name == "" {
		name = core.LogsTable
	}

	writerConfig := log.DefaultConfig()
	writerConfig.Directory = directory
	writerConfig.Name = name
	writerConfig.EnableConsole = false // File only
	writerConfig.ShowTimestamp = false // Rows carry created_at
	writerConfig.ShowLevel = false     // Rows carry level

	if opts.MaxSizeMB > 0 {
		writerConfig.MaxSizeKB = opts.MaxSizeMB * 1000
	}
	if opts.MaxTotalSizeMB >= 0 {
		writerConfig.MaxTotalSizeKB = opts.MaxTotalSizeMB * 1000
	}
	if opts.RetentionHours > 0 {
		writerConfig.RetentionPeriodHrs = opts.RetentionHours
	}

	writer := log.NewLogger()
	if err := writer.ApplyConfig(writerConfig); err != nil {
		return nil, fmt.Errorf("failed to initialize file writer: %w", err)
	}
	if err := writer.Start(); err != nil {
		return nil, fmt.Errorf("failed to start file writer: %w", err)
	}

	fs := &FileSink{
		writer:    writer,
		logger:    logger,
		formatter: format.NewJSONFormatter(false, logger),
	}
	fs.lastBatch.Store(time.Time{})

	logger.Info("msg", "File sink started",
		"component", "file_sink",
		"directory", directory,
		"name", name)
	return fs, nil
}

func (fs *FileSink) Name() string {
	return "file"
}

// Insert hands each row to the buffered writer. Rows that fail to encode
// fail the batch.
func (fs *FileSink) Insert(ctx context.Context, rows []core.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		formatted, err := fs.formatter.Format(row)
		if err != nil {
			return err
		}
		// Strip new line, writer adds it
		lines = append(lines, string(bytes.TrimSuffix(formatted, []byte{'\n'})))
	}

	for _, line := range lines {
		fs.writer.Message(line)
	}

	fs.totalBatches.Add(1)
	fs.totalRows.Add(uint64(len(rows)))
	fs.lastBatch.Store(time.Now())
	return nil
}

// Close flushes and stops the writer.
func (fs *FileSink) Close() error {
	if err := fs.writer.Shutdown(2 * time.Second); err != nil {
		fs.logger.Error("msg", "Error shutting down file writer",
			"component", "file_sink",
			"error", err)
		return err
	}
	fs.logger.Info("msg", "File sink stopped", "component", "file_sink")
	return nil
}

func (fs *FileSink) GetStats() Stats {
	last, _ := fs.lastBatch.Load().(time.Time)
	return Stats{
		Type:         "file",
		TotalRows:    fs.totalRows.Load(),
		TotalBatches: fs.totalBatches.Load(),
		LastBatch:    last,
		Details:      map[string]any{},
	}
}
