// Package logstore reads persisted application logs back from the backend
// and exports them as downloadable archives.
package logstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"dealflow/src/internal/core"

	"github.com/klauspost/compress/zip"
	"github.com/lixenwraith/log"
)

const (
	// RecentLimit is the number of unarchived rows the backend keeps visible
	RecentLimit = 3

	// ArchivedLimit bounds a single archive listing
	ArchivedLimit = 100
)

// AppLog is a stored log row as read back from the table.
type AppLog struct {
	ID         string       `json:"id"`
	Level      string       `json:"level"`
	Message    string       `json:"message"`
	Context    core.Context `json:"context"`
	Source     string       `json:"source"`
	UserID     *string      `json:"user_id"`
	SessionID  *string      `json:"session_id"`
	URL        *string      `json:"url"`
	UserAgent  *string      `json:"user_agent"`
	StackTrace *string      `json:"stack_trace"`
	Archived   bool         `json:"archived"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Selector is the part of the backend client used by Store.
type Selector interface {
	Select(ctx context.Context, table string, query url.Values) ([]byte, error)
}

// Store queries the log table.
type Store struct {
	client Selector
	table  string
	logger *log.Logger
}

// NewStore creates a Store over table; an empty table selects app_logs.
func NewStore(client Selector, table string, logger *log.Logger) *Store {
	if table == "" {
		table = core.LogsTable
	}
	return &Store{client: client, table: table, logger: logger}
}

// Recent returns the newest unarchived logs.
func (s *Store) Recent(ctx context.Context) ([]AppLog, error) {
	return s.list(ctx, false, RecentLimit)
}

// Archived returns the newest archived logs.
func (s *Store) Archived(ctx context.Context) ([]AppLog, error) {
	return s.list(ctx, true, ArchivedLimit)
}

func (s *Store) list(ctx context.Context, archived bool, limit int) ([]AppLog, error) {
	query := url.Values{
		"select":   {"*"},
		"archived": {"eq." + strconv.FormatBool(archived)},
		"order":    {"created_at.desc"},
		"limit":    {strconv.Itoa(limit)},
	}

	body, err := s.client.Select(ctx, s.table, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}

	var logs []AppLog
	if err := json.Unmarshal(body, &logs); err != nil {
		return nil, fmt.Errorf("failed to decode logs: %w", err)
	}

	s.logger.Debug("msg", "Logs fetched",
		"component", "logstore",
		"archived", archived,
		"count", len(logs))
	return logs, nil
}

// ArchiveName is the download file name for an export made at now.
func ArchiveName(now time.Time) string {
	return "logs-archive-" + now.Format(time.DateOnly) + ".json"
}

// ExportJSON writes logs as an indented JSON array. A nil slice is written
// as an empty array.
func ExportJSON(w io.Writer, logs []AppLog) error {
	if logs == nil {
		logs = []AppLog{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(logs); err != nil {
		return fmt.Errorf("failed to encode logs: %w", err)
	}
	return nil
}

// ExportZip writes a zip archive holding the JSON export under ArchiveName.
func ExportZip(w io.Writer, logs []AppLog, now time.Time) error {
	zw := zip.NewWriter(w)

	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     ArchiveName(now),
		Method:   zip.Deflate,
		Modified: now,
	})
	if err != nil {
		return fmt.Errorf("failed to create archive entry: %w", err)
	}
	if err := ExportJSON(entry, logs); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}
