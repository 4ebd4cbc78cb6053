// Package audit persists approval, hook, and run outcomes as an
// append-only trail.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"drover/internal/agent/ports"
	"drover/internal/logging"
	"drover/internal/utils/id"
)

// FileSink writes audit records as JSON lines into daily files under a
// directory. Writes are synced so records survive a crash.
type FileSink struct {
	dir    string
	logger logging.Logger

	mu          sync.Mutex
	currentFile *os.File
	currentDate string
}

// NewFileSink opens (or creates) the audit directory and the current
// day's file.
func NewFileSink(dir string, logger logging.Logger) (*FileSink, error) {
	if strings.HasPrefix(dir, "~/") {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, dir[2:])
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	sink := &FileSink{dir: dir, logger: logging.OrNop(logger)}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if err := sink.rotateIfNeeded(time.Now()); err != nil {
		return nil, err
	}
	return sink, nil
}

// Append writes one record as a JSON line. Missing IDs and timestamps
// are filled in.
func (s *FileSink) Append(_ context.Context, record ports.AuditRecord) error {
	if record.ID == "" {
		record.ID = id.NewAuditID()
	}
	if record.Time.IsZero() {
		record.Time = time.Now()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rotateIfNeeded(record.Time); err != nil {
		return err
	}
	if _, err := s.currentFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	if err := s.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit file: %w", err)
	}
	return nil
}

// rotateIfNeeded switches to a new daily file. Callers hold s.mu.
func (s *FileSink) rotateIfNeeded(now time.Time) error {
	date := now.Format("2006-01-02")
	if s.currentFile != nil && s.currentDate == date {
		return nil
	}
	if s.currentFile != nil {
		if err := s.currentFile.Close(); err != nil {
			s.logger.Warn("failed to close audit file: %v", err)
		}
	}

	path := filepath.Join(s.dir, fmt.Sprintf("audit-%s.jsonl", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit file %s: %w", path, err)
	}
	s.currentFile = file
	s.currentDate = date
	return nil
}

// CurrentPath returns the path of the active audit file.
func (s *FileSink) CurrentPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentFile == nil {
		return ""
	}
	return s.currentFile.Name()
}

// Close releases the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentFile == nil {
		return nil
	}
	err := s.currentFile.Close()
	s.currentFile = nil
	if err != nil {
		return fmt.Errorf("failed to close audit file: %w", err)
	}
	return nil
}

// nopSink discards every record.
type nopSink struct{}

func (nopSink) Append(context.Context, ports.AuditRecord) error { return nil }

// Nop returns a sink that discards records.
func Nop() ports.AuditSink { return nopSink{} }

// OrNop substitutes a discarding sink for nil.
func OrNop(sink ports.AuditSink) ports.AuditSink {
	if sink == nil {
		return nopSink{}
	}
	return sink
}
