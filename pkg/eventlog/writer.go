// Package eventlog records run progress as daily rotated JSONL files.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"taskpilot/pkg/engine"
	"taskpilot/pkg/logx"
)

// Writer appends status events to events-YYYY-MM-DD.jsonl in a directory.
// It implements engine.StatusSink.
type Writer struct {
	logDir      string
	currentFile *os.File
	currentDate string
	now         func() time.Time
	logger      *logx.Logger
	mu          sync.Mutex
}

// NewWriter creates the log directory and opens today's file.
func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}

	w := &Writer{
		logDir: logDir,
		now:    time.Now,
		logger: logx.NewLogger("eventlog"),
	}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize event log: %w", err)
	}
	return w, nil
}

// Status implements engine.StatusSink. Write failures are logged, never returned to the run.
func (w *Writer) Status(status engine.Status) {
	if err := w.WriteStatus(status); err != nil {
		w.logger.Warn("%v", err)
	}
}

// WriteStatus appends one event as a JSON line.
func (w *Writer) WriteStatus(status engine.Status) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate event log: %w", err)
	}
	if status.Time.IsZero() {
		status.Time = w.now()
	}

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.currentFile.Write(data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

func (w *Writer) rotateIfNeeded() error {
	if w.currentFile == nil && w.currentDate != "" {
		return fmt.Errorf("event log %s is closed", w.logDir)
	}
	date := w.now().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == date {
		return nil
	}

	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close event log: %w", err)
		}
	}

	path := filepath.Join(w.logDir, fileName(date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event log %s: %w", path, err)
	}
	w.currentFile = file
	w.currentDate = date
	return nil
}

// Close syncs and closes the current file. Later writes fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return nil
	}
	syncErr := w.currentFile.Sync()
	closeErr := w.currentFile.Close()
	w.currentFile = nil
	if syncErr != nil {
		return fmt.Errorf("failed to sync event log: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close event log: %w", closeErr)
	}
	return nil
}

// CurrentFile returns the path of the file being written, or "" after Close.
func (w *Writer) CurrentFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return ""
	}
	return filepath.Join(w.logDir, fileName(w.currentDate))
}

func fileName(date string) string {
	return fmt.Sprintf("events-%s.jsonl", date)
}

// ReadEvents parses an event log file. Blank lines are ignored.
func ReadEvents(path string) ([]engine.Status, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer file.Close()

	var events []engine.Status
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var status engine.Status
		if err := json.Unmarshal(scanner.Bytes(), &status); err != nil {
			return nil, fmt.Errorf("%s:%d: failed to parse event: %w", path, line, err)
		}
		events = append(events, status)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	return events, nil
}

// ReadRun returns the events of one run across every file in logDir, oldest first.
func ReadRun(logDir, runID string) ([]engine.Status, error) {
	files, err := ListLogFiles(logDir)
	if err != nil {
		return nil, err
	}
	var events []engine.Status
	for _, f := range files {
		all, err := ReadEvents(f)
		if err != nil {
			return nil, err
		}
		for _, e := range all {
			if e.RunID == runID {
				events = append(events, e)
			}
		}
	}
	return events, nil
}

// ListLogFiles returns the event log files in logDir, oldest first.
func ListLogFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "events-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list event logs: %w", err)
	}
	sort.Strings(files)
	return files, nil
}
