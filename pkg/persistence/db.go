package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"taskpilot/pkg/logx"
)

// Store owns the history database.
type Store struct {
	db     *sql.DB
	ops    *DatabaseOperations
	logger *logx.Logger
}

// Open opens or creates the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := InitializeDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, ops: NewDatabaseOperations(db), logger: logx.NewLogger("persistence")}
	s.logger.Debug("Database initialized: %s", dbPath)
	return s, nil
}

// Ops returns the operations bound to this store.
func (s *Store) Ops() *DatabaseOperations {
	return s.ops
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// StartRun inserts the run row and returns a recorder that writes the run's commands, model
// calls and final summary. Runs left "running" by a crashed process are marked aborted first.
func (s *Store) StartRun(ctx context.Context, run *Run) (*RunRecorder, error) {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if n, err := s.ops.MarkStaleRuns(ctx, run.StartedAt); err != nil {
		s.logger.Warn("%v", err)
	} else if n > 0 {
		s.logger.Info("Marked %d interrupted run(s) as aborted", n)
	}
	if err := s.ops.InsertRun(ctx, run); err != nil {
		return nil, err
	}
	return newRunRecorder(s.ops, run, s.logger), nil
}
