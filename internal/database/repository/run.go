package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Run is the stored projection of one invocation.
type Run struct {
	ID        string                 `json:"run_id"`
	Mode      string                 `json:"mode"`
	Task      string                 `json:"task"`
	SessionID string                 `json:"session_id,omitempty"`
	Success   bool                   `json:"success"`
	Output    string                 `json:"output"`
	Error     string                 `json:"error,omitempty"`
	Result    map[string]interface{} `json:"result,omitempty"`
	StartedAt time.Time              `json:"started_at"`
	Duration  time.Duration          `json:"duration"`
}

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Save inserts a run or replaces the one with the same ID.
func (r *RunRepository) Save(ctx context.Context, run *Run) error {
	var result []byte
	if run.Result != nil {
		var err error
		result, err = json.Marshal(run.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal run result: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, mode, task, session_id, success, output, error, result, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Mode, run.Task, run.SessionID, run.Success, run.Output, run.Error, string(result),
		run.StartedAt.UTC(), run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// Get returns the run with id, or nil when there is none.
func (r *RunRepository) Get(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, mode, task, session_id, success, output, error, result, started_at, duration_ms
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs, newest first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, mode, task, session_id, success, output, error, result, started_at, duration_ms
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	run := &Run{}
	var task, sessionID, output, errText, result sql.NullString
	var durationMS int64

	err := s.Scan(&run.ID, &run.Mode, &task, &sessionID, &run.Success, &output, &errText, &result, &run.StartedAt, &durationMS)
	if err != nil {
		return nil, err
	}

	run.Task = task.String
	run.SessionID = sessionID.String
	run.Output = output.String
	run.Error = errText.String
	run.Duration = time.Duration(durationMS) * time.Millisecond
	if result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &run.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run result: %w", err)
		}
	}
	return run, nil
}
