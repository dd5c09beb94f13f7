// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package history archives finished deep-think runs in PostgreSQL so they
// outlive the in-memory task registry.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"deepthink/orchestrator/state"
)

// Run statuses stored in the archive.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Run is one archived run.
type Run struct {
	ID          string               `json:"id"`
	TaskID      string               `json:"task_id,omitempty"`
	Query       string               `json:"query"`
	Status      string               `json:"status"`
	FinalOutput string               `json:"final_output,omitempty"`
	Experts     []state.ExpertResult `json:"experts"`
	Review      *state.ReviewScore   `json:"review,omitempty"`
	Rounds      int                  `json:"rounds"`
	Error       string               `json:"error,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
}

// FromState builds a Run from the final state of a run. errMsg is empty for
// successful runs.
func FromState(taskID string, s *state.AgentState, errMsg string, finished time.Time) Run {
	run := Run{
		ID:          s.RunID,
		TaskID:      taskID,
		Query:       s.Query.Text,
		Status:      StatusCompleted,
		FinalOutput: s.FinalOutput,
		Experts:     s.ExpertResults,
		Review:      s.ReviewScore,
		Rounds:      s.Round,
		Error:       errMsg,
		StartedAt:   s.StartTime,
		FinishedAt:  finished,
	}
	if errMsg != "" {
		run.Status = StatusError
	}
	return run
}

// Archive writes and lists runs.
type Archive struct {
	db *sql.DB
}

// Open connects to databaseURL with the postgres driver and verifies the
// connection.
func Open(ctx context.Context, databaseURL string) (*Archive, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to archive database: %w", err)
	}
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Archive {
	return &Archive{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS deepthink_runs (
	id VARCHAR(64) PRIMARY KEY,
	task_id VARCHAR(64),
	query TEXT NOT NULL,
	status VARCHAR(16) NOT NULL,
	final_output TEXT,
	experts JSONB,
	review JSONB,
	rounds INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deepthink_runs_finished_at ON deepthink_runs(finished_at DESC);
`

// EnsureSchema creates the archive table when missing.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// Record upserts run.
func (a *Archive) Record(ctx context.Context, run Run) error {
	experts, err := json.Marshal(run.Experts)
	if err != nil {
		return fmt.Errorf("failed to marshal experts: %w", err)
	}
	var review []byte
	if run.Review != nil {
		if review, err = json.Marshal(run.Review); err != nil {
			return fmt.Errorf("failed to marshal review: %w", err)
		}
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO deepthink_runs
			(id, task_id, query, status, final_output, experts, review, rounds, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			final_output = EXCLUDED.final_output,
			experts = EXCLUDED.experts,
			review = EXCLUDED.review,
			rounds = EXCLUDED.rounds,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at`,
		run.ID, nullString(run.TaskID), run.Query, run.Status, nullString(run.FinalOutput),
		experts, review, run.Rounds, nullString(run.Error), run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, task_id, query, status, final_output, experts, review, rounds, error, started_at, finished_at
		FROM deepthink_runs
		ORDER BY finished_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			run                    Run
			taskID, output, errMsg sql.NullString
			experts, review        []byte
		)
		if err := rows.Scan(&run.ID, &taskID, &run.Query, &run.Status, &output,
			&experts, &review, &run.Rounds, &errMsg, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.TaskID = taskID.String
		run.FinalOutput = output.String
		run.Error = errMsg.String

		if len(experts) > 0 {
			if err := json.Unmarshal(experts, &run.Experts); err != nil {
				return nil, fmt.Errorf("failed to decode experts for %s: %w", run.ID, err)
			}
		}
		if len(review) > 0 {
			run.Review = &state.ReviewScore{}
			if err := json.Unmarshal(review, run.Review); err != nil {
				return nil, fmt.Errorf("failed to decode review for %s: %w", run.ID, err)
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Ping checks the database connection.
func (a *Archive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close closes the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
