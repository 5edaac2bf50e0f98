package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/rahul/stepwise/internal/recorder"
)

// SQLiteRecorder persists plan execution records so they survive the
// process. It satisfies planning.Recorder.
type SQLiteRecorder struct {
	DB *sql.DB
}

func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; serialise through a single connection.
	db.SetMaxOpenConns(1)

	queries := []string{
		`CREATE TABLE IF NOT EXISTS plan_records (
			plan_id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			user_request TEXT NOT NULL DEFAULT '',
			start_time INTEGER NOT NULL DEFAULT 0,
			end_time INTEGER NOT NULL DEFAULT 0,
			current_step_index INTEGER NOT NULL DEFAULT 0,
			steps TEXT NOT NULL DEFAULT '[]',
			completed INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &SQLiteRecorder{DB: db}, nil
}

func (s *SQLiteRecorder) Close() error {
	return s.DB.Close()
}

// GetOrCreateRecord returns the stored record, inserting an empty row first
// if planID is unknown.
func (s *SQLiteRecorder) GetOrCreateRecord(ctx context.Context, planID string) (*recorder.PlanExecutionRecord, error) {
	if planID == "" {
		return nil, recorder.ErrEmptyPlanID
	}
	if _, err := s.DB.ExecContext(ctx, `INSERT OR IGNORE INTO plan_records (plan_id) VALUES (?)`, planID); err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	rec, err := s.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("record %s vanished after insert", planID)
	}
	return rec, nil
}

// Save upserts record.
func (s *SQLiteRecorder) Save(ctx context.Context, record *recorder.PlanExecutionRecord) error {
	if record == nil || record.PlanID == "" {
		return recorder.ErrEmptyPlanID
	}
	steps, err := json.Marshal(record.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}

	query := `
		INSERT INTO plan_records (plan_id, title, user_request, start_time, end_time, current_step_index, steps, completed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(plan_id) DO UPDATE SET
			title = excluded.title,
			user_request = excluded.user_request,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			current_step_index = excluded.current_step_index,
			steps = excluded.steps,
			completed = excluded.completed,
			updated_at = CURRENT_TIMESTAMP`
	_, err = s.DB.ExecContext(ctx, query,
		record.PlanID,
		record.Title,
		record.UserRequest,
		toUnix(record.StartTime),
		toUnix(record.EndTime),
		record.CurrentStepIndex,
		string(steps),
		record.Completed,
	)
	return err
}

// Get returns the record for planID, or nil if there is none.
func (s *SQLiteRecorder) Get(ctx context.Context, planID string) (*recorder.PlanExecutionRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT plan_id, title, user_request, start_time, end_time, current_step_index, steps, completed
		FROM plan_records WHERE plan_id = ?`, planID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// List returns the most recently updated records.
func (s *SQLiteRecorder) List(ctx context.Context, limit int) ([]*recorder.PlanExecutionRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT plan_id, title, user_request, start_time, end_time, current_step_index, steps, completed
		FROM plan_records ORDER BY updated_at DESC, plan_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*recorder.PlanExecutionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*recorder.PlanExecutionRecord, error) {
	var (
		rec        recorder.PlanExecutionRecord
		start, end int64
		steps      string
		completed  bool
	)
	if err := row.Scan(&rec.PlanID, &rec.Title, &rec.UserRequest, &start, &end, &rec.CurrentStepIndex, &steps, &completed); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(steps), &rec.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps of %s: %w", rec.PlanID, err)
	}
	if rec.Steps == nil {
		rec.Steps = []string{}
	}
	rec.StartTime = fromUnix(start)
	rec.EndTime = fromUnix(end)
	rec.Completed = completed
	return &rec, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
