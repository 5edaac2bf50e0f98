// Package recorder keeps the observable lifecycle state of plan runs.
package recorder

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrEmptyPlanID is returned for records without an identifier.
var ErrEmptyPlanID = errors.New("plan id is required")

// PlanExecutionRecord is the lifecycle state of one plan, keyed by plan id.
type PlanExecutionRecord struct {
	PlanID           string    `json:"plan_id"`
	Title            string    `json:"title"`
	UserRequest      string    `json:"user_request"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time,omitempty"`
	Steps            []string  `json:"steps"`
	CurrentStepIndex int       `json:"current_step_index"`
	Completed        bool      `json:"completed"`
}

// NewRecord returns an empty record for planID.
func NewRecord(planID string) *PlanExecutionRecord {
	return &PlanExecutionRecord{PlanID: planID, Steps: []string{}}
}

// Clone returns a deep copy.
func (r *PlanExecutionRecord) Clone() *PlanExecutionRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Steps = append([]string{}, r.Steps...)
	return &c
}

// MemoryRecorder is a concurrency-safe in-process recorder. Stored records are
// immutable snapshots; callers always receive and hand over copies.
type MemoryRecorder struct {
	records sync.Map // planID -> *PlanExecutionRecord
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// GetOrCreateRecord returns the record for planID, inserting an empty one
// atomically if none exists.
func (m *MemoryRecorder) GetOrCreateRecord(ctx context.Context, planID string) (*PlanExecutionRecord, error) {
	if planID == "" {
		return nil, ErrEmptyPlanID
	}
	v, _ := m.records.LoadOrStore(planID, NewRecord(planID))
	return v.(*PlanExecutionRecord).Clone(), nil
}

// Save replaces the stored record for record.PlanID.
func (m *MemoryRecorder) Save(ctx context.Context, record *PlanExecutionRecord) error {
	if record == nil || record.PlanID == "" {
		return ErrEmptyPlanID
	}
	m.records.Store(record.PlanID, record.Clone())
	return nil
}

// Get returns the record for planID without creating it.
func (m *MemoryRecorder) Get(planID string) (*PlanExecutionRecord, bool) {
	v, ok := m.records.Load(planID)
	if !ok {
		return nil, false
	}
	return v.(*PlanExecutionRecord).Clone(), true
}

// Delete forgets the record for planID.
func (m *MemoryRecorder) Delete(planID string) {
	m.records.Delete(planID)
}
