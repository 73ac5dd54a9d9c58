package engine

import (
	"encoding/json"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbmodel "github.com/trishantpahwa/open-blueberry/internal/db"
)

// Recorder persists the audit trail as the loop produces it. Recording
// failures are logged and never fail the task itself.
type Recorder interface {
	RecordTask(snapshot Snapshot) error
	RecordStep(taskID string, step Step) error
}

type GormRecorder struct {
	db *gorm.DB
}

func NewGormRecorder(db *gorm.DB) (*GormRecorder, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &GormRecorder{db: db}, nil
}

func (r *GormRecorder) RecordTask(snapshot Snapshot) error {
	row := dbmodel.TaskRecord{
		TaskID:         snapshot.ID,
		Goal:           snapshot.Goal,
		Status:         string(snapshot.Status),
		Reason:         snapshot.Reason,
		FinalAnswer:    snapshot.FinalAnswer,
		ConversationID: snapshot.ConversationID,
		StepCount:      len(snapshot.Steps),
		CreatedAt:      snapshot.CreatedAt.Unix(),
	}
	if !snapshot.StartedAt.IsZero() {
		row.StartedAt = snapshot.StartedAt.Unix()
	}
	if !snapshot.EndedAt.IsZero() {
		row.EndedAt = snapshot.EndedAt.Unix()
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (r *GormRecorder) RecordStep(taskID string, step Step) error {
	argsJSON := ""
	if len(step.ToolArgs) > 0 {
		if raw, err := json.Marshal(step.ToolArgs); err == nil {
			argsJSON = string(raw)
		}
	}
	row := dbmodel.StepRecord{
		TaskID:       taskID,
		StepIndex:    step.Index,
		Kind:         string(step.Kind),
		Reasoning:    step.Reasoning,
		ToolName:     step.ToolName,
		ToolArgsJSON: argsJSON,
		Observation:  step.Observation,
		CreatedAt:    step.CreatedAt.Unix(),
	}
	return r.db.Create(&row).Error
}

func (e *Engine) recordTask(t *task) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordTask(t.snapshot()); err != nil {
		e.logger.Warn("task record failed", "task_id", t.id, "error", err)
	}
}

func (e *Engine) recordStep(t *task, step Step) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordStep(t.id, step); err != nil {
		e.logger.Warn("step record failed", "task_id", t.id, "step", step.Index, "error", err)
	}
}
