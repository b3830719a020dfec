package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDashboardWarmup rebuilds the cached dashboard of one tenant.
	TaskDashboardWarmup = "dashboard:warmup"
	// TaskNumberingAudit scans recent document numbers for integrity issues.
	TaskNumberingAudit = "documents:numbering_audit"
)

// DashboardWarmupPayload names the tenant whose dashboard is rebuilt.
type DashboardWarmupPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

// NewDashboardWarmupTask constructs an Asynq task.
func NewDashboardWarmupTask(userID uuid.UUID) (*asynq.Task, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("dashboard warmup: user id required")
	}
	data, err := json.Marshal(DashboardWarmupPayload{UserID: userID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDashboardWarmup, data), nil
}

// NumberingAuditPayload bounds the scanned window.
type NumberingAuditPayload struct {
	LookbackDays int `json:"lookback_days"`
}

// NewNumberingAuditTask constructs an Asynq task.
func NewNumberingAuditTask(lookbackDays int) (*asynq.Task, error) {
	data, err := json.Marshal(NumberingAuditPayload{LookbackDays: lookbackDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNumberingAudit, data), nil
}
