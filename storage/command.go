package storage

import "taskboard/domain"

// StatusChangedType is the command type consumed by the task service worker.
const StatusChangedType = "task-status-changed"

// StatusCommand asks the task service to move a task to a new status.
type StatusCommand struct {
	ID             string        `json:"id"`
	IdempotencyKey string        `json:"idempotencyKey"`
	Type           string        `json:"type"`
	TaskID         string        `json:"taskId"`
	Status         domain.Status `json:"status"`
	Timestamp      int64         `json:"timestamp"`
}

// CommandEnvelope wraps a command with the assignee owning the task.
type CommandEnvelope struct {
	AssigneeID string        `json:"assigneeId"`
	Command    StatusCommand `json:"command"`
}
