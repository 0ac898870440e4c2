package domain

import (
	"time"

	"github.com/bytedance/sonic"
)

// Status is the lifecycle state of a task. Lane IDs use the same values.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusOnHold     Status = "on-hold"

	// StatusUnknown identifies the overflow lane holding tasks whose
	// server-reported status is not one of the known values.
	StatusUnknown Status = "unknown"
)

// KnownStatuses lists the statuses that can be assigned to a task, in lane order.
var KnownStatuses = []Status{StatusPending, StatusInProgress, StatusCompleted, StatusOnHold}

// Known reports whether s is a status a task can be moved to.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusOnHold:
		return true
	}
	return false
}

// Title is the display title of the lane for s.
func (s Status) Title() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusInProgress:
		return "In Progress"
	case StatusCompleted:
		return "Completed"
	case StatusOnHold:
		return "On Hold"
	default:
		return "Unknown"
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// UserRef references the user a task is assigned to.
type UserRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// ProjectRef references the project a task belongs to.
type ProjectRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Task is a unit of work as reported by the task service.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	DueDate     Date       `json:"dueDate"`
	Assignee    UserRef    `json:"assignee"`
	Project     ProjectRef `json:"project"`
}

const dateLayout = "2006-01-02"

// Date is a calendar date encoded as YYYY-MM-DD. The zero value encodes as null.
type Date struct {
	time.Time
}

// NewDate returns the calendar date year-month-day in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return sonic.Marshal(d.Format(dateLayout))
}

// UnmarshalJSON accepts YYYY-MM-DD, full RFC 3339 timestamps and null.
func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var raw string
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDate parses the wire forms accepted by Date.
func ParseDate(raw string) (Date, error) {
	if raw == "" {
		return Date{}, nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return Date{t}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return Date{}, err
	}
	y, m, dd := t.Date()
	return NewDate(y, m, dd), nil
}
