package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound is matched by every *TaskNotFoundError.
	ErrTaskNotFound = errors.New("task not found")
	// ErrUnknownLane is returned when a move names a lane the board does not have.
	ErrUnknownLane = errors.New("unknown lane")
	// ErrInvalidIndex is returned for negative lane positions.
	ErrInvalidIndex = errors.New("invalid lane index")
	// ErrOverflowDestination is returned when a task is dropped on the overflow lane.
	ErrOverflowDestination = errors.New("tasks cannot be moved to the unknown lane")
	// ErrInvalidDrag is returned by DragResult.Validate for a malformed payload.
	ErrInvalidDrag = errors.New("invalid drag result")
)

// TaskNotFoundError reports a move of a task absent from its claimed source lane.
type TaskNotFoundError struct {
	TaskID string
	LaneID Status
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %s not found in lane %s", e.TaskID, e.LaneID)
}

func (e *TaskNotFoundError) Is(target error) bool {
	return target == ErrTaskNotFound
}
