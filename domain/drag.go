package domain

import "fmt"

// LanePosition is a position within a lane.
type LanePosition struct {
	LaneID Status `json:"laneId"`
	Index  int    `json:"index"`
}

// DragResult is the payload of a finished drag gesture. Destination is nil
// when the task was dropped outside any lane.
type DragResult struct {
	TaskID      string        `json:"taskId"`
	Source      LanePosition  `json:"source"`
	Destination *LanePosition `json:"destination,omitempty"`
}

// Validate checks the payload shape. It does not consult a board.
func (d DragResult) Validate() error {
	if d.TaskID == "" {
		return fmt.Errorf("%w: missing task id", ErrInvalidDrag)
	}
	if laneIndex(d.Source.LaneID) < 0 {
		return fmt.Errorf("%w: unknown source lane %q", ErrInvalidDrag, d.Source.LaneID)
	}
	if d.Source.Index < 0 {
		return fmt.Errorf("%w: negative source index", ErrInvalidDrag)
	}
	if d.Destination == nil {
		return nil
	}
	if laneIndex(d.Destination.LaneID) < 0 {
		return fmt.Errorf("%w: unknown destination lane %q", ErrInvalidDrag, d.Destination.LaneID)
	}
	if d.Destination.Index < 0 {
		return fmt.Errorf("%w: negative destination index", ErrInvalidDrag)
	}
	return nil
}

// IsNoop reports a cancelled drag or a drop at the starting position.
func (d DragResult) IsNoop() bool {
	return d.Destination == nil || *d.Destination == d.Source
}
