package domain

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Lane is an ordered bucket of tasks sharing one status.
type Lane struct {
	ID    Status `json:"id"`
	Title string `json:"title"`
	Tasks []Task `json:"tasks"`
}

// Board groups one viewer's tasks into the fixed set of lanes.
//
// A Board is a value: MoveTask returns a new Board and never modifies the
// receiver, so a snapshot handed to a renderer stays valid after later moves.
type Board struct {
	lanes []Lane
}

// laneOrder is the fixed lane set; the overflow lane is always last.
var laneOrder = append(append([]Status(nil), KnownStatuses...), StatusUnknown)

func laneIndex(id Status) int {
	for i, s := range laneOrder {
		if s == id {
			return i
		}
	}
	return -1
}

// Load partitions tasks by status, preserving input order within each lane.
// Tasks with an unrecognised status land in the overflow lane. When the input
// repeats an ID only the first occurrence is kept.
func Load(tasks []Task) Board {
	lanes := make([]Lane, len(laneOrder))
	for i, s := range laneOrder {
		lanes[i] = Lane{ID: s, Title: s.Title(), Tasks: []Task{}}
	}
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		idx := laneIndex(t.Status)
		if idx < 0 || t.Status == StatusUnknown {
			idx = len(lanes) - 1
		}
		lanes[idx].Tasks = append(lanes[idx].Tasks, t)
	}
	return Board{lanes: lanes}
}

// Lanes returns the lanes in display order. The returned slice is a copy; the
// task slices inside it must be treated as read-only.
func (b Board) Lanes() []Lane {
	if b.lanes == nil {
		return Load(nil).lanes
	}
	out := make([]Lane, len(b.lanes))
	copy(out, b.lanes)
	return out
}

// Lane returns the lane with the given ID.
func (b Board) Lane(id Status) (Lane, bool) {
	idx := laneIndex(id)
	if idx < 0 {
		return Lane{}, false
	}
	if b.lanes == nil {
		return Lane{ID: id, Title: id.Title(), Tasks: []Task{}}, true
	}
	return b.lanes[idx], true
}

// Locate finds the lane and position of a task.
func (b Board) Locate(taskID string) (Status, int, bool) {
	for _, l := range b.lanes {
		for i, t := range l.Tasks {
			if t.ID == taskID {
				return l.ID, i, true
			}
		}
	}
	return "", -1, false
}

// TaskIDs returns every task ID on the board in lane order.
func (b Board) TaskIDs() []string {
	ids := make([]string, 0, b.Len())
	for _, l := range b.lanes {
		for _, t := range l.Tasks {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// Len is the number of tasks on the board.
func (b Board) Len() int {
	n := 0
	for _, l := range b.lanes {
		n += len(l.Tasks)
	}
	return n
}

// MoveTask removes the task from lane from and inserts it into lane to at
// toIndex, setting its status to to. An index past the end of the destination
// appends. Moving a task to the position it already occupies returns b.
func (b Board) MoveTask(taskID string, from, to Status, toIndex int) (Board, error) {
	fromIdx, toIdx := laneIndex(from), laneIndex(to)
	if fromIdx < 0 {
		return b, fmt.Errorf("%w: %s", ErrUnknownLane, from)
	}
	if toIdx < 0 {
		return b, fmt.Errorf("%w: %s", ErrUnknownLane, to)
	}
	if toIndex < 0 {
		return b, fmt.Errorf("%w: %d", ErrInvalidIndex, toIndex)
	}
	if b.lanes == nil {
		b = Load(nil)
	}

	src := b.lanes[fromIdx].Tasks
	pos := -1
	for i, t := range src {
		if t.ID == taskID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return b, &TaskNotFoundError{TaskID: taskID, LaneID: from}
	}
	if from == to {
		if toIndex >= len(src) {
			toIndex = len(src) - 1
		}
		if toIndex == pos {
			return b, nil
		}
	}
	if to == StatusUnknown {
		return b, ErrOverflowDestination
	}

	task := src[pos]
	task.Status = to

	lanes := make([]Lane, len(b.lanes))
	copy(lanes, b.lanes)

	remaining := make([]Task, 0, len(src)-1)
	remaining = append(remaining, src[:pos]...)
	remaining = append(remaining, src[pos+1:]...)
	lanes[fromIdx].Tasks = remaining

	dst := lanes[toIdx].Tasks
	if toIndex > len(dst) {
		toIndex = len(dst)
	}
	inserted := make([]Task, 0, len(dst)+1)
	inserted = append(inserted, dst[:toIndex]...)
	inserted = append(inserted, task)
	inserted = append(inserted, dst[toIndex:]...)
	lanes[toIdx].Tasks = inserted

	return Board{lanes: lanes}, nil
}

// MarshalJSON renders the board as its lane list.
func (b Board) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(b.Lanes())
}

// UnmarshalJSON rebuilds a board from a lane list, regrouping by task status.
func (b *Board) UnmarshalJSON(data []byte) error {
	var lanes []Lane
	if err := sonic.Unmarshal(data, &lanes); err != nil {
		return err
	}
	var tasks []Task
	for _, l := range lanes {
		tasks = append(tasks, l.Tasks...)
	}
	*b = Load(tasks)
	return nil
}
