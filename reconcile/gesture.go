package reconcile

import (
	"context"
	"sync"

	"taskboard/domain"
)

// Phase is a step of the per-gesture state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOptimisticallyApplied
	PhaseAwaitingConfirmation
	PhaseReconciling
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOptimisticallyApplied:
		return "optimistically_applied"
	case PhaseAwaitingConfirmation:
		return "awaiting_confirmation"
	case PhaseReconciling:
		return "reconciling"
	default:
		return "invalid"
	}
}

// Outcome is how a gesture ended.
type Outcome string

const (
	OutcomePending         Outcome = ""
	OutcomeNoop            Outcome = "noop"
	OutcomeLocal           Outcome = "local"
	OutcomeConfirmed       Outcome = "confirmed"
	OutcomeReconciled      Outcome = "reconciled"
	OutcomeReconcileFailed Outcome = "reconcile_failed"
	OutcomeDiscarded       Outcome = "discarded"
)

// Gesture tracks one drag-and-drop interaction from drop to settlement.
type Gesture struct {
	TaskID string
	From   domain.Status
	To     domain.Status
	Index  int

	mu      sync.Mutex
	phases  []Phase
	outcome Outcome
	err     error
	done    chan struct{}
}

func newGesture(d domain.DragResult) *Gesture {
	g := &Gesture{
		TaskID: d.TaskID,
		From:   d.Source.LaneID,
		To:     d.Source.LaneID,
		Index:  d.Source.Index,
		phases: []Phase{PhaseIdle},
		done:   make(chan struct{}),
	}
	if d.Destination != nil {
		g.To = d.Destination.LaneID
		g.Index = d.Destination.Index
	}
	return g
}

func (g *Gesture) enter(p Phase) {
	g.mu.Lock()
	g.phases = append(g.phases, p)
	g.mu.Unlock()
}

// finish records the outcome and returns the gesture to Idle. Only the first
// call has an effect.
func (g *Gesture) finish(o Outcome, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.outcome != OutcomePending {
		return
	}
	g.outcome = o
	g.err = err
	if g.phases[len(g.phases)-1] != PhaseIdle {
		g.phases = append(g.phases, PhaseIdle)
	}
	close(g.done)
}

// Phases returns the phases the gesture has passed through, starting at Idle.
func (g *Gesture) Phases() []Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Phase(nil), g.phases...)
}

// Outcome returns the settled outcome, or OutcomePending.
func (g *Gesture) Outcome() Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outcome
}

// Err is the remote failure that drove the gesture into reconciliation, if any.
func (g *Gesture) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Done is closed once the gesture has settled.
func (g *Gesture) Done() <-chan struct{} { return g.done }

// Wait blocks until the gesture settles or ctx is done.
func (g *Gesture) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-g.done:
		return g.Outcome(), nil
	case <-ctx.Done():
		return OutcomePending, ctx.Err()
	}
}
