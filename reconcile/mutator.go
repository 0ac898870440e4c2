package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

var (
	// ErrGesturePending is returned for a drag of a task whose previous
	// status change has not settled yet.
	ErrGesturePending = errors.New("task has a status change awaiting confirmation")
	// ErrClosed is returned once the board has been torn down.
	ErrClosed = errors.New("board closed")
)

const defaultCallTimeout = 30 * time.Second

// Option configures a Mutator.
type Option func(*Mutator)

// WithDispatcher sets where remote calls run. Defaults to GoDispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(m *Mutator) {
		if d != nil {
			m.dispatcher = d
		}
	}
}

// WithLogger sets the logger. Defaults to the logrus standard logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Mutator) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithCallTimeout bounds each remote call made on behalf of a gesture.
func WithCallTimeout(d time.Duration) Option {
	return func(m *Mutator) {
		if d > 0 {
			m.callTimeout = d
		}
	}
}

// View is a consistent read of everything a renderer needs.
type View struct {
	Board   domain.Board `json:"lanes"`
	Loading bool         `json:"loading"`
	Notices []Notice     `json:"notices"`
}

// Mutator owns one viewer's board. It applies drag gestures optimistically,
// confirms them with the task service and rebuilds the board from the
// service when a confirmation fails.
//
// All board mutations happen under mu; remote calls never hold it.
type Mutator struct {
	gw          TaskGateway
	assigneeID  string
	dispatcher  Dispatcher
	logger      *log.Logger
	callTimeout time.Duration
	now         func() time.Time

	mu            sync.Mutex
	board         domain.Board
	loading       int
	dispatchedSeq uint64
	appliedSeq    uint64
	movedSeq      uint64
	pending       map[string]*Gesture
	notices       []Notice
	subs          map[chan struct{}]struct{}
	closed        bool
}

// NewMutator creates a mutator for the board of assigneeID. An empty
// assigneeID is the unfiltered manager view. The board starts empty; call
// Load to fetch it.
func NewMutator(gw TaskGateway, assigneeID string, opts ...Option) *Mutator {
	m := &Mutator{
		gw:          gw,
		assigneeID:  assigneeID,
		dispatcher:  GoDispatcher{},
		logger:      log.StandardLogger(),
		callTimeout: defaultCallTimeout,
		now:         time.Now,
		board:       domain.Load(nil),
		pending:     make(map[string]*Gesture),
		subs:        make(map[chan struct{}]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AssigneeID is the viewer scope this board was created for.
func (m *Mutator) AssigneeID() string { return m.assigneeID }

func (m *Mutator) log() *log.Entry {
	return m.logger.WithField("assignee", m.assigneeID)
}

// Load fetches the board. It blocks until the fetch completes and reports
// the fetch error, leaving the previous board in place on failure.
func (m *Mutator) Load(ctx context.Context) error {
	return m.reload(ctx, reloadInitial)
}

// Reload is a user-requested full refresh, for example after a failed
// recovery. It shows as loading and records a notice on failure.
func (m *Mutator) Reload(ctx context.Context) error {
	return m.reload(WithCacheBypass(ctx), reloadRetry)
}

// Refresh is a background resynchronisation. It is invisible to the renderer
// unless the board changes.
func (m *Mutator) Refresh(ctx context.Context) error {
	return m.reload(ctx, reloadRefresh)
}

func (m *Mutator) reload(ctx context.Context, reason string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	seq := m.beginReloadLocked(reason)
	m.mu.Unlock()

	tasks, err := m.gw.ListTasksForAssignee(ctx, m.assigneeID)
	_, ferr := m.finishReload(seq, reason, tasks, err)
	if errors.Is(ferr, ErrClosed) {
		return ferr
	}
	if ferr != nil {
		return fmt.Errorf("list tasks: %w", ferr)
	}
	return nil
}

func (m *Mutator) beginReloadLocked(reason string) uint64 {
	m.dispatchedSeq++
	if reason != reloadRefresh {
		m.loading++
		m.notifyLocked()
	}
	return m.dispatchedSeq
}

// finishReload applies a fetch result. A result older than the last applied
// one is ignored so the board never moves back in time. Background refreshes
// must also not undo optimistic moves: one dispatched before the latest move
// is dropped, and moves still awaiting confirmation are replayed onto the rest.
func (m *Mutator) finishReload(seq uint64, reason string, tasks []domain.Task, fetchErr error) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reason != reloadRefresh {
		m.loading--
		m.notifyLocked()
	}
	if m.closed {
		reloadsTotal.WithLabelValues(reason, reloadDiscarded).Inc()
		return reloadDiscarded, ErrClosed
	}
	if fetchErr != nil {
		reloadsTotal.WithLabelValues(reason, reloadFailed).Inc()
		entry := m.log().WithError(fetchErr).WithField("reason", reason)
		switch reason {
		case reloadRecovery, reloadRetry:
			entry.Error("board reload failed; keeping last known state")
			m.notices = append(m.notices, Notice{
				ID:        uuid.NewString(),
				Message:   RefreshFailedMessage,
				Detail:    fetchErr.Error(),
				CreatedAt: m.now().UTC(),
			})
			m.notifyLocked()
		default:
			entry.Warn("board reload failed")
		}
		return reloadFailed, fetchErr
	}
	if seq <= m.appliedSeq {
		reloadsTotal.WithLabelValues(reason, reloadStale).Inc()
		m.log().WithFields(log.Fields{"seq": seq, "applied": m.appliedSeq}).Debug("ignoring stale board reload")
		return reloadStale, nil
	}
	if reason == reloadRefresh && seq <= m.movedSeq {
		reloadsTotal.WithLabelValues(reason, reloadSuperseded).Inc()
		m.log().WithFields(log.Fields{"seq": seq, "moved": m.movedSeq}).Debug("ignoring refresh started before a move")
		return reloadSuperseded, nil
	}
	m.appliedSeq = seq
	board := domain.Load(tasks)
	if reason == reloadRefresh {
		board = m.replayPendingLocked(board)
	}
	m.board = board
	reloadsTotal.WithLabelValues(reason, reloadApplied).Inc()
	m.notifyLocked()
	return reloadApplied, nil
}

func (m *Mutator) replayPendingLocked(b domain.Board) domain.Board {
	for id, g := range m.pending {
		lane, _, ok := b.Locate(id)
		if !ok || lane == g.To {
			continue
		}
		next, err := b.MoveTask(id, lane, g.To, g.Index)
		if err != nil {
			m.log().WithError(err).WithField("task", id).Debug("pending move not replayed")
			continue
		}
		b = next
	}
	return b
}

// OnDragEnd is the entry point for a finished drag gesture. Inter-lane moves
// are applied to the board before OnDragEnd returns; the status change is
// then confirmed asynchronously. The returned gesture settles once the
// remote side has been dealt with.
func (m *Mutator) OnDragEnd(ctx context.Context, d domain.DragResult) (*Gesture, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	g := newGesture(d)
	if d.IsNoop() {
		m.settle(g, OutcomeNoop, nil)
		return g, nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if _, busy := m.pending[d.TaskID]; busy {
		m.mu.Unlock()
		return nil, ErrGesturePending
	}
	next, err := m.board.MoveTask(d.TaskID, d.Source.LaneID, d.Destination.LaneID, d.Destination.Index)
	if err != nil {
		m.mu.Unlock()
		m.log().WithError(err).WithField("task", d.TaskID).Warn("drag rejected")
		return nil, err
	}

	m.board = next
	if g.From == g.To {
		m.notifyLocked()
		m.mu.Unlock()
		m.settle(g, OutcomeLocal, nil)
		return g, nil
	}
	g.enter(PhaseOptimisticallyApplied)
	m.pending[g.TaskID] = g
	m.movedSeq = m.dispatchedSeq
	m.notifyLocked()
	m.mu.Unlock()

	base := context.WithoutCancel(ctx)
	g.enter(PhaseAwaitingConfirmation)
	m.dispatcher.Dispatch(func() { m.confirm(base, g) })
	return g, nil
}

func (m *Mutator) confirm(base context.Context, g *Gesture) {
	ctx, cancel := context.WithTimeout(base, m.callTimeout)
	err := m.gw.SetTaskStatus(ctx, g.TaskID, g.To)
	cancel()

	if err == nil {
		m.mu.Lock()
		delete(m.pending, g.TaskID)
		closed := m.closed
		m.mu.Unlock()
		if closed {
			m.settle(g, OutcomeDiscarded, nil)
			return
		}
		m.settle(g, OutcomeConfirmed, nil)
		return
	}

	m.log().WithError(err).WithFields(log.Fields{"task": g.TaskID, "status": g.To}).Warn("status change failed; reloading board")

	m.mu.Lock()
	if m.closed {
		delete(m.pending, g.TaskID)
		m.mu.Unlock()
		m.settle(g, OutcomeDiscarded, err)
		return
	}
	seq := m.beginReloadLocked(reloadRecovery)
	m.mu.Unlock()
	g.enter(PhaseReconciling)

	ctx, cancel = context.WithTimeout(WithCacheBypass(base), m.callTimeout)
	tasks, lerr := m.gw.ListTasksForAssignee(ctx, m.assigneeID)
	cancel()
	result, _ := m.finishReload(seq, reloadRecovery, tasks, lerr)

	m.mu.Lock()
	delete(m.pending, g.TaskID)
	m.mu.Unlock()

	switch result {
	case reloadDiscarded:
		m.settle(g, OutcomeDiscarded, err)
	case reloadFailed:
		m.settle(g, OutcomeReconcileFailed, err)
	default:
		m.settle(g, OutcomeReconciled, err)
	}
}

func (m *Mutator) settle(g *Gesture, o Outcome, err error) {
	g.finish(o, err)
	gesturesTotal.WithLabelValues(string(o)).Inc()
}

// Snapshot returns the current board.
func (m *Mutator) Snapshot() domain.Board {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.board
}

// IsLoading reports whether an initial load or recovery reload is in flight.
func (m *Mutator) IsLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading > 0
}

// Notices returns the undismissed notices, oldest first.
func (m *Mutator) Notices() []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notice{}, m.notices...)
}

// View returns board, loading flag and notices read together.
func (m *Mutator) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return View{Board: m.board, Loading: m.loading > 0, Notices: append([]Notice{}, m.notices...)}
}

// Dismiss removes a notice. It reports whether the notice existed.
func (m *Mutator) Dismiss(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.notices {
		if n.ID == id {
			m.notices = append(m.notices[:i:i], m.notices[i+1:]...)
			m.notifyLocked()
			return true
		}
	}
	return false
}

// Subscribe returns a channel that receives a signal after every visible
// change. Signals coalesce. The channel is closed when the board is closed
// or cancel is called.
func (m *Mutator) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.subs[ch] = struct{}{}
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
	}
}

func (m *Mutator) notifyLocked() {
	for ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close tears the board down. In-flight remote calls are not cancelled;
// their results are discarded.
func (m *Mutator) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for ch := range m.subs {
		delete(m.subs, ch)
		close(ch)
	}
}

// Closed reports whether Close has been called.
func (m *Mutator) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
