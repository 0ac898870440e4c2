package api

import (
	"context"
	"errors"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"taskboard/reconcile"
)

const (
	defaultSessionIdleTTL = 10 * time.Minute
	defaultLoadTimeout    = 15 * time.Second
)

var sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "taskboard_sessions_active",
	Help: "Boards currently held in memory",
})

// SessionConfig tunes a Sessions registry.
type SessionConfig struct {
	// IdleTTL is how long a board survives without requests or open streams.
	IdleTTL     time.Duration
	LoadTimeout time.Duration
	// MutatorOptions are passed to every board created.
	MutatorOptions []reconcile.Option
}

type session struct {
	viewerID   string
	assigneeID string
	mutator    *reconcile.Mutator
}

// Sessions holds one board per viewer and assignee scope. A board that sees
// no traffic for IdleTTL is evicted and closed, which discards any responses
// still in flight for it.
type Sessions struct {
	gw     reconcile.TaskGateway
	cfg    SessionConfig
	logger *log.Logger
	items  *cache.Cache

	mu sync.Mutex
}

// NewSessions creates a registry whose boards read from gw.
func NewSessions(gw reconcile.TaskGateway, cfg SessionConfig, logger *log.Logger) *Sessions {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultSessionIdleTTL
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	cleanup := cfg.IdleTTL / 2
	if cleanup < time.Second {
		cleanup = time.Second
	}
	s := &Sessions{gw: gw, cfg: cfg, logger: logger, items: cache.New(cfg.IdleTTL, cleanup)}
	s.items.OnEvicted(func(key string, value any) {
		sess := value.(*session)
		sess.mutator.Close()
		sessionsActive.Dec()
		s.logger.WithFields(log.Fields{"viewer": sess.viewerID, "assignee": sess.assigneeID}).Debug("board session closed")
	})
	return s
}

func sessionKey(viewerID, assigneeID string) string {
	return viewerID + "\x1f" + assigneeID
}

// Get returns the live board of viewerID for assigneeID, creating and loading
// it on first use. A board whose first load fails is not kept.
func (s *Sessions) Get(ctx context.Context, viewerID, assigneeID string) (*reconcile.Mutator, error) {
	key := sessionKey(viewerID, assigneeID)
	if m := s.lookup(key); m != nil {
		return m, nil
	}

	opts := append([]reconcile.Option{reconcile.WithLogger(s.logger)}, s.cfg.MutatorOptions...)
	m := reconcile.NewMutator(s.gw, assigneeID, opts...)
	loadCtx, cancel := context.WithTimeout(ctx, s.cfg.LoadTimeout)
	err := m.Load(loadCtx)
	cancel()
	if err != nil {
		m.Close()
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// An expired entry would otherwise be overwritten without being closed.
	s.items.DeleteExpired()
	if existing, ok := s.items.Get(key); ok {
		// Lost a creation race; keep the board other requests already hold.
		m.Close()
		return existing.(*session).mutator, nil
	}
	s.items.SetDefault(key, &session{viewerID: viewerID, assigneeID: assigneeID, mutator: m})
	sessionsActive.Inc()
	s.logger.WithFields(log.Fields{"viewer": viewerID, "assignee": assigneeID}).Debug("board session opened")
	return m, nil
}

// lookup returns a live board and renews its idle deadline.
func (s *Sessions) lookup(key string) *reconcile.Mutator {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items.Get(key)
	if !ok {
		return nil
	}
	sess := v.(*session)
	if sess.mutator.Closed() {
		s.items.Delete(key)
		return nil
	}
	s.items.SetDefault(key, sess)
	return sess.mutator
}

// Touch renews the idle deadline of a board, if it is still live.
func (s *Sessions) Touch(viewerID, assigneeID string) {
	_ = s.lookup(sessionKey(viewerID, assigneeID))
}

// Matching returns the live boards that show tasks of assigneeID: boards
// scoped to that assignee and the unfiltered manager boards.
func (s *Sessions) Matching(assigneeID string) []*reconcile.Mutator {
	var out []*reconcile.Mutator
	for _, item := range s.items.Items() {
		sess := item.Object.(*session)
		if sess.assigneeID == assigneeID || sess.assigneeID == "" {
			out = append(out, sess.mutator)
		}
	}
	return out
}

// All returns every live board.
func (s *Sessions) All() []*reconcile.Mutator {
	items := s.items.Items()
	out := make([]*reconcile.Mutator, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(*session).mutator)
	}
	return out
}

// RefreshAll resynchronises every live board in the background path and
// returns how many refreshes failed.
func (s *Sessions) RefreshAll(ctx context.Context) int {
	failed := 0
	for _, m := range s.All() {
		if err := m.Refresh(ctx); err != nil && !errors.Is(err, reconcile.ErrClosed) {
			failed++
		}
	}
	return failed
}

// Len is the number of live boards.
func (s *Sessions) Len() int {
	return s.items.ItemCount()
}

// Close evicts every board.
func (s *Sessions) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.items.Items() {
		s.items.Delete(key)
	}
}
