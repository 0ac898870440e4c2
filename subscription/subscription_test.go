package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
	"taskboard/gateway"
	"taskboard/reconcile"
)

type memGateway struct {
	mu    sync.Mutex
	tasks []domain.Task
	lists int
}

func (g *memGateway) ListTasksForAssignee(_ context.Context, assigneeID string) ([]domain.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lists++
	out := []domain.Task{}
	for _, t := range g.tasks {
		if assigneeID == "" || t.Assignee.ID == assigneeID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (g *memGateway) SetTaskStatus(context.Context, string, domain.Status) error { return nil }

func (g *memGateway) add(t domain.Task) {
	g.mu.Lock()
	g.tasks = append(g.tasks, t)
	g.mu.Unlock()
}

type boardList []*reconcile.Mutator

func (b boardList) Matching(assigneeID string) []*reconcile.Mutator {
	var out []*reconcile.Mutator
	for _, m := range b {
		if m.AssigneeID() == assigneeID || m.AssigneeID() == "" {
			out = append(out, m)
		}
	}
	return out
}

type failingInvalidator struct{ calls int }

func (f *failingInvalidator) Invalidate(context.Context, string) error {
	f.calls++
	return errors.New("redis down")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubscribeUpdates(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()
	logger, _ := test.NewNullLogger()

	base := &memGateway{tasks: []domain.Task{
		{ID: "a1", Status: domain.StatusPending, Assignee: domain.UserRef{ID: "alice"}},
		{ID: "b1", Status: domain.StatusPending, Assignee: domain.UserRef{ID: "bob"}},
	}}
	cache := gateway.NewCache(base, rc, time.Minute)
	alice := reconcile.NewMutator(cache, "alice", reconcile.WithLogger(logger))
	bob := reconcile.NewMutator(cache, "bob", reconcile.WithLogger(logger))
	for _, b := range []*reconcile.Mutator{alice, bob} {
		if err := b.Load(context.Background()); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	if !m.Exists("tasks:alice") {
		t.Fatalf("expected alice's tasks to be cached")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		SubscribeUpdates(ctx, logger, rc, "chan", cache, boardList{alice, bob})
		close(done)
	}()
	// wait for subscription to start
	waitFor(t, func() bool { return len(m.PubSubChannels("chan")) == 1 })

	base.add(domain.Task{ID: "a2", Status: domain.StatusOnHold, Assignee: domain.UserRef{ID: "alice"}})
	base.add(domain.Task{ID: "b2", Status: domain.StatusOnHold, Assignee: domain.UserRef{ID: "bob"}})
	if err := rc.Publish(context.Background(), "chan", `{"assigneeId":"alice"}`).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool { return alice.Snapshot().Len() == 2 })
	if bob.Snapshot().Len() != 1 {
		t.Fatalf("bob's board must not be refreshed by alice's update")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SubscribeUpdates did not exit")
	}
}

func TestSubscribeUpdatesIgnoresMalformed(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()
	logger, hook := test.NewNullLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go SubscribeUpdates(ctx, logger, rc, "chan", nil, boardList{})
	waitFor(t, func() bool { return len(m.PubSubChannels("chan")) == 1 })

	if err := rc.Publish(context.Background(), "chan", "not json").Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool {
		entry := hook.LastEntry()
		return entry != nil && entry.Message == "unable to parse update"
	})
}

func TestHandleUpdateRefreshesDespiteCacheFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	base := &memGateway{}
	manager := reconcile.NewMutator(base, "", reconcile.WithLogger(logger))
	if err := manager.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	base.add(domain.Task{ID: "a1", Status: domain.StatusPending, Assignee: domain.UserRef{ID: "alice"}})

	inv := &failingInvalidator{}
	HandleUpdate(context.Background(), logger, Update{AssigneeID: "alice"}, inv, boardList{manager})

	if inv.calls != 1 {
		t.Fatalf("expected one invalidation, got %d", inv.calls)
	}
	if manager.Snapshot().Len() != 1 {
		t.Fatalf("expected manager board to be refreshed")
	}
	found := false
	for _, e := range hook.AllEntries() {
		if e.Message == "invalidate cached tasks" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected invalidation failure to be logged")
	}
}
