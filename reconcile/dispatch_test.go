package reconcile

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

func TestPoolRunsJobs(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 3, Buffer: 8}, nil)

	var wg sync.WaitGroup
	var ran int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		p.Dispatch(func() {
			defer wg.Done()
			atomic.AddInt32(&ran, 1)
		})
	}
	wg.Wait()
	p.Shutdown()

	if got := atomic.LoadInt32(&ran); got != 20 {
		t.Fatalf("expected 20 jobs to run, got %d", got)
	}
}

func TestPoolRunsDetachedWhenSaturated(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p := NewPool(PoolConfig{Workers: 1, Buffer: 0, HandoffTimeout: 50 * time.Millisecond}, logger)
	t.Cleanup(p.Shutdown)

	block := make(chan struct{})
	started := make(chan struct{})
	p.Dispatch(func() {
		close(started)
		<-block
	})
	<-started

	done := make(chan struct{})
	p.Dispatch(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("saturated job was dropped")
	}
	close(block)

	found := false
	for _, e := range hook.AllEntries() {
		if e.Message == "dispatch buffer saturated; running detached" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected saturation warning")
	}
}

func TestPoolRecoversPanickingJob(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p := NewPool(PoolConfig{Workers: 1, Buffer: 1}, logger)

	p.Dispatch(func() { panic("boom") })
	done := make(chan struct{})
	p.Dispatch(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
	p.Shutdown()

	found := false
	for _, e := range hook.AllEntries() {
		if e.Message == "dispatch job panicked: boom" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected panic to be logged")
	}
}

func TestPoolDispatchAfterShutdownRunsDetached(t *testing.T) {
	logger, _ := test.NewNullLogger()
	p := NewPool(PoolConfig{Workers: 1}, logger)
	p.Shutdown()
	p.Shutdown()

	done := make(chan struct{})
	p.Dispatch(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job dispatched after shutdown never ran")
	}
}

func TestPhaseString(t *testing.T) {
	cases := map[Phase]string{
		PhaseIdle:                  "idle",
		PhaseOptimisticallyApplied: "optimistically_applied",
		PhaseAwaitingConfirmation:  "awaiting_confirmation",
		PhaseReconciling:           "reconciling",
		Phase(42):                  "invalid",
	}
	for p, want := range cases {
		if p.String() != want {
			t.Fatalf("%d: got %q want %q", int(p), p.String(), want)
		}
	}
}
