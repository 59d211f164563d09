package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"ramp/internal/models"
)

type fakeLister struct {
	mu     sync.Mutex
	states []*models.RampState
}

func (f *fakeLister) ListActiveRampStates(ctx context.Context) ([]*models.RampState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.RampState, len(f.states))
	copy(out, f.states)
	return out, nil
}

type fakeAdvancer struct {
	mu      sync.Mutex
	calls   map[string]int
	block   chan struct{} // when set, Advance waits on it
	started chan string
}

func newFakeAdvancer() *fakeAdvancer {
	return &fakeAdvancer{
		calls:   make(map[string]int),
		started: make(chan string, 100),
	}
}

func (f *fakeAdvancer) Advance(ctx context.Context, rampID string) error {
	f.mu.Lock()
	f.calls[rampID]++
	block := f.block
	f.mu.Unlock()

	f.started <- rampID
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	return nil
}

func (f *fakeAdvancer) callCount(rampID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rampID]
}

func TestManagerAdvancesActiveRamps(t *testing.T) {
	lister := &fakeLister{states: []*models.RampState{
		{ID: "ramp-a", Phase: models.PhaseSep10},
		{ID: "ramp-b", Phase: models.PhaseBridgeSwap},
		{ID: "ramp-done", Phase: models.PhaseSuccess},
	}}
	advancer := newFakeAdvancer()

	m := NewManager(lister, advancer, 5*time.Millisecond, zap.NewNop())
	m.Start()
	defer m.Shutdown(time.Second)

	deadline := time.After(time.Second)
	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case id := <-advancer.started:
			seen[id] = true
		case <-deadline:
			t.Fatalf("advances seen: %v", seen)
		}
	}
	if advancer.callCount("ramp-done") != 0 {
		t.Error("terminal ramp was advanced")
	}
}

func TestManagerDoesNotQueueRampTwice(t *testing.T) {
	lister := &fakeLister{states: []*models.RampState{
		{ID: "ramp-slow", Phase: models.PhaseRedeemWait},
	}}
	advancer := newFakeAdvancer()
	advancer.block = make(chan struct{})

	m := NewManager(lister, advancer, 5*time.Millisecond, zap.NewNop())
	m.Start()

	select {
	case <-advancer.started:
	case <-time.After(time.Second):
		t.Fatal("ramp never started")
	}

	// Several poll cycles pass while the first Advance is still running.
	time.Sleep(50 * time.Millisecond)
	if got := advancer.callCount("ramp-slow"); got != 1 {
		t.Errorf("Advance called %d times while in flight, want 1", got)
	}

	close(advancer.block)
	m.Shutdown(time.Second)
}

func TestManagerShutdownIsClean(t *testing.T) {
	lister := &fakeLister{}
	m := NewManager(lister, newFakeAdvancer(), 5*time.Millisecond, zap.NewNop())
	m.Start()

	done := make(chan struct{})
	go func() {
		m.Shutdown(time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}
