package loadsched

import (
	"context"
	"sync"
	"testing"
	"time"
)

const testWait = 5 * time.Second

// recorder collects every delivered event.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) HandleEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) ofKind(k EventKind) []Event {
	var out []Event
	for _, ev := range r.all() {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

// gatedFetcher reports every attempt on started and blocks it until the
// test releases the resource with the attempt's result.
type gatedFetcher struct {
	started chan string

	mu      sync.Mutex
	release map[string]chan error
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{
		started: make(chan string, 64),
		release: make(map[string]chan error),
	}
}

func (g *gatedFetcher) gate(id string) chan error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.release[id]
	if !ok {
		ch = make(chan error, 8)
		g.release[id] = ch
	}
	return ch
}

func (g *gatedFetcher) Fetch(ctx context.Context, r *Resource) (any, error) {
	g.started <- r.ID
	select {
	case err := <-g.gate(r.ID):
		return r.ID, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedFetcher) finish(id string, err error) {
	g.gate(id) <- err
}

func (g *gatedFetcher) expectStart(t *testing.T) string {
	t.Helper()
	select {
	case id := <-g.started:
		return id
	case <-time.After(testWait):
		t.Fatal("timed out waiting for an attempt to start")
		return ""
	}
}

func (g *gatedFetcher) expectNoStart(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case id := <-g.started:
		t.Fatalf("unexpected attempt for %s", id)
	case <-time.After(within):
	}
}

func newTestScheduler(t *testing.T, f Fetcher, opts Options) *Scheduler {
	t.Helper()
	if opts.Retry.BaseDelay == 0 {
		opts.Retry.BaseDelay = time.Millisecond
	}
	s := New(f, opts)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustRegister(t *testing.T, s *Scheduler, rs ...Resource) {
	t.Helper()
	for _, r := range rs {
		if err := s.Register(r); err != nil {
			t.Fatalf("Register(%s): %v", r.ID, err)
		}
	}
}

func waitSummary(t *testing.T, s *Scheduler) Summary {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	sum, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return sum
}

func okFetcher() FetcherFunc {
	return func(ctx context.Context, r *Resource) (any, error) {
		return r.ID, nil
	}
}
