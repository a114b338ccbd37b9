package loadsched

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/warpdl/warpload/pkg/logger"
)

// Fetcher performs a single fetch attempt. The context carries the
// resource's timeout as its deadline; implementations must abort their
// transfer when it is done.
type Fetcher interface {
	Fetch(ctx context.Context, r *Resource) (any, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, r *Resource) (any, error)

// Fetch calls f(ctx, r).
func (f FetcherFunc) Fetch(ctx context.Context, r *Resource) (any, error) {
	return f(ctx, r)
}

// DefaultConcurrency returns the per-class limits used when Options leaves
// a class unset.
func DefaultConcurrency() map[Priority]int {
	return map[Priority]int{
		PriorityHigh:   3,
		PriorityMedium: 2,
		PriorityLow:    1,
	}
}

// Options configures a Scheduler. The zero value is usable.
type Options struct {
	// Concurrency caps in-flight resources per class. Missing or
	// non-positive entries fall back to DefaultConcurrency.
	Concurrency map[Priority]int
	// DefaultTimeout applies to resources registered without a timeout.
	DefaultTimeout time.Duration
	// Retry sets the backoff between attempts.
	Retry RetryPolicy
	// StrictDependencies makes Start fail when Validate reports unknown
	// prerequisites or cycles. Otherwise such resources stall silently.
	StrictDependencies bool
	Logger             logger.Logger
}

// Status is a point-in-time view of a run.
type Status struct {
	Running  bool
	Paused   bool
	Queued   map[Priority][]string
	InFlight []string
	Loaded   []string
	Failed   []string
	// Blocked maps queued ids to the prerequisites they still wait for.
	Blocked  map[string][]string
	Progress Progress
}

type queuedEvent struct {
	ev   Event
	done chan struct{}
}

// Scheduler admits registered resources per priority class, gates them on
// their prerequisites and drives each through bounded retries.
//
// All run state is guarded by mu. Events produced while holding mu are
// queued in outbox and delivered after it is released, so subscribers may
// call back into the scheduler.
type Scheduler struct {
	fetcher Fetcher
	log     logger.Logger
	retry   RetryPolicy
	limits  map[Priority]int
	slots   int
	timeout time.Duration
	strict  bool
	hub     *hub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	resources map[string]*Resource
	order     []string
	queues    map[Priority]*classQueue
	inFlight  map[Priority]int
	states    map[string]resourceState
	attempts  map[string]int
	loaded    []string
	failed    []string
	classes   map[Priority]*ClassStats
	eta       etaEstimator
	paused    bool
	running   bool
	closed    bool
	startedAt time.Time
	summary   *Summary
	done      chan struct{}
	doneSpent bool
	closedCh  chan struct{}

	outbox      []queuedEvent
	dispatching bool
}

// New creates a Scheduler that fetches through f.
func New(f Fetcher, opts Options) *Scheduler {
	l := opts.Logger
	if l == nil {
		l = logger.NewNopLogger()
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DEF_TIMEOUT
	}
	limits := DefaultConcurrency()
	for p, n := range opts.Concurrency {
		if p.valid() && n > 0 {
			limits[p] = n
		}
	}
	slots := 0
	for _, n := range limits {
		slots += n
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		fetcher:   f,
		log:       l,
		retry:     opts.Retry.withDefaults(),
		limits:    limits,
		slots:     slots,
		timeout:   timeout,
		strict:    opts.StrictDependencies,
		hub:       &hub{log: l},
		ctx:       ctx,
		cancel:    cancel,
		resources: make(map[string]*Resource),
		queues:    make(map[Priority]*classQueue, len(admissionOrder)),
		inFlight:  make(map[Priority]int, len(admissionOrder)),
		states:    make(map[string]resourceState),
		attempts:  make(map[string]int),
		classes:   make(map[Priority]*ClassStats, len(admissionOrder)),
		done:      make(chan struct{}),
		closedCh:  make(chan struct{}),
	}
	for _, p := range admissionOrder {
		s.queues[p] = &classQueue{}
		s.classes[p] = &ClassStats{}
	}
	return s
}

// Limit returns the concurrency limit of class p.
func (s *Scheduler) Limit(p Priority) int {
	return s.limits[p]
}

// On subscribes sub to events of the given kind.
func (s *Scheduler) On(kind EventKind, sub Subscriber) {
	if sub == nil {
		return
	}
	s.hub.add(subscription{kind: kind, sub: sub})
}

// Subscribe subscribes sub to every event kind.
func (s *Scheduler) Subscribe(sub Subscriber) {
	if sub == nil {
		return
	}
	s.hub.add(subscription{all: true, sub: sub})
}

// Register queues r. It may be called before or during a run; a resource
// registered into a running, unpaused run is offered a slot immediately.
func (s *Scheduler) Register(r Resource) error {
	nr, err := r.normalize(s.timeout)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if _, dup := s.resources[nr.ID]; dup {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDuplicateID, nr.ID)
	}
	s.resources[nr.ID] = nr
	s.order = append(s.order, nr.ID)
	s.states[nr.ID] = stateQueued
	s.queues[nr.Priority].push(nr)
	s.classes[nr.Priority].Total++
	s.log.Debug("registered %s (%s, %s, %d attempts)", nr.ID, nr.Kind, nr.Priority, nr.MaxAttempts())
	s.admitLocked()
	s.mu.Unlock()

	s.flush()
	return nil
}

// Start begins the run. Calling Start on a running scheduler is a no-op.
// With StrictDependencies it returns the Validate error instead of starting.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}
	if s.strict {
		if err := s.validateLocked(); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	if s.doneSpent {
		s.done = make(chan struct{})
		s.doneSpent = false
	}
	s.startedAt = time.Now()
	s.enqueueLocked(Event{Kind: EventStart})
	s.running = true
	s.log.Info("run started with %d resources", len(s.order))
	s.admitLocked()
	s.mu.Unlock()

	s.flush()
	return nil
}

// Pause stops new admissions. Resources already in flight run to a
// terminal state. Pausing a paused scheduler is a no-op.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	if s.closed || s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = true
	s.log.Info("run paused")
	s.enqueueLocked(Event{Kind: EventExit})
	s.mu.Unlock()

	s.flush()
}

// Resume clears the paused flag and admits queued, eligible resources.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	if s.closed || !s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = false
	s.log.Info("run resumed")
	s.admitLocked()
	s.mu.Unlock()

	s.flush()
}

// Done returns a channel that is closed once the current run's complete
// event has been delivered.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Wait blocks until the current run completes and returns its summary.
func (s *Scheduler) Wait(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	done, closed := s.done, s.closedCh
	s.mu.Unlock()

	select {
	case <-done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return *s.summary, nil
	case <-closed:
		return Summary{}, ErrClosed
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
}

// Close tears the run down. Pending backoff delays and in-flight attempts
// are cancelled and no further events are delivered. Close waits for
// in-flight goroutines, so it must not be called from a subscriber.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.running = false
	s.outbox = nil
	close(s.closedCh)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

// Snapshot returns the current status of the run.
func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:  s.running,
		Paused:   s.paused,
		Queued:   make(map[Priority][]string, len(admissionOrder)),
		Loaded:   slices.Clone(s.loaded),
		Failed:   slices.Clone(s.failed),
		Blocked:  make(map[string][]string),
		Progress: s.progressLocked(""),
	}
	for _, p := range admissionOrder {
		st.Queued[p] = s.queues[p].ids()
		for _, r := range s.queues[p].items {
			if b := blockers(r, s.states); len(b) > 0 {
				st.Blocked[r.ID] = b
			}
		}
	}
	for _, id := range s.order {
		if s.states[id] == stateInFlight {
			st.InFlight = append(st.InFlight, id)
		}
	}
	return st
}

// admitLocked is the admission loop. Each class is offered slots in
// admissionOrder; a blocked head is moved to the tail and ends that class
// for this pass. If the pass leaves nothing in flight anywhere, no later
// completion would trigger another pass, so rotateLocked takes over.
func (s *Scheduler) admitLocked() {
	if s.closed || s.paused || !s.running {
		return
	}
	for _, p := range admissionOrder {
		q := s.queues[p]
		for s.inFlight[p] < s.limits[p] && q.Len() > 0 {
			r := q.pop()
			if !eligible(r, s.states) {
				q.push(r)
				break
			}
			s.launchLocked(r)
		}
	}
	if s.idleLocked() {
		s.rotateLocked()
	}
	if len(s.loaded)+len(s.failed) == len(s.order) {
		s.completeLocked()
	}
}

// rotateLocked walks each class queue once, in admissionOrder, and admits
// the first eligible resource it finds. Once that resource is in flight its
// completion drives the next regular pass.
func (s *Scheduler) rotateLocked() {
	for _, p := range admissionOrder {
		q := s.queues[p]
		if s.limits[p] <= 0 {
			continue
		}
		for budget := q.Len(); budget > 0; budget-- {
			r := q.pop()
			if eligible(r, s.states) {
				s.launchLocked(r)
				return
			}
			q.push(r)
		}
	}
}

func (s *Scheduler) idleLocked() bool {
	for _, n := range s.inFlight {
		if n > 0 {
			return false
		}
	}
	return true
}

func (s *Scheduler) launchLocked(r *Resource) {
	s.inFlight[r.Priority]++
	s.states[r.ID] = stateInFlight
	s.log.Debug("admitted %s (%s %d/%d)", r.ID, r.Priority, s.inFlight[r.Priority], s.limits[r.Priority])

	s.wg.Add(1)
	safeGo(s.log, &s.wg, "load "+r.ID, func(rec any) {
		s.settle(r, 0, 0, nil, fmt.Errorf("load %s panicked: %v", r.ID, rec))
	}, func() {
		s.load(r)
	})
}

func (s *Scheduler) completeLocked() {
	s.running = false
	sum := &Summary{
		Success:  slices.Clone(s.loaded),
		Failed:   slices.Clone(s.failed),
		Duration: time.Since(s.startedAt),
	}
	s.summary = sum
	s.log.Info("run complete: %d loaded, %d failed in %s", len(sum.Success), len(sum.Failed), sum.Duration.Round(time.Millisecond))
	s.outbox = append(s.outbox, queuedEvent{
		ev:   Event{Kind: EventComplete, Time: time.Now(), Summary: sum},
		done: s.done,
	})
	s.doneSpent = true
}

// load is the retry controller: it runs up to MaxAttempts attempts with
// exponential backoff in between and settles r exactly once.
func (s *Scheduler) load(r *Resource) {
	maxAttempts := r.MaxAttempts()
	for attempt := 1; ; attempt++ {
		started := time.Now()
		value, err := s.attempt(r)
		if err == nil {
			s.settle(r, attempt, time.Since(started), value, nil)
			return
		}
		if attempt >= maxAttempts || IsPermanent(err) || s.ctx.Err() != nil {
			s.settle(r, attempt, 0, nil, err)
			return
		}
		s.notifyRetry(r, attempt, err)
		if werr := s.retry.wait(s.ctx, attempt); werr != nil {
			s.settle(r, attempt, 0, nil, fmt.Errorf("%w: %w", ErrClosed, err))
			return
		}
	}
}

// attempt runs one fetch bounded by r.Timeout. A fetcher that overruns its
// deadline is abandoned and the attempt fails with ErrAttemptTimeout.
func (s *Scheduler) attempt(r *Resource) (any, error) {
	ctx, cancel := context.WithTimeout(s.ctx, r.Timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	result := make(chan outcome, 1)
	safeGo(s.log, nil, "fetch "+r.ID, func(rec any) {
		result <- outcome{err: fmt.Errorf("fetcher panicked: %v", rec)}
	}, func() {
		v, err := s.fetcher.Fetch(ctx, r)
		result <- outcome{v, err}
	})

	var o outcome
	select {
	case o = <-result:
	case <-ctx.Done():
		select {
		case o = <-result:
		default:
			o.err = ctx.Err()
		}
	}
	if o.err != nil {
		return nil, s.attemptErr(ctx, r, o.err)
	}
	return o.value, nil
}

func (s *Scheduler) attemptErr(ctx context.Context, r *Resource, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && s.ctx.Err() == nil && !errors.Is(err, ErrAttemptTimeout) {
		return fmt.Errorf("%w after %s: %w", ErrAttemptTimeout, r.Timeout, err)
	}
	return err
}

func (s *Scheduler) notifyRetry(r *Resource, attempt int, err error) {
	s.mu.Lock()
	s.log.Warning("%s failed attempt %d/%d, retrying in %s: %v", r.ID, attempt, r.MaxAttempts(), s.retry.Backoff(attempt), err)
	s.enqueueLocked(Event{Kind: EventRetry, Resource: r, Attempt: attempt, Err: err})
	s.mu.Unlock()

	s.flush()
}

// settle records the terminal outcome of r, frees its slot and re-runs the
// admission loop. Only the first call for an in-flight resource has effect.
func (s *Scheduler) settle(r *Resource, attempts int, sample time.Duration, value any, err error) {
	s.mu.Lock()
	if s.states[r.ID] != stateInFlight {
		s.mu.Unlock()
		return
	}
	s.inFlight[r.Priority]--
	s.attempts[r.ID] = attempts
	s.classes[r.Priority].Done++
	if err == nil {
		s.states[r.ID] = stateLoaded
		s.loaded = append(s.loaded, r.ID)
		s.eta.add(sample)
		s.log.Info("loaded %s in %s", r.ID, sample.Round(time.Millisecond))
		s.enqueueLocked(Event{Kind: EventLoad, Resource: r, Attempt: attempts, Value: value})
	} else {
		s.states[r.ID] = stateFailed
		s.failed = append(s.failed, r.ID)
		s.log.Error("failed %s after %d attempt(s): %v", r.ID, attempts, err)
		s.enqueueLocked(Event{Kind: EventError, Resource: r, Attempt: attempts, Err: err})
	}
	p := s.progressLocked(r.ID)
	s.enqueueLocked(Event{Kind: EventProgress, Progress: &p})
	s.admitLocked()
	s.mu.Unlock()

	s.flush()
}

func (s *Scheduler) progressLocked(current string) Progress {
	total := len(s.order)
	done := len(s.loaded) + len(s.failed)
	remaining := total - done
	p := Progress{
		Total:     total,
		Loaded:    len(s.loaded),
		Failed:    len(s.failed),
		Remaining: remaining,
		Current:   current,
		ETA:       s.eta.estimate(remaining, s.slots),
		PerClass:  make(map[Priority]ClassStats, len(admissionOrder)),
	}
	if total > 0 {
		p.Percentage = float64(done) * 100 / float64(total)
	}
	for _, c := range admissionOrder {
		p.PerClass[c] = *s.classes[c]
	}
	return p
}

func (s *Scheduler) enqueueLocked(ev Event) {
	if s.closed {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.outbox = append(s.outbox, queuedEvent{ev: ev})
}

// flush delivers queued events in order. Only one goroutine dispatches at
// a time; others return and leave their events to it.
func (s *Scheduler) flush() {
	s.mu.Lock()
	if s.dispatching {
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	for len(s.outbox) > 0 {
		qe := s.outbox[0]
		s.outbox = s.outbox[1:]
		s.mu.Unlock()

		s.hub.dispatch(qe.ev)
		if qe.done != nil {
			close(qe.done)
		}

		s.mu.Lock()
	}
	s.dispatching = false
	s.mu.Unlock()
}
