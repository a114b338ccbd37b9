package loadsched

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/warpdl/warpload/pkg/logger"
)

// EventKind identifies a scheduler event.
type EventKind int

const (
	// EventStart fires when a run begins.
	EventStart EventKind = iota
	// EventProgress fires after every terminal outcome.
	EventProgress
	// EventLoad fires when a resource succeeds.
	EventLoad
	// EventError fires when a resource exhausts its attempts.
	EventError
	// EventRetry fires right before the backoff preceding another attempt.
	EventRetry
	// EventComplete fires once every registered resource is terminal.
	EventComplete
	// EventExit fires when the run is paused.
	EventExit
)

var eventNames = [...]string{
	EventStart:    "start",
	EventProgress: "progress",
	EventLoad:     "load",
	EventError:    "error",
	EventRetry:    "retry",
	EventComplete: "complete",
	EventExit:     "exit",
}

// EventKinds returns every event kind in declaration order.
func EventKinds() []EventKind {
	return []EventKind{EventStart, EventProgress, EventLoad, EventError, EventRetry, EventComplete, EventExit}
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// ClassStats counts resources of one priority class.
type ClassStats struct {
	Total int
	Done  int
}

// Progress is the snapshot carried by EventProgress.
type Progress struct {
	Total     int
	Loaded    int
	Failed    int
	Remaining int
	// Percentage of resources in a terminal state, 0..100.
	Percentage float64
	// Current is the id whose outcome produced this snapshot.
	Current string
	ETA     time.Duration
	// PerClass is keyed by PriorityHigh, PriorityMedium and PriorityLow.
	PerClass map[Priority]ClassStats
}

// Summary is carried by EventComplete.
type Summary struct {
	Success  []string
	Failed   []string
	Duration time.Duration
}

// Event is delivered to subscribers. Only the fields relevant to Kind are set:
//
//	EventLoad:     Resource, Attempt (attempts used), Value (fetched value)
//	EventError:    Resource, Attempt (attempts used), Err
//	EventRetry:    Resource, Attempt (the failed attempt, 1-based), Err
//	EventProgress: Progress
//	EventComplete: Summary
//
// Resource points at the scheduler's normalized descriptor and must not be
// modified.
type Event struct {
	Kind     EventKind
	Time     time.Time
	Resource *Resource
	Attempt  int
	Err      error
	Value    any
	Progress *Progress
	Summary  *Summary
}

// Subscriber receives scheduler events.
type Subscriber interface {
	HandleEvent(Event)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(Event)

// HandleEvent calls f(ev).
func (f SubscriberFunc) HandleEvent(ev Event) {
	f(ev)
}

type subscription struct {
	kind EventKind
	all  bool
	sub  Subscriber
}

// hub holds the subscription table. Entries are kept in one slice so that
// kind-specific and catch-all subscribers are invoked in the order they
// subscribed.
type hub struct {
	mu   sync.RWMutex
	subs []subscription
	log  logger.Logger
}

func (h *hub) add(s subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, s)
}

// dispatch invokes every matching subscriber synchronously. A panicking
// subscriber is logged and skipped so that the remaining ones still run.
func (h *hub) dispatch(ev Event) {
	h.mu.RLock()
	subs := h.subs
	h.mu.RUnlock()
	for _, s := range subs {
		if !s.all && s.kind != ev.Kind {
			continue
		}
		h.call(s.sub, ev)
	}
}

func (h *hub) call(sub Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("subscriber panic on %s event: %v\n%s", ev.Kind, r, debug.Stack())
		}
	}()
	sub.HandleEvent(ev)
}
