package loadsched

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies which decoder handles a resource. The set is open:
// fetchers may register kinds beyond the built-in ones.
type Kind string

const (
	KindJSON   Kind = "json"
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindScript Kind = "script"
)

// Priority represents the priority class of a resource.
type Priority int

const (
	// PriorityUnset is normalized to PriorityMedium at registration.
	PriorityUnset Priority = iota
	// PriorityLow is serviced last in every admission pass.
	PriorityLow
	// PriorityMedium is the default priority class.
	PriorityMedium
	// PriorityHigh is serviced first in every admission pass.
	PriorityHigh
)

// admissionOrder is the fixed order in which classes are offered slots.
var admissionOrder = [...]Priority{PriorityHigh, PriorityMedium, PriorityLow}

// Priorities returns the recognized priority classes in admission order.
func Priorities() []Priority {
	return admissionOrder[:]
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	case PriorityUnset:
		return "unset"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func (p Priority) valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

// ParsePriority converts a class name into a Priority.
// An empty string yields PriorityUnset.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PriorityUnset, nil
	case "high":
		return PriorityHigh, nil
	case "medium", "normal":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	}
	return PriorityUnset, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
}

// Resource describes one unit of content to fetch.
//
// Zero values of Priority, Timeout and Retries are replaced with defaults
// when the resource is registered. After registration the scheduler owns
// the descriptor and it must not be modified.
type Resource struct {
	// ID is caller-assigned and unique within a run.
	ID string
	// Kind selects the decoder used by the fetcher.
	Kind Kind
	// Src is the source locator, usually a URL.
	Src string
	// Priority selects the queue and concurrency bucket.
	Priority Priority
	// Timeout bounds a single fetch attempt.
	Timeout time.Duration
	// Retries is the number of attempts made after the first one fails.
	// nil means DefaultRetries.
	Retries *int
	// DependsOn lists ids that must reach a terminal state first.
	DependsOn []string
}

// DefaultRetries is the retry budget of a resource registered without one.
const DefaultRetries = 1

// Retries returns a pointer to n, for use in Resource literals.
func Retries(n int) *int {
	return &n
}

// MaxAttempts returns the total number of fetch attempts the resource may use.
func (r *Resource) MaxAttempts() int {
	if r.Retries == nil {
		return DefaultRetries + 1
	}
	return *r.Retries + 1
}

// normalize validates r and fills in defaults. The returned copy does not
// share the DependsOn slice with the caller.
func (r Resource) normalize(defaultTimeout time.Duration) (*Resource, error) {
	if strings.TrimSpace(r.ID) == "" {
		return nil, ErrEmptyID
	}
	if strings.TrimSpace(r.ID) != r.ID {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, r.ID)
	}
	if r.Priority == PriorityUnset {
		r.Priority = PriorityMedium
	}
	if !r.Priority.valid() {
		return nil, fmt.Errorf("%w: %d for %q", ErrInvalidPriority, int(r.Priority), r.ID)
	}
	if r.Timeout <= 0 {
		r.Timeout = defaultTimeout
	}
	if r.Retries == nil {
		r.Retries = Retries(DefaultRetries)
	} else if *r.Retries < 0 {
		return nil, fmt.Errorf("%w: %d for %q", ErrInvalidRetries, *r.Retries, r.ID)
	} else {
		r.Retries = Retries(*r.Retries)
	}
	deps := make([]string, 0, len(r.DependsOn))
	seen := make(map[string]struct{}, len(r.DependsOn))
	for _, id := range r.DependsOn {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		deps = append(deps, id)
	}
	r.DependsOn = deps
	return &r, nil
}
