package loadsched

import (
	"errors"
	"fmt"
	"strings"
)

// Validate reports prerequisites that are not registered and dependency
// cycles among registered resources. Either condition stalls the affected
// resources forever, so a non-nil result predicts a run that never
// completes. The returned error wraps ErrUnknownDependency and/or
// ErrDependencyCycle.
func (s *Scheduler) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validateLocked()
}

func (s *Scheduler) validateLocked() error {
	var errs []error
	for _, id := range s.order {
		for _, dep := range s.resources[id].DependsOn {
			if _, ok := s.resources[dep]; !ok {
				errs = append(errs, fmt.Errorf("%w: %q requires %q", ErrUnknownDependency, id, dep))
			}
		}
	}
	for _, cycle := range findCycles(s.order, s.resources) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(cycle, " -> ")))
	}
	return errors.Join(errs...)
}

// findCycles runs a depth-first search over registered resources and
// returns each back edge as a closed path, e.g. [a b a].
func findCycles(order []string, resources map[string]*Resource) [][]string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(order))
	var (
		stack  []string
		cycles [][]string
		visit  func(id string)
	)
	visit = func(id string) {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range resources[id].DependsOn {
			if _, ok := resources[dep]; !ok {
				continue
			}
			switch color[dep] {
			case white:
				visit(dep)
			case grey:
				start := len(stack) - 1
				for stack[start] != dep {
					start--
				}
				cycle := append([]string{}, stack[start:]...)
				cycles = append(cycles, append(cycle, dep))
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}
	for _, id := range order {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}
