package loadsched

type resourceState int

const (
	stateQueued resourceState = iota
	stateInFlight
	stateLoaded
	stateFailed
)

func (s resourceState) terminal() bool {
	return s == stateLoaded || s == stateFailed
}

func (s resourceState) String() string {
	switch s {
	case stateQueued:
		return "queued"
	case stateInFlight:
		return "in-flight"
	case stateLoaded:
		return "loaded"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// eligible reports whether every prerequisite of r has reached a terminal
// state. A failed prerequisite unblocks its dependents. An id that was
// never registered has no state and keeps r blocked.
func eligible(r *Resource, states map[string]resourceState) bool {
	for _, id := range r.DependsOn {
		st, ok := states[id]
		if !ok || !st.terminal() {
			return false
		}
	}
	return true
}

// blockers lists the prerequisites of r that are not terminal yet.
func blockers(r *Resource, states map[string]resourceState) []string {
	var out []string
	for _, id := range r.DependsOn {
		if st, ok := states[id]; !ok || !st.terminal() {
			out = append(out, id)
		}
	}
	return out
}
