package common

import (
	"time"

	"github.com/warpdl/warpload/pkg/loadsched"
)

// VersionResult is the response for system.getVersion.
type VersionResult struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildType string `json:"buildType,omitempty"`
}

// StatusResult is the response for run.status.
type StatusResult struct {
	Running  bool                  `json:"running"`
	Paused   bool                  `json:"paused"`
	Queued   map[string][]string   `json:"queued"`
	InFlight []string              `json:"inFlight"`
	Loaded   []string              `json:"loaded"`
	Failed   []string              `json:"failed"`
	Blocked  map[string][]string   `json:"blocked,omitempty"`
	Progress *ProgressNotification `json:"progress"`
}

// EmptyResult is a placeholder for methods that return no data.
type EmptyResult struct{}

// EventNotification is the params object of an "event.<kind>" push. Only
// the fields relevant to Kind are set. Fetched values are not relayed.
type EventNotification struct {
	Kind     string                `json:"kind"`
	Time     time.Time             `json:"time"`
	ID       string                `json:"id,omitempty"`
	Priority string                `json:"priority,omitempty"`
	Attempt  int                   `json:"attempt,omitempty"`
	Error    string                `json:"error,omitempty"`
	Progress *ProgressNotification `json:"progress,omitempty"`
	Summary  *SummaryNotification  `json:"summary,omitempty"`
}

// ProgressNotification mirrors loadsched.Progress.
type ProgressNotification struct {
	Total      int                   `json:"total"`
	Loaded     int                   `json:"loaded"`
	Failed     int                   `json:"failed"`
	Remaining  int                   `json:"remaining"`
	Percentage float64               `json:"percentage"`
	Current    string                `json:"current,omitempty"`
	ETAMillis  int64                 `json:"etaMs"`
	PerClass   map[string]ClassStats `json:"perClass,omitempty"`
}

// ETA returns the projected time to completion.
func (p *ProgressNotification) ETA() time.Duration {
	return time.Duration(p.ETAMillis) * time.Millisecond
}

// ClassStats mirrors loadsched.ClassStats.
type ClassStats struct {
	Total int `json:"total"`
	Done  int `json:"done"`
}

// SummaryNotification mirrors loadsched.Summary.
type SummaryNotification struct {
	Success        []string `json:"success"`
	Failed         []string `json:"failed"`
	DurationMillis int64    `json:"durationMs"`
}

// NewEventNotification converts a scheduler event into its wire form.
func NewEventNotification(ev loadsched.Event) *EventNotification {
	en := &EventNotification{
		Kind:    ev.Kind.String(),
		Time:    ev.Time,
		Attempt: ev.Attempt,
	}
	if ev.Resource != nil {
		en.ID = ev.Resource.ID
		en.Priority = ev.Resource.Priority.String()
	}
	if ev.Err != nil {
		en.Error = ev.Err.Error()
	}
	if ev.Progress != nil {
		en.Progress = NewProgressNotification(*ev.Progress)
	}
	if ev.Summary != nil {
		en.Summary = &SummaryNotification{
			Success:        NonNil(ev.Summary.Success),
			Failed:         NonNil(ev.Summary.Failed),
			DurationMillis: ev.Summary.Duration.Milliseconds(),
		}
	}
	return en
}

// NewProgressNotification converts a progress snapshot into its wire form.
func NewProgressNotification(p loadsched.Progress) *ProgressNotification {
	pn := &ProgressNotification{
		Total:      p.Total,
		Loaded:     p.Loaded,
		Failed:     p.Failed,
		Remaining:  p.Remaining,
		Percentage: p.Percentage,
		Current:    p.Current,
		ETAMillis:  p.ETA.Milliseconds(),
	}
	if len(p.PerClass) > 0 {
		pn.PerClass = make(map[string]ClassStats, len(p.PerClass))
		for prio, cs := range p.PerClass {
			pn.PerClass[prio.String()] = ClassStats{Total: cs.Total, Done: cs.Done}
		}
	}
	return pn
}

// NewStatusResult converts a scheduler snapshot into its wire form.
func NewStatusResult(st loadsched.Status) *StatusResult {
	res := &StatusResult{
		Running:  st.Running,
		Paused:   st.Paused,
		Queued:   make(map[string][]string, len(st.Queued)),
		InFlight: NonNil(st.InFlight),
		Loaded:   NonNil(st.Loaded),
		Failed:   NonNil(st.Failed),
		Progress: NewProgressNotification(st.Progress),
	}
	for p, ids := range st.Queued {
		res.Queued[p.String()] = NonNil(ids)
	}
	if len(st.Blocked) > 0 {
		res.Blocked = make(map[string][]string, len(st.Blocked))
		for id, deps := range st.Blocked {
			res.Blocked[id] = NonNil(deps)
		}
	}
	return res
}

// NonNil returns s, or an empty slice when s is nil, so that it encodes
// as [] rather than null.
func NonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
