package common

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/warpdl/warpload/pkg/loadsched"
)

func TestNewEventNotification_Progress(t *testing.T) {
	en := NewEventNotification(loadsched.Event{
		Kind: loadsched.EventProgress,
		Progress: &loadsched.Progress{
			Total: 4, Loaded: 2, Failed: 1, Remaining: 1, Percentage: 75,
			Current: "b", ETA: 1500 * time.Millisecond,
			PerClass: map[loadsched.Priority]loadsched.ClassStats{
				loadsched.PriorityHigh: {Total: 2, Done: 2},
			},
		},
	})
	if en.Kind != "progress" || en.ID != "" || en.Error != "" {
		t.Fatalf("notification = %+v", en)
	}
	p := en.Progress
	if p == nil || p.ETA() != 1500*time.Millisecond || p.Percentage != 75 || p.Current != "b" {
		t.Fatalf("progress = %+v", p)
	}
	if got := p.PerClass["high"]; got != (ClassStats{Total: 2, Done: 2}) {
		t.Fatalf("perClass[high] = %+v", got)
	}
}

func TestNewEventNotification_Resource(t *testing.T) {
	en := NewEventNotification(loadsched.Event{
		Kind:     loadsched.EventRetry,
		Resource: &loadsched.Resource{ID: "feed", Priority: loadsched.PriorityMedium},
		Attempt:  1,
		Err:      errors.New("connection reset"),
	})
	if en.Kind != "retry" || en.ID != "feed" || en.Priority != "medium" || en.Attempt != 1 || en.Error != "connection reset" {
		t.Fatalf("notification = %+v", en)
	}
	if en.Progress != nil || en.Summary != nil {
		t.Fatalf("unexpected payload: %+v", en)
	}
}

func TestNewEventNotification_SummaryEncodesEmptyLists(t *testing.T) {
	en := NewEventNotification(loadsched.Event{
		Kind:    loadsched.EventComplete,
		Summary: &loadsched.Summary{Success: []string{"a"}, Duration: 2 * time.Second},
	})
	data, err := json.Marshal(en)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"failed":[]`) || !strings.Contains(string(data), `"durationMs":2000`) {
		t.Fatalf("json = %s", data)
	}
}

func TestNewStatusResult(t *testing.T) {
	res := NewStatusResult(loadsched.Status{
		Running: true,
		Queued: map[loadsched.Priority][]string{
			loadsched.PriorityHigh: nil,
			loadsched.PriorityLow:  {"c"},
		},
		Blocked:  map[string][]string{"c": {"a"}},
		Progress: loadsched.Progress{Total: 3, Remaining: 2},
	})
	if got := res.Queued["high"]; got == nil || len(got) != 0 {
		t.Fatalf("queued[high] = %#v, want empty slice", got)
	}
	if got := res.Queued["low"]; len(got) != 1 || got[0] != "c" {
		t.Fatalf("queued[low] = %v", got)
	}
	if res.InFlight == nil || res.Loaded == nil || res.Failed == nil {
		t.Fatalf("nil lists in %+v", res)
	}
	if deps := res.Blocked["c"]; len(deps) != 1 || deps[0] != "a" {
		t.Fatalf("blocked = %v", res.Blocked)
	}
	if res.Progress.Remaining != 2 {
		t.Fatalf("progress = %+v", res.Progress)
	}
}

func TestGetenv(t *testing.T) {
	t.Setenv(RPCListenEnv, "  0.0.0.0:1234 ")
	if got := Getenv(RPCListenEnv, DefaultRPCListen); got != "0.0.0.0:1234" {
		t.Fatalf("Getenv = %q", got)
	}
	t.Setenv(RPCListenEnv, "   ")
	if got := Getenv(RPCListenEnv, DefaultRPCListen); got != DefaultRPCListen {
		t.Fatalf("Getenv blank = %q", got)
	}
}
