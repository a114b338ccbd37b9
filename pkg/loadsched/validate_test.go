package loadsched

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		resources []Resource
		unknown   bool
		cycle     bool
		contains  string
	}{
		{
			name: "acyclic",
			resources: []Resource{
				{ID: "a"},
				{ID: "b", DependsOn: []string{"a"}},
				{ID: "c", DependsOn: []string{"a", "b"}},
			},
		},
		{
			name:      "unknown prerequisite",
			resources: []Resource{{ID: "a", DependsOn: []string{"ghost"}}},
			unknown:   true,
			contains:  `"a" requires "ghost"`,
		},
		{
			name:      "self dependency",
			resources: []Resource{{ID: "a", DependsOn: []string{"a"}}},
			cycle:     true,
			contains:  "a -> a",
		},
		{
			name: "three node cycle",
			resources: []Resource{
				{ID: "a", DependsOn: []string{"c"}},
				{ID: "b", DependsOn: []string{"a"}},
				{ID: "c", DependsOn: []string{"b"}},
			},
			cycle:    true,
			contains: "a -> c -> b -> a",
		},
		{
			name: "both",
			resources: []Resource{
				{ID: "a", DependsOn: []string{"b", "nope"}},
				{ID: "b", DependsOn: []string{"a"}},
			},
			unknown: true,
			cycle:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(okFetcher(), Options{})
			defer s.Close()
			mustRegister(t, s, tt.resources...)

			err := s.Validate()
			if got := errors.Is(err, ErrUnknownDependency); got != tt.unknown {
				t.Errorf("unknown dependency reported = %v, want %v (%v)", got, tt.unknown, err)
			}
			if got := errors.Is(err, ErrDependencyCycle); got != tt.cycle {
				t.Errorf("cycle reported = %v, want %v (%v)", got, tt.cycle, err)
			}
			if !tt.unknown && !tt.cycle && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if tt.contains != "" && (err == nil || !strings.Contains(err.Error(), tt.contains)) {
				t.Errorf("Validate() = %v, want it to mention %q", err, tt.contains)
			}
		})
	}
}
