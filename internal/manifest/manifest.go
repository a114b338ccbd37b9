// Package manifest reads the YAML file that declares a load run: the
// resources, their priorities and dependencies, and the scheduler limits.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/warpdl/warpload/pkg/loadsched"
)

// CurrentVersion is the manifest format understood by Load.
const CurrentVersion = 1

var (
	ErrNotFound          = errors.New("manifest not found")
	ErrPermission        = errors.New("permission denied reading manifest")
	ErrEmpty             = errors.New("manifest declares no resources")
	ErrUnsupportedFormat = errors.New("unsupported manifest version")
)

// Error wraps a manifest failure with the file path.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Duration is a time.Duration written as a Go duration string ("750ms", "5s").
type Duration time.Duration

// UnmarshalYAML accepts duration strings and plain integers (seconds).
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if v, err := time.ParseDuration(s); err == nil {
		*d = Duration(v)
		return nil
	}
	var secs int
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, s)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Defaults apply to resources that leave a field unset.
type Defaults struct {
	Timeout  Duration `yaml:"timeout,omitempty"`
	Retries  *int     `yaml:"retries,omitempty"`
	Priority string   `yaml:"priority,omitempty"`
}

// ResourceSpec is one entry of the resources list.
type ResourceSpec struct {
	ID        string   `yaml:"id"`
	Kind      string   `yaml:"kind,omitempty"`
	Src       string   `yaml:"src"`
	Priority  string   `yaml:"priority,omitempty"`
	Timeout   Duration `yaml:"timeout,omitempty"`
	Retries   *int     `yaml:"retries,omitempty"`
	DependsOn []string `yaml:"depends_on,omitempty"`
}

// Manifest models a manifest file.
type Manifest struct {
	Version            int            `yaml:"version"`
	Concurrency        map[string]int `yaml:"concurrency,omitempty"`
	Defaults           Defaults       `yaml:"defaults,omitempty"`
	StrictDependencies bool           `yaml:"strict_dependencies,omitempty"`
	Proxy              string         `yaml:"proxy,omitempty"`
	UserAgent          string         `yaml:"user_agent,omitempty"`
	Resources          []ResourceSpec `yaml:"resources"`

	// Dir is the directory of the manifest file; relative file locators
	// resolve against it.
	Dir string `yaml:"-"`
}

// Load reads and checks the manifest at p. Unknown keys are rejected.
func Load(fsys afero.Fs, p string) (*Manifest, error) {
	data, err := afero.ReadFile(fsys, p)
	if err != nil {
		return nil, wrapError(p, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, &Error{Path: p, Err: err}
	}
	m.Dir = filepath.Dir(p)
	return m, nil
}

// Parse decodes and checks manifest bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m.Version == 0 {
		m.Version = CurrentVersion
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("%w %d", ErrUnsupportedFormat, m.Version)
	}
	if len(m.Resources) == 0 {
		return nil, ErrEmpty
	}
	if _, err := m.Options(); err != nil {
		return nil, err
	}
	if _, err := m.Build(); err != nil {
		return nil, err
	}
	return &m, nil
}

func wrapError(p string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &Error{Path: p, Err: ErrNotFound}
	case errors.Is(err, fs.ErrPermission):
		return &Error{Path: p, Err: ErrPermission}
	}
	return &Error{Path: p, Err: err}
}

// Options returns the scheduler options declared by the manifest.
func (m *Manifest) Options() (loadsched.Options, error) {
	opts := loadsched.Options{
		DefaultTimeout:     time.Duration(m.Defaults.Timeout),
		StrictDependencies: m.StrictDependencies,
	}
	if len(m.Concurrency) > 0 {
		opts.Concurrency = make(map[loadsched.Priority]int, len(m.Concurrency))
	}
	for name, n := range m.Concurrency {
		p, err := loadsched.ParsePriority(name)
		if err != nil || p == loadsched.PriorityUnset {
			return opts, fmt.Errorf("concurrency: %w: %q", loadsched.ErrInvalidPriority, name)
		}
		if n < 1 {
			return opts, fmt.Errorf("concurrency.%s: limit must be at least 1, got %d", name, n)
		}
		opts.Concurrency[p] = n
	}
	return opts, nil
}

// Build converts the resource list, applying defaults. Duplicate ids are
// reported here so that a manifest never reaches the scheduler half-registered.
func (m *Manifest) Build() ([]loadsched.Resource, error) {
	defPriority, err := loadsched.ParsePriority(m.Defaults.Priority)
	if err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}
	seen := make(map[string]struct{}, len(m.Resources))
	out := make([]loadsched.Resource, 0, len(m.Resources))
	for i, entry := range m.Resources {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return nil, fmt.Errorf("resources[%d]: %w", i, loadsched.ErrEmptyID)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("resources[%d]: %w: %q", i, loadsched.ErrDuplicateID, id)
		}
		seen[id] = struct{}{}

		p, err := loadsched.ParsePriority(entry.Priority)
		if err != nil {
			return nil, fmt.Errorf("resources[%d] %s: %w", i, id, err)
		}
		if p == loadsched.PriorityUnset {
			p = defPriority
		}
		retries := entry.Retries
		if retries == nil {
			retries = m.Defaults.Retries
		}
		if retries != nil && *retries < 0 {
			return nil, fmt.Errorf("resources[%d] %s: %w", i, id, loadsched.ErrInvalidRetries)
		}
		kind := loadsched.Kind(strings.ToLower(strings.TrimSpace(entry.Kind)))
		if kind == "" {
			kind = InferKind(entry.Src)
		}
		out = append(out, loadsched.Resource{
			ID:        id,
			Kind:      kind,
			Src:       entry.Src,
			Priority:  p,
			Timeout:   time.Duration(entry.Timeout),
			Retries:   retries,
			DependsOn: entry.DependsOn,
		})
	}
	return out, nil
}

var extKinds = map[string]loadsched.Kind{
	".json": loadsched.KindJSON,
	".txt":  loadsched.KindText,
	".md":   loadsched.KindText,
	".csv":  loadsched.KindText,
	".html": loadsched.KindText,
	".css":  loadsched.KindText,
	".png":  loadsched.KindImage,
	".jpg":  loadsched.KindImage,
	".jpeg": loadsched.KindImage,
	".gif":  loadsched.KindImage,
	".js":   loadsched.KindScript,
	".mjs":  loadsched.KindScript,
}

// InferKind guesses a kind from the locator's file extension. Unknown
// extensions yield the extension itself, which fetches as unsupported.
func InferKind(src string) loadsched.Kind {
	p := src
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if k, ok := extKinds[ext]; ok {
		return k
	}
	return loadsched.Kind(strings.TrimPrefix(ext, "."))
}
