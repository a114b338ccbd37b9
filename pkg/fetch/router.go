package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
)

// Transport opens the body behind a locator. Implementations must honour
// ctx cancellation; the caller closes the returned reader.
type Transport interface {
	Open(ctx context.Context, u *url.URL) (io.ReadCloser, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, u *url.URL) (io.ReadCloser, error)

// Open calls f(ctx, u).
func (f TransportFunc) Open(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	return f(ctx, u)
}

// Router maps URL schemes to transports.
// The zero value is not usable; use NewRouter to create one.
type Router struct {
	routes map[string]Transport
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]Transport)}
}

// Register adds or replaces the transport for the given scheme.
func (r *Router) Register(scheme string, t Transport) {
	r.routes[strings.ToLower(scheme)] = t
}

// Resolve parses src and returns the transport for its scheme.
// A locator without a scheme, or starting with a drive letter, is a
// local file path.
// Both failure modes are permanent: no attempt can fix the locator.
func (r *Router) Resolve(src string) (Transport, *url.URL, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil, NewPermanentError("router", "resolve", fmt.Errorf("%w: empty locator", ErrUnsupportedScheme))
	}
	if isDrivePath(src) {
		return r.resolveFile(src)
	}
	u, err := url.Parse(src)
	if err != nil {
		return nil, nil, NewPermanentError("router", "parse", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "file"
		u = &url.URL{Scheme: scheme, Path: src}
	}
	t, ok := r.routes[scheme]
	if !ok {
		return nil, nil, NewPermanentError("router", "resolve", fmt.Errorf(
			"%w %q, supported: %s", ErrUnsupportedScheme, scheme, strings.Join(r.Schemes(), ", ")))
	}
	return t, u, nil
}

func (r *Router) resolveFile(src string) (Transport, *url.URL, error) {
	t, ok := r.routes["file"]
	if !ok {
		return nil, nil, NewPermanentError("router", "resolve", fmt.Errorf(
			"%w %q, supported: %s", ErrUnsupportedScheme, "file", strings.Join(r.Schemes(), ", ")))
	}
	return t, &url.URL{Scheme: "file", Path: src}, nil
}

// isDrivePath reports whether src starts with a Windows drive letter,
// e.g. C:\assets\a.json or c:/assets/a.json.
func isDrivePath(src string) bool {
	if len(src) < 2 || src[1] != ':' {
		return false
	}
	c := src[0]
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// Schemes returns a sorted list of all registered schemes.
func (r *Router) Schemes() []string {
	schemes := make([]string, 0, len(r.routes))
	for s := range r.routes {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}
