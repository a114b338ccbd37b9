package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/warpdl/warpload/pkg/loadsched"
)

func newTestFetcher(t *testing.T, opts Options) *Fetcher {
	t.Helper()
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func TestFetcher_UnsupportedKindSkipsTransport(t *testing.T) {
	var opened atomic.Int32
	f := newTestFetcher(t, Options{FS: afero.NewMemMapFs()})
	f.Router().Register("mem", TransportFunc(func(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
		opened.Add(1)
		return io.NopCloser(strings.NewReader("{}")), nil
	}))

	_, err := f.Fetch(context.Background(), &loadsched.Resource{ID: "clip", Kind: "video", Src: "mem://x"})
	if !errors.Is(err, loadsched.ErrUnsupportedKind) {
		t.Fatalf("Fetch() = %v, want ErrUnsupportedKind", err)
	}
	if !loadsched.IsPermanent(err) {
		t.Error("unsupported kind must be permanent")
	}
	if opened.Load() != 0 {
		t.Error("transport was touched for an unsupported kind")
	}
}

func TestFetcher_RegisterKind(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/data.csv", []byte("a,b\n1,2\n"), 0644)
	f := newTestFetcher(t, Options{FS: fs})
	if f.Supports("csv") {
		t.Fatal("csv supported before registration")
	}
	f.Register("csv", DecoderFunc(func(r *loadsched.Resource, body []byte) (any, error) {
		return strings.Count(string(body), "\n"), nil
	}))

	v, err := f.Fetch(context.Background(), &loadsched.Resource{ID: "rows", Kind: "csv", Src: "/data.csv"})
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Errorf("value = %v", v)
	}
	kinds := f.Kinds()
	if len(kinds) != 5 || kinds[0] != "csv" {
		t.Errorf("Kinds() = %v", kinds)
	}
}

func TestFetcher_BodyTooLarge(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/big.txt", []byte(strings.Repeat("x", 32)), 0644)
	f := newTestFetcher(t, Options{FS: fs, MaxBodySize: 16})

	_, err := f.Fetch(context.Background(), &loadsched.Resource{ID: "big", Kind: loadsched.KindText, Src: "/big.txt"})
	if !errors.Is(err, ErrBodyTooLarge) || !loadsched.IsPermanent(err) {
		t.Errorf("Fetch() = %v, want permanent ErrBodyTooLarge", err)
	}
}

func TestFetcher_DecodeErrorIsTransient(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/broken.json", []byte(`{"a":`), 0644)
	f := newTestFetcher(t, Options{FS: fs})

	_, err := f.Fetch(context.Background(), &loadsched.Resource{ID: "b", Kind: loadsched.KindJSON, Src: "/broken.json"})
	var fe *Error
	if !errors.As(err, &fe) || fe.Op != "decode" {
		t.Fatalf("Fetch() = %v, want decode error", err)
	}
	if loadsched.IsPermanent(err) {
		t.Error("decode errors must be retried")
	}
}

// Drives a scheduler through the real fetcher: a flaky endpoint recovers on
// the second attempt and the dependent file resource loads afterwards.
func TestFetcher_WithScheduler(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"version": 3}`)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/game/intro.txt", []byte("welcome"), 0644)
	f := newTestFetcher(t, Options{FS: fs, Root: "/game"})

	s := loadsched.New(f, loadsched.Options{Retry: loadsched.RetryPolicy{BaseDelay: time.Millisecond}})
	defer s.Close()

	values := &valueSink{m: make(map[string]any)}
	s.On(loadsched.EventLoad, loadsched.SubscriberFunc(func(ev loadsched.Event) {
		values.set(ev.Resource.ID, ev.Value)
	}))
	for _, r := range []loadsched.Resource{
		{ID: "manifest", Kind: loadsched.KindJSON, Src: srv.URL + "/manifest.json", Priority: loadsched.PriorityHigh},
		{ID: "intro", Kind: loadsched.KindText, Src: "intro.txt", DependsOn: []string{"manifest"}},
		{ID: "trailer", Kind: "video", Src: "trailer.mp4", Retries: loadsched.Retries(3)},
	} {
		if err := s.Register(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sum, err := s.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if len(sum.Success) != 2 || len(sum.Failed) != 1 || sum.Failed[0] != "trailer" {
		t.Errorf("summary = %+v", sum)
	}
	if hits.Load() != 2 {
		t.Errorf("manifest fetched %d times, want 2", hits.Load())
	}
	if values.get("intro") != "welcome" {
		t.Errorf("intro value = %v", values.get("intro"))
	}
}

type valueSink struct {
	mu sync.Mutex
	m  map[string]any
}

func (v *valueSink) set(id string, value any) {
	v.mu.Lock()
	v.m[id] = value
	v.mu.Unlock()
}

func (v *valueSink) get(id string) any {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.m[id]
}
