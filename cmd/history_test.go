package cmd

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	hist "github.com/warpdl/warpload/internal/history"
)

func TestShowHistory(t *testing.T) {
	mpath := localRun(t)
	db := filepath.Join(filepath.Dir(mpath), "runs.db")
	var ids []string
	for i := 0; i < 2; i++ {
		res, err := runManifest(context.Background(), runConfig{
			Manifest:  mpath,
			Quiet:     true,
			HistoryDB: db,
		}, &syncBuffer{}, &syncBuffer{})
		if err != nil {
			t.Fatalf("runManifest: %v", err)
		}
		ids = append(ids, res.RunID)
	}

	var out bytes.Buffer
	if err := showHistory(context.Background(), db, "", 1, &out); err != nil {
		t.Fatalf("showHistory: %v", err)
	}
	assertContains(t, out.String(), "Recorded runs:")
	if strings.Count(out.String(), "\n|") != 3 {
		t.Fatalf("expected header, separator and one row:\n%s", out.String())
	}

	out.Reset()
	if err := showHistory(context.Background(), db, ids[0], 0, &out); err != nil {
		t.Fatalf("showHistory run: %v", err)
	}
	assertContains(t, out.String(), "Resources of run "+ids[0])
	assertContains(t, out.String(), "config")
	assertContains(t, out.String(), "missing:")
}

func TestShowHistory_Errors(t *testing.T) {
	err := showHistory(context.Background(), filepath.Join(t.TempDir(), "none.db"), "", 0, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error for a missing database")
	}

	db := filepath.Join(t.TempDir(), "runs.db")
	store, err := hist.Open(db, nil)
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	var out bytes.Buffer
	if err := showHistory(context.Background(), db, "", 0, &out); err != nil {
		t.Fatalf("showHistory: %v", err)
	}
	assertContains(t, out.String(), "no runs recorded")

	err = showHistory(context.Background(), db, "unknown", 0, &out)
	if !errors.Is(err, hist.ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestPrintRuns_LongValues(t *testing.T) {
	var out bytes.Buffer
	printRuns(&out, []hist.Run{{
		ID:        "c0ffeec0ffeec0ffeec0ffee",
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:  1000 * time.Hour,
		Loaded:    1234567,
	}})
	assertContains(t, out.String(), "c0ffeec0ffeec0ffe...")
	assertContains(t, out.String(), "1000h...")
	assertContains(t, out.String(), "123...")
}

func TestFitColumn(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"ab", 4, " ab "},
		{"abcd", 4, "abcd"},
		{"abcdef", 5, "ab..."},
		{"1000", 3, "1000"},
	}
	for _, tt := range tests {
		if got := fitColumn(tt.in, tt.n); got != tt.want {
			t.Errorf("fitColumn(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
