package fetch

import (
	"context"
	"net/url"
	"testing"

	"github.com/spf13/afero"

	"github.com/warpdl/warpload/pkg/loadsched"
)

func TestFileTransport(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/site/assets/a.txt", []byte("alpha"), 0644)
	fs.MkdirAll("/site/assets/dir", 0755)
	tr := &fileTransport{fs: fs, root: "/site"}

	tests := []struct {
		name      string
		u         *url.URL
		want      string
		wantErr   bool
		permanent bool
	}{
		{"relative to root", &url.URL{Scheme: "file", Path: "assets/a.txt"}, "alpha", false, false},
		{"absolute", &url.URL{Scheme: "file", Path: "/site/assets/a.txt"}, "alpha", false, false},
		{"localhost", &url.URL{Scheme: "file", Host: "localhost", Path: "/site/assets/a.txt"}, "alpha", false, false},
		{"missing", &url.URL{Scheme: "file", Path: "assets/nope.txt"}, "", true, false},
		{"directory", &url.URL{Scheme: "file", Path: "assets/dir"}, "", true, true},
		{"remote host", &url.URL{Scheme: "file", Host: "nas", Path: "/a.txt"}, "", true, true},
		{"empty", &url.URL{Scheme: "file"}, "", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := openURL(t, tr, context.Background(), tt.u.String())
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				if p := loadsched.IsPermanent(err); p != tt.permanent {
					t.Errorf("permanent = %v, want %v (%v)", p, tt.permanent, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFileTransport_CancelledContext(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/a.txt", []byte("alpha"), 0644)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (&fileTransport{fs: fs}).Open(ctx, &url.URL{Scheme: "file", Path: "/a.txt"}); err == nil {
		t.Error("expected error for cancelled context")
	}
}
