package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"

	"github.com/spf13/afero"
)

// fileTransport reads local files through an afero filesystem, relative
// paths being resolved against root.
type fileTransport struct {
	fs   afero.Fs
	root string
}

func (t *fileTransport) Open(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify("file", "open", err)
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	if u.Host != "" && u.Host != "localhost" {
		return nil, NewPermanentError("file", "open", fmt.Errorf("remote host %q in file locator", u.Host))
	}
	if p == "" {
		return nil, NewPermanentError("file", "open", errors.New("empty path"))
	}
	if !filepath.IsAbs(p) && t.root != "" {
		p = filepath.Join(t.root, p)
	}
	f, err := t.fs.Open(p)
	if err != nil {
		return nil, classify("file", "open", err)
	}
	st, err := f.Stat()
	if err == nil && st.IsDir() {
		f.Close()
		return nil, NewPermanentError("file", "open", fmt.Errorf("%s is a directory", p))
	}
	return f, nil
}
