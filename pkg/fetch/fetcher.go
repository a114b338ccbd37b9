package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/warpdl/warpload/pkg/loadsched"
	"github.com/warpdl/warpload/pkg/logger"
)

// DefaultMaxBodySize caps a single body at 64 MiB.
const DefaultMaxBodySize int64 = 64 << 20

// DefaultDialTimeout bounds connection setup for ftp and sftp.
const DefaultDialTimeout = 30 * time.Second

// Options configures a Fetcher. The zero value is usable.
type Options struct {
	// HTTPClient is used for http and https. Nil builds one with
	// NewHTTPClient("").
	HTTPClient *http.Client
	UserAgent  string
	// FS backs the file transport. Nil means the OS filesystem.
	FS afero.Fs
	// Root resolves relative file paths, typically the manifest directory.
	Root string
	// KnownHostsPath is the TOFU known_hosts file for sftp. Empty means
	// DefaultKnownHostsPath().
	KnownHostsPath string
	// SSHKeyPath overrides the default private key locations for sftp.
	SSHKeyPath string
	// FTPSConfig overrides the TLS configuration for ftps.
	FTPSConfig  *tls.Config
	DialTimeout time.Duration
	// MaxBodySize caps the bytes read per attempt. Zero means
	// DefaultMaxBodySize.
	MaxBodySize int64
	Logger      logger.Logger
}

// Fetcher implements loadsched.Fetcher: it resolves a resource's locator to
// a transport, reads the body and decodes it by kind.
type Fetcher struct {
	router  *Router
	maxBody int64
	log     logger.Logger

	mu       sync.RWMutex
	decoders map[loadsched.Kind]Decoder
}

var _ loadsched.Fetcher = (*Fetcher)(nil)

// New creates a Fetcher with http, https, ftp, ftps, sftp and file
// transports and the json, text, image and script decoders.
func New(opts Options) (*Fetcher, error) {
	l := opts.Logger
	if l == nil {
		l = logger.NewNopLogger()
	}
	client := opts.HTTPClient
	if client == nil {
		var err error
		if client, err = NewHTTPClient(""); err != nil {
			return nil, err
		}
	}
	fs := opts.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	knownHosts := opts.KnownHostsPath
	if knownHosts == "" {
		knownHosts = DefaultKnownHostsPath()
	}
	maxBody := opts.MaxBodySize
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}

	r := NewRouter()
	ht := &httpTransport{client: client, userAgent: opts.UserAgent}
	r.Register("http", ht)
	r.Register("https", ht)
	ft := &ftpTransport{dialTimeout: dialTimeout, tlsConfig: opts.FTPSConfig}
	r.Register("ftp", ft)
	r.Register("ftps", ft)
	r.Register("sftp", &sftpTransport{
		knownHostsPath: knownHosts,
		keyPath:        opts.SSHKeyPath,
		dialTimeout:    dialTimeout,
	})
	r.Register("file", &fileTransport{fs: fs, root: opts.Root})

	return &Fetcher{
		router:   r,
		maxBody:  maxBody,
		log:      l,
		decoders: builtinDecoders(),
	}, nil
}

// Router exposes the scheme table so callers can add transports.
func (f *Fetcher) Router() *Router {
	return f.router
}

// Register adds or replaces the decoder for kind.
func (f *Fetcher) Register(kind loadsched.Kind, d Decoder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decoders[kind] = d
}

// Kinds returns the supported kinds, sorted.
func (f *Fetcher) Kinds() []loadsched.Kind {
	f.mu.RLock()
	defer f.mu.RUnlock()
	kinds := make([]loadsched.Kind, 0, len(f.decoders))
	for k := range f.decoders {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Supports reports whether kind has a decoder.
func (f *Fetcher) Supports(kind loadsched.Kind) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.decoders[kind]
	return ok
}

// Fetch performs one attempt. An unsupported kind fails before any
// transport is touched.
func (f *Fetcher) Fetch(ctx context.Context, r *loadsched.Resource) (any, error) {
	f.mu.RLock()
	dec, ok := f.decoders[r.Kind]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q for %s", loadsched.ErrUnsupportedKind, r.Kind, r.ID)
	}

	t, u, err := f.router.Resolve(r.Src)
	if err != nil {
		return nil, err
	}
	f.log.Debug("fetching %s from %s", r.ID, u.Redacted())

	body, err := t.Open(ctx, u)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, f.maxBody+1))
	if err != nil {
		return nil, classify(u.Scheme, "read", ctxErr(ctx, err))
	}
	if int64(len(data)) > f.maxBody {
		return nil, NewPermanentError(u.Scheme, "read", fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, f.maxBody))
	}

	v, err := dec.Decode(r, data)
	if err != nil {
		return nil, NewTransientError(string(r.Kind), "decode", err)
	}
	return v, nil
}
