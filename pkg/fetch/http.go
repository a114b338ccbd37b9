package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"
)

// DefaultMaxRedirects is the default maximum number of redirect hops.
const DefaultMaxRedirects = 10

var (
	ErrTooManyRedirects      = errors.New("redirect loop detected")
	ErrCrossProtocolRedirect = errors.New("cross-protocol redirect not supported")
	ErrInvalidProxyURL       = errors.New("invalid proxy URL")
	ErrUnsupportedProxy      = errors.New("unsupported proxy scheme")
)

var proxySchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks5": true,
}

// RedirectPolicy returns a CheckRedirect function that caps the number of
// hops and rejects redirects leaving http(s).
func RedirectPolicy(maxRedirects int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: exceeded %d hops (last URL: %s)",
				ErrTooManyRedirects, maxRedirects, via[len(via)-1].URL)
		}
		if len(via) > 0 {
			prev := via[len(via)-1].URL.Scheme
			if isHTTPScheme(prev) && !isHTTPScheme(req.URL.Scheme) {
				return fmt.Errorf("%w: %s -> %s", ErrCrossProtocolRedirect, prev, req.URL.Scheme)
			}
		}
		return nil
	}
}

func isHTTPScheme(scheme string) bool {
	return scheme == "http" || scheme == "https"
}

// NewHTTPClient creates the client used by the http transport. Cookies set
// by one resource are replayed to later resources of the same site, scoped
// by the public suffix list. An empty proxyURL falls back to the
// HTTP_PROXY/HTTPS_PROXY/NO_PROXY environment.
func NewHTTPClient(proxyURL string) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidProxyURL, proxyURL)
		}
		if !proxySchemes[parsed.Scheme] {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedProxy, parsed.Scheme)
		}
		if parsed.Scheme == "socks5" {
			var auth *proxy.Auth
			if parsed.User != nil {
				pass, _ := parsed.User.Password()
				auth = &proxy.Auth{User: parsed.User.Username(), Password: pass}
			}
			dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
			if err != nil {
				return nil, err
			}
			transport.Proxy = nil
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				transport.DialContext = cd.DialContext
			} else {
				transport.Dial = dialer.Dial
			}
		} else {
			transport.Proxy = http.ProxyURL(parsed)
		}
	}
	return &http.Client{
		Transport:     transport,
		Jar:           jar,
		CheckRedirect: RedirectPolicy(DefaultMaxRedirects),
	}, nil
}

type httpTransport struct {
	client    *http.Client
	userAgent string
}

func (t *httpTransport) Open(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, NewPermanentError(u.Scheme, "request", err)
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classify(u.Scheme, "get", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{URL: u.Redacted(), StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}
