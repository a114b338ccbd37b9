// Package loadctl is the client of the warpload control endpoint: a
// JSON-RPC 2.0 session over a WebSocket that inspects and steers a running
// load and receives its events.
package loadctl

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"
	"github.com/warpdl/warpload/common"
)

// Options configures a Client.
type Options struct {
	// Secret is sent as a Bearer token during the handshake.
	Secret string
	// OnEvent, when set, receives every scheduler event the server pushes.
	// It runs on the client's receive goroutine and must not block on
	// calls made through the same client.
	OnEvent func(*common.EventNotification)
	// OnDecodeError receives pushes whose params could not be decoded.
	OnDecodeError func(method string, err error)
}

// Client is a connection to a control server.
type Client struct {
	cli  *jrpc2.Client
	conn *cws.Conn
}

// Dial connects to the control endpoint at rawURL, e.g.
// ws://127.0.0.1:9730/jsonrpc/ws. A URL without a path gets the default
// endpoint path.
func Dial(ctx context.Context, rawURL string, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{}
	}
	endpoint := endpointURL(rawURL)
	conn, resp, err := cws.Dial(ctx, endpoint, &cws.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + opts.Secret}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("error connecting to %s: %w", endpoint, ErrUnauthorized)
		}
		return nil, fmt.Errorf("error connecting to %s: %w", endpoint, err)
	}
	c := &Client{conn: conn}
	c.cli = jrpc2.NewClient(&wsChannel{conn: conn, ctx: context.Background()}, &jrpc2.ClientOptions{
		OnNotify: func(req *jrpc2.Request) {
			dispatchEvent(req, opts)
		},
	})
	return c, nil
}

func endpointURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || (u.Path != "" && u.Path != "/") {
		return raw
	}
	u.Path = common.RPCPath
	return u.String()
}

func dispatchEvent(req *jrpc2.Request, opts *Options) {
	if opts.OnEvent == nil || !strings.HasPrefix(req.Method(), common.EventMethodPrefix) {
		return
	}
	var en common.EventNotification
	if err := req.UnmarshalParams(&en); err != nil {
		if opts.OnDecodeError != nil {
			opts.OnDecodeError(req.Method(), err)
		}
		return
	}
	opts.OnEvent(&en)
}

func invoke[T any](ctx context.Context, c *Client, method string) (*T, error) {
	var res T
	if err := c.cli.CallResult(ctx, method, nil, &res); err != nil {
		return nil, fmt.Errorf("failed to invoke %s: %w", method, err)
	}
	return &res, nil
}

// Status returns a snapshot of the run.
func (c *Client) Status(ctx context.Context) (*common.StatusResult, error) {
	return invoke[common.StatusResult](ctx, c, common.MethodRunStatus)
}

// Pause stops admission of new resources.
func (c *Client) Pause(ctx context.Context) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodRunPause)
	return err
}

// Resume restarts admission after Pause.
func (c *Client) Resume(ctx context.Context) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodRunResume)
	return err
}

// Version returns the server's build information.
func (c *Client) Version(ctx context.Context) (*common.VersionResult, error) {
	return invoke[common.VersionResult](ctx, c, common.MethodGetVersion)
}

// Close ends the session.
func (c *Client) Close() error {
	return c.cli.Close()
}
