package server

import (
	"context"
	"net/http"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"
)

// wsChannel adapts a coder/websocket.Conn to the jrpc2 Channel interface.
// Each WebSocket connection gets one wsChannel that bridges read/write
// operations between the WebSocket transport and the jrpc2 server.
type wsChannel struct {
	conn *cws.Conn
	ctx  context.Context
}

// Send writes a JSON-RPC message to the WebSocket connection.
func (c *wsChannel) Send(data []byte) error {
	return c.conn.Write(c.ctx, cws.MessageText, data)
}

// Recv reads a JSON-RPC message from the WebSocket connection.
func (c *wsChannel) Recv() ([]byte, error) {
	_, data, err := c.conn.Read(c.ctx)
	return data, err
}

// Close shuts down the WebSocket connection with a normal closure status.
func (c *wsChannel) Close() error {
	return c.conn.Close(cws.StatusNormalClosure, "")
}

// serveWS upgrades the request and serves JSON-RPC on it until the peer
// disconnects. The connection's server receives event pushes for as long
// as it stays registered with the notifier.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := cws.Accept(w, r, nil)
	if err != nil {
		s.log.Warning("rpc: websocket upgrade failed: %v", err)
		return
	}
	ch := &wsChannel{conn: conn, ctx: r.Context()}
	srv := jrpc2.NewServer(s.methods, &jrpc2.ServerOptions{AllowPush: true}).Start(ch)
	s.notifier.Register(srv)
	s.log.Debug("rpc: client connected from %s", r.RemoteAddr)

	err = srv.Wait()
	s.notifier.Unregister(srv)
	s.log.Debug("rpc: client %s disconnected: %v", r.RemoteAddr, err)
}
